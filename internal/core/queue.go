package core

import (
	"sync"
)

// ScrobbleQueue is a FIFO of plays waiting to be submitted. It is safe for concurrent use.
type ScrobbleQueue struct {
	mu     sync.Mutex
	items  []*TrackMetadata
	ledger PlayLedger
}

// NewScrobbleQueue creates an empty queue. Plays recorded in ledger are never enqueued; ledger may be nil.
func NewScrobbleQueue(ledger PlayLedger) *ScrobbleQueue {
	return &ScrobbleQueue{
		items:  make([]*TrackMetadata, 0),
		ledger: ledger,
	}
}

// Enqueue appends the play unless the same playthrough is already queued or recorded as
// submitted. It reports whether the play was added.
func (q *ScrobbleQueue) Enqueue(track *TrackMetadata) bool {
	if track == nil || track.IsQueued() {
		return false
	}
	if q.submitted(track) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pending := range q.items {
		if pending.SamePlay(track) {
			return false
		}
	}
	if !track.MarkQueued() {
		return false
	}
	q.items = append(q.items, track)
	return true
}

func (q *ScrobbleQueue) submitted(track *TrackMetadata) bool {
	if q.ledger == nil {
		return false
	}
	for _, key := range track.PlayKeys() {
		if q.ledger.Has(key) {
			return true
		}
	}
	return false
}

// DrainBatch removes up to maxSize plays from the head of the queue.
func (q *ScrobbleQueue) DrainBatch(maxSize int) []*TrackMetadata {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(maxSize, len(q.items))
	if n <= 0 {
		return nil
	}

	batch := make([]*TrackMetadata, n)
	copy(batch, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	return batch
}

// Requeue appends a batch that could not be submitted back to the tail of the queue.
func (q *ScrobbleQueue) Requeue(batch []*TrackMetadata) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, batch...)
}

// Len returns the number of queued plays.
func (q *ScrobbleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
