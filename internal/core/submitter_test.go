package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSubmitter(remote *mockRemote, auth *mockAuth, ledger PlayLedger, clock *fakeClock) (*Submitter, *ScrobbleQueue) {
	queue := NewScrobbleQueue(ledger)
	config := DefaultConfig().App
	submitter := NewSubmitter(&config, queue, auth, remote, ledger, nil, zap.NewNop())
	submitter.now = clock.Now
	submitter.lastSuccess = clock.Now()
	return submitter, queue
}

func TestSubmitter_FlushSubmitsOneBatch(t *testing.T) {
	remote := newMockRemote()
	auth := &mockAuth{key: "session"}
	ledger := newMockLedger()
	submitter, queue := newTestSubmitter(remote, auth, ledger, newFakeClock())

	tracks := makeTracks(60)
	for _, track := range tracks {
		queue.Enqueue(track)
	}

	if err := submitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if remote.scrobbleCalls() != 1 {
		t.Fatalf("scrobble calls = %d, expected 1", remote.scrobbleCalls())
	}
	if len(remote.scrobbled[0]) != DefaultBatchSize {
		t.Errorf("batch size = %d, expected %d", len(remote.scrobbled[0]), DefaultBatchSize)
	}
	if remote.sessionKeys[0] != "session" {
		t.Errorf("session key = %q, expected %q", remote.sessionKeys[0], "session")
	}
	if queue.Len() != 10 {
		t.Errorf("queue Len() = %d, expected 10", queue.Len())
	}
	if !ledger.Has(tracks[0].PlayKey()) {
		t.Error("submitted play missing from ledger")
	}
	if ledger.Has(tracks[55].PlayKey()) {
		t.Error("unsubmitted play present in ledger")
	}
}

func TestSubmitter_FailedBatchIsRequeued(t *testing.T) {
	remote := newMockRemote()
	remote.scrobbleErr = errors.New("service unavailable")
	auth := &mockAuth{key: "session"}
	ledger := newMockLedger()
	submitter, queue := newTestSubmitter(remote, auth, ledger, newFakeClock())

	tracks := makeTracks(3)
	for _, track := range tracks {
		queue.Enqueue(track)
	}

	if err := submitter.Flush(context.Background()); err == nil {
		t.Fatal("Flush() error = nil, expected failure")
	}

	got := queue.DrainBatch(DefaultBatchSize)
	if len(got) != len(tracks) {
		t.Fatalf("queue holds %d plays after failure, expected %d", len(got), len(tracks))
	}
	for i := range tracks {
		if got[i] != tracks[i] {
			t.Errorf("position %d = %q, expected %q", i, got[i].Track, tracks[i].Track)
		}
	}
	if ledger.Has(tracks[0].PlayKey()) {
		t.Error("failed play recorded in ledger")
	}
}

func TestSubmitter_AuthFailureLeavesQueueUntouched(t *testing.T) {
	remote := newMockRemote()
	auth := &mockAuth{err: errors.New("not authorized")}
	submitter, queue := newTestSubmitter(remote, auth, nil, newFakeClock())

	for _, track := range makeTracks(2) {
		queue.Enqueue(track)
	}

	if err := submitter.Flush(context.Background()); err == nil {
		t.Fatal("Flush() error = nil, expected authentication failure")
	}
	if remote.scrobbleCalls() != 0 {
		t.Errorf("scrobble calls = %d, expected 0", remote.scrobbleCalls())
	}
	if queue.Len() != 2 {
		t.Errorf("queue Len() = %d, expected 2", queue.Len())
	}
}

func TestSubmitter_EmptyQueueMakesNoRemoteCall(t *testing.T) {
	remote := newMockRemote()
	auth := &mockAuth{key: "session"}
	submitter, _ := newTestSubmitter(remote, auth, nil, newFakeClock())

	if err := submitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if remote.scrobbleCalls() != 0 {
		t.Errorf("scrobble calls = %d, expected 0", remote.scrobbleCalls())
	}
	if auth.calls != 1 {
		t.Errorf("EnsureAuthenticated calls = %d, expected 1", auth.calls)
	}
}

func TestSubmitter_FlushDue(t *testing.T) {
	remote := newMockRemote()
	auth := &mockAuth{key: "session"}
	clock := newFakeClock()
	submitter, queue := newTestSubmitter(remote, auth, nil, clock)

	if submitter.FlushDue() {
		t.Error("FlushDue() = true with empty queue")
	}

	queue.Enqueue(makeTracks(1)[0])
	if submitter.FlushDue() {
		t.Error("FlushDue() = true before idle window elapsed")
	}

	clock.Advance(DefaultFlushIdleMins * time.Minute)
	if !submitter.FlushDue() {
		t.Error("FlushDue() = false after idle window elapsed")
	}

	remote.scrobbleErr = errors.New("timeout")
	if err := submitter.Flush(context.Background()); err == nil {
		t.Fatal("Flush() error = nil, expected failure")
	}

	clock.Advance(time.Second)
	if submitter.FlushDue() {
		t.Error("FlushDue() = true right after a failed attempt")
	}

	clock.Advance(DefaultFlushRetrySecs * time.Second)
	if !submitter.FlushDue() {
		t.Error("FlushDue() = false after retry interval")
	}

	remote.scrobbleErr = nil
	if err := submitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if submitter.FlushDue() {
		t.Error("FlushDue() = true after successful flush")
	}
}

func TestSubmitter_FlushDueOnFullBatch(t *testing.T) {
	submitter, queue := newTestSubmitter(newMockRemote(), &mockAuth{}, nil, newFakeClock())

	for _, track := range makeTracks(DefaultBatchSize) {
		queue.Enqueue(track)
	}
	if !submitter.FlushDue() {
		t.Error("FlushDue() = false with a full batch waiting")
	}
}
