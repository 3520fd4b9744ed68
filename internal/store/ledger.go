// Package store provides the submitted-play ledger and the SQLite-backed settings store.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PlayLedger remembers the most recent submitted plays. A bloom filter answers most misses
// without touching the LRU; the LRU is the exact set and evicts the oldest plays.
type PlayLedger struct {
	mutex             sync.RWMutex
	bloom             *bloom.BloomFilter
	plays             *lru.Cache[string, struct{}]
	maxPlays          int
	falsePositiveRate float64
	evicted           int
}

// NewPlayLedger creates a ledger holding up to maxPlays keys.
func NewPlayLedger(maxPlays int, falsePositiveRate float64) *PlayLedger {
	if maxPlays <= 0 || maxPlays > int(^uint(0)>>1) {
		panic("maxPlays value out of range for uint conversion")
	}

	ledger := &PlayLedger{
		bloom:             bloom.NewWithEstimates(uint(maxPlays), falsePositiveRate),
		maxPlays:          maxPlays,
		falsePositiveRate: falsePositiveRate,
	}
	plays, err := lru.NewWithEvict[string, struct{}](maxPlays, func(string, struct{}) {
		ledger.evicted++
	})
	if err != nil {
		panic(err)
	}
	ledger.plays = plays
	return ledger
}

// Has reports whether the play key was recorded.
func (l *PlayLedger) Has(key string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.bloom.TestString(key) {
		return false
	}
	return l.plays.Contains(key)
}

// Add records a play key.
func (l *PlayLedger) Add(key string) {
	if key == "" {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.plays.Contains(key) {
		return
	}
	l.plays.Add(key, struct{}{})
	l.bloom.AddString(key)

	// Evicted keys stay in the bloom filter; rebuild it once they make up a full generation.
	if l.evicted >= l.maxPlays {
		l.rebuildBloom()
	}
}

// Size returns the number of recorded plays.
func (l *PlayLedger) Size() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.plays.Len()
}

// Clear forgets every play.
func (l *PlayLedger) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.plays.Purge()
	l.bloom = bloom.NewWithEstimates(uint(l.maxPlays), l.falsePositiveRate)
	l.evicted = 0
}

func (l *PlayLedger) rebuildBloom() {
	l.bloom = bloom.NewWithEstimates(uint(l.maxPlays), l.falsePositiveRate)
	for _, key := range l.plays.Keys() {
		l.bloom.AddString(key)
	}
	l.evicted = 0
}
