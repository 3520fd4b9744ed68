package store

import (
	"fmt"
	"testing"
)

func TestPlayLedger_Basic(t *testing.T) {
	ledger := NewPlayLedger(100, 0.01)

	if ledger.Has("artist\x1ftrack\x1f1700000000") {
		t.Error("Empty ledger should not contain any play")
	}

	ledger.Add("artist\x1ftrack\x1f1700000000")
	if !ledger.Has("artist\x1ftrack\x1f1700000000") {
		t.Error("Ledger should contain added play")
	}
	if ledger.Has("artist\x1ftrack\x1f1700000300") {
		t.Error("Ledger should not contain the same track at another start time")
	}

	ledger.Add("artist\x1ftrack\x1f1700000000")
	if ledger.Size() != 1 {
		t.Errorf("Size() = %d, expected 1 after duplicate add", ledger.Size())
	}
}

func TestPlayLedger_IgnoresEmptyKey(t *testing.T) {
	ledger := NewPlayLedger(10, 0.01)

	ledger.Add("")
	if ledger.Size() != 0 {
		t.Errorf("Size() = %d, expected 0", ledger.Size())
	}
}

func TestPlayLedger_Clear(t *testing.T) {
	ledger := NewPlayLedger(100, 0.01)

	ledger.Add("play1")
	ledger.Add("play2")
	ledger.Clear()

	if ledger.Size() != 0 {
		t.Errorf("Size() = %d, expected 0 after clear", ledger.Size())
	}
	if ledger.Has("play1") {
		t.Error("Ledger should not contain play1 after clear")
	}
}

func TestPlayLedger_MaxCapacity(t *testing.T) {
	ledger := NewPlayLedger(3, 0.01)

	for i := 1; i <= 5; i++ {
		ledger.Add(fmt.Sprintf("play%d", i))
	}

	if ledger.Size() != 3 {
		t.Errorf("Size() = %d, expected 3", ledger.Size())
	}
	for _, key := range []string{"play1", "play2"} {
		if ledger.Has(key) {
			t.Errorf("Oldest play %s should have been evicted", key)
		}
	}
	for _, key := range []string{"play3", "play4", "play5"} {
		if !ledger.Has(key) {
			t.Errorf("Recent play %s should still be recorded", key)
		}
	}
}

func TestPlayLedger_BloomRebuildKeepsRecentPlays(t *testing.T) {
	ledger := NewPlayLedger(10, 0.01)

	// Three full generations force at least two rebuilds.
	for i := 0; i < 30; i++ {
		ledger.Add(fmt.Sprintf("play%d", i))
	}

	for i := 20; i < 30; i++ {
		if !ledger.Has(fmt.Sprintf("play%d", i)) {
			t.Errorf("play%d missing after bloom rebuild", i)
		}
	}
	for i := 0; i < 20; i++ {
		if ledger.Has(fmt.Sprintf("play%d", i)) {
			t.Errorf("play%d should have been evicted", i)
		}
	}
}

func TestPlayLedger_BloomFilterEffectiveness(t *testing.T) {
	ledger := NewPlayLedger(1000, 0.01)

	for i := 0; i < 500; i++ {
		ledger.Add(fmt.Sprintf("play%d", i))
	}

	for i := 500; i < 1000; i++ {
		if ledger.Has(fmt.Sprintf("play%d", i)) {
			t.Errorf("Unexpected play found: play%d", i)
		}
	}
}

func BenchmarkPlayLedger_Add(b *testing.B) {
	ledger := NewPlayLedger(10000, 0.01)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ledger.Add(fmt.Sprintf("play%d", i))
	}
}
