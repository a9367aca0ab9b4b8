package metrics

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRecordCountsByType(t *testing.T) {
	s := NewErrorStats()

	s.Record("rate_limit", "rate limit exceeded")
	s.Record("rate_limit", "rate limit exceeded again")
	s.Record("authentication", "invalid api key")

	snap := s.Snapshot()
	if snap.TotalErrors != 3 {
		t.Errorf("TotalErrors = %d, want 3", snap.TotalErrors)
	}
	if snap.ErrorsByType["rate_limit"] != 2 {
		t.Errorf("rate_limit = %d, want 2", snap.ErrorsByType["rate_limit"])
	}
	if snap.ErrorsByType["authentication"] != 1 {
		t.Errorf("authentication = %d, want 1", snap.ErrorsByType["authentication"])
	}
	if snap.LastError != "invalid api key" || snap.LastErrorType != "authentication" {
		t.Errorf("last error = %q (%s)", snap.LastError, snap.LastErrorType)
	}
	if snap.LastErrorTime.IsZero() {
		t.Error("LastErrorTime not set")
	}
}

// The total always equals the sum of the per-type counters.
func TestTotalMatchesSumOfTypes(t *testing.T) {
	s := NewErrorStats()
	kinds := []string{"rate_limit", "timeout", "server_error", "timeout", "unknown", "rate_limit", "rate_limit"}
	for _, k := range kinds {
		s.Record(k, "boom")
	}

	snap := s.Snapshot()
	var sum int64
	for _, v := range snap.ErrorsByType {
		sum += v
	}
	if sum != snap.TotalErrors {
		t.Errorf("sum of types = %d, total = %d", sum, snap.TotalErrors)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := NewErrorStats()
	s.Record("timeout", "deadline exceeded")

	snap := s.Snapshot()
	snap.ErrorsByType["timeout"] = 99

	if got := s.Snapshot().ErrorsByType["timeout"]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the tracker: %d", got)
	}
}

func TestReset(t *testing.T) {
	s := NewErrorStats()
	s.Record("server_error", "internal error")
	s.Reset()

	snap := s.Snapshot()
	if snap.TotalErrors != 0 || len(snap.ErrorsByType) != 0 {
		t.Errorf("non-empty after reset: %+v", snap)
	}
	if snap.LastError != "" || !snap.LastErrorTime.IsZero() {
		t.Errorf("last error survived reset: %+v", snap)
	}
}

func TestConcurrentRecord(t *testing.T) {
	s := NewErrorStats()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record("timeout", "deadline exceeded")
			}
		}()
	}
	wg.Wait()

	if got := s.Snapshot().TotalErrors; got != 1000 {
		t.Errorf("TotalErrors = %d, want 1000", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")

	stats := NewErrorStats()
	stats.Record("rate_limit", "rate limit exceeded")
	stats.Record("connection_error", "connection refused")

	m := NewManager(stats)
	m.initPersistenceAt(dbPath)
	if m.db == nil {
		t.Fatal("persistence did not initialize")
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh manager over the same DB restores the counters.
	restored := NewErrorStats()
	m2 := NewManager(restored)
	m2.initPersistenceAt(dbPath)
	defer m2.Close()

	snap := restored.Snapshot()
	if snap.TotalErrors != 2 {
		t.Errorf("restored TotalErrors = %d, want 2", snap.TotalErrors)
	}
	if snap.ErrorsByType["rate_limit"] != 1 || snap.ErrorsByType["connection_error"] != 1 {
		t.Errorf("restored counters = %v", snap.ErrorsByType)
	}
	if snap.LastError != "connection refused" {
		t.Errorf("restored LastError = %q", snap.LastError)
	}
}

func TestCloseFlushesPendingCounters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")

	stats := NewErrorStats()
	m := NewManager(stats)
	m.initPersistenceAt(dbPath)

	// Recorded after init, before any periodic save has fired.
	stats.Record("unknown", "boom")
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	restored := NewErrorStats()
	m2 := NewManager(restored)
	m2.initPersistenceAt(dbPath)
	defer m2.Close()

	if got := restored.Snapshot().TotalErrors; got != 1 {
		t.Errorf("TotalErrors = %d, want 1", got)
	}
}

func TestCloseWithoutInitIsSafe(t *testing.T) {
	m := NewManager(NewErrorStats())
	if err := m.Close(); err != nil {
		t.Errorf("Close on uninitialized manager: %v", err)
	}
}

func TestRestoreTimestampSurvives(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")

	stats := NewErrorStats()
	stats.Record("timeout", "deadline exceeded")
	before := stats.Snapshot().LastErrorTime

	m := NewManager(stats)
	m.initPersistenceAt(dbPath)
	m.Close()

	restored := NewErrorStats()
	m2 := NewManager(restored)
	m2.initPersistenceAt(dbPath)
	defer m2.Close()

	after := restored.Snapshot().LastErrorTime
	if !after.Round(time.Millisecond).Equal(before.Round(time.Millisecond)) {
		t.Errorf("LastErrorTime changed through persistence: %v vs %v", before, after)
	}
}
