package llm

import (
	"testing"
	"time"
)

// trackerAt returns a tracker with a controllable clock.
func trackerAt(t *testing.T) (*MemoryTracker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker()
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestRegisterUseCountsBothWindows(t *testing.T) {
	tracker, _ := trackerAt(t)
	m := Model{ID: "m1", RPM: 10, RPD: 100}

	tracker.RegisterUse(m)
	tracker.RegisterUse(m)

	stats := tracker.Stats(m)
	if stats.RPM != 2 || stats.RPD != 2 {
		t.Errorf("usage = %d/%d, want 2/2", stats.RPM, stats.RPD)
	}
}

func TestMinuteWindowRollsOver(t *testing.T) {
	tracker, now := trackerAt(t)
	m := Model{ID: "m1", RPM: 2, RPD: 100}

	tracker.RegisterUse(m)
	tracker.RegisterUse(m)
	if tracker.CanUse(m) {
		t.Fatal("model should be exhausted for this minute")
	}

	*now = now.Add(61 * time.Second)
	if !tracker.CanUse(m) {
		t.Fatal("minute window should have rolled over")
	}

	stats := tracker.Stats(m)
	if stats.RPM != 0 {
		t.Errorf("rpm = %d after rollover, want 0", stats.RPM)
	}
	if stats.RPD != 2 {
		t.Errorf("rpd = %d, want 2 (day window unchanged)", stats.RPD)
	}
}

func TestDayThresholdBlacklists(t *testing.T) {
	tracker, now := trackerAt(t)
	m := Model{ID: "m1", RPM: 100, RPD: 2}

	tracker.RegisterUse(m)
	tracker.RegisterUse(m)
	if tracker.CanUse(m) {
		t.Fatal("model should be exhausted for the day")
	}

	// One more use attempt converts to a blacklist entry.
	tracker.RegisterUse(m)
	stats := tracker.Stats(m)
	if !stats.Blacklisted {
		t.Fatal("model should be blacklisted after exceeding day threshold")
	}
	if stats.BlacklistReason == "" {
		t.Error("blacklist reason should be set")
	}
	if stats.RPD != 2 {
		t.Errorf("rpd = %d, blacklisting must not inflate the counter", stats.RPD)
	}

	// Blacklist lifts when the day window rolls over.
	*now = now.Add(24*time.Hour + time.Second)
	if !tracker.CanUse(m) {
		t.Fatal("model should be admissible after the day window rolls over")
	}
}

func TestUnlimitedModelAlwaysAdmissible(t *testing.T) {
	tracker, _ := trackerAt(t)
	m := Model{ID: "local", RPM: 0, RPD: 0}

	for i := 0; i < 1000; i++ {
		tracker.RegisterUse(m)
	}
	if !tracker.CanUse(m) {
		t.Error("model without thresholds should always be admissible")
	}
}

func TestExplicitBlacklistAndExpiry(t *testing.T) {
	tracker, now := trackerAt(t)
	m := Model{ID: "m1", RPM: 10, RPD: 100}

	tracker.Blacklist(m, "persistent failures", now.Add(5*time.Minute))
	if tracker.CanUse(m) {
		t.Fatal("blacklisted model should not be admissible")
	}

	// An earlier expiry must not shorten the existing entry.
	tracker.Blacklist(m, "other", now.Add(time.Minute))
	stats := tracker.Stats(m)
	if stats.BlacklistReason != "persistent failures" {
		t.Errorf("reason = %q, later expiry should win", stats.BlacklistReason)
	}

	*now = now.Add(6 * time.Minute)
	if !tracker.CanUse(m) {
		t.Fatal("expired blacklist should be cleared lazily")
	}
}

func TestClearBlacklist(t *testing.T) {
	tracker, now := trackerAt(t)
	m := Model{ID: "m1", RPM: 10, RPD: 100}

	tracker.Blacklist(m, "test", now.Add(time.Hour))
	tracker.ClearBlacklist(m)
	if !tracker.CanUse(m) {
		t.Error("ClearBlacklist should make the model admissible before expiry")
	}
}

func TestSweepExpired(t *testing.T) {
	tracker, now := trackerAt(t)
	m1 := Model{ID: "m1"}
	m2 := Model{ID: "m2"}

	tracker.Blacklist(m1, "a", now.Add(time.Minute))
	tracker.Blacklist(m2, "b", now.Add(time.Hour))

	*now = now.Add(30 * time.Minute)
	if swept := tracker.SweepExpired(); swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if tracker.CanUse(m1) != true {
		t.Error("m1 should be admissible after sweep")
	}
	if tracker.CanUse(m2) {
		t.Error("m2 should still be blacklisted")
	}
}

func TestResetClearsEverything(t *testing.T) {
	tracker, now := trackerAt(t)
	m := Model{ID: "m1", RPM: 1, RPD: 1}

	tracker.RegisterUse(m)
	tracker.Blacklist(m, "test", now.Add(time.Hour))
	tracker.Reset()

	if !tracker.CanUse(m) {
		t.Error("model should be admissible after reset")
	}
	stats := tracker.Stats(m)
	if stats.RPM != 0 || stats.RPD != 0 || stats.Blacklisted {
		t.Errorf("stats not cleared: %+v", stats)
	}
}
