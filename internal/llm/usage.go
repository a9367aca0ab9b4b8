package llm

import (
	"sync"
	"time"

	. "github.com/modelgate/modelgate/internal/logging"
)

// UsageTracker admits or rejects models based on rolling usage windows and a
// temporary blacklist. Implementations must be safe for concurrent use.
type UsageTracker interface {
	// CanUse reports whether the model is admissible: not blacklisted and
	// below both its minute and day thresholds.
	CanUse(m Model) bool

	// RegisterUse counts one request against both windows. If the day
	// threshold would be exceeded, the model is blacklisted until the day
	// window rolls over instead.
	RegisterUse(m Model)

	// Stats returns a read-only usage snapshot.
	Stats(m Model) UsageStats

	// Blacklist excludes a model until the given expiry.
	Blacklist(m Model, reason string, until time.Time)

	// ClearBlacklist removes a model's blacklist entry, if any.
	ClearBlacklist(m Model)

	// SweepExpired removes expired blacklist entries, returning the count.
	SweepExpired() int

	// Reset clears all counters and blacklist entries.
	Reset()
}

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// blacklistEntry excludes a model from selection until expiry.
type blacklistEntry struct {
	reason string
	until  time.Time
}

// usageRecord holds the rolling window counters for one model.
type usageRecord struct {
	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
	blacklist   *blacklistEntry
}

// MemoryTracker is the process-local UsageTracker. Counters are not
// persisted; they reset on restart.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]*usageRecord
	now     func() time.Time // injectable clock
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		records: make(map[string]*usageRecord),
		now:     time.Now,
	}
}

// record returns the usage record for a model, creating it if needed and
// rolling stale windows forward. Caller must hold t.mu.
func (t *MemoryTracker) record(id string) *usageRecord {
	rec, ok := t.records[id]
	now := t.now()
	if !ok {
		rec = &usageRecord{minuteStart: now, dayStart: now}
		t.records[id] = rec
		return rec
	}

	if now.Sub(rec.minuteStart) >= minuteWindow {
		rec.minuteStart = now
		rec.minuteCount = 0
	}
	if now.Sub(rec.dayStart) >= dayWindow {
		rec.dayStart = now
		rec.dayCount = 0
	}
	return rec
}

// CanUse reports whether the model is currently admissible.
// Expired blacklist entries are cleared lazily here.
func (t *MemoryTracker) CanUse(m Model) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(m.ID)
	if rec.blacklist != nil {
		if t.now().Before(rec.blacklist.until) {
			return false
		}
		rec.blacklist = nil
		L_debug("llm: blacklist expired", "model", m.ID)
	}

	if m.RPM > 0 && rec.minuteCount >= m.RPM {
		return false
	}
	if m.RPD > 0 && rec.dayCount >= m.RPD {
		return false
	}
	return true
}

// RegisterUse increments both window counters. If incrementing would exceed
// the day threshold the model is blacklisted until the day window rolls over.
func (t *MemoryTracker) RegisterUse(m Model) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(m.ID)
	if m.RPD > 0 && rec.dayCount+1 > m.RPD {
		until := rec.dayStart.Add(dayWindow)
		rec.blacklist = &blacklistEntry{reason: "daily quota exhausted", until: until}
		L_warn("llm: model blacklisted", "model", m.ID, "reason", "daily quota exhausted", "until", until)
		return
	}

	rec.minuteCount++
	rec.dayCount++
}

// Stats returns a read-only snapshot of the model's usage.
func (t *MemoryTracker) Stats(m Model) UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(m.ID)
	stats := UsageStats{RPM: rec.minuteCount, RPD: rec.dayCount}
	if rec.blacklist != nil && t.now().Before(rec.blacklist.until) {
		stats.Blacklisted = true
		stats.BlacklistReason = rec.blacklist.reason
		stats.BlacklistUntil = rec.blacklist.until
	}
	return stats
}

// Blacklist excludes a model until the given expiry. An existing entry is
// extended if the new expiry is later.
func (t *MemoryTracker) Blacklist(m Model, reason string, until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(m.ID)
	if rec.blacklist != nil && rec.blacklist.until.After(until) {
		return
	}
	rec.blacklist = &blacklistEntry{reason: reason, until: until}
	L_warn("llm: model blacklisted", "model", m.ID, "reason", reason, "until", until)
}

// ClearBlacklist removes a model's blacklist entry before expiry.
func (t *MemoryTracker) ClearBlacklist(m Model) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[m.ID]; ok && rec.blacklist != nil {
		rec.blacklist = nil
		L_info("llm: blacklist cleared", "model", m.ID)
	}
}

// SweepExpired removes expired blacklist entries. Run periodically by the
// service process so stale entries don't linger for idle models.
func (t *MemoryTracker) SweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	swept := 0
	for id, rec := range t.records {
		if rec.blacklist != nil && !now.Before(rec.blacklist.until) {
			rec.blacklist = nil
			swept++
			L_debug("llm: blacklist swept", "model", id)
		}
	}
	return swept
}

// Reset clears all counters and blacklist entries.
func (t *MemoryTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*usageRecord)
}
