// Package metrics tracks gateway error statistics, with optional sqlite
// persistence in the service process.
package metrics

import (
	"sync"
	"time"
)

// ErrorStats holds running error counters for the gateway.
type ErrorStats struct {
	mu            sync.RWMutex
	totalErrors   int64
	errorsByType  map[string]int64
	lastError     string
	lastErrorType string
	lastErrorTime time.Time
}

// ErrorStatsSnapshot is a read-only copy of the counters.
type ErrorStatsSnapshot struct {
	TotalErrors   int64            `json:"total_errors"`
	ErrorsByType  map[string]int64 `json:"errors_by_type"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorType string           `json:"last_error_type,omitempty"`
	LastErrorTime time.Time        `json:"last_error_time,omitzero"`
}

// NewErrorStats creates an empty stats tracker.
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		errorsByType: make(map[string]int64),
	}
}

// Record counts one error of the given kind.
func (s *ErrorStats) Record(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalErrors++
	s.errorsByType[kind]++
	s.lastError = message
	s.lastErrorType = kind
	s.lastErrorTime = time.Now()
}

// Snapshot returns a copy of the current counters.
func (s *ErrorStats) Snapshot() ErrorStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[string]int64, len(s.errorsByType))
	for k, v := range s.errorsByType {
		byType[k] = v
	}
	return ErrorStatsSnapshot{
		TotalErrors:   s.totalErrors,
		ErrorsByType:  byType,
		LastError:     s.lastError,
		LastErrorType: s.lastErrorType,
		LastErrorTime: s.lastErrorTime,
	}
}

// Reset clears all counters.
func (s *ErrorStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalErrors = 0
	s.errorsByType = make(map[string]int64)
	s.lastError = ""
	s.lastErrorType = ""
	s.lastErrorTime = time.Time{}
}

// restore replaces the counters with a persisted snapshot.
func (s *ErrorStats) restore(snap ErrorStatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalErrors = snap.TotalErrors
	s.errorsByType = snap.ErrorsByType
	if s.errorsByType == nil {
		s.errorsByType = make(map[string]int64)
	}
	s.lastError = snap.LastError
	s.lastErrorType = snap.LastErrorType
	s.lastErrorTime = snap.LastErrorTime
}
