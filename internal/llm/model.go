// Package llm implements the model-selection and retry core of the gateway:
// a static model registry, per-model usage budgets with temporary blacklisting,
// error classification from backend failures, and a bounded retry executor.
package llm

import (
	"os"
	"time"
)

// TaskType identifies a logical task a caller wants a model for.
type TaskType string

const (
	TaskChat      TaskType = "chat"
	TaskSummarize TaskType = "summarize"
	TaskClassify  TaskType = "classify"
)

// Model describes one backend model candidate.
// Immutable after registration.
type Model struct {
	ID            string // Backend model identifier (e.g., "claude-opus-4-5")
	Provider      string // Provider name (e.g., "anthropic")
	DisplayName   string
	Priority      int    // Lower rank = preferred
	RPM           int    // Requests-per-minute threshold (0 = unlimited)
	RPD           int    // Requests-per-day threshold (0 = unlimited)
	CredentialEnv string // Env var whose presence means credentials exist
}

// HasCredentials reports whether the model's provider credentials are present.
// Models with no CredentialEnv (e.g., local backends) always qualify.
func (m Model) HasCredentials() bool {
	if m.CredentialEnv == "" {
		return true
	}
	return os.Getenv(m.CredentialEnv) != ""
}

// UsageStats is a read-only snapshot of a model's current usage.
type UsageStats struct {
	RPM             int       `json:"rpm"`
	RPD             int       `json:"rpd"`
	Blacklisted     bool      `json:"blacklisted"`
	BlacklistReason string    `json:"blacklist_reason,omitempty"`
	BlacklistUntil  time.Time `json:"blacklist_until,omitzero"`
}
