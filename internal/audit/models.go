package audit

import "time"

// Event is an immutable, append-only audit log record of gate activity.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; do not block the dispatch path on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// AgentID is the voice agent whose gate was touched.
	AgentID string `json:"agent_id" db:"agent_id"`

	// CallID is the provider call identifier, when one was known.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Reason records why a gate was released (completed, timeout,
	// error fallback, client request, webhook, no call id).
	Reason string `json:"reason,omitempty" db:"reason"`

	// HeldSeconds is how long the gate was held before release.
	HeldSeconds float64 `json:"held_seconds,omitempty" db:"held_seconds"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeGateAcquired EventType = "gate_acquired"
	EventTypeCallAttached EventType = "call_attached"
	EventTypeGateReleased EventType = "gate_released"
)
