package calls

import "time"

// Call is the unwrapped, provider-agnostic view of one phone call.
//
// NOTE: This is a domain model only. The provider nests its payloads under an
// envelope key and is inconsistent about identifier field names; the
// voiceagent adapter resolves both before anything here is populated.

type Call struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Status is the provider's raw status token. It is free text; use
	// Classify rather than comparing against it directly.
	Status string `json:"status"`

	DurationSeconds int    `json:"duration,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// HasArtifacts reports whether end-of-call artifacts are present. A recording
// URL, an end timestamp, or a nonzero duration can all appear before the
// status field catches up.
func (c Call) HasArtifacts() bool {
	return c.RecordingURL != "" || c.EndedAt != nil || c.DurationSeconds > 0
}
