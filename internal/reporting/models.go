package reporting

// GateSummaryRequest requests aggregated gate outcomes for one agent.
// Limit bounds how many audit events back the summary looks.

type GateSummaryRequest struct {
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit,omitempty"`
}

// GateSummary aggregates how an agent's gates were released. Releases are
// bucketed by the recorded reason; reasons outside the known set land in
// OtherReleases.
type GateSummary struct {
	AgentID string `json:"agent_id"`

	Acquisitions int `json:"acquisitions"`
	Releases     int `json:"releases"`

	Completed       int `json:"completed"`
	Timeouts        int `json:"timeouts"`
	ErrorFallbacks  int `json:"error_fallbacks"`
	ClientReleases  int `json:"client_releases"`
	WebhookReleases int `json:"webhook_releases"`
	NoCallID        int `json:"no_call_id"`
	OtherReleases   int `json:"other_releases"`

	TotalHeldSeconds   float64 `json:"total_held_seconds"`
	AverageHeldSeconds float64 `json:"average_held_seconds"`
}

// CallsSummaryRequest requests aggregated call metrics straight from the
// provider's per-agent call log.

type CallsSummaryRequest struct {
	AgentID  string `json:"agent_id"`
	PageSize int    `json:"page_size,omitempty"`
}

type CallsSummary struct {
	AgentID string `json:"agent_id"`

	TotalCalls   int `json:"total_calls"`
	FinalCalls   int `json:"final_calls"`
	OngoingCalls int `json:"ongoing_calls"`
	UnknownCalls int `json:"unknown_calls"`

	RecordedCalls          int `json:"recorded_calls"`
	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
