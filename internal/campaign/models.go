package campaign

import "time"

// Contact is one row of a screening campaign: a candidate to call.
type Contact struct {
	Name  string         `json:"name"`
	Phone string         `json:"phone"`
	Vars  map[string]any `json:"vars,omitempty"`
}

// Outcome is the terminal result of one contact attempt.
type Outcome string

const (
	// OutcomeCompleted: the call reached a final state within budget.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTimeout: the completion budget ran out while polling.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeNoID: no call identifier could be resolved after dispatch.
	OutcomeNoID Outcome = "no_id"
	// OutcomeBlocked: the agent's gate stayed busy through all retries.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeDispatchFailed: the gateway or provider rejected the dispatch.
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// ContactResult records what happened to a single contact.
type ContactResult struct {
	Contact     Contact       `json:"contact"`
	Outcome     Outcome       `json:"outcome"`
	CallID      string        `json:"call_id,omitempty"`
	FinalStatus string        `json:"final_status,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
}

// Summary aggregates one campaign run. Nothing aborts the run; every contact
// lands in exactly one bucket.
type Summary struct {
	RunID   string          `json:"run_id"`
	AgentID string          `json:"agent_id"`
	Results []ContactResult `json:"results"`

	Completed      int `json:"completed"`
	Timeouts       int `json:"timeouts"`
	NoID           int `json:"no_id"`
	Blocked        int `json:"blocked"`
	DispatchFailed int `json:"dispatch_failed"`
}

// Tunables are the orchestrator's timing knobs. The loop mirrors the
// server-side watcher from the outside, so the budgets line up with it.
type Tunables struct {
	PollInterval     time.Duration
	IDResolveBudget  time.Duration
	CompletionBudget time.Duration
	ConflictRetries  int
	Cooldown         time.Duration
	NoIDSafetyDelay  time.Duration
	ListPageSize     int
}

func (t Tunables) withDefaults() Tunables {
	out := t
	if out.PollInterval <= 0 {
		out.PollInterval = 3 * time.Second
	}
	if out.IDResolveBudget <= 0 {
		out.IDResolveBudget = 60 * time.Second
	}
	if out.CompletionBudget <= 0 {
		out.CompletionBudget = 10 * time.Minute
	}
	if out.ConflictRetries <= 0 {
		out.ConflictRetries = 3
	}
	if out.Cooldown <= 0 {
		out.Cooldown = 3 * time.Second
	}
	if out.NoIDSafetyDelay <= 0 {
		out.NoIDSafetyDelay = 30 * time.Second
	}
	if out.ListPageSize <= 0 {
		out.ListPageSize = 20
	}
	return out
}
