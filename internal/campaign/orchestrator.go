package campaign

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"screening-gateway/internal/calls"

	"github.com/google/uuid"
)

// Orchestrator runs one campaign: a sequential loop over contacts against a
// single agent. Its polling mirrors the gateway's own watcher from the
// outside, so a contact is only started once the previous call is known to be
// over (or its gate released by other means).
type Orchestrator struct {
	client GatewayClient
	tun    Tunables
	log    *slog.Logger

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(client GatewayClient, tun Tunables, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		client: client,
		tun:    tun.withDefaults(),
		log:    log,
		clock:  time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes every contact and returns the accumulated summary. Individual
// failures never abort the run; ctx cancellation does, after finishing the
// in-flight contact's bookkeeping.
func (o *Orchestrator) Run(ctx context.Context, agentID string, contacts []Contact) Summary {
	sum := Summary{RunID: uuid.NewString(), AgentID: agentID}
	log := o.log.With("run_id", sum.RunID, "agent_id", agentID)
	log.Info("campaign started", "contacts", len(contacts))

	for i, contact := range contacts {
		if ctx.Err() != nil {
			log.Warn("campaign cancelled", "remaining", len(contacts)-i)
			break
		}

		res := o.runContact(ctx, log, agentID, contact)
		sum.Results = append(sum.Results, res)
		switch res.Outcome {
		case OutcomeCompleted:
			sum.Completed++
		case OutcomeTimeout:
			sum.Timeouts++
		case OutcomeNoID:
			sum.NoID++
		case OutcomeBlocked:
			sum.Blocked++
		case OutcomeDispatchFailed:
			sum.DispatchFailed++
		}
		log.Info("contact finished",
			"phone", contact.Phone, "outcome", res.Outcome, "call_id", res.CallID, "elapsed", res.Elapsed)

		if i < len(contacts)-1 {
			if err := o.sleep(ctx, o.tun.Cooldown); err != nil {
				break
			}
		}
	}

	log.Info("campaign finished",
		"completed", sum.Completed, "timeouts", sum.Timeouts, "no_id", sum.NoID,
		"blocked", sum.Blocked, "dispatch_failed", sum.DispatchFailed)
	return sum
}

func (o *Orchestrator) runContact(ctx context.Context, log *slog.Logger, agentID string, contact Contact) ContactResult {
	started := o.clock()
	res := ContactResult{Contact: contact}
	finish := func() ContactResult {
		res.Elapsed = o.clock().Sub(started)
		return res
	}

	callID, err := o.dispatchWithRetry(ctx, agentID, contact)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			res.Outcome = OutcomeBlocked
			res.CallID = conflict.CurrentCallID
		} else {
			res.Outcome = OutcomeDispatchFailed
			res.Error = err.Error()
		}
		return finish()
	}

	if callID == "" {
		callID = o.resolveCallID(ctx, agentID, contact.Phone, started)
	}
	if callID == "" {
		// The gateway releases such gates on its own short fuse; the longer
		// client-side delay keeps a possibly-live unidentified call from
		// overlapping the next dispatch.
		log.Warn("call id unresolved, applying safety delay", "phone", contact.Phone)
		_ = o.sleep(ctx, o.tun.NoIDSafetyDelay)
		res.Outcome = OutcomeNoID
		return finish()
	}
	res.CallID = callID

	status, done := o.awaitCompletion(ctx, callID)
	if !done {
		res.Outcome = OutcomeTimeout
		// Best-effort: free the agent for the next contact.
		if err := o.client.ReleaseAgent(ctx, agentID); err != nil {
			log.Warn("release after timeout failed", "err", err)
		}
		return finish()
	}
	res.Outcome = OutcomeCompleted
	res.FinalStatus = status
	return finish()
}

func (o *Orchestrator) dispatchWithRetry(ctx context.Context, agentID string, contact Contact) (string, error) {
	req := DispatchRequest{
		AgentID:     agentID,
		ToNumber:    contact.Phone,
		CallContext: contact.Vars,
	}

	var lastErr error
	for attempt := 0; attempt <= o.tun.ConflictRetries; attempt++ {
		resp, err := o.client.Dispatch(ctx, req)
		if err == nil {
			return resp.CallID, nil
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return "", err
		}
		lastErr = err
		if attempt == o.tun.ConflictRetries {
			break
		}
		if conflict.CurrentCallID != "" {
			// Watch the holding call end before retrying; a blind retry
			// interval loses against any call longer than a few seconds.
			o.awaitCompletion(ctx, conflict.CurrentCallID)
		} else if err := o.sleep(ctx, o.tun.PollInterval); err != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

// resolveCallID matches the dialed number against the agent's recent call
// list until the resolve budget runs out.
func (o *Orchestrator) resolveCallID(ctx context.Context, agentID, phone string, started time.Time) string {
	deadline := started.Add(o.tun.IDResolveBudget)
	for {
		list, err := o.client.AgentCalls(ctx, agentID, o.tun.ListPageSize)
		if err == nil {
			for _, c := range list {
				if !samePhone(c.To, phone) {
					continue
				}
				// Skip rows that clearly predate this dispatch.
				if c.StartedAt != nil && c.StartedAt.Before(started.Add(-time.Minute)) {
					continue
				}
				if c.ID != "" {
					return c.ID
				}
			}
		}
		if !o.clock().Before(deadline) {
			return ""
		}
		if err := o.sleep(ctx, o.tun.PollInterval); err != nil {
			return ""
		}
	}
}

// awaitCompletion polls the call until the classifier reports a final state.
// Reports the final status token and whether completion was observed within
// budget.
func (o *Orchestrator) awaitCompletion(ctx context.Context, callID string) (string, bool) {
	deadline := o.clock().Add(o.tun.CompletionBudget)
	for {
		c, err := o.client.CallDetail(ctx, callID)
		if err == nil {
			if cls := calls.ClassifyCall(c); cls.Final() {
				return cls.Reason, true
			}
		}
		if !o.clock().Before(deadline) {
			return "", false
		}
		if err := o.sleep(ctx, o.tun.PollInterval); err != nil {
			return "", false
		}
	}
}

// samePhone compares dialed numbers loosely: digits only, suffix match on the
// shorter of the two. Full normalization is out of scope.
func samePhone(a, b string) bool {
	da, db := digits(a), digits(b)
	if da == "" || db == "" {
		return false
	}
	if len(da) > len(db) {
		da, db = db, da
	}
	return strings.HasSuffix(db, da)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
