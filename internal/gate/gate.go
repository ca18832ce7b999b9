package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"screening-gateway/internal/voiceagent"
)

// Recorder receives gate lifecycle notifications for the audit trail.
// Implementations must be best-effort; the gate never blocks on them.
type Recorder interface {
	Acquired(agentID string)
	Attached(agentID, callID string)
	Released(agentID, callID, reason string, held time.Duration)
}

// Result is the outcome of a TryAcquire.
type Result struct {
	Granted bool

	// CurrentCallID identifies the in-flight call when rejected. Empty when
	// the holding entry has no identifier attached yet.
	CurrentCallID string
}

// Gate serializes call dispatch per agent: it holds at most one Lock per
// agent and owns the completion watcher that eventually releases it.
type Gate struct {
	store  Store
	source voiceagent.StatusSource
	sched  Scheduler
	tun    Tunables
	log    *slog.Logger
	rec    Recorder

	mu         sync.Mutex
	watchers   map[string]*Watcher
	noIDTimers map[string]Timer
}

// New builds a Gate. rec may be nil.
func New(store Store, source voiceagent.StatusSource, sched Scheduler, tun Tunables, log *slog.Logger, rec Recorder) *Gate {
	if sched == nil {
		sched = NewScheduler()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		store:      store,
		source:     source,
		sched:      sched,
		tun:        tun.withDefaults(),
		log:        log,
		rec:        rec,
		watchers:   make(map[string]*Watcher),
		noIDTimers: make(map[string]Timer),
	}
}

// TryAcquire atomically claims the agent's calling slot. The entry is created
// before the provider call is placed so request bursts cannot race past each
// other.
func (g *Gate) TryAcquire(ctx context.Context, agentID string) (Result, error) {
	l := Lock{AgentID: agentID, AcquiredAt: g.sched.Now()}
	ok, cur, err := g.store.TryInsert(ctx, l)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		g.log.Info("gate acquire rejected", "agent_id", agentID, "current_call_id", cur.CallID)
		return Result{Granted: false, CurrentCallID: cur.CallID}, nil
	}

	g.log.Info("gate acquired", "agent_id", agentID)
	if g.rec != nil {
		g.rec.Acquired(agentID)
	}
	return Result{Granted: true}, nil
}

// AttachCallID records the provider's call identifier and starts the
// completion watcher. When no identifier could be resolved at all, an
// unconditional release is scheduled instead: a short false-exclusion window
// is traded for deadlock safety, since a call without an identifier cannot be
// watched.
func (g *Gate) AttachCallID(ctx context.Context, agentID, callID string) error {
	if callID == "" {
		g.log.Warn("dispatch returned no call id, scheduling timed release", "agent_id", agentID)
		t := g.sched.AfterFunc(g.tun.NoIDReleaseDelay, func() {
			g.Release(agentID, "no call id")
		})
		g.mu.Lock()
		if old := g.noIDTimers[agentID]; old != nil {
			old.Stop()
		}
		g.noIDTimers[agentID] = t
		g.mu.Unlock()
		return nil
	}

	ok, err := g.store.AttachCallID(ctx, agentID, callID)
	if err != nil {
		return err
	}
	if !ok {
		// Lock already released (client release or webhook beat us here);
		// starting a watcher now would leak one.
		g.log.Warn("attach skipped, lock no longer held", "agent_id", agentID, "call_id", callID)
		return nil
	}

	w := newWatcher(agentID, callID, g.source, g.sched, g.tun, g.log, g.Release)
	g.mu.Lock()
	if old := g.watchers[agentID]; old != nil {
		old.stop()
	}
	g.watchers[agentID] = w
	g.mu.Unlock()
	w.Start()

	g.log.Info("call attached", "agent_id", agentID, "call_id", callID)
	if g.rec != nil {
		g.rec.Attached(agentID, callID)
	}
	return nil
}

// Release drops the agent's lock and cancels its watcher and timers. It is
// idempotent and safe to call for agents holding nothing; release may arrive
// from the watcher, a timeout, an explicit client request, or a webhook, in
// any order.
func (g *Gate) Release(agentID, reason string) {
	g.mu.Lock()
	w := g.watchers[agentID]
	delete(g.watchers, agentID)
	t := g.noIDTimers[agentID]
	delete(g.noIDTimers, agentID)
	g.mu.Unlock()

	if w != nil {
		w.stop()
	}
	if t != nil {
		t.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cur, held, err := g.store.Get(ctx, agentID)
	if err != nil {
		g.log.Error("lock lookup failed during release", "agent_id", agentID, "err", err)
	}
	deleted, err := g.store.Delete(ctx, agentID)
	if err != nil {
		g.log.Error("lock delete failed", "agent_id", agentID, "err", err)
		return
	}
	if !deleted {
		g.log.Debug("release on idle agent", "agent_id", agentID, "reason", reason)
		return
	}

	var heldFor time.Duration
	if held && !cur.AcquiredAt.IsZero() {
		heldFor = g.sched.Now().Sub(cur.AcquiredAt)
	}
	g.log.Info("gate released", "agent_id", agentID, "reason", reason, "held_ms", heldFor.Milliseconds())
	if g.rec != nil {
		g.rec.Released(agentID, cur.CallID, reason, heldFor)
	}
}

// Inspect returns the agent's lock state, if any.
func (g *Gate) Inspect(ctx context.Context, agentID string) (Lock, bool, error) {
	return g.store.Get(ctx, agentID)
}
