package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"screening-gateway/internal/calls"
	"screening-gateway/internal/voiceagent"
)

// Tunables are the watcher's timing knobs. All of them are empirically chosen
// and loaded from config rather than hard-coded; see config.GateConfig.
type Tunables struct {
	PollInterval     time.Duration
	WatchCeiling     time.Duration
	ListCheckDelay   time.Duration
	ListCheckMinGap  time.Duration
	ErrorStreakLimit int
	ErrorWindow      time.Duration
	NoIDReleaseDelay time.Duration
	ListPageSize     int
}

func (t Tunables) withDefaults() Tunables {
	out := t
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.WatchCeiling <= 0 {
		out.WatchCeiling = 10 * time.Minute
	}
	if out.ListCheckDelay <= 0 {
		out.ListCheckDelay = 5 * time.Second
	}
	if out.ListCheckMinGap <= 0 {
		out.ListCheckMinGap = 3 * time.Second
	}
	if out.ErrorStreakLimit <= 0 {
		out.ErrorStreakLimit = 10
	}
	if out.ErrorWindow <= 0 {
		out.ErrorWindow = 45 * time.Second
	}
	if out.NoIDReleaseDelay <= 0 {
		out.NoIDReleaseDelay = 3 * time.Second
	}
	if out.ListPageSize <= 0 {
		out.ListPageSize = 20
	}
	return out
}

// Watcher polls one (agent, call) pair until the call is judged finished,
// then releases the gate. A watcher transitions into its final state exactly
// once and never polls again after release.
type Watcher struct {
	agentID string
	callID  string

	source  voiceagent.StatusSource
	sched   Scheduler
	tun     Tunables
	log     *slog.Logger
	release func(agentID, reason string)

	mu        sync.Mutex
	stopped   bool
	pollTimer Timer
	failsafe  Timer

	// Heuristic state. hasBeenOngoing is monotone; ongoingSince is latched
	// the first time an ongoing status is observed.
	startedAt      time.Time
	lastStatus     string
	hasBeenOngoing bool
	ongoingSince   time.Time
	lastListCheck  time.Time
	errStreak      int
	lastSuccess    time.Time
}

func newWatcher(agentID, callID string, source voiceagent.StatusSource, sched Scheduler, tun Tunables, log *slog.Logger, release func(agentID, reason string)) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		agentID: agentID,
		callID:  callID,
		source:  source,
		sched:   sched,
		tun:     tun.withDefaults(),
		log:     log.With("agent_id", agentID, "call_id", callID),
		release: release,
	}
}

// Start arms the failsafe ceiling and the first poll tick.
func (w *Watcher) Start() {
	now := w.sched.Now()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.startedAt = now
	w.lastSuccess = now
	w.failsafe = w.sched.AfterFunc(w.tun.WatchCeiling, func() { w.finalize("timeout") })
	w.pollTimer = w.sched.AfterFunc(w.tun.PollInterval, w.tick)
	w.mu.Unlock()

	w.log.Debug("call watch started")
}

func (w *Watcher) tick() {
	if w.isStopped() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.tun.PollInterval*10)
	defer cancel()

	detail, err := w.source.FetchCallDetail(ctx, w.callID)
	now := w.sched.Now()

	if err == nil {
		w.errStreak = 0
		w.lastSuccess = now

		if detail.Status != w.lastStatus {
			w.log.Debug("call status transition", "from", w.lastStatus, "to", detail.Status)
			w.lastStatus = detail.Status
		}

		cls := calls.ClassifyCall(detail)
		switch cls.State {
		case calls.StateFinal:
			w.finalize(cls.Reason)
			return
		case calls.StateOngoing:
			if !w.hasBeenOngoing {
				w.hasBeenOngoing = true
				w.ongoingSince = now
			}
		}

		// The detail endpoint can lag the list endpoint for the same call;
		// once the call has been seen live for a while, cross-check.
		if w.shouldCrossCheck(now) && w.crossCheck(ctx, now) {
			return
		}
	} else {
		w.errStreak++
		w.log.Warn("status poll failed", "err", err, "streak", w.errStreak)

		if voiceagent.Transient(err) && w.hasBeenOngoing {
			if w.shouldCrossCheck(now) && w.crossCheck(ctx, now) {
				return
			}
			// A call known to have connected must eventually release its
			// gate even if the status feed becomes unreachable. A call never
			// seen ongoing may still be queued or ringing, so it is not safe
			// to force-close on errors alone.
			if w.errStreak >= w.tun.ErrorStreakLimit || now.Sub(w.lastSuccess) >= w.tun.ErrorWindow {
				w.finalize("error fallback")
				return
			}
		}
	}

	w.scheduleNext()
}

func (w *Watcher) scheduleNext() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pollTimer = w.sched.AfterFunc(w.tun.PollInterval, w.tick)
}

func (w *Watcher) shouldCrossCheck(now time.Time) bool {
	if !w.hasBeenOngoing || w.ongoingSince.IsZero() {
		return false
	}
	if now.Sub(w.ongoingSince) < w.tun.ListCheckDelay {
		return false
	}
	if !w.lastListCheck.IsZero() && now.Sub(w.lastListCheck) < w.tun.ListCheckMinGap {
		return false
	}
	return true
}

// crossCheck consults the per-agent list feed; reports true when it
// finalized the watch.
func (w *Watcher) crossCheck(ctx context.Context, now time.Time) bool {
	w.lastListCheck = now

	list, err := w.source.ListAgentCalls(ctx, voiceagent.ListQuery{
		AgentID:  w.agentID,
		PageSize: w.tun.ListPageSize,
	})
	if err != nil {
		w.log.Debug("list cross-check failed", "err", err)
		return false
	}
	for _, c := range list {
		if c.ID != w.callID {
			continue
		}
		if cls := calls.ClassifyCall(c); cls.Final() {
			w.finalize("final via list")
			return true
		}
		break
	}
	return false
}

// finalize performs the single transition out of polling: cancel both
// timers, then release the gate with the decided reason.
func (w *Watcher) finalize(reason string) {
	if !w.stop() {
		return
	}
	w.log.Info("call watch finished", "reason", reason)
	w.release(w.agentID, reason)
}

// stop cancels the watcher without releasing. Returns false when already
// stopped; release may race a pending timer callback, so every path through
// here is idempotent.
func (w *Watcher) stop() bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.stopped = true
	pt, ft := w.pollTimer, w.failsafe
	w.pollTimer, w.failsafe = nil, nil
	w.mu.Unlock()

	if pt != nil {
		pt.Stop()
	}
	if ft != nil {
		ft.Stop()
	}
	return true
}

func (w *Watcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
