package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"screening-gateway/internal/calls"
	"screening-gateway/internal/voiceagent"
)

// fakeScheduler drives virtual time; callbacks run synchronously inside
// Advance, in due order.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	sched   *fakeScheduler
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1700000000, 0).UTC()}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range s.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		if s.now.Before(next.at) {
			s.now = next.at
		}
		next.fired = true
		f := next.f
		s.mu.Unlock()
		f()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// scriptedSource replays a fixed sequence of detail responses (last one
// repeats) and a fixed list response.
type scriptedSource struct {
	mu          sync.Mutex
	details     []detailStep
	detailCalls int
	listCalls   int
	listEntries []calls.Call
	listErr     error
}

type detailStep struct {
	call calls.Call
	err  error
}

func (s *scriptedSource) FetchCallDetail(_ context.Context, callID string) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailCalls++
	if len(s.details) == 0 {
		return calls.Call{ID: callID}, nil
	}
	i := s.detailCalls - 1
	if i >= len(s.details) {
		i = len(s.details) - 1
	}
	step := s.details[i]
	return step.call, step.err
}

func (s *scriptedSource) ListAgentCalls(_ context.Context, _ voiceagent.ListQuery) ([]calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return s.listEntries, s.listErr
}

func (s *scriptedSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailCalls, s.listCalls
}

type releaseRec struct {
	agentID, callID, reason string
	held                    time.Duration
}

type recordingRecorder struct {
	mu       sync.Mutex
	acquired []string
	released []releaseRec
}

func (r *recordingRecorder) Acquired(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, agentID)
}

func (r *recordingRecorder) Attached(agentID, callID string) {}

func (r *recordingRecorder) Released(agentID, callID, reason string, held time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, releaseRec{agentID, callID, reason, held})
}

func (r *recordingRecorder) lastRelease() (releaseRec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.released) == 0 {
		return releaseRec{}, false
	}
	return r.released[len(r.released)-1], true
}

func newTestGate(src *scriptedSource) (*Gate, *fakeScheduler, *MemoryStore, *recordingRecorder) {
	sched := newFakeScheduler()
	store := NewMemoryStore()
	rec := &recordingRecorder{}
	g := New(store, src, sched, Tunables{}, nil, rec)
	return g, sched, store, rec
}

func ongoing(id, status string) calls.Call { return calls.Call{ID: id, Status: status} }

func TestTryAcquire_Exclusive(t *testing.T) {
	g, _, _, _ := newTestGate(&scriptedSource{})
	ctx := context.Background()

	first, err := g.TryAcquire(ctx, "a1")
	if err != nil || !first.Granted {
		t.Fatalf("expected first acquire granted, got %+v err %v", first, err)
	}
	second, err := g.TryAcquire(ctx, "a1")
	if err != nil || second.Granted {
		t.Fatalf("expected second acquire rejected, got %+v err %v", second, err)
	}
	// No identifier has been attached yet, so the conflict carries none.
	if second.CurrentCallID != "" {
		t.Fatalf("expected empty current call id, got %q", second.CurrentCallID)
	}
}

func TestTryAcquire_IndependentAgents(t *testing.T) {
	g, _, _, _ := newTestGate(&scriptedSource{})
	ctx := context.Background()
	for _, agent := range []string{"a1", "a2", "a3"} {
		res, err := g.TryAcquire(ctx, agent)
		if err != nil || !res.Granted {
			t.Fatalf("agent %s: expected granted, got %+v err %v", agent, res, err)
		}
	}
}

func TestRelease_Idempotent(t *testing.T) {
	g, _, store, _ := newTestGate(&scriptedSource{})
	ctx := context.Background()

	if _, err := g.TryAcquire(ctx, "a1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release("a1", "client request")
	g.Release("a1", "client request")
	g.Release("never-locked", "client request")

	if store.Len() != 0 {
		t.Fatalf("expected empty lock table, got %d entries", store.Len())
	}
}

func TestWatcher_ReleasesExactlyOnFinalPoll(t *testing.T) {
	src := &scriptedSource{details: []detailStep{
		{call: ongoing("c1", "ringing")},
		{call: ongoing("c1", "ringing")},
		{call: ongoing("c1", "connected")},
		{call: ongoing("c1", "completed")},
	}}
	g, sched, _, rec := newTestGate(src)
	ctx := context.Background()

	if res, _ := g.TryAcquire(ctx, "a1"); !res.Granted {
		t.Fatalf("expected granted")
	}
	if err := g.AttachCallID(ctx, "a1", "c1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	for i := 0; i < 3; i++ {
		sched.Advance(time.Second)
		if _, held, _ := g.Inspect(ctx, "a1"); !held {
			t.Fatalf("lock released too early, after poll %d", i+1)
		}
	}
	sched.Advance(time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected lock released at fourth poll")
	}
	last, ok := rec.lastRelease()
	if !ok || last.reason != "completed" || last.callID != "c1" {
		t.Fatalf("unexpected release record: %+v ok=%v", last, ok)
	}
	if details, _ := src.counts(); details != 4 {
		t.Fatalf("expected exactly 4 detail polls, got %d", details)
	}
}

func TestWatcher_ArtifactsEndTheCall(t *testing.T) {
	src := &scriptedSource{details: []detailStep{
		{call: ongoing("c1", "in_progress")},
		{call: calls.Call{ID: "c1", Status: "in_progress", RecordingURL: "https://cdn.example/r.mp3"}},
	}}
	g, sched, _, rec := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")
	sched.Advance(2 * time.Second)

	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected release on artifacts")
	}
	if last, ok := rec.lastRelease(); !ok || last.reason != "artifacts" {
		t.Fatalf("unexpected release record: %+v", last)
	}
}

func TestGate_NoCallIDReleasesWithoutPolling(t *testing.T) {
	src := &scriptedSource{}
	g, sched, _, rec := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	if err := g.AttachCallID(ctx, "a1", ""); err != nil {
		t.Fatalf("attach: %v", err)
	}

	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("released before the no-id delay elapsed")
	}
	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected release within the no-id delay")
	}
	if details, _ := src.counts(); details != 0 {
		t.Fatalf("expected zero polls, got %d", details)
	}
	if last, _ := rec.lastRelease(); last.reason != "no call id" {
		t.Fatalf("unexpected reason %q", last.reason)
	}
}

func TestWatcher_ErrorFallbackAfterStreak(t *testing.T) {
	steps := []detailStep{{call: ongoing("c1", "connected")}}
	for i := 0; i < 15; i++ {
		steps = append(steps, detailStep{err: &voiceagent.APIError{StatusCode: 503, Body: "unavailable"}})
	}
	src := &scriptedSource{details: steps, listErr: &voiceagent.APIError{StatusCode: 503}}
	g, sched, _, rec := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")

	// First poll sees the call live; then ten consecutive 5xx ticks.
	sched.Advance(10 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("released before the error streak limit")
	}
	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected error fallback release")
	}
	if last, _ := rec.lastRelease(); last.reason != "error fallback" {
		t.Fatalf("unexpected reason %q", last.reason)
	}
}

func TestWatcher_ErrorFallbackAfterWindow(t *testing.T) {
	steps := []detailStep{
		{call: ongoing("c1", "connected")},
		{err: &voiceagent.APIError{StatusCode: 502, Body: "bad gateway"}},
	}
	src := &scriptedSource{details: steps, listErr: &voiceagent.APIError{StatusCode: 502}}
	sched := newFakeScheduler()
	store := NewMemoryStore()
	rec := &recordingRecorder{}
	// Streak limit out of reach: only the elapsed-time window can trip.
	g := New(store, src, sched, Tunables{ErrorStreakLimit: 1000}, nil, rec)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")

	// One ongoing poll at t=1s, then errors every tick. The fallback arms
	// once 45s pass without a successful poll, at t=46s.
	sched.Advance(45 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("released before the error window elapsed")
	}
	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected error fallback release after the window")
	}
	if last, _ := rec.lastRelease(); last.reason != "error fallback" {
		t.Fatalf("unexpected reason %q", last.reason)
	}
}

func TestWatcher_NoFallbackWhenNeverOngoing(t *testing.T) {
	steps := []detailStep{}
	for i := 0; i < 20; i++ {
		steps = append(steps, detailStep{err: &voiceagent.APIError{StatusCode: 503}})
	}
	src := &scriptedSource{details: steps}
	g, sched, _, _ := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")

	// A call never confirmed active may still be queued or ringing; errors
	// alone must not force-close it.
	sched.Advance(60 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("lock must stay held while the call was never seen ongoing")
	}
}

func TestWatcher_FinalViaListCrossCheck(t *testing.T) {
	src := &scriptedSource{
		details:     []detailStep{{call: ongoing("c1", "in_progress")}},
		listEntries: []calls.Call{{ID: "other"}, {ID: "c1", Status: "completed"}},
	}
	g, sched, _, rec := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")

	// Ongoing from the first poll; the list check is allowed once the call
	// has been ongoing for the list-check delay.
	sched.Advance(5 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("released before the list check window opened")
	}
	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected release via list cross-check")
	}
	if last, _ := rec.lastRelease(); last.reason != "final via list" {
		t.Fatalf("unexpected reason %q", last.reason)
	}
	if _, lists := src.counts(); lists == 0 {
		t.Fatalf("expected at least one list call")
	}
}

func TestWatcher_FailsafeTimeout(t *testing.T) {
	src := &scriptedSource{details: []detailStep{{call: ongoing("c1", "queued")}}}
	sched := newFakeScheduler()
	store := NewMemoryStore()
	rec := &recordingRecorder{}
	g := New(store, src, sched, Tunables{WatchCeiling: 5 * time.Second}, nil, rec)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")

	sched.Advance(4 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); !held {
		t.Fatalf("released before the ceiling")
	}
	sched.Advance(2 * time.Second)
	if _, held, _ := g.Inspect(ctx, "a1"); held {
		t.Fatalf("expected failsafe release at the ceiling")
	}
	if last, _ := rec.lastRelease(); last.reason != "timeout" {
		t.Fatalf("unexpected reason %q", last.reason)
	}
}

func TestWatcher_NeverFiresAfterRelease(t *testing.T) {
	src := &scriptedSource{details: []detailStep{{call: ongoing("c1", "ringing")}}}
	g, sched, store, _ := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")
	sched.Advance(2 * time.Second)

	g.Release("a1", "client request")
	before, _ := src.counts()

	sched.Advance(30 * time.Second)
	after, _ := src.counts()
	if after != before {
		t.Fatalf("watcher polled after release: %d -> %d", before, after)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty lock table")
	}
}

func TestAttach_AfterReleaseDoesNotStartWatcher(t *testing.T) {
	src := &scriptedSource{details: []detailStep{{call: ongoing("c1", "ringing")}}}
	g, sched, store, _ := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.Release("a1", "client request")
	if err := g.AttachCallID(ctx, "a1", "c1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	sched.Advance(10 * time.Second)
	if details, _ := src.counts(); details != 0 {
		t.Fatalf("no watcher should have started, got %d polls", details)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty lock table")
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	src := &scriptedSource{details: []detailStep{{call: ongoing("c1", "completed")}}}
	g, sched, _, _ := newTestGate(src)
	ctx := context.Background()

	g.TryAcquire(ctx, "a1")
	g.AttachCallID(ctx, "a1", "c1")
	sched.Advance(time.Second)

	res, err := g.TryAcquire(ctx, "a1")
	if err != nil || !res.Granted {
		t.Fatalf("expected re-acquire after release, got %+v err %v", res, err)
	}
}
