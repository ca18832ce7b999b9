package audit

import (
	"context"
	"log/slog"
	"time"
)

// GateRecorder adapts the audit service to the gate's Recorder interface.
// Every hook is best-effort: failures are logged and swallowed so the gate
// never stalls on the audit trail.
type GateRecorder struct {
	svc *Service
	log *slog.Logger
}

func NewGateRecorder(svc *Service, log *slog.Logger) *GateRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &GateRecorder{svc: svc, log: log}
}

func (r *GateRecorder) Acquired(agentID string) {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.svc.LogAcquired(ctx, agentID); err != nil {
		r.log.Warn("audit append failed", "type", EventTypeGateAcquired, "agent_id", agentID, "err", err)
	}
}

func (r *GateRecorder) Attached(agentID, callID string) {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.svc.LogAttached(ctx, agentID, callID); err != nil {
		r.log.Warn("audit append failed", "type", EventTypeCallAttached, "agent_id", agentID, "err", err)
	}
}

func (r *GateRecorder) Released(agentID, callID, reason string, held time.Duration) {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.svc.LogReleased(ctx, agentID, callID, reason, held); err != nil {
		r.log.Warn("audit append failed", "type", EventTypeGateReleased, "agent_id", agentID, "err", err)
	}
}

// Release often runs inside timer callbacks with no request context.
func (r *GateRecorder) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}
