package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader lists recorded events for reporting. Kept separate from Repository
// so write-only sinks stay valid implementations.
type Reader interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to callers by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AgentID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAcquired records a granted gate acquisition.
func (s *Service) LogAcquired(ctx context.Context, agentID string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeGateAcquired,
		AgentID: agentID,
		Message: "gate acquired",
	})
}

// LogAttached records the provider call identifier joining the gate entry.
func (s *Service) LogAttached(ctx context.Context, agentID, callID string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeCallAttached,
		AgentID: agentID,
		CallID:  callID,
		Message: "call attached",
	})
}

// LogReleased records a gate release with its reason and hold duration.
func (s *Service) LogReleased(ctx context.Context, agentID, callID, reason string, held time.Duration) error {
	return s.Append(ctx, Event{
		Type:        EventTypeGateReleased,
		AgentID:     agentID,
		CallID:      callID,
		Reason:      reason,
		HeldSeconds: held.Seconds(),
		Message:     "gate released",
	})
}
