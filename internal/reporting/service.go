package reporting

import (
	"context"
	"errors"
	"strings"

	"screening-gateway/internal/audit"
	"screening-gateway/internal/calls"
	"screening-gateway/internal/voiceagent"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates read-only views for operators: gate outcomes from the
// immutable audit trail, call outcomes straight from the provider's log.
type Service struct {
	events audit.Reader
	source voiceagent.StatusSource
}

func NewService(events audit.Reader, source voiceagent.StatusSource) *Service {
	return &Service{events: events, source: source}
}

func (s *Service) GateSummary(ctx context.Context, req GateSummaryRequest) (GateSummary, error) {
	if req.AgentID == "" {
		return GateSummary{}, ErrInvalidRequest
	}
	if s.events == nil {
		return GateSummary{}, errors.New("reporting: audit reader not configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}

	evs, err := s.events.ListByAgent(ctx, req.AgentID, limit)
	if err != nil {
		return GateSummary{}, err
	}

	out := GateSummary{AgentID: req.AgentID}
	for _, e := range evs {
		switch e.Type {
		case audit.EventTypeGateAcquired:
			out.Acquisitions++
		case audit.EventTypeGateReleased:
			out.Releases++
			out.TotalHeldSeconds += e.HeldSeconds
			bucketRelease(&out, e.Reason)
		}
	}
	if out.Releases > 0 {
		out.AverageHeldSeconds = out.TotalHeldSeconds / float64(out.Releases)
	}
	return out, nil
}

func bucketRelease(out *GateSummary, reason string) {
	switch {
	case reason == "timeout":
		out.Timeouts++
	case reason == "error fallback":
		out.ErrorFallbacks++
	case reason == "client request":
		out.ClientReleases++
	case reason == "no call id":
		out.NoCallID++
	case strings.HasPrefix(reason, "webhook"):
		out.WebhookReleases++
	case reason == "final via list" || reason == "artifacts":
		out.Completed++
	default:
		// Watcher releases carry the final status token as the reason.
		if cls := calls.Classify(reason, false); cls.Final() {
			out.Completed++
			return
		}
		out.OtherReleases++
	}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.AgentID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.source == nil {
		return CallsSummary{}, errors.New("reporting: status source not configured")
	}

	rows, err := s.source.ListAgentCalls(ctx, voiceagent.ListQuery{
		AgentID:  req.AgentID,
		PageSize: req.PageSize,
	})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AgentID: req.AgentID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch calls.ClassifyCall(c).State {
		case calls.StateFinal:
			out.FinalCalls++
		case calls.StateOngoing:
			out.OngoingCalls++
		default:
			out.UnknownCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
