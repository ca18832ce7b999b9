package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"screening-gateway/internal/calls"
)

// Client defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Keep request/response types provider-agnostic; raw payloads are passed
//   through untouched only on the explicit passthrough endpoints.
// - A failed fetch must surface an error; never fabricate a status.
type Client interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Dispatch places one outbound call through a calling agent.
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)

	StatusSource

	// BulkCreateCalls forwards a bulk-create payload verbatim and returns the
	// provider's response body and HTTP status.
	BulkCreateCalls(ctx context.Context, payload json.RawMessage) (json.RawMessage, int, error)
}

// StatusSource is the watcher-facing subset of Client: the two ways to learn
// a call's status. The list fetch exists as a cross-check for when the detail
// feed lags behind.
type StatusSource interface {
	FetchCallDetail(ctx context.Context, callID string) (calls.Call, error)
	ListAgentCalls(ctx context.Context, q ListQuery) ([]calls.Call, error)
}

// DispatchRequest carries everything needed to place one outbound call.
type DispatchRequest struct {
	AgentID      string         `json:"agent_id"`
	ToNumber     string         `json:"recipient_phone_number"`
	FromNumberID string         `json:"from_number_id,omitempty"`
	CallContext  map[string]any `json:"call_context,omitempty"`
}

// DispatchResult holds the resolved call identifier (possibly empty: the
// provider does not always return one immediately) and the raw provider
// payload for passthrough to the caller.
type DispatchResult struct {
	CallID string
	Raw    json.RawMessage
}

// ListQuery filters the paginated per-agent call list.
type ListQuery struct {
	AgentID  string
	Page     int
	PageSize int
	Status   string
}

// APIError is returned for any non-2xx provider response. Transport failures
// surface as wrapped errors without an APIError.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voiceagent: provider returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether an error from this package is a server-side (5xx)
// or network-class failure. Client-side 4xx responses are not transient: the
// request itself is wrong and retrying cannot help.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500
	}
	return true
}
