package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"screening-gateway/internal/calls"
	"screening-gateway/internal/voiceagent"
)

// GatewayClient is the orchestrator's view of the screening gateway.
type GatewayClient interface {
	// Dispatch places a call. A busy gate surfaces as *ConflictError.
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error)
	CallDetail(ctx context.Context, callID string) (calls.Call, error)
	AgentCalls(ctx context.Context, agentID string, pageSize int) ([]calls.Call, error)
	ReleaseAgent(ctx context.Context, agentID string) error
}

type DispatchRequest struct {
	AgentID      string         `json:"agent_id"`
	ToNumber     string         `json:"recipient_phone_number"`
	FromNumberID string         `json:"from_number_id,omitempty"`
	CallContext  map[string]any `json:"call_context,omitempty"`
}

// DispatchResponse carries the call identifier when the gateway could resolve
// one. CallID may be empty; the orchestrator then falls back to list matching.
type DispatchResponse struct {
	CallID string
}

// ConflictError reports a dispatch rejected because the agent's gate is held.
type ConflictError struct {
	CurrentCallID string
}

func (e *ConflictError) Error() string {
	if e.CurrentCallID == "" {
		return "agent busy"
	}
	return "agent busy with call " + e.CurrentCallID
}

// HTTPClient talks to a running gateway over its inbound API.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

type ClientOptions struct {
	BaseURL string
	// Token is an operator access token; sent as a bearer credential.
	Token   string
	Timeout time.Duration
}

func NewHTTPClient(opts ClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		hc:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResponse{}, err
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/v1/calls/dispatch", body)
	if err != nil {
		return DispatchResponse{}, err
	}

	switch {
	case status == http.StatusConflict:
		var conflict struct {
			CurrentCallID string `json:"current_call_id"`
		}
		_ = json.Unmarshal(respBody, &conflict)
		return DispatchResponse{}, &ConflictError{CurrentCallID: conflict.CurrentCallID}
	case status < 200 || status > 299:
		return DispatchResponse{}, fmt.Errorf("dispatch: gateway returned %d: %s", status, truncate(respBody))
	}

	// The gateway forwards the provider body; the identifier field name
	// varies, and it may be absent entirely.
	var ids struct {
		ID        string `json:"id"`
		CallLogID string `json:"call_log_id"`
	}
	if err := json.Unmarshal(voiceagent.Unwrap(respBody), &ids); err != nil {
		return DispatchResponse{}, nil
	}
	id := ids.ID
	if id == "" {
		id = ids.CallLogID
	}
	return DispatchResponse{CallID: id}, nil
}

func (c *HTTPClient) CallDetail(ctx context.Context, callID string) (calls.Call, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/call-logs/"+url.PathEscape(callID), nil)
	if err != nil {
		return calls.Call{}, err
	}
	if status < 200 || status > 299 {
		return calls.Call{}, fmt.Errorf("call detail: gateway returned %d: %s", status, truncate(body))
	}
	var out calls.Call
	if err := json.Unmarshal(body, &out); err != nil {
		return calls.Call{}, fmt.Errorf("call detail: decode: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) AgentCalls(ctx context.Context, agentID string, pageSize int) ([]calls.Call, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	status, body, err := c.do(ctx, http.MethodGet, "/v1/call-logs?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("agent calls: gateway returned %d: %s", status, truncate(body))
	}
	var out struct {
		Calls []calls.Call `json:"calls"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("agent calls: decode: %w", err)
	}
	return out.Calls, nil
}

func (c *HTTPClient) ReleaseAgent(ctx context.Context, agentID string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/release", nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("release: gateway returned %d: %s", status, truncate(body))
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("gateway response read failed: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
