package voiceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"screening-gateway/internal/calls"
)

// RESTClient talks to the voice-agent provider's REST API.
//
// Two quirks the rest of the system must never see:
// - responses may nest the payload one level under a "data" envelope key;
// - list entries carry the call identifier under either "id" or "call_log_id".
type RESTClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// Options configures a RESTClient. Timeout defaults to 10s.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewRESTClient(opts Options) (*RESTClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("voiceagent: base url is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("voiceagent: api key is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		hc:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *RESTClient) Name() string { return "voiceagent-rest" }

func (c *RESTClient) HealthCheck(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, "/v1/health", nil)
	return err
}

func (c *RESTClient) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("voiceagent: encode dispatch: %w", err)
	}
	raw, _, err := c.do(ctx, http.MethodPost, "/v1/calls", body)
	if err != nil {
		return DispatchResult{}, err
	}

	var wc wireCall
	if err := unwrap(raw, &wc); err != nil {
		// An undecodable 2xx body still dispatched a call; pass it through
		// with no identifier rather than failing the whole request.
		return DispatchResult{Raw: raw}, nil
	}
	return DispatchResult{CallID: wc.resolveID(), Raw: raw}, nil
}

func (c *RESTClient) FetchCallDetail(ctx context.Context, callID string) (calls.Call, error) {
	if callID == "" {
		return calls.Call{}, fmt.Errorf("voiceagent: call id is required")
	}
	raw, _, err := c.do(ctx, http.MethodGet, "/v1/call-logs/"+url.PathEscape(callID), nil)
	if err != nil {
		return calls.Call{}, err
	}
	var wc wireCall
	if err := unwrap(raw, &wc); err != nil {
		return calls.Call{}, fmt.Errorf("voiceagent: decode call detail: %w", err)
	}
	return wc.toCall(), nil
}

func (c *RESTClient) ListAgentCalls(ctx context.Context, q ListQuery) ([]calls.Call, error) {
	v := url.Values{}
	if q.AgentID != "" {
		v.Set("agent_id", q.AgentID)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.Status != "" {
		v.Set("call_status", q.Status)
	}
	path := "/v1/call-logs"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	raw, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var wcs []wireCall
	if err := unwrap(raw, &wcs); err != nil {
		return nil, fmt.Errorf("voiceagent: decode call list: %w", err)
	}
	out := make([]calls.Call, 0, len(wcs))
	for _, wc := range wcs {
		out = append(out, wc.toCall())
	}
	return out, nil
}

func (c *RESTClient) BulkCreateCalls(ctx context.Context, payload json.RawMessage) (json.RawMessage, int, error) {
	raw, status, err := c.do(ctx, http.MethodPost, "/v1/calls/bulk", payload)
	if err != nil {
		return nil, status, err
	}
	return raw, status, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("voiceagent: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("voiceagent: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("voiceagent: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, &APIError{StatusCode: res.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, res.StatusCode, nil
}

// wireCall mirrors the provider's call record, including both identifier
// field spellings seen in the wild.
type wireCall struct {
	ID        string `json:"id"`
	CallLogID string `json:"call_log_id"`

	AgentID string `json:"agent_id"`
	From    string `json:"from_number"`
	To      string `json:"to_number"`

	Status          string `json:"status"`
	DurationSeconds int    `json:"duration"`
	RecordingURL    string `json:"recording_url"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

func (w wireCall) resolveID() string {
	if w.ID != "" {
		return w.ID
	}
	return w.CallLogID
}

func (w wireCall) toCall() calls.Call {
	return calls.Call{
		ID:              w.resolveID(),
		AgentID:         w.AgentID,
		From:            w.From,
		To:              w.To,
		Status:          w.Status,
		DurationSeconds: w.DurationSeconds,
		RecordingURL:    w.RecordingURL,
		StartedAt:       w.StartedAt,
		EndedAt:         w.EndedAt,
	}
}

// envelope is the optional one-level wrapper around provider payloads.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// unwrap decodes raw into out, peeling a single "data" envelope if present.
func unwrap(raw json.RawMessage, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(raw, out)
}

// Unwrap exposes envelope peeling for handlers that pass payloads through.
func Unwrap(raw json.RawMessage) json.RawMessage {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
