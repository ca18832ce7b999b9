package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"screening-gateway/internal/auth"
	"screening-gateway/internal/config"
	"screening-gateway/internal/gate"
	"screening-gateway/internal/rbac"
	"screening-gateway/internal/reporting"
	"screening-gateway/internal/voiceagent"
	"screening-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	AuthCfg   config.AuthConfig
	Gate      *gate.Gate
	Provider  voiceagent.Client
	Reporting *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Login checks the static operator credentials and issues a JWT token pair.
// User management lives outside this service.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.User), []byte(h.AuthCfg.OperatorUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.AuthCfg.OperatorPassword)) == 1
	if !userOK || !passOK {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.User, rbac.RoleAdmin)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Dispatch ---

type dispatchRequest struct {
	AgentID      string         `json:"agent_id"`
	ToNumber     string         `json:"recipient_phone_number"`
	FromNumberID string         `json:"from_number_id"`
	CallContext  map[string]any `json:"call_context"`
}

// Dispatch is the gated proxy to the provider's call-create endpoint. The
// gate entry is claimed before the provider call so concurrent requests for
// the same agent cannot both go out.
func (h Handlers) Dispatch(c *gin.Context) {
	log := logger.FromGin(c)

	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.ToNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id and recipient_phone_number required"})
		return
	}

	res, err := h.Gate.TryAcquire(c.Request.Context(), req.AgentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "gate unavailable"})
		return
	}
	if !res.Granted {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":           "CALL_IN_PROGRESS",
			"current_call_id": res.CurrentCallID,
		})
		return
	}

	out, err := h.Provider.Dispatch(c.Request.Context(), voiceagent.DispatchRequest{
		AgentID:      req.AgentID,
		ToNumber:     req.ToNumber,
		FromNumberID: req.FromNumberID,
		CallContext:  req.CallContext,
	})
	if err != nil {
		// The reservation must not outlive a dispatch the provider rejected.
		h.Gate.Release(req.AgentID, "dispatch failed")
		forwardProviderError(c, log, err)
		return
	}

	if err := h.Gate.AttachCallID(c.Request.Context(), req.AgentID, out.CallID); err != nil {
		log.Error("attach failed after dispatch", "agent_id", req.AgentID, "call_id", out.CallID, "err", err)
	}

	if len(out.Raw) > 0 {
		c.Data(http.StatusOK, "application/json", out.Raw)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": out.CallID})
}

// --- Call logs ---

func (h Handlers) GetCallLog(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call id required"})
		return
	}
	detail, err := h.Provider.FetchCallDetail(c.Request.Context(), id)
	if err != nil {
		forwardProviderError(c, logger.FromGin(c), err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListCallLogs proxies the provider's call-log listing. All filters are
// optional; an empty query lists across every agent.
func (h Handlers) ListCallLogs(c *gin.Context) {
	q := voiceagent.ListQuery{
		AgentID: c.Query("agent_id"),
		Status:  c.Query("call_status"),
	}
	if v := c.Query("page"); v != "" {
		q.Page, _ = strconv.Atoi(v)
	}
	if v := c.Query("page_size"); v != "" {
		q.PageSize, _ = strconv.Atoi(v)
	}

	rows, err := h.Provider.ListAgentCalls(c.Request.Context(), q)
	if err != nil {
		forwardProviderError(c, logger.FromGin(c), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows)})
}

// --- Gate management ---

// ReleaseAgent force-releases an agent's gate. Idempotent: releasing an idle
// agent still returns ok.
func (h Handlers) ReleaseAgent(c *gin.Context) {
	agentID := c.Param("agent_id")
	if agentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	h.Gate.Release(agentID, "client request")
	c.JSON(http.StatusOK, gin.H{"ok": true, "agent_id": agentID})
}

func (h Handlers) InspectGate(c *gin.Context) {
	agentID := c.Param("agent_id")
	if agentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}
	lock, held, err := h.Gate.Inspect(c.Request.Context(), agentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "gate unavailable"})
		return
	}
	if !held {
		c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "held": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "held": true, "lock": lock})
}

// --- Bulk passthrough ---

// BulkCreateCalls forwards the payload verbatim; bulk traffic bypasses the
// gate by contract and is admin-only.
func (h Handlers) BulkCreateCalls(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	body, status, err := h.Provider.BulkCreateCalls(c.Request.Context(), payload)
	if err != nil {
		forwardProviderError(c, logger.FromGin(c), err)
		return
	}
	c.Data(status, "application/json", body)
}

// --- Reporting ---

func (h Handlers) AgentGateReport(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	req := reporting.GateSummaryRequest{AgentID: c.Param("agent_id")}
	if v := c.Query("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}
	sum, err := h.Reporting.GateSummary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) AgentCallsReport(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	req := reporting.CallsSummaryRequest{AgentID: c.Param("agent_id")}
	if v := c.Query("page_size"); v != "" {
		req.PageSize, _ = strconv.Atoi(v)
	}
	sum, err := h.Reporting.CallsSummary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
			return
		}
		forwardProviderError(c, logger.FromGin(c), err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// forwardProviderError maps provider failures onto the response: provider
// HTTP errors keep their status code, transport failures become 502.
func forwardProviderError(c *gin.Context, log *slog.Logger, err error) {
	var ae *voiceagent.APIError
	if errors.As(err, &ae) {
		log.Warn("provider error forwarded", "status", ae.StatusCode, "body", ae.Body)
		c.AbortWithStatusJSON(ae.StatusCode, gin.H{"error": "provider error", "detail": ae.Body})
		return
	}
	log.Warn("provider unreachable", "err", err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider unreachable"})
}
