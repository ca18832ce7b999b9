package voiceagent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeReleaser struct {
	mu       sync.Mutex
	released [][2]string
}

func (f *fakeReleaser) Release(agentID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, [2]string{agentID, reason})
}

func webhookRouter(h StatusWebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/voiceagent/status", h.HandleStatusCallback)
	return r
}

func postCallback(r *gin.Engine, body, secret string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voiceagent/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_ReleasesOnFinalStatus(t *testing.T) {
	rel := &fakeReleaser{}
	r := webhookRouter(StatusWebhookHandler{Gate: rel})

	w := postCallback(r, `{"agent_id":"a1","call_id":"c1","status":"completed"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rel.released) != 1 || rel.released[0] != [2]string{"a1", "webhook completed"} {
		t.Fatalf("unexpected releases: %v", rel.released)
	}
}

func TestWebhook_IgnoresOngoingStatus(t *testing.T) {
	rel := &fakeReleaser{}
	r := webhookRouter(StatusWebhookHandler{Gate: rel})

	w := postCallback(r, `{"agent_id":"a1","call_id":"c1","status":"in_progress"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rel.released) != 0 {
		t.Fatalf("expected no release, got %v", rel.released)
	}
}

func TestWebhook_ArtifactsReleaseEvenWithoutFinalStatus(t *testing.T) {
	rel := &fakeReleaser{}
	r := webhookRouter(StatusWebhookHandler{Gate: rel})

	postCallback(r, `{"agent_id":"a1","call_id":"c1","status":"in_progress","recording_url":"https://cdn.example/r.mp3"}`, "")
	if len(rel.released) != 1 || rel.released[0][1] != "webhook artifacts" {
		t.Fatalf("unexpected releases: %v", rel.released)
	}
}

func TestWebhook_SecretEnforced(t *testing.T) {
	rel := &fakeReleaser{}
	r := webhookRouter(StatusWebhookHandler{Gate: rel, Secret: "s3cret"})

	if w := postCallback(r, `{"agent_id":"a1","status":"completed"}`, "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := postCallback(r, `{"agent_id":"a1","status":"completed"}`, "s3cret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rel.released) != 1 {
		t.Fatalf("expected exactly one release, got %v", rel.released)
	}
}

func TestWebhook_RequiresAgentID(t *testing.T) {
	rel := &fakeReleaser{}
	r := webhookRouter(StatusWebhookHandler{Gate: rel})

	if w := postCallback(r, `{"status":"completed"}`, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
