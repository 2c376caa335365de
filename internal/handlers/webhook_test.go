package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aria/internal/models"

	"github.com/gofiber/fiber/v2"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []models.InboundUpdate
}

func (r *recordingHandler) HandleUpdate(ctx context.Context, update models.InboundUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func newTestApp(secret string) (*fiber.App, *recordingHandler) {
	recorder := &recordingHandler{}
	h := NewWebhookHandler(recorder, secret)
	app := fiber.New()
	app.Post("/webhook/telegram", h.HandleTelegram)
	return app, recorder
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWebhookAcceptsValidUpdate(t *testing.T) {
	app, recorder := newTestApp("s3cret")

	body := `{"update_id":1,"message":{"chat":{"id":42},"text":"hello"}}`
	req := httptest.NewRequest("POST", "/webhook/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, "s3cret")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	waitFor(t, func() bool { return recorder.count() == 1 })
	if recorder.updates[0].ChannelID != "42" || recorder.updates[0].Text != "hello" {
		t.Errorf("update = %+v", recorder.updates[0])
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	app, recorder := newTestApp("s3cret")

	body := `{"update_id":1,"message":{"chat":{"id":42},"text":"hello"}}`
	req := httptest.NewRequest("POST", "/webhook/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, "wrong")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	time.Sleep(20 * time.Millisecond)
	if recorder.count() != 0 {
		t.Error("rejected update must not reach the orchestrator")
	}
}

func TestWebhookAcknowledgesUnprocessableUpdates(t *testing.T) {
	app, recorder := newTestApp("")

	// Edits and media arrive without text; Telegram redelivers on non-200,
	// so these still acknowledge.
	for _, body := range []string{
		`{"update_id":2}`,
		`{"update_id":3,"message":{"chat":{"id":42},"text":""}}`,
		`not json at all`,
	} {
		req := httptest.NewRequest("POST", "/webhook/telegram", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("body %q: status = %d, want 200", body, resp.StatusCode)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if recorder.count() != 0 {
		t.Errorf("unprocessable updates must be dropped, got %d", recorder.count())
	}
}
