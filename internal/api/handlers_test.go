package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"nevexpert/internal/chat"
	"nevexpert/internal/checkout"
	"nevexpert/internal/config"
	"nevexpert/internal/models"
	"nevexpert/internal/staging"
	"nevexpert/internal/storage"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

type stubResponder struct {
	mu      sync.Mutex
	text    string
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (r *stubResponder) Respond(_ context.Context, _ []*models.Turn) (string, error) {
	r.mu.Lock()
	entered := r.entered
	block := r.block
	r.mu.Unlock()
	if entered != nil {
		close(entered)
		r.mu.Lock()
		r.entered = nil
		r.mu.Unlock()
	}
	if block != nil {
		<-block
	}
	return r.text, r.err
}

type instantProvider struct{}

func (instantProvider) Confirm(_ context.Context, _ checkout.Order) (checkout.Outcome, error) {
	return checkout.Outcome{Settled: true}, nil
}

func newTestServer(t *testing.T, responder chat.Responder) (*gin.Engine, *checkout.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	checkoutSvc := checkout.NewService(instantProvider{}, nil)
	handler := NewHandler(
		chat.NewRegistry(responder),
		staging.NewService(db),
		checkoutSvc,
		t.TempDir(),
		time.Minute,
	)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, checkoutSvc
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, router *gin.Engine, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body %s)", err, data)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

type turnPayload struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Attachment *struct {
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"attachment"`
}

func createSession(t *testing.T, router *gin.Engine) (int64, []turnPayload) {
	t.Helper()
	rec := doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions", nil)
	assertStatus(t, rec, http.StatusCreated)
	var body struct {
		SessionID int64         `json:"session_id"`
		Turns     []turnPayload `json:"turns"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.SessionID <= 0 {
		t.Fatalf("expected positive session id")
	}
	return body.SessionID, body.Turns
}

func TestChatFlowEndToEnd(t *testing.T) {
	router, _ := newTestServer(t, &stubResponder{text: "建议先读取BMS故障码。"})

	sessionID, turns := createSession(t, router)
	if len(turns) != 1 || turns[0].Role != "assistant" {
		t.Fatalf("new session should hold only the greeting, got %+v", turns)
	}
	if !strings.Contains(turns[0].Content, "水稻新能源专家AI") {
		t.Fatalf("default tier should get the onboarding greeting")
	}

	upResp := doUpload(t, router, fmt.Sprintf("/api/chat/sessions/%d/attachment", sessionID), "dtc.png", pngBytes)
	assertStatus(t, upResp, http.StatusCreated)
	var upBody struct {
		MediaType string `json:"media_type"`
	}
	decodeJSON(t, upResp.Body.Bytes(), &upBody)
	if upBody.MediaType != "image/png" {
		t.Fatalf("expected sniffed png type, got %s", upBody.MediaType)
	}

	trResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/chat/sessions/%d", sessionID), nil)
	assertStatus(t, trResp, http.StatusOK)
	if !strings.Contains(trResp.Body.String(), "pending_attachment") {
		t.Fatalf("transcript should expose the staged attachment")
	}

	msgResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID),
		map[string]string{"content": "看下这个故障码"})
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		UserTurn      turnPayload `json:"user_turn"`
		AssistantTurn turnPayload `json:"assistant_turn"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if msgBody.UserTurn.Attachment == nil || msgBody.UserTurn.Attachment.MediaType != "image/png" {
		t.Fatalf("sent turn should carry the uploaded attachment, got %+v", msgBody.UserTurn)
	}
	if msgBody.AssistantTurn.Content != "建议先读取BMS故障码。" {
		t.Fatalf("unexpected assistant turn %+v", msgBody.AssistantTurn)
	}

	trResp = doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/chat/sessions/%d", sessionID), nil)
	assertStatus(t, trResp, http.StatusOK)
	var trBody struct {
		Turns []turnPayload `json:"turns"`
	}
	decodeJSON(t, trResp.Body.Bytes(), &trBody)
	if len(trBody.Turns) != 3 {
		t.Fatalf("expected greeting + user + assistant, got %d turns", len(trBody.Turns))
	}
	if strings.Contains(trResp.Body.String(), "pending_attachment") {
		t.Fatalf("pending attachment must be cleared after submit")
	}

	delResp := doJSONRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/chat/sessions/%d", sessionID), nil)
	assertStatus(t, delResp, http.StatusNoContent)
	trResp = doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/chat/sessions/%d", sessionID), nil)
	assertStatus(t, trResp, http.StatusNotFound)
}

func TestSubmitValidation(t *testing.T) {
	router, _ := newTestServer(t, &stubResponder{text: "ok"})
	sessionID, _ := createSession(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID),
		map[string]string{"content": "   "})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat/sessions/999/messages",
		map[string]string{"content": "hi"})
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSubmitWhileInFlight(t *testing.T) {
	responder := &stubResponder{
		text:    "done",
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	router, _ := newTestServer(t, responder)
	sessionID, _ := createSession(t, router)

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- doJSONRequest(t, router, http.MethodPost,
			fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID),
			map[string]string{"content": "a"})
	}()

	<-responder.entered
	busyResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID),
		map[string]string{"content": "a"})
	assertStatus(t, busyResp, http.StatusConflict)

	close(responder.block)
	assertStatus(t, <-firstDone, http.StatusOK)
}

func TestUploadRejectsNonImage(t *testing.T) {
	router, _ := newTestServer(t, &stubResponder{text: "ok"})
	sessionID, _ := createSession(t, router)

	resp := doUpload(t, router, fmt.Sprintf("/api/chat/sessions/%d/attachment", sessionID),
		"notes.txt", []byte("plain text, not an image"))
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestClearAttachment(t *testing.T) {
	router, _ := newTestServer(t, &stubResponder{text: "ok"})
	sessionID, _ := createSession(t, router)

	upResp := doUpload(t, router, fmt.Sprintf("/api/chat/sessions/%d/attachment", sessionID), "dtc.png", pngBytes)
	assertStatus(t, upResp, http.StatusCreated)

	clearResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/chat/sessions/%d/attachment", sessionID), nil)
	assertStatus(t, clearResp, http.StatusNoContent)

	trResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/chat/sessions/%d", sessionID), nil)
	if strings.Contains(trResp.Body.String(), "pending_attachment") {
		t.Fatalf("cleared attachment should drop out of the transcript view")
	}
}

func TestCheckoutFlowGrantsPremiumGreeting(t *testing.T) {
	router, checkoutSvc := newTestServer(t, &stubResponder{text: "ok"})

	resp := doJSONRequest(t, router, http.MethodPost, "/api/checkout", map[string]string{"plan_id": "lifetime"})
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/checkout", map[string]string{"plan_id": "yearly"})
	assertStatus(t, resp, http.StatusCreated)
	var beginBody struct {
		Order checkout.Order `json:"order"`
	}
	decodeJSON(t, resp.Body.Bytes(), &beginBody)
	if beginBody.Order.State != checkout.StateSelection {
		t.Fatalf("new order should sit in selection, got %s", beginBody.Order.State)
	}

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/checkout/%d/method", beginBody.Order.ID),
		map[string]string{"method": "wechat"})
	assertStatus(t, resp, http.StatusAccepted)

	done, ok := checkoutSvc.Wait(beginBody.Order.ID)
	if !ok {
		t.Fatalf("missing wait channel")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("order never settled")
	}

	resp = doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/checkout/%d", beginBody.Order.ID), nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), string(checkout.StateSettled)) {
		t.Fatalf("expected settled order, body: %s", resp.Body.String())
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/subscription", nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), string(models.TierPremium)) {
		t.Fatalf("settled checkout should grant premium, body: %s", resp.Body.String())
	}

	_, turns := createSession(t, router)
	if !strings.Contains(turns[0].Content, "企业级权限已开启") {
		t.Fatalf("premium sessions should seed the priority greeting, got %q", turns[0].Content)
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/plans", nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "大师旗舰版") {
		t.Fatalf("plans endpoint should list the catalog")
	}
}
