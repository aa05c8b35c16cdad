package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/GateChat/internal/config"
	"github.com/BTreeMap/GateChat/internal/flow"
	"github.com/BTreeMap/GateChat/internal/messaging"
	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/store"
	"github.com/BTreeMap/GateChat/internal/testutil"
)

const testTexts = `prompt: You are a helpful assistant.
welcome: Welcome!
btn_text: Share contact
access_denied: Please register first.
contact_received: Thanks!
coach: You are a strict coach.
`

type serverFixture struct {
	handler  http.Handler
	manager  *flow.SessionManager
	store    *store.InMemoryStore
	texts    *config.Texts
	textPath string
}

func newServerFixture(t *testing.T, token string) *serverFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultTextsFileName)
	if err := os.WriteFile(path, []byte(testTexts), 0o644); err != nil {
		t.Fatalf("failed to write texts: %v", err)
	}
	texts, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load texts: %v", err)
	}
	st := store.NewInMemoryStore()
	manager := flow.NewSessionManager(flow.NewSessionStore(), &testutil.StubCompleter{Reply: "hello back"}, texts)
	return &serverFixture{
		handler:  NewServer(manager, st, texts, token, "telegram").Handler(),
		manager:  manager,
		store:    st,
		texts:    texts,
		textPath: path,
	}
}

func (f *serverFixture) do(t *testing.T, method, url string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, url, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, "secret")
	rr := f.do(t, http.MethodGet, "/healthz", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz without token")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	result, _ := resp["result"].(map[string]interface{})
	if result["transport"] != "telegram" {
		t.Errorf("expected transport in health result, got %v", resp)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newServerFixture(t, "secret")

	rr := f.do(t, http.MethodGet, "/profiles/1", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "missing token")
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}

	rr = f.do(t, http.MethodGet, "/profiles/1", nil, "wrong")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "wrong token")

	rr = f.do(t, http.MethodGet, "/profiles/1", nil, "secret")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "valid token, unknown profile")
}

func TestNoTokenDisablesAuth(t *testing.T) {
	f := newServerFixture(t, "")
	rr := f.do(t, http.MethodGet, "/profiles/1", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "open API")
}

func TestSessionEndpoints(t *testing.T) {
	f := newServerFixture(t, "")

	rr := f.do(t, http.MethodGet, "/sessions/42", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "no session yet")

	f.manager.GetResponse(context.Background(), 42, "hi")

	rr = f.do(t, http.MethodGet, "/sessions/42", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "session exists")
	var resp struct {
		Status string      `json:"status"`
		Result SessionView `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	msgs := resp.Result.Messages
	if resp.Result.ConversationID != 42 || len(msgs) != 3 {
		t.Fatalf("unexpected session %+v", resp.Result)
	}
	if msgs[0].Role != models.RoleSystem || msgs[1].Content != "hi" || msgs[2].Content != "hello back" {
		t.Errorf("unexpected history %+v", msgs)
	}

	rr = f.do(t, http.MethodDelete, "/sessions/42", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reset")
	if len(f.manager.History(42)) != 0 {
		t.Error("session should be gone after reset")
	}

	rr = f.do(t, http.MethodGet, "/sessions/abc", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "non-numeric id")
}

func TestSetPromptEndpoint(t *testing.T) {
	f := newServerFixture(t, "")

	rr := f.do(t, http.MethodPut, "/sessions/7/prompt", SetPromptRequest{PromptKey: "coach"}, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "known key")
	hist := f.manager.History(7)
	if len(hist) != 1 || hist[0].Content != "You are a strict coach." {
		t.Errorf("expected session seeded with coach prompt, got %+v", hist)
	}

	rr = f.do(t, http.MethodPut, "/sessions/7/prompt", SetPromptRequest{PromptKey: "nope"}, "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown key")
	if hist := f.manager.History(7); len(hist) != 1 || hist[0].Content != "You are a strict coach." {
		t.Errorf("unknown key must not touch the session, got %+v", hist)
	}

	rr = f.do(t, http.MethodPut, "/sessions/7/prompt", SetPromptRequest{}, "")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty key")

	req := httptest.NewRequest(http.MethodPut, "/sessions/7/prompt", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad JSON")
}

func TestProfileEndpoint(t *testing.T) {
	f := newServerFixture(t, "")
	ctx := context.Background()
	if err := f.store.EnsureProfile(ctx, 9, "ann"); err != nil {
		t.Fatalf("EnsureProfile failed: %v", err)
	}

	rr := f.do(t, http.MethodGet, "/profiles/9", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "pending profile")
	var resp struct {
		Result ProfileView `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Result.State != models.RegistrationStateAwaitingContact || resp.Result.Profile.ChatID != 9 {
		t.Errorf("unexpected profile view %+v", resp.Result)
	}

	if _, err := f.store.UpdateProfile(ctx, 9, models.ProfileUpdate{Name: models.StringPtr("Ann"), Phone: models.StringPtr("+1555")}); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	rr = f.do(t, http.MethodGet, "/profiles/9", nil, "")
	resp.Result = ProfileView{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Result.State != models.RegistrationStateRegistered {
		t.Errorf("expected registered, got %s", resp.Result.State)
	}
}

func TestReloadEndpoint(t *testing.T) {
	f := newServerFixture(t, "")

	updated := strings.Replace(testTexts, "Welcome!", "Hello there!", 1)
	if err := os.WriteFile(f.textPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite texts: %v", err)
	}
	rr := f.do(t, http.MethodPost, "/config/reload", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "valid reload")
	if got := f.texts.Text(config.KeyWelcome); got != "Hello there!" {
		t.Errorf("expected reloaded welcome, got %q", got)
	}

	// Drop a required key; the previous texts must stay active.
	broken := strings.Replace(updated, "access_denied: Please register first.\n", "", 1)
	if err := os.WriteFile(f.textPath, []byte(broken), 0o644); err != nil {
		t.Fatalf("failed to rewrite texts: %v", err)
	}
	rr = f.do(t, http.MethodPost, "/config/reload", nil, "")
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "invalid reload")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
	if got := f.texts.Text(config.KeyAccessDenied); got != "Please register first." {
		t.Errorf("previous texts should remain active, got %q", got)
	}
}

func TestNewOptsDefaults(t *testing.T) {
	cfg := newOpts(nil)
	if cfg.StateDir != DefaultStateDir || cfg.Transport != TransportTelegram {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.TextsPath != filepath.Join(DefaultStateDir, DefaultTextsFileName) {
		t.Errorf("texts path should default into the state dir, got %s", cfg.TextsPath)
	}
	if cfg.SessionIdleTTL != DefaultSessionIdleTTL {
		t.Errorf("unexpected ttl %v", cfg.SessionIdleTTL)
	}

	cfg = newOpts([]Option{WithStateDir("/tmp/gc"), WithTransport(TransportWhatsApp), WithSessionIdleTTL(0), WithTextsPath("/etc/texts.yaml")})
	if cfg.TextsPath != "/etc/texts.yaml" || cfg.Transport != TransportWhatsApp || cfg.SessionIdleTTL != time.Duration(0) {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestNewTransportUnknown(t *testing.T) {
	if _, err := newTransport(context.Background(), "carrier-pigeon", Modules{}); err == nil {
		t.Error("expected error for unknown transport")
	}
	if _, err := newTransport(context.Background(), TransportTelegram, Modules{}); err == nil {
		t.Error("expected error for telegram without token")
	}
}

func TestNewAdminNotifier(t *testing.T) {
	sender := testutil.NewRecordingSender()
	texts, err := config.FromMap(map[string]string{
		config.KeyPrompt: "p", config.KeyWelcome: "w", config.KeyButtonText: "b",
		config.KeyAccessDenied: "a", config.KeyContactReceived: "c",
	})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	n, err := newAdminNotifier(newOpts(nil), nil, sender, texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := n.(*messaging.ChatAdminNotifier); !ok {
		t.Errorf("expected chat notifier, got %T", n)
	}

	if _, err := newAdminNotifier(newOpts([]Option{WithAdminWhatsApp("+15550001")}), nil, sender, texts); err == nil {
		t.Error("expected error when Twilio credentials are missing")
	}
}
