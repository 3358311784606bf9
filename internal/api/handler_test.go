//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/identity"
	"github.com/ashureev/rolecall/internal/roleplay"
	"github.com/ashureev/rolecall/internal/scene"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/ashureev/rolecall/internal/transport"
	"github.com/coder/websocket"
)

const testToken = "s3cret"

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{roleplay.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("seat: %w", roleplay.ErrCharacterTaken), http.StatusConflict},
		{roleplay.ErrChatBusy, http.StatusConflict},
		{roleplay.ErrAlreadyJoined, http.StatusConflict},
		{&roleplay.InsufficientPlayersError{Have: 1, Need: 2}, http.StatusUnprocessableEntity},
		{dispatch.ErrUnknownKind, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []dispatch.Event
	err    error
}

func (f *fakeEvents) Handle(_ context.Context, ev dispatch.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeEvents) snapshot() []dispatch.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Event(nil), f.events...)
}

func (f *fakeEvents) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type apiFixture struct {
	server  *httptest.Server
	repo    *store.SQLiteStore
	manager *roleplay.Manager
	events  *fakeEvents
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"), store.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	manager := roleplay.NewManager(repo, scene.NewGenerator(cat.SceneTemplates, nil), cat.Achievements, roleplay.Options{})
	events := &fakeEvents{}

	base := NewHandler(repo, manager, cat, events)
	router := NewRouter(NewRoleplayHandler(base), NewHealthHandler(repo, 0), RouterConfig{APIToken: testToken})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, repo: repo, manager: manager, events: events}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, auth bool) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestPostEvent(t *testing.T) {
	f := newFixture(t)
	valid := `{"kind":"command","chat_id":-100,"chat_type":"group","user_id":7,"profile":{"first_name":"Bea"},"text":"/start_rp battle"}`

	if code, _ := f.do(t, http.MethodPost, "/api/events", valid, false); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	code, body := f.do(t, http.MethodPost, "/api/events", valid, true)
	if code != http.StatusAccepted || body["status"] != "accepted" {
		t.Fatalf("expected 202 accepted, got %d %v", code, body)
	}
	if got := f.events.snapshot(); len(got) != 1 || got[0].Profile.FirstName != "Bea" || got[0].Kind != dispatch.KindCommand {
		t.Fatalf("unexpected forwarded events %+v", got)
	}

	for name, body := range map[string]string{
		"bad json":      `{"kind":`,
		"unknown field": `{"kind":"message","chat_id":1,"user_id":1,"color":"red"}`,
		"bad kind":      `{"kind":"poll","chat_id":1,"user_id":1}`,
		"missing user":  `{"kind":"message","chat_id":1}`,
	} {
		if code, _ := f.do(t, http.MethodPost, "/api/events", body, true); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, code)
		}
	}

	f.events.fail(fmt.Errorf("command start_rp: %w", roleplay.ErrChatBusy))
	if code, _ := f.do(t, http.MethodPost, "/api/events", valid, true); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestGetChatSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if code, _ := f.do(t, http.MethodGet, "/api/chats/-100/session", "", false); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/chats/abc/session", "", false); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	id, err := f.manager.CreateSession(1, -100, "Battle", "battle")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.AddParticipant(ctx, id, 1, "Pico", domain.Profile{FirstName: "Admin"}); err != nil {
		t.Fatal(err)
	}

	code, body := f.do(t, http.MethodGet, "/api/chats/-100/session", "", false)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	session := body["session"].(map[string]any)
	if session["id"] != id || session["status"] != "waiting" || session["mode"] != "battle" {
		t.Fatalf("unexpected session %v", session)
	}
	if participants := session["participants"].([]any); len(participants) != 1 {
		t.Fatalf("expected one participant, got %v", participants)
	}
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if code, _ := f.do(t, http.MethodGet, "/api/users/7/stats", "", false); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", code)
	}

	if err := f.repo.UpsertUser(ctx, 7, domain.Profile{Username: "picofromthevoid", FirstName: "Bea"}); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.IncrementUserCounters(ctx, 7, domain.Counters{TotalResponses: 12, SessionsPlayed: 1, TotalMessages: 12}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.UnlockAchievement(ctx, 7, "first_roleplay"); err != nil {
		t.Fatal(err)
	}

	code, body := f.do(t, http.MethodGet, "/api/users/7/stats", "", false)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["total_responses"].(float64) != 12 || body["achievements_count"].(float64) != 1 || body["character"] != "Pico" {
		t.Fatalf("unexpected stats %v", body)
	}

	code, body = f.do(t, http.MethodGet, "/api/users/7/achievements", "", false)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	list := body["achievements"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["id"] != "first_roleplay" || list[0].(map[string]any)["name"] == "" {
		t.Fatalf("unexpected achievements %v", list)
	}

	code, body = f.do(t, http.MethodGet, "/api/top?limit=5", "", false)
	if code != http.StatusOK || len(body["players"].([]any)) != 1 {
		t.Fatalf("unexpected top %d %v", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/top?limit=0", "", false); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/health", "", false)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("expected healthy, got %d %v", code, body)
	}

	w := httptest.NewRecorder()
	NewHealthHandler(downStore{}, 0).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "ws.db"), store.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	manager := roleplay.NewManager(repo, scene.NewGenerator(cat.SceneTemplates, nil), cat.Achievements, roleplay.Options{})
	events := &fakeEvents{}
	hub := transport.NewHub(nil)

	router := NewRouter(NewRoleplayHandler(NewHandler(repo, manager, cat, events)), NewHealthHandler(repo, 0), RouterConfig{
		APIToken:  testToken,
		WebSocket: transport.NewWebSocketHandler(hub, events, ""),
		Identity:  identity.Middleware(repo),
	})
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats/-100?user_id=1&first_name=Admin"

	_, resp, err := websocket.Dial(ctx, base, nil)
	if err == nil {
		t.Fatal("expected upgrade without a token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
	if user, _ := repo.GetUser(ctx, 1); user != nil {
		t.Fatal("rejected upgrade must not register the user")
	}

	if _, resp, err := websocket.Dial(ctx, base+"&access_token=wrong", nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("expected wrong token to be rejected")
	}

	conn, _, err := websocket.Dial(ctx, base+"&access_token="+testToken, nil)
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}
