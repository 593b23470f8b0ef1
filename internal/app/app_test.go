package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuslink/core/internal/config"
	"github.com/campuslink/core/internal/pkg/apperr"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv(config.EnvRedisURL, "")
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvJWTSecret, "")

	dir := t.TempDir()
	yml := fmt.Sprintf(`
env: test
jwt_secret: abcdefghijklmnopqrstuvwxyz123456
database:
  driver: sqlite
  path: %s
revocation:
  store: memory
paths:
  logs: %s
`, filepath.Join(dir, "campus.db"), dir)
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := New(nil, cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Hub().Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.Close()
	})
	return a
}

type result struct {
	status int
	body   map[string]any
	cookie []*http.Cookie
}

func call(t *testing.T, a *App, method, path, token string, payload any) result {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return result{status: rec.Code, body: out, cookie: rec.Result().Cookies()}
}

func login(t *testing.T, a *App, username, password string) string {
	t.Helper()
	res := call(t, a, http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	if res.status != http.StatusOK {
		t.Fatalf("login %s: %d %v", username, res.status, res.body)
	}
	token, _ := res.body["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in %v", username, res.body)
	}
	return token
}

func seedUsers(t *testing.T, a *App, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := a.auth.CreateUser(context.Background(), n, "secret-"+n, ""); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}
}

func TestConversationEndToEnd(t *testing.T) {
	a := newTestApp(t)
	seedUsers(t, a, "alice", "bob")
	aliceToken := login(t, a, "alice", "secret-alice")
	bobToken := login(t, a, "bob", "secret-bob")

	ensured := call(t, a, http.MethodPost, "/chats/ensure", aliceToken, map[string]string{"withUserId": "bob"})
	if ensured.status != http.StatusOK {
		t.Fatalf("ensure: %d %v", ensured.status, ensured.body)
	}
	chatID := ensured.body["chat"].(map[string]any)["chatId"].(string)

	again := call(t, a, http.MethodPost, "/chats/ensure", bobToken, map[string]string{"withUserId": "alice"})
	if got := again.body["chat"].(map[string]any)["chatId"]; got != chatID {
		t.Fatalf("ensure must be order independent: %v != %v", got, chatID)
	}

	for _, text := range []string{"hello", "are you there?"} {
		sent := call(t, a, http.MethodPost, "/messages", aliceToken, map[string]string{"chatId": chatID, "receiver": "bob", "text": text})
		if sent.status != http.StatusOK {
			t.Fatalf("send: %d %v", sent.status, sent.body)
		}
	}

	listed := call(t, a, http.MethodGet, "/messages/"+chatID, bobToken, nil)
	msgs := listed.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if last := msgs[1].(map[string]any); last["text"] != "are you there?" || last["senderId"] != "alice" {
		t.Fatalf("unexpected last message %v", last)
	}

	chats := call(t, a, http.MethodGet, "/chats", bobToken, nil).body["chats"].([]any)
	if len(chats) != 1 || chats[0].(map[string]any)["unread"].(float64) != 2 {
		t.Fatalf("unexpected chat list %v", chats)
	}

	seen := call(t, a, http.MethodPut, "/messages/"+chatID+"/seen", bobToken, nil)
	if seen.body["updated"].(float64) != 2 {
		t.Fatalf("unexpected seen result %v", seen.body)
	}
	seen = call(t, a, http.MethodPut, "/messages/"+chatID+"/seen", bobToken, nil)
	if seen.body["updated"].(float64) != 0 {
		t.Fatalf("second markSeen must update nothing, got %v", seen.body)
	}

	outsider := call(t, a, http.MethodPost, "/messages", aliceToken, map[string]string{"chatId": chatID, "receiver": "carol", "text": "x"})
	if outsider.status != http.StatusBadRequest {
		t.Fatalf("non participant receiver: %d %v", outsider.status, outsider.body)
	}
}

func TestLogoutRevokesRestAndRealtimeAccess(t *testing.T) {
	a := newTestApp(t)
	seedUsers(t, a, "alice")
	token := login(t, a, "alice", "secret-alice")

	if res := call(t, a, http.MethodGet, "/chats", token, nil); res.status != http.StatusOK {
		t.Fatalf("before logout: %d", res.status)
	}

	out := call(t, a, http.MethodPost, "/logout", token, nil)
	if out.status != http.StatusOK {
		t.Fatalf("logout: %d %v", out.status, out.body)
	}

	res := call(t, a, http.MethodGet, "/chats", token, nil)
	if res.status != http.StatusUnauthorized || res.body["reason"] != "revoked" {
		t.Fatalf("after logout: %d %v", res.status, res.body)
	}

	// The gateway handshake consults the same gate.
	if _, err := a.Sessions().Authenticate(context.Background(), token); !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Fatalf("handshake must be rejected as revoked, got %v", err)
	}

	if again := call(t, a, http.MethodPost, "/logout", token, nil); again.status != http.StatusOK {
		t.Fatalf("repeated logout must succeed: %d %v", again.status, again.body)
	}
}

func TestUnauthorizedReasons(t *testing.T) {
	a := newTestApp(t)
	if res := call(t, a, http.MethodGet, "/chats", "", nil); res.status != http.StatusUnauthorized || res.body["reason"] != "missing" {
		t.Fatalf("missing: %d %v", res.status, res.body)
	}
	if res := call(t, a, http.MethodGet, "/chats", "forged", nil); res.status != http.StatusUnauthorized || res.body["reason"] != "invalid" {
		t.Fatalf("invalid: %d %v", res.status, res.body)
	}
}

func TestPingPresenceAndHealth(t *testing.T) {
	a := newTestApp(t)
	seedUsers(t, a, "alice")
	token := login(t, a, "alice", "secret-alice")

	if res := call(t, a, http.MethodGet, "/ping", "", nil); res.body["data"] != "pong" || res.body["success"] != true {
		t.Fatalf("ping: %v", res.body)
	}
	presence := call(t, a, http.MethodGet, "/presence", token, nil)
	if presence.status != http.StatusOK || len(presence.body["online"].([]any)) != 0 {
		t.Fatalf("presence: %d %v", presence.status, presence.body)
	}
	health := call(t, a, http.MethodGet, "/health", "", nil)
	data := health.body["data"].(map[string]any)
	if health.status != http.StatusOK || data["revocation"] != "memory" || data["redis"] != "disabled" {
		t.Fatalf("health: %d %v", health.status, health.body)
	}
	jobs := data["jobs"].([]any)
	if len(jobs) != 2 {
		t.Fatalf("expected sweep and cleanup jobs, got %v", jobs)
	}
}

func TestNewRejectsMissingSecret(t *testing.T) {
	t.Setenv(config.EnvJWTSecret, "")
	t.Setenv(config.EnvRedisURL, "")
	t.Setenv(config.EnvDatabaseDSN, "")
	cfg, err := config.Parse([]byte(fmt.Sprintf("env: test\ndatabase:\n  path: %s\n", filepath.Join(t.TempDir(), "x.db"))))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := New(nil, cfg); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestOriginPatterns(t *testing.T) {
	cases := []struct {
		pattern, origin string
		want            bool
	}{
		{"campus.example.edu", "https://campus.example.edu", true},
		{"*.example.edu", "https://app.example.edu", true},
		{"localhost:*", "http://localhost:5173", true},
		{"campus.example.edu", "https://evil.example.com", false},
	}
	for _, tc := range cases {
		if got := matchOriginPattern(tc.pattern, extractOriginHost(tc.origin)); got != tc.want {
			t.Fatalf("%s vs %s: got %v", tc.pattern, tc.origin, got)
		}
	}
}

func TestParseTimezoneLocation(t *testing.T) {
	loc, err := parseTimezoneLocation("+08:00")
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if _, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone(); off != 8*3600 {
		t.Fatalf("unexpected offset %d", off)
	}
	if _, err := parseTimezoneLocation("Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
