package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

const testSecret = "test-secret"

type stubTasks struct {
	mu       sync.Mutex
	record   taskdoc.Record
	getErr   error
	patchErr error
	patches  []taskdoc.Update
}

func (c *stubTasks) GetTask(context.Context, string, string) (taskdoc.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record, c.getErr
}

func (c *stubTasks) PatchTask(_ context.Context, _, _ string, update taskdoc.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patchErr != nil {
		return c.patchErr
	}
	c.patches = append(c.patches, update)
	return nil
}

type fixture struct {
	server  *Server
	session *tasksapi.Session
	tasks   *stubTasks
	hub     *Hub
	sink    *diagnostics.MemorySink
}

func newFixture(t *testing.T, cfg ServerConfig) *fixture {
	t.Helper()
	f := &fixture{
		session: tasksapi.NewSession(),
		tasks:   &stubTasks{record: taskdoc.Record{ID: "T1", Title: taskdoc.Ptr("Write report")}},
		hub:     NewHub(8),
		sink:    diagnostics.NewMemorySink(10),
	}
	f.session.SignIn(f.tasks)
	provider := docfs.NewProvider(docfs.Options{
		Clients:     f.session.Current,
		Refresher:   f.hub,
		Diagnostics: f.sink,
	})
	provider.OnDidChange(f.hub.HandleChanges)
	t.Cleanup(provider.Close)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	cfg.Diagnostics = f.sink
	f.server = NewServer(provider, f.hub, cfg)
	return f
}

func mustToken(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := IssueToken(testSecret, "agent-1", scopes, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type request struct {
	method  string
	path    string
	token   string
	body    string
	headers map[string]string
}

func doRequest(t *testing.T, handler http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if req.body != "" {
		body = bytes.NewReader([]byte(req.body))
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq := httptest.NewRequest(req.method, req.path, body)
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)
	return rec
}

func documentPath(address string) string {
	return "/v1/documents?address=" + url.QueryEscape(address)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t, ServerConfig{})

	rec := doRequest(t, f.server, request{method: http.MethodGet, path: "/health"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}

	rec = doRequest(t, f.server, request{method: http.MethodGet, path: "/v1/schema"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), taskdoc.DefaultSchemaRef) {
		t.Fatalf("expected embedded schema, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, f.server, request{method: http.MethodGet, path: "/v1/unknown"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	address := taskdoc.Encode("L1", "T1")

	rec := doRequest(t, f.server, request{method: http.MethodGet, path: documentPath(address)})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, f.server, request{method: http.MethodPut, path: documentPath(address), token: mustToken(t, "docs:read"), body: `{"title":"x"}`})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without write scope, got %d", rec.Code)
	}
	if msg := decodeError(t, rec)["message"]; msg != "missing required scope: docs:write" {
		t.Fatalf("unexpected message %v", msg)
	}

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud":    "other-service",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"docs:read"},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rec = doRequest(t, f.server, request{method: http.MethodGet, path: documentPath(address), token: wrongAudience})
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec)["message"] != "invalid aud claim" {
		t.Fatalf("expected audience rejection, got %d", rec.Code)
	}

	expired, err := IssueToken(testSecret, "agent-1", []string{"docs:read"}, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = doRequest(t, f.server, request{method: http.MethodGet, path: documentPath(address), token: expired})
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec)["message"] != "token expired" {
		t.Fatalf("expected expired token rejection, got %d", rec.Code)
	}

	wrongSecret, err := IssueToken("other-secret", "agent-1", []string{"docs:read"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = doRequest(t, f.server, request{method: http.MethodGet, path: documentPath(address), token: wrongSecret})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected signature rejection, got %d", rec.Code)
	}
}

func TestReadAndWriteDocument(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	token := mustToken(t, "docs:read", "docs:write")
	address := taskdoc.Encode("L1", "T1")

	rec := doRequest(t, f.server, request{
		method:  http.MethodGet,
		path:    documentPath(address),
		token:   token,
		headers: map[string]string{"X-Correlation-Id": "corr_1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on read, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-Id") != "corr_1" {
		t.Fatalf("expected correlation id to be echoed")
	}
	if !strings.Contains(rec.Body.String(), `"title": "Write report"`) {
		t.Fatalf("unexpected document %s", rec.Body.String())
	}

	rec = doRequest(t, f.server, request{method: http.MethodPut, path: documentPath(address), token: token, body: `{"title":"Renamed","links":[]}`})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on write, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(f.tasks.patches) != 1 || strings.Join(f.tasks.patches[0].Keys(), ",") != "title" {
		t.Fatalf("unexpected patches %+v", f.tasks.patches)
	}

	rec = doRequest(t, f.server, request{method: http.MethodGet, path: "/v1/documents/stat?address=" + url.QueryEscape(address), token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on stat, got %d", rec.Code)
	}
	var stat map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&stat); err != nil {
		t.Fatalf("decode stat: %v", err)
	}
	if stat["type"] != "file" || stat["size"] != float64(0) {
		t.Fatalf("unexpected stat %v", stat)
	}
}

func TestDocumentErrorsMapToStatuses(t *testing.T) {
	token := mustToken(t, "docs:read", "docs:write")
	address := taskdoc.Encode("L1", "T1")

	cases := []struct {
		name   string
		setup  func(f *fixture)
		req    request
		status int
		code   string
	}{
		{
			name:   "missing address",
			req:    request{method: http.MethodGet, path: "/v1/documents"},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "malformed address",
			req:    request{method: http.MethodGet, path: documentPath("gtask-json:/L1")},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "invalid status",
			req:    request{method: http.MethodPut, path: documentPath(address), body: `{"status":"archived"}`},
			status: http.StatusBadRequest,
			code:   "invalid_document",
		},
		{
			name:   "not ready",
			setup:  func(f *fixture) { f.session.SignOut() },
			req:    request{method: http.MethodPut, path: documentPath(address), body: `{"title":"x"}`},
			status: http.StatusServiceUnavailable,
			code:   "not_ready",
		},
		{
			name: "remote failure",
			setup: func(f *fixture) {
				f.tasks.patchErr = &tasksapi.HTTPError{StatusCode: 500, Message: "backend error"}
			},
			req:    request{method: http.MethodPut, path: documentPath(address), body: `{"title":"x"}`},
			status: http.StatusBadGateway,
			code:   "remote_failure",
		},
		{
			name: "remote not found",
			setup: func(f *fixture) {
				f.tasks.getErr = &tasksapi.HTTPError{StatusCode: 404, Message: "gone"}
			},
			req:    request{method: http.MethodGet, path: documentPath(address)},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "delete",
			req:    request{method: http.MethodDelete, path: documentPath(address)},
			status: http.StatusForbidden,
			code:   "no_permissions",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, ServerConfig{})
			if tc.setup != nil {
				tc.setup(f)
			}
			tc.req.token = token
			rec := doRequest(t, f.server, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if code := decodeError(t, rec)["code"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
		})
	}
}

func TestReadWhileNotReadyServesPlaceholder(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	f.session.SignOut()

	rec := doRequest(t, f.server, request{method: http.MethodGet, path: documentPath(taskdoc.Encode("L1", "T1")), token: mustToken(t, "docs:read")})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected placeholder with 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), docfs.PlaceholderNote) {
		t.Fatalf("expected placeholder note, got %s", rec.Body.String())
	}
}

func TestDiagnosticsListsFailures(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	token := mustToken(t, "docs:read", "docs:write")
	address := taskdoc.Encode("L1", "T1")
	doRequest(t, f.server, request{method: http.MethodPut, path: documentPath(address), token: token, body: `{"bogus":true}`})

	rec := doRequest(t, f.server, request{method: http.MethodGet, path: "/v1/diagnostics?limit=5", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Entries []diagnostics.Entry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].Address != address || !strings.Contains(payload.Entries[0].Message, "Unsupported field: bogus") {
		t.Fatalf("unexpected diagnostics %+v", payload.Entries)
	}

	rec = doRequest(t, f.server, request{method: http.MethodGet, path: "/v1/diagnostics?limit=zero", token: token})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, ServerConfig{RateLimitMax: 1, RateLimitWindow: time.Minute})
	token := mustToken(t, "docs:read")
	path := documentPath(taskdoc.Encode("L1", "T1"))

	if rec := doRequest(t, f.server, request{method: http.MethodGet, path: path, token: token}); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := doRequest(t, f.server, request{method: http.MethodGet, path: path, token: token})
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with retry-after, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestChangeFeedStreamsRefreshThenChange(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	httpServer := httptest.NewServer(f.server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/changes?access_token=" + mustToken(t, "docs:read")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial change feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for f.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	address := taskdoc.Encode("L1", "T1")
	rec := doRequest(t, f.server, request{method: http.MethodPut, path: documentPath(address), token: mustToken(t, "docs:write"), body: `{"status":"completed"}`})
	if rec.Code != http.StatusOK {
		t.Fatalf("write failed: %d %s", rec.Code, rec.Body.String())
	}

	var first, second FeedMessage
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first message: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read second message: %v", err)
	}
	if first.Type != FeedRefresh {
		t.Fatalf("expected refresh first, got %+v", first)
	}
	if second.Type != FeedChanged || second.Address != address {
		t.Fatalf("expected change for %s, got %+v", address, second)
	}
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub(1)
	sub, unsubscribe := hub.subscribe()
	defer unsubscribe()

	hub.Publish(FeedMessage{Type: FeedRefresh})
	hub.Publish(FeedMessage{Type: FeedRefresh})
	if hub.Subscribers() != 0 {
		t.Fatalf("expected slow subscriber to be dropped")
	}
	if _, ok := <-sub.ch; !ok {
		t.Fatalf("expected buffered message before close")
	}
	if _, ok := <-sub.ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}
