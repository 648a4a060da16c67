package tasksapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
)

func TestHTTPClientGetTask(t *testing.T) {
	var capturedAuth, capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.EscapedPath()
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("expected correlation id header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"tasks#task","id":"T 1","title":"Write report","status":"needsAction","hidden":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: StaticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	record, err := client.GetTask(context.Background(), "L/1", "T 1")
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if capturedAuth != "Bearer token_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedPath != "/tasks/v1/lists/L%2F1/tasks/T%201" {
		t.Fatalf("unexpected request path %q", capturedPath)
	}
	if record.ID != "T 1" || record.Title == nil || *record.Title != "Write report" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Hidden == nil || !*record.Hidden {
		t.Fatalf("expected hidden=true, got %+v", record.Hidden)
	}
}

func TestHTTPClientPatchTaskSendsSparseBody(t *testing.T) {
	var capturedMethod string
	var capturedBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"T1"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: StaticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	update := taskdoc.Update{Title: taskdoc.SetText("renamed"), Parent: taskdoc.ClearText()}
	if err := client.PatchTask(context.Background(), "L1", "T1", update); err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if capturedMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", capturedMethod)
	}
	if len(capturedBody) != 2 || capturedBody["title"] != "renamed" {
		t.Fatalf("unexpected patch body %v", capturedBody)
	}
	if value, ok := capturedBody["parent"]; !ok || value != nil {
		t.Fatalf("expected explicit null parent, got %v", capturedBody)
	}
}

func TestHTTPClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend error","status":"UNAVAILABLE"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"T1"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: StaticToken("token_123"),
		HTTPClient:    server.Client(),
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		MaxRetries:    2,
	})
	if _, err := client.GetTask(context.Background(), "L1", "T1"); err != nil {
		t.Fatalf("expected retry to recover from transient failure, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientReturnsTypedErrorOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: StaticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	_, err := client.GetTask(context.Background(), "L1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != "NOT_FOUND" || httpErr.Message != "Requested entity was not found." {
		t.Fatalf("expected parsed google error, got %#v", err)
	}
}

func TestHTTPClientRequiresToken(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{BaseURL: "http://127.0.0.1:1", TokenProvider: StaticToken(" ")})
	if _, err := client.GetTask(context.Background(), "L1", "T1"); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected token required, got %v", err)
	}
}

func TestFileTokenReadsJSONAndBareTokens(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "token.json")
	if err := os.WriteFile(jsonPath, []byte(`{"access_token":"from-json","refresh_token":"r"}`), 0o600); err != nil {
		t.Fatalf("write token file failed: %v", err)
	}
	token, err := FileToken(jsonPath)(context.Background())
	if err != nil || token != "from-json" {
		t.Fatalf("expected json token, got %q (%v)", token, err)
	}

	barePath := filepath.Join(dir, "token")
	if err := os.WriteFile(barePath, []byte("bare-token\n"), 0o600); err != nil {
		t.Fatalf("write token file failed: %v", err)
	}
	token, err = FileToken(barePath)(context.Background())
	if err != nil || token != "bare-token" {
		t.Fatalf("expected bare token, got %q (%v)", token, err)
	}
}

func TestSessionReportsReadiness(t *testing.T) {
	session := NewSession()
	if _, ok := session.Current(); ok {
		t.Fatalf("expected new session to be not ready")
	}
	client := NewHTTPClient(HTTPClientOptions{TokenProvider: StaticToken("t")})
	session.SignIn(client)
	if current, ok := session.Current(); !ok || current != client {
		t.Fatalf("expected signed-in client")
	}
	session.SignOut()
	if _, ok := session.Current(); ok {
		t.Fatalf("expected signed-out session to be not ready")
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second})
	if got := client.retryDelay(1, "2"); got != 2*time.Second {
		t.Fatalf("expected retry-after of 2s, got %s", got)
	}
	if got := client.retryDelay(3, ""); got != 40*time.Millisecond {
		t.Fatalf("expected exponential delay 40ms, got %s", got)
	}
	if got := client.retryDelay(1, "60"); got != 5*time.Second {
		t.Fatalf("expected retry-after capped at max delay, got %s", got)
	}
}
