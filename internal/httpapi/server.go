package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

// Documents is the provider surface served over HTTP.
type Documents interface {
	Stat(address string) docfs.FileStat
	Read(ctx context.Context, address string) ([]byte, error)
	Write(ctx context.Context, address string, content []byte) error
	Delete(address string) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// OriginPatterns are the extra origins allowed to open the change feed.
	OriginPatterns []string
	Diagnostics    diagnostics.Reader
	Logger         Logger
}

type Server struct {
	docs        Documents
	hub         *Hub
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(docs Documents, hub *Hub, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = NewHub(0)
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		docs:        docs,
		hub:         hub,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case r.URL.Path == "/v1/schema" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/schema+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(taskdoc.SchemaSource())
		return
	}

	var requiredScope string
	var route string
	switch {
	case r.URL.Path == "/v1/documents" && r.Method == http.MethodGet:
		requiredScope = scopeRead
		route = "read_document"
	case r.URL.Path == "/v1/documents" && r.Method == http.MethodPut:
		requiredScope = scopeWrite
		route = "write_document"
	case r.URL.Path == "/v1/documents" && r.Method == http.MethodDelete:
		requiredScope = scopeWrite
		route = "delete_document"
	case r.URL.Path == "/v1/documents/stat" && r.Method == http.MethodGet:
		requiredScope = scopeRead
		route = "stat_document"
	case r.URL.Path == "/v1/changes" && r.Method == http.MethodGet:
		requiredScope = scopeRead
		route = "changes"
	case r.URL.Path == "/v1/diagnostics" && r.Method == http.MethodGet:
		requiredScope = scopeRead
		route = "diagnostics"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	claims, authErr := s.authorize(r, route, requiredScope)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "read_document":
		s.handleRead(w, r, correlationID)
	case "write_document":
		s.handleWrite(w, r, correlationID)
	case "delete_document":
		s.handleDelete(w, r, correlationID)
	case "stat_document":
		s.handleStat(w, r, correlationID)
	case "changes":
		s.serveFeed(w, r)
	case "diagnostics":
		s.handleDiagnostics(w, r, correlationID)
	}
}

// authorize accepts the token as a bearer header, or for the change feed
// as an access_token query parameter since browsers cannot set headers on
// websocket requests.
func (s *Server) authorize(r *http.Request, route, requiredScope string) (tokenClaims, *authError) {
	now := time.Now().UTC()
	if route == "changes" && r.Header.Get("Authorization") == "" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return authorizeToken(token, s.cfg.JWTSecret, requiredScope, now)
		}
	}
	return authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, now)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, correlationID string) {
	address, ok := requireAddress(w, r, correlationID)
	if !ok {
		return
	}
	content, err := s.docs.Read(r.Context(), address)
	if err != nil {
		s.writeDocumentError(w, err, correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, correlationID string) {
	address, ok := requireAddress(w, r, correlationID)
	if !ok {
		return
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if err := s.docs.Write(r.Context(), address, body); err != nil {
		s.writeDocumentError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "updated",
		"address": address,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, correlationID string) {
	address, ok := requireAddress(w, r, correlationID)
	if !ok {
		return
	}
	if err := s.docs.Delete(address); err != nil {
		s.writeDocumentError(w, err, correlationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request, correlationID string) {
	address, ok := requireAddress(w, r, correlationID)
	if !ok {
		return
	}
	if _, err := taskdoc.Decode(address); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
		return
	}
	stat := s.docs.Stat(address)
	fileType := "unknown"
	switch stat.Type {
	case docfs.FileTypeFile:
		fileType = "file"
	case docfs.FileTypeDirectory:
		fileType = "directory"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":  fileType,
		"ctime": stat.Ctime,
		"mtime": stat.Mtime,
		"size":  stat.Size,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.cfg.Diagnostics == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "diagnostics sink does not support reads", correlationID)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer", correlationID)
			return
		}
		limit = parsed
	}
	entries, err := s.cfg.Diagnostics.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// writeDocumentError maps provider error codes to HTTP statuses.
func (s *Server) writeDocumentError(w http.ResponseWriter, err error, correlationID string) {
	code, _ := docfs.CodeOf(err)
	switch {
	case code == docfs.CodeFileNotFound, errors.Is(err, tasksapi.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case code == docfs.CodeNoPermissions:
		writeError(w, http.StatusForbidden, "no_permissions", err.Error(), correlationID)
	case errors.Is(err, docfs.ErrServiceNotReady):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error(), correlationID)
	case errors.Is(err, taskdoc.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error(), correlationID)
	case code == docfs.CodeRemoteFailure:
		writeError(w, http.StatusBadGateway, "remote_failure", err.Error(), correlationID)
	default:
		s.logf("httpapi: unexpected document error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func requireAddress(w http.ResponseWriter, r *http.Request, correlationID string) (string, bool) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing address query parameter", correlationID)
		return "", false
	}
	return address, true
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
