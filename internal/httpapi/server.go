package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flightline/reconcile/internal/reconcile"
)

type ServerConfig struct {
	// Static secrets; ignored when Secrets is set.
	JWTSecret        string
	SourceHMACSecret string
	// Secrets supplies hot-reloadable secrets from files.
	Secrets *SecretStore

	SourceMaxSkew   time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64

	// Feed, when set, serves the live outcome stream on /v1/feed.
	Feed *FeedHub
}

type Server struct {
	store            *reconcile.Store
	cfg              ServerConfig
	rateLimiter      *rateLimiter
	sourceReplayMu   sync.Mutex
	sourceReplaySeen map[string]time.Time
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

func NewServer(store *reconcile.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *reconcile.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.SourceHMACSecret == "" {
		cfg.SourceHMACSecret = "dev-source-secret"
	}
	if cfg.SourceMaxSkew == 0 {
		cfg.SourceMaxSkew = 5 * time.Minute
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
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:            store,
		cfg:              cfg,
		rateLimiter:      limiter,
		sourceReplaySeen: map[string]time.Time{},
	}
}

func (s *Server) jwtSecret() string {
	if s.cfg.Secrets != nil {
		if secret := s.cfg.Secrets.BearerSecret(); secret != "" {
			return secret
		}
	}
	return s.cfg.JWTSecret
}

func (s *Server) sourceSecret() string {
	if s.cfg.Secrets != nil {
		if secret := s.cfg.Secrets.SourceSecret(); secret != "" {
			return secret
		}
	}
	return s.cfg.SourceHMACSecret
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if r.URL.Path == "/v1/events" && r.Method == http.MethodPost {
		s.handleIngestEvent(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 3 && parts[1] == "events" && r.Method == http.MethodGet:
		requiredScope = "events:read"
		route = "event_status"
	case len(parts) == 2 && parts[1] == "records" && r.Method == http.MethodPost:
		requiredScope = "records:write"
		route = "create_record"
	case len(parts) == 2 && parts[1] == "records" && r.Method == http.MethodGet:
		requiredScope = "records:read"
		route = "list_records"
	case len(parts) == 3 && parts[1] == "records" && r.Method == http.MethodGet:
		requiredScope = "records:read"
		route = "record"
	case len(parts) == 2 && parts[1] == "conflicts" && r.Method == http.MethodGet:
		requiredScope = "records:read"
		route = "list_conflicts"
	case len(parts) == 4 && parts[1] == "conflicts" && parts[3] == "resolve" && r.Method == http.MethodPost:
		requiredScope = "conflicts:resolve"
		route = "resolve_conflict"
	case len(parts) == 2 && parts[1] == "pending" && r.Method == http.MethodGet:
		requiredScope = "records:read"
		route = "list_pending"
	case len(parts) == 2 && parts[1] == "dead-letters" && r.Method == http.MethodGet:
		requiredScope = "records:read"
		route = "list_dead_letters"
	case len(parts) == 4 && parts[1] == "dead-letters" && parts[3] == "replay" && r.Method == http.MethodPost:
		requiredScope = "deadletters:replay"
		route = "replay_dead_letter"
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		requiredScope = "status:read"
		route = "status"
	case len(parts) == 2 && parts[1] == "feed" && r.Method == http.MethodGet:
		requiredScope = "status:read"
		route = "feed"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.jwtSecret(), requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Operator, time.Now().UTC()) {
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
	case "event_status":
		s.handleEventStatus(w, r, parts[2], correlationID)
	case "create_record":
		s.handleCreateRecord(w, r, correlationID)
	case "list_records":
		s.handleListRecords(w, r, correlationID)
	case "record":
		s.handleRecord(w, r, parts[2], correlationID)
	case "list_conflicts":
		s.handleListConflicts(w, r, correlationID)
	case "resolve_conflict":
		s.handleResolveConflict(w, r, parts[2], correlationID)
	case "list_pending":
		s.handleListPending(w, r, correlationID)
	case "list_dead_letters":
		s.handleListDeadLetters(w, r, correlationID)
	case "replay_dead_letter":
		s.handleReplayDeadLetter(w, r, parts[2], correlationID)
	case "status":
		s.handleStatus(w, r, correlationID)
	case "feed":
		s.handleFeed(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

type ingestResponse struct {
	Outcome       reconcile.Outcome `json:"outcome"`
	Verdict       reconcile.Verdict `json:"verdict"`
	EventID       string            `json:"eventId,omitempty"`
	EntityID      string            `json:"entityId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// handleIngestEvent is the source-facing endpoint. The HTTP status tells the
// source what to do with the delivery: 200 settled, 202 parked, 4xx drop it,
// 5xx redeliver later.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if authErr := verifySourceHMAC(
		s.sourceSecret(),
		r.Header.Get("X-Recon-Timestamp"),
		r.Header.Get("X-Recon-Signature"),
		body,
		now,
		s.cfg.SourceMaxSkew,
	); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !s.markSourceReplaySeen(r.Header.Get("X-Recon-Timestamp"), r.Header.Get("X-Recon-Signature"), now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "source request replay detected", correlationID)
		return
	}

	res, err := s.store.Ingest(body, correlationID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, "malformed_payload", err.Error(), correlationID)
		case errors.Is(err, reconcile.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		case errors.Is(err, reconcile.ErrQueueFull):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "queue_full", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}

	status := http.StatusOK
	if res.Outcome.Classify() == reconcile.VerdictAcknowledged {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ingestResponse{
		Outcome:       res.Outcome,
		Verdict:       res.Outcome.Classify(),
		EventID:       res.EventID,
		EntityID:      res.EntityID,
		CorrelationID: res.CorrelationID,
	})
}

func (s *Server) handleEventStatus(w http.ResponseWriter, _ *http.Request, eventID, correlationID string) {
	entry, ok := s.store.EventStatus(eventID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "event not in ledger", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req reconcile.CreateRecordRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	rec, err := s.store.CreateRecord(req)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request, correlationID string) {
	kind := reconcile.RecordKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	conflicted := parseBool(r.URL.Query().Get("conflicted"), false)
	writeJSON(w, http.StatusOK, map[string]any{
		"records":       s.store.Records(kind, conflicted),
		"correlationId": correlationID,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, _ *http.Request, entityID, correlationID string) {
	rec, err := s.store.Record(entityID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, _ *http.Request, correlationID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"records":       s.store.Records("", true),
		"correlationId": correlationID,
	})
}

type resolveConflictRequest struct {
	State           reconcile.VerificationState `json:"state"`
	ExpectedVersion uint64                      `json:"expectedVersion,omitempty"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request, entityID, correlationID string) {
	var req resolveConflictRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	rec, err := s.store.ResolveConflict(entityID, req.State, req.ExpectedVersion, correlationID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request, correlationID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":       s.store.PendingEvents(),
		"correlationId": correlationID,
	})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, _ *http.Request, correlationID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"deadLetters":   s.store.DeadLetters(),
		"correlationId": correlationID,
	})
}

func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, _ *http.Request, eventID, correlationID string) {
	if err := s.store.ReplayDeadLetter(eventID); err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"eventId":       eventID,
		"status":        "replay_queued",
		"correlationId": correlationID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, correlationID string) {
	writeJSON(w, http.StatusOK, s.store.Status())
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, reconcile.ErrStateConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), correlationID)
	case errors.Is(err, reconcile.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, reconcile.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "queue_full", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
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

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
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

func (s *Server) markSourceReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.SourceMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.sourceReplayMu.Lock()
	defer s.sourceReplayMu.Unlock()
	for replayKey, expiresAt := range s.sourceReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.sourceReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.sourceReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.sourceReplaySeen[key] = now.Add(window)
	return true
}

func parseBool(raw string, fallback bool) bool {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
