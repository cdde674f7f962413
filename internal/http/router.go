// Package httpx exposes the monitoring core over HTTP: ingestion for
// producers, aggregate queries for the dashboard, the categorized metrics
// exposition for scrape clients, and a live event stream.
package httpx

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/carlosmpereira/bookpulse/internal/metrics"
	"github.com/carlosmpereira/bookpulse/internal/monitor"
	"github.com/carlosmpereira/bookpulse/internal/ws"
)

const (
	rateWindowDefault     = time.Minute
	defaultQueryRateLimit = 120
	rateLimitIngest       = 600
	unavailableMsg        = "monitoring data temporarily unavailable"
)

// Options carries the router's tunables.
type Options struct {
	ProducerToken     string
	QueryRateLimit    int
	MetricsEnabled    bool
	DefaultHours      int
	SSEHeartbeatEvery time.Duration
}

// Router wires the monitoring endpoints to the core services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	recorder   *monitor.Recorder
	aggregator *monitor.Aggregator
	registry   *metrics.Registry
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	intercept  *Interceptor
	health     func() error
	opts       Options
}

// NewRouter assembles routes with dependencies. The interceptor wraps the
// whole mux so every endpoint, including the monitoring ones, is measured.
func NewRouter(logger *slog.Logger, recorder *monitor.Recorder, aggregator *monitor.Aggregator, registry *metrics.Registry, hub *ws.Hub, limiter RateLimiter, intercept *Interceptor, health func() error, opts Options) *Router {
	if opts.QueryRateLimit <= 0 {
		opts.QueryRateLimit = defaultQueryRateLimit
	}
	if opts.DefaultHours <= 0 {
		opts.DefaultHours = 24
	}
	if opts.SSEHeartbeatEvery <= 0 {
		opts.SSEHeartbeatEvery = 15 * time.Second
	}
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		recorder:   recorder,
		aggregator: aggregator,
		registry:   registry,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		intercept: intercept,
		health:    health,
		opts:      opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP runs every request through the interceptor before the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.intercept != nil {
		r.intercept.Wrap(r.mux).ServeHTTP(w, req)
		return
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/api/v1/health", r.handleHealth)
	r.mux.HandleFunc("/metrics", r.handleMetrics)
	r.mux.HandleFunc("/api/v1/monitoring/current", r.withQueryRateLimit(r.handleCurrent))
	r.mux.HandleFunc("/api/v1/monitoring/historical", r.withQueryRateLimit(r.handleHistorical))
	r.mux.HandleFunc("/api/v1/monitoring/dashboard", r.withQueryRateLimit(r.handleDashboard))
	r.mux.HandleFunc("/api/v1/monitoring/events", r.handleIngest)
	r.mux.HandleFunc("/api/v1/monitoring/events/stream", r.handleEventsSSE)
	r.mux.HandleFunc("/ws/events", r.handleEventsWS)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		if err := r.health(); err != nil {
			status = "degraded"
			components["event_log"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["event_log"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.opts.MetricsEnabled {
		writeError(w, http.StatusNotFound, "metrics exposition disabled")
		return
	}
	text, err := r.registry.Snapshot(req.Context())
	if err != nil {
		r.logger.Error("metrics snapshot failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, unavailableMsg)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (r *Router) handleCurrent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	current, err := r.aggregator.CurrentMetrics(req.Context())
	if err != nil {
		r.logger.Error("current metrics query failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, unavailableMsg)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (r *Router) handleHistorical(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	hours := r.opts.DefaultHours
	if raw := req.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	data, err := r.aggregator.HistoricalData(req.Context(), hours)
	if err != nil {
		r.logger.Error("historical data query failed", "error", err, "hours", hours)
		writeError(w, http.StatusServiceUnavailable, unavailableMsg)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	current, err := r.aggregator.CurrentMetrics(req.Context())
	if err != nil {
		r.logger.Error("dashboard current metrics failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, unavailableMsg)
		return
	}
	historical, err := r.aggregator.HistoricalData(req.Context(), r.opts.DefaultHours)
	if err != nil {
		r.logger.Error("dashboard historical data failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, unavailableMsg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_metrics": current,
		"historical_data": historical,
	})
}

// ingestPayload is what out-of-process producers post. HTTP request events
// are never ingested here; only the interceptor emits those.
type ingestPayload struct {
	EventType string         `json:"event_type"`
	EventName string         `json:"event_name"`
	UserID    string         `json:"user_id"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Context   map[string]any `json:"context"`
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyProducerToken(w, req) {
		return
	}
	decision := r.limiter.Allow("ingest:"+clientIP(req), rateLimitIngest, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitIngest, decision)
	if !decision.allowed {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var payload ingestPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch payload.EventType {
	case "business_event":
		if strings.TrimSpace(payload.EventName) == "" {
			writeError(w, http.StatusBadRequest, "event_name is required")
			return
		}
		if err := r.recorder.RecordBusinessEvent(req.Context(), payload.EventName, payload.UserID, payload.Context); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "error":
		if strings.TrimSpace(payload.ErrorType) == "" && strings.TrimSpace(payload.Message) == "" {
			writeError(w, http.StatusBadRequest, "error_type or message is required")
			return
		}
		if err := r.recorder.RecordError(req.Context(), payload.ErrorType, payload.Message, payload.Context, payload.RequestID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "event_type must be business_event or error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(client)
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(client)
	defer func() {
		r.hub.Unregister(client)
		client.Close()
	}()

	heartbeat := time.NewTicker(r.opts.SSEHeartbeatEvery)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) withQueryRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := r.opts.QueryRateLimit
		decision := r.limiter.Allow("query:"+clientIP(req), limit, rateWindowDefault)
		r.applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyProducerToken ensures ingestion calls carry the shared secret.
func (r *Router) verifyProducerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := strings.TrimSpace(r.opts.ProducerToken)
	if expected == "" {
		r.logger.Error("producer token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "producer authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Producer-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("producer token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid producer token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
