// Package monitor is the observability core: it ingests event records into
// the append-only log plus the metric registry, and derives dashboard
// aggregates by re-scanning the log at query time.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/carlosmpereira/bookpulse/internal/domain"
	"github.com/carlosmpereira/bookpulse/internal/metrics"
	"github.com/carlosmpereira/bookpulse/internal/ws"
)

const (
	defaultSlowRequest = time.Second
	defaultSlowQuery   = 500 * time.Millisecond
	maxQueryTextLen    = 200
)

// EventStore is the append-only event log the recorder writes to.
type EventStore interface {
	Append(event domain.Event) error
	Query(since time.Time) ([]domain.Event, int, error)
}

// Recorder is the ingestion side of the pipeline. Every Record* call appends
// one event record and updates the matching registry series. Append failures
// propagate to the producer; metric failures are logged and never abort the
// append.
type Recorder struct {
	store       EventStore
	registry    *metrics.Registry
	hub         *ws.Hub
	logger      *slog.Logger
	slowRequest time.Duration
	slowQuery   time.Duration
	now         func() time.Time
}

// NewRecorder wires a recorder with sane thresholds. The hub may be nil when
// no live consumers exist.
func NewRecorder(store EventStore, registry *metrics.Registry, hub *ws.Hub, logger *slog.Logger, slowRequest, slowQuery time.Duration) *Recorder {
	if slowRequest <= 0 {
		slowRequest = defaultSlowRequest
	}
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	if logger != nil {
		logger = logger.With("component", "monitor_recorder")
	}
	return &Recorder{
		store:       store,
		registry:    registry,
		hub:         hub,
		logger:      logger,
		slowRequest: slowRequest,
		slowQuery:   slowQuery,
		now:         time.Now,
	}
}

// HTTPRequest carries the outcome of one completed inbound request.
type HTTPRequest struct {
	Method         string
	Path           string
	NormalizedPath string
	StatusCode     int
	Duration       time.Duration
	UserID         string
	RequestID      string
	UserAgent      string
	IPAddress      string
}

// RecordHTTPRequest appends an http_request event and updates the request
// counter and duration histogram under the normalized path.
func (r *Recorder) RecordHTTPRequest(ctx context.Context, req HTTPRequest) error {
	if req.RequestID == "" {
		return errors.New("monitor: request_id required")
	}
	endpoint := req.NormalizedPath
	if endpoint == "" {
		endpoint = NormalizePath(req.Path)
	}
	durationMS := float64(req.Duration) / float64(time.Millisecond)

	level := "INFO"
	switch {
	case req.StatusCode >= 500:
		level = "ERROR"
	case req.StatusCode >= 400, req.Duration > r.slowRequest:
		level = "WARNING"
	}

	event := domain.Event{
		Type:      domain.EventHTTPRequest,
		Timestamp: r.now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf("%s %s - %d - %.2fms", req.Method, req.Path, req.StatusCode, durationMS),
		HTTP: &domain.HTTPRequestFields{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: req.StatusCode,
			DurationMS: durationMS,
			UserID:     req.UserID,
			RequestID:  req.RequestID,
			UserAgent:  req.UserAgent,
			IPAddress:  req.IPAddress,
		},
	}
	if r.registry != nil {
		r.registry.RecordHTTPRequest(req.Method, endpoint, req.StatusCode, req.Duration.Seconds())
	}
	return r.append(event)
}

// RecordBusinessEvent appends a business_event record and bumps the
// well-known business counter for the event name.
func (r *Recorder) RecordBusinessEvent(ctx context.Context, eventName, userID string, eventContext map[string]any) error {
	if eventName == "" {
		return errors.New("monitor: event name required")
	}
	event := domain.Event{
		Type:      domain.EventBusinessEvent,
		Timestamp: r.now().UTC(),
		Level:     "INFO",
		Message:   "Business Event: " + eventName,
		Business: &domain.BusinessEventFields{
			Name:    eventName,
			UserID:  userID,
			Context: eventContext,
		},
	}
	if r.registry != nil {
		r.registry.RecordBusinessEvent(eventName, businessCounterLabels(eventName, eventContext))
	}
	return r.append(event)
}

// RecordError appends an error event record.
func (r *Recorder) RecordError(ctx context.Context, errorType, message string, errorContext map[string]any, requestID string) error {
	if errorType == "" {
		errorType = "Unknown"
	}
	event := domain.Event{
		Type:      domain.EventError,
		Timestamp: r.now().UTC(),
		Level:     "ERROR",
		Message:   fmt.Sprintf("Error: %s: %s", errorType, message),
		Error: &domain.ErrorFields{
			Type:      errorType,
			ErrMsg:    message,
			Context:   errorContext,
			RequestID: requestID,
		},
	}
	return r.append(event)
}

// RecordDatabaseQuery appends a database_query event and updates the
// persistence-layer series. Query text is truncated before persisting.
func (r *Recorder) RecordDatabaseQuery(ctx context.Context, query, table, operation string, duration time.Duration) error {
	if len(query) > maxQueryTextLen {
		query = query[:maxQueryTextLen] + "..."
	}
	durationMS := float64(duration) / float64(time.Millisecond)
	level := "DEBUG"
	if duration > r.slowQuery {
		level = "WARNING"
	}
	event := domain.Event{
		Type:      domain.EventDatabaseQuery,
		Timestamp: r.now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf("DB Query - %.2fms", durationMS),
		DB: &domain.DatabaseQueryFields{
			Query:      query,
			Table:      table,
			Operation:  operation,
			DurationMS: durationMS,
		},
	}
	if r.registry != nil {
		r.registry.RecordDBQuery(table, operation, duration.Seconds())
	}
	return r.append(event)
}

func (r *Recorder) append(event domain.Event) error {
	if err := r.store.Append(event); err != nil {
		return err
	}
	r.broadcast(event)
	return nil
}

func (r *Recorder) broadcast(event domain.Event) {
	if r.hub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to marshal event for broadcast", "error", err)
		}
		return
	}
	r.hub.Broadcast(payload)
}

func businessCounterLabels(eventName string, eventContext map[string]any) map[string]string {
	labels := make(map[string]string)
	switch eventName {
	case "user_login", "user_login_attempt":
		status := "failed"
		if success, ok := eventContext["success"].(bool); ok && success {
			status = "success"
		}
		labels["status"] = status
	case "ml_prediction", "ml_prediction_made":
		if recommended, ok := eventContext["recommended"].(bool); ok {
			labels["recommended"] = strconv.FormatBool(recommended)
		}
	}
	return labels
}
