// Package telemetry is the client side of the ingestion API. Out-of-process
// producers (the scraper worker, the ML service) use it to report business
// and error events at their natural completion points.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	ingestPath       = "/api/v1/monitoring/events"
)

// ErrUnauthorized indicates the monitoring API rejected the producer token.
var ErrUnauthorized = errors.New("telemetry: unauthorized")

// ErrInvalidArgument indicates the API rejected the payload.
var ErrInvalidArgument = errors.New("telemetry: invalid argument")

// ErrUnavailable indicates the API could not record the event.
var ErrUnavailable = errors.New("telemetry: ingestion unavailable")

// Emitter posts event records to the monitoring ingestion endpoint.
type Emitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewEmitter creates an emitter for the given API base URL and shared
// producer token.
func NewEmitter(baseURL, producerToken string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("telemetry: base url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		baseURL: trimmed,
		token:   strings.TrimSpace(producerToken),
		client:  client,
	}, nil
}

// BusinessEvent reports one named business occurrence.
func (e *Emitter) BusinessEvent(ctx context.Context, eventName, userID string, eventContext map[string]any) error {
	if strings.TrimSpace(eventName) == "" {
		return fmt.Errorf("%w: event name required", ErrInvalidArgument)
	}
	return e.post(ctx, map[string]any{
		"event_type": "business_event",
		"event_name": eventName,
		"user_id":    userID,
		"context":    eventContext,
	})
}

// Error reports one failure.
func (e *Emitter) Error(ctx context.Context, errorType, message string, errorContext map[string]any, requestID string) error {
	return e.post(ctx, map[string]any{
		"event_type": "error",
		"error_type": errorType,
		"message":    message,
		"context":    errorContext,
		"request_id": requestID,
	})
}

func (e *Emitter) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("X-Producer-Token", e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: send event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return e.errorForStatus(resp)
	}
	return nil
}

func (e *Emitter) errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, summary)
	}
}
