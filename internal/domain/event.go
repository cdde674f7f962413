package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the closed set of event record variants.
type EventType string

const (
	EventHTTPRequest   EventType = "http_request"
	EventBusinessEvent EventType = "business_event"
	EventError         EventType = "error"
	EventDatabaseQuery EventType = "database_query"
)

// Event is one immutable observable occurrence. Exactly one of the
// per-type field structs is set, matching Type. Extra carries keys the
// declared field set does not know about.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Level     string
	Message   string
	HTTP      *HTTPRequestFields
	Business  *BusinessEventFields
	Error     *ErrorFields
	DB        *DatabaseQueryFields
	Extra     map[string]any
}

// HTTPRequestFields describes a completed inbound request.
type HTTPRequestFields struct {
	Method     string
	Path       string
	StatusCode int
	DurationMS float64
	UserID     string
	RequestID  string
	UserAgent  string
	IPAddress  string
}

// BusinessEventFields describes a domain occurrence reported by a producer.
type BusinessEventFields struct {
	Name    string
	UserID  string
	Context map[string]any
}

// ErrorFields describes a failure reported by a producer or the interceptor.
type ErrorFields struct {
	Type      string
	ErrMsg    string
	Context   map[string]any
	RequestID string
}

// DatabaseQueryFields describes an instrumented persistence-layer call.
type DatabaseQueryFields struct {
	Query      string
	Table      string
	Operation  string
	DurationMS float64
}

// storedLine is the persisted wire shape: one JSON object per log line.
// Readers tolerate unknown keys inside Fields.
type storedLine struct {
	Timestamp float64        `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// MarshalJSON flattens the typed variant into the persisted line format.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]any{"event_type": string(e.Type)}
	switch e.Type {
	case EventHTTPRequest:
		if e.HTTP != nil {
			fields["method"] = e.HTTP.Method
			fields["path"] = e.HTTP.Path
			fields["status_code"] = e.HTTP.StatusCode
			fields["duration_ms"] = e.HTTP.DurationMS
			fields["request_id"] = e.HTTP.RequestID
			putIfSet(fields, "user_id", e.HTTP.UserID)
			putIfSet(fields, "user_agent", e.HTTP.UserAgent)
			putIfSet(fields, "ip_address", e.HTTP.IPAddress)
		}
	case EventBusinessEvent:
		if e.Business != nil {
			fields["event_name"] = e.Business.Name
			putIfSet(fields, "user_id", e.Business.UserID)
			if e.Business.Context != nil {
				fields["context"] = e.Business.Context
			}
		}
	case EventError:
		if e.Error != nil {
			fields["error_type"] = e.Error.Type
			fields["error_message"] = e.Error.ErrMsg
			putIfSet(fields, "request_id", e.Error.RequestID)
			if e.Error.Context != nil {
				fields["context"] = e.Error.Context
			}
		}
	case EventDatabaseQuery:
		if e.DB != nil {
			fields["query"] = e.DB.Query
			fields["table"] = e.DB.Table
			fields["operation"] = e.DB.Operation
			fields["duration_ms"] = e.DB.DurationMS
		}
	}
	for k, v := range e.Extra {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	ts := float64(e.Timestamp.UnixNano()) / float64(time.Second)
	return json.Marshal(storedLine{
		Timestamp: ts,
		Level:     e.Level,
		Message:   e.Message,
		Fields:    fields,
	})
}

// UnmarshalJSON parses a persisted line back into the typed variant.
// Keys outside the declared set for the event type land in Extra.
func (e *Event) UnmarshalJSON(data []byte) error {
	var line storedLine
	if err := json.Unmarshal(data, &line); err != nil {
		return err
	}
	if line.Fields == nil {
		return fmt.Errorf("event line missing fields map")
	}
	sec := int64(line.Timestamp)
	nsec := int64((line.Timestamp - float64(sec)) * float64(time.Second))
	e.Timestamp = time.Unix(sec, nsec).UTC()
	e.Level = line.Level
	e.Message = line.Message
	e.Type = EventType(asString(line.Fields["event_type"]))
	e.HTTP, e.Business, e.Error, e.DB = nil, nil, nil, nil

	known := map[string]bool{"event_type": true}
	switch e.Type {
	case EventHTTPRequest:
		e.HTTP = &HTTPRequestFields{
			Method:     asString(line.Fields["method"]),
			Path:       asString(line.Fields["path"]),
			StatusCode: int(asFloat(line.Fields["status_code"])),
			DurationMS: asFloat(line.Fields["duration_ms"]),
			UserID:     asString(line.Fields["user_id"]),
			RequestID:  asString(line.Fields["request_id"]),
			UserAgent:  asString(line.Fields["user_agent"]),
			IPAddress:  asString(line.Fields["ip_address"]),
		}
		markKnown(known, "method", "path", "status_code", "duration_ms", "user_id", "request_id", "user_agent", "ip_address")
	case EventBusinessEvent:
		e.Business = &BusinessEventFields{
			Name:    asString(line.Fields["event_name"]),
			UserID:  asString(line.Fields["user_id"]),
			Context: asMap(line.Fields["context"]),
		}
		markKnown(known, "event_name", "user_id", "context")
	case EventError:
		e.Error = &ErrorFields{
			Type:      asString(line.Fields["error_type"]),
			ErrMsg:    asString(line.Fields["error_message"]),
			Context:   asMap(line.Fields["context"]),
			RequestID: asString(line.Fields["request_id"]),
		}
		markKnown(known, "error_type", "error_message", "context", "request_id")
	case EventDatabaseQuery:
		e.DB = &DatabaseQueryFields{
			Query:      asString(line.Fields["query"]),
			Table:      asString(line.Fields["table"]),
			Operation:  asString(line.Fields["operation"]),
			DurationMS: asFloat(line.Fields["duration_ms"]),
		}
		markKnown(known, "query", "table", "operation", "duration_ms")
	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}

	e.Extra = nil
	for k, v := range line.Fields {
		if !known[k] {
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
		}
	}
	return nil
}

// UserID reports the user attributed to the event, regardless of variant.
func (e Event) UserID() string {
	switch {
	case e.HTTP != nil:
		return e.HTTP.UserID
	case e.Business != nil:
		return e.Business.UserID
	}
	return ""
}

func putIfSet(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func markKnown(known map[string]bool, keys ...string) {
	for _, k := range keys {
		known[k] = true
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
