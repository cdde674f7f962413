package dbmon

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carlosmpereira/bookpulse/internal/domain"
	"github.com/carlosmpereira/bookpulse/internal/monitor"
)

type captureStore struct {
	events []domain.Event
}

func (s *captureStore) Append(event domain.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *captureStore) Query(since time.Time) ([]domain.Event, int, error) {
	return s.events, 0, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{"SELECT id, title FROM books WHERE id = $1", "SELECT", "books"},
		{"select * from reviews", "SELECT", "reviews"},
		{"INSERT INTO users (name) VALUES ($1)", "INSERT", "users"},
		{"UPDATE orders SET status = $1 WHERE id = $2", "UPDATE", "orders"},
		{"DELETE FROM carts WHERE id = $1", "DELETE", "carts"},
		{"TRUNCATE TABLE sessions", "TRUNCATE", "sessions"},
		{`SELECT 1 FROM "books"`, "SELECT", "books"},
		{"", "unknown", "unknown"},
		{"BEGIN", "BEGIN", "unknown"},
	}
	for _, tc := range cases {
		operation, table := classify(tc.sql)
		if operation != tc.operation || table != tc.table {
			t.Errorf("classify(%q) = (%q, %q), want (%q, %q)", tc.sql, operation, table, tc.operation, tc.table)
		}
	}
}

func TestTracerRecordsQuery(t *testing.T) {
	store := &captureStore{}
	recorder := monitor.NewRecorder(store, nil, nil, nil, time.Second, 500*time.Millisecond)
	tracer := New(recorder)

	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	current := start
	tracer.now = func() time.Time { return current }

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL: "SELECT id FROM books WHERE id = $1",
	})
	current = start.Add(42 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if len(store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.events))
	}
	event := store.events[0]
	if event.Type != domain.EventDatabaseQuery || event.DB == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.DB.Table != "books" || event.DB.Operation != "SELECT" {
		t.Errorf("classification wrong: %+v", event.DB)
	}
	if event.DB.DurationMS != 42 {
		t.Errorf("expected 42ms duration, got %v", event.DB.DurationMS)
	}
}

func TestTracerIgnoresUnstartedContext(t *testing.T) {
	store := &captureStore{}
	recorder := monitor.NewRecorder(store, nil, nil, nil, time.Second, time.Second)
	tracer := New(recorder)

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if len(store.events) != 0 {
		t.Errorf("end without start must record nothing, got %d events", len(store.events))
	}
}

func TestTracerSurvivesCancelledContext(t *testing.T) {
	store := &captureStore{}
	recorder := monitor.NewRecorder(store, nil, nil, nil, time.Second, time.Second)
	tracer := New(recorder)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1 FROM books"})
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	tracer.TraceQueryEnd(cancelled, nil, pgx.TraceQueryEndData{})

	if len(store.events) != 1 {
		t.Errorf("cancelled query must still be recorded, got %d events", len(store.events))
	}
}
