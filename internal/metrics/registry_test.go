package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestCounterConcurrentIncrements(t *testing.T) {
	registry := NewRegistry(nil, nil)
	counter, err := registry.Counter("books_scraped_total", "Total books scraped", nil)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}

	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				counter.Inc()
			}
		}()
	}
	wg.Wait()

	text, err := registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(text, "books_scraped_total 1000") {
		t.Errorf("expected counter value 1000 in snapshot:\n%s", text)
	}
}

func TestCounterRejectsLabelMismatch(t *testing.T) {
	registry := NewRegistry(nil, nil)
	if _, err := registry.Counter("http_requests_total", "Total HTTP requests", Labels{"verb": "GET"}); !errors.Is(err, ErrLabelMismatch) {
		t.Errorf("expected ErrLabelMismatch, got %v", err)
	}
	// The full label set still works.
	if _, err := registry.Counter("http_requests_total", "Total HTTP requests", Labels{
		"method": "GET", "endpoint": "/books", "status_code": "200",
	}); err != nil {
		t.Errorf("expected matching labels to succeed, got %v", err)
	}
}

func TestCounterRejectsNegativeAdd(t *testing.T) {
	registry := NewRegistry(nil, nil)
	counter, err := registry.Counter("books_scraped_total", "Total books scraped", nil)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if err := counter.Add(5); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := counter.Add(-1); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}

	text, err := registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(text, "books_scraped_total 5") {
		t.Errorf("rejected add must leave the counter untouched:\n%s", text)
	}
}

func TestHistogramRejectsNegativeObservation(t *testing.T) {
	registry := NewRegistry(nil, nil)
	hist, err := registry.Histogram("http_request_duration_seconds", "HTTP request duration", nil, Labels{
		"method": "GET", "endpoint": "/books",
	})
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if err := hist.Observe(0.25); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := hist.Observe(-0.25); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}

	text, err := registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(text, `http_request_duration_seconds_count{endpoint="/books",method="GET"} 1`) {
		t.Errorf("rejected observation must leave the series untouched:\n%s", text)
	}
}

func TestNameCannotChangeKind(t *testing.T) {
	registry := NewRegistry(nil, nil)
	if _, err := registry.Gauge("user_logins_total", "Total user logins", Labels{"status": "success"}); !errors.Is(err, ErrLabelMismatch) {
		t.Errorf("expected ErrLabelMismatch when reusing a counter name as gauge, got %v", err)
	}
}

func TestRecordBusinessEventMapsWellKnownNames(t *testing.T) {
	registry := NewRegistry(nil, nil)
	registry.RecordBusinessEvent("book_scraped", nil)
	registry.RecordBusinessEvent("ml_prediction_made", map[string]string{"recommended": "true"})
	registry.RecordBusinessEvent("user_login_attempt", map[string]string{"status": "failed"})
	registry.RecordBusinessEvent("scraping_started", nil)

	text, err := registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, want := range []string{
		"books_scraped_total 1",
		`ml_predictions_total{recommended="true"} 1`,
		`user_logins_total{status="failed"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in snapshot:\n%s", want, text)
		}
	}
	if strings.Contains(text, "scraping_started") {
		t.Errorf("unmapped business event must not create a series:\n%s", text)
	}
}

func TestTrackInProgress(t *testing.T) {
	registry := NewRegistry(nil, nil)
	release := registry.TrackInProgress()

	text, err := registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(text, "http_requests_in_progress 1") {
		t.Errorf("expected in-flight gauge at 1:\n%s", text)
	}

	release()
	text, err = registry.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(text, "http_requests_in_progress 0") {
		t.Errorf("expected in-flight gauge back at 0:\n%s", text)
	}
}
