package monitor

import (
	"context"
	"math"
	"time"
)

// Tracker gives producers named helpers for the business events the
// dashboard understands. Progress is reported by emitting events, never by
// sharing mutable state between tasks.
type Tracker struct {
	recorder *Recorder
}

// NewTracker wraps a recorder.
func NewTracker(recorder *Recorder) *Tracker {
	return &Tracker{recorder: recorder}
}

// BooksScraped records one book_scraped event per book plus a summary event.
func (t *Tracker) BooksScraped(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		if err := t.recorder.RecordBusinessEvent(ctx, "book_scraped", "", nil); err != nil {
			return err
		}
	}
	return t.recorder.RecordBusinessEvent(ctx, "books_scraped", "", map[string]any{
		"books_count": count,
	})
}

// MLPrediction records one inference outcome.
func (t *Tracker) MLPrediction(ctx context.Context, userID string, recommended bool) error {
	return t.recorder.RecordBusinessEvent(ctx, "ml_prediction_made", userID, map[string]any{
		"recommended": recommended,
	})
}

// UserLogin records one login attempt. The success flag drives both the
// user_logins_total counter and the failed-logins aggregate.
func (t *Tracker) UserLogin(ctx context.Context, username string, success bool) error {
	return t.recorder.RecordBusinessEvent(ctx, "user_login_attempt", "", map[string]any{
		"username": username,
		"success":  success,
	})
}

// ScrapingStarted marks the beginning of a crawl.
func (t *Tracker) ScrapingStarted(ctx context.Context, source string) error {
	return t.recorder.RecordBusinessEvent(ctx, "scraping_started", "", map[string]any{
		"source":     source,
		"start_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// ScrapingProgress reports one completed crawl page. totalPages zero means
// unknown and omits the percentage.
func (t *Tracker) ScrapingProgress(ctx context.Context, pageNumber, booksFound, totalPages int) error {
	progress := map[string]any{
		"page_number": pageNumber,
		"books_found": booksFound,
	}
	if totalPages > 0 {
		progress["total_pages"] = totalPages
		progress["progress_percent"] = math.Round(float64(pageNumber)/float64(totalPages)*10000) / 100
	}
	return t.recorder.RecordBusinessEvent(ctx, "scraping_page_completed", "", progress)
}

// ScrapingCompleted marks the end of a crawl with throughput context.
func (t *Tracker) ScrapingCompleted(ctx context.Context, totalBooks int, duration time.Duration) error {
	seconds := duration.Seconds()
	completed := map[string]any{
		"total_books":      totalBooks,
		"duration_seconds": seconds,
		"end_time":         time.Now().UTC().Format(time.RFC3339),
	}
	if seconds > 0 {
		completed["books_per_second"] = math.Round(float64(totalBooks)/seconds*100) / 100
	}
	return t.recorder.RecordBusinessEvent(ctx, "scraping_completed", "", completed)
}
