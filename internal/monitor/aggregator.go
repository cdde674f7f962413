package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/carlosmpereira/bookpulse/internal/domain"
	"github.com/carlosmpereira/bookpulse/internal/metrics"
)

const (
	currentWindow     = time.Hour
	defaultHoursBack  = 24
	dataSourceTag     = "event_log"
	loginAttemptEvent = "user_login_attempt"
)

// Aggregator answers dashboard queries by re-scanning the event log. There
// is no incremental aggregation state: every answer is a pure function of
// the log at call time and can never drift from it.
type Aggregator struct {
	store   EventStore
	sampler metrics.SystemSampler
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator wires the query side of the pipeline. The sampler feeds the
// single-sample system timeline; nil disables it.
func NewAggregator(store EventStore, sampler metrics.SystemSampler, logger *slog.Logger) *Aggregator {
	if logger != nil {
		logger = logger.With("component", "monitor_aggregator")
	}
	return &Aggregator{
		store:   store,
		sampler: sampler,
		logger:  logger,
		now:     time.Now,
	}
}

// CurrentMetrics computes the trailing-hour aggregate.
func (a *Aggregator) CurrentMetrics(ctx context.Context) (domain.CurrentMetrics, error) {
	now := a.now().UTC()
	events, skipped, err := a.store.Query(now.Add(-currentWindow))
	if err != nil {
		return domain.CurrentMetrics{}, fmt.Errorf("monitor: current metrics: %w", err)
	}
	a.noteSkipped(skipped)

	var (
		requests      []*domain.HTTPRequestFields
		loginAttempts int
		failedLogins  int
	)
	users := make(map[string]struct{})
	for i := range events {
		event := events[i]
		if id := event.UserID(); id != "" {
			users[id] = struct{}{}
		}
		switch event.Type {
		case domain.EventHTTPRequest:
			if event.HTTP != nil {
				requests = append(requests, event.HTTP)
			}
		case domain.EventBusinessEvent:
			if event.Business == nil || event.Business.Name != loginAttemptEvent {
				continue
			}
			loginAttempts++
			// Missing success means the producer did not flag a failure.
			if success, ok := event.Business.Context["success"].(bool); ok && !success {
				failedLogins++
			}
		}
	}

	out := domain.CurrentMetrics{
		TotalRequests:    len(requests),
		SuccessRate:      1.0,
		ActiveUsers:      len(users),
		CurrentTimestamp: now,
		DataSource:       dataSourceTag,
	}
	if n := len(requests); n > 0 {
		var count4xx, count5xx, success int
		var totalDuration float64
		for _, req := range requests {
			totalDuration += req.DurationMS
			switch {
			case req.StatusCode >= 500:
				count5xx++
			case req.StatusCode >= 400:
				count4xx++
			default:
				success++
			}
		}
		out.SuccessRate = float64(success) / float64(n)
		out.AvgResponseTime = totalDuration / float64(n)
		out.ErrorRate5xx = float64(count5xx) / float64(n)
		out.ErrorRate4xx = float64(count4xx) / float64(n)
	}
	if loginAttempts > 0 {
		out.FailedLoginsRate = float64(failedLogins) / float64(loginAttempts)
	}
	return out, nil
}

// HistoricalData computes hour-bucketed timelines for the trailing window.
// hours <= 0 falls back to 24.
func (a *Aggregator) HistoricalData(ctx context.Context, hours int) (domain.HistoricalData, error) {
	if hours <= 0 {
		hours = defaultHoursBack
	}
	now := a.now().UTC()
	events, skipped, err := a.store.Query(now.Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		return domain.HistoricalData{}, fmt.Errorf("monitor: historical data: %w", err)
	}
	a.noteSkipped(skipped)

	type hourStats struct {
		count     int
		total     float64
		durations []float64
	}
	buckets := make(map[time.Time]*hourStats)
	var errorEvents []domain.ErrorEvent

	for i := range events {
		event := events[i]
		switch event.Type {
		case domain.EventHTTPRequest:
			if event.HTTP == nil {
				continue
			}
			hour := event.Timestamp.Truncate(time.Hour)
			stats := buckets[hour]
			if stats == nil {
				stats = &hourStats{}
				buckets[hour] = stats
			}
			stats.count++
			stats.total += event.HTTP.DurationMS
			stats.durations = append(stats.durations, event.HTTP.DurationMS)
		case domain.EventError:
			if event.Error == nil {
				continue
			}
			errorEvents = append(errorEvents, domain.ErrorEvent{
				Timestamp: event.Timestamp,
				Level:     "ERROR",
				Message:   event.Error.ErrMsg,
				ErrorType: event.Error.Type,
				Context:   event.Error.Context,
			})
		}
	}

	hoursSorted := make([]time.Time, 0, len(buckets))
	for hour := range buckets {
		hoursSorted = append(hoursSorted, hour)
	}
	sort.Slice(hoursSorted, func(i, j int) bool { return hoursSorted[i].Before(hoursSorted[j]) })

	data := domain.HistoricalData{
		HTTPRequestsTimeline:  make([]domain.RequestBucket, 0, len(hoursSorted)),
		ResponseTimesTimeline: make([]domain.LatencyBucket, 0, len(hoursSorted)),
		SystemMetricsTimeline: a.systemTimeline(ctx, now),
		ErrorEvents:           errorEvents,
	}
	for _, hour := range hoursSorted {
		stats := buckets[hour]
		data.HTTPRequestsTimeline = append(data.HTTPRequestsTimeline, domain.RequestBucket{
			Timestamp:       hour,
			RequestsCount:   stats.count,
			AvgResponseTime: stats.total / float64(stats.count),
		})
		sort.Float64s(stats.durations)
		data.ResponseTimesTimeline = append(data.ResponseTimesTimeline, domain.LatencyBucket{
			Timestamp: hour,
			P50:       nearestRank(stats.durations, 0.50),
			P95:       nearestRank(stats.durations, 0.95),
			P99:       nearestRank(stats.durations, 0.99),
		})
	}

	sort.Slice(data.ErrorEvents, func(i, j int) bool {
		return data.ErrorEvents[i].Timestamp.After(data.ErrorEvents[j].Timestamp)
	})
	return data, nil
}

// systemTimeline is a single current-instant reading. Historical system
// samples are not retained; callers needing history sample externally.
func (a *Aggregator) systemTimeline(ctx context.Context, now time.Time) []domain.SystemSample {
	if a.sampler == nil {
		return nil
	}
	sample, err := a.sampler.Sample(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("system sample unavailable", "error", err)
		}
		return nil
	}
	return []domain.SystemSample{{
		Timestamp:     now,
		CPUPercent:    sample.CPUPercent,
		MemoryPercent: sample.MemoryPercent,
		DiskPercent:   sample.DiskPercent,
	}}
}

// nearestRank indexes a sorted sample at floor(q*n) without interpolating.
// An index past the last element reports 0, matching the dashboard contract.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		return 0
	}
	return sorted[idx]
}

func (a *Aggregator) noteSkipped(skipped int) {
	if skipped > 0 && a.logger != nil {
		a.logger.Warn("skipped undecodable event log lines", "count", skipped)
	}
}
