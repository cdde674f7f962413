package monitor

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/carlosmpereira/bookpulse/internal/domain"
	"github.com/carlosmpereira/bookpulse/internal/metrics"
)

type fakeSampler struct {
	sample metrics.SystemSample
	err    error
}

func (f fakeSampler) Sample(ctx context.Context) (metrics.SystemSample, error) {
	return f.sample, f.err
}

func newTestAggregator(store *stubStore, sampler metrics.SystemSampler, at time.Time) *Aggregator {
	agg := NewAggregator(store, sampler, nil)
	agg.now = func() time.Time { return at }
	return agg
}

func requestEvent(ts time.Time, status int, durationMS float64, userID string) domain.Event {
	return domain.Event{
		Type:      domain.EventHTTPRequest,
		Timestamp: ts,
		Level:     "INFO",
		HTTP: &domain.HTTPRequestFields{
			Method:     "GET",
			Path:       "/books",
			StatusCode: status,
			DurationMS: durationMS,
			UserID:     userID,
			RequestID:  "req",
		},
	}
}

func loginEvent(ts time.Time, ctx map[string]any) domain.Event {
	return domain.Event{
		Type:      domain.EventBusinessEvent,
		Timestamp: ts,
		Level:     "INFO",
		Business:  &domain.BusinessEventFields{Name: "user_login_attempt", Context: ctx},
	}
}

func TestCurrentMetricsCounts(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		requestEvent(now.Add(-10*time.Minute), 200, 100, "u-1"),
		requestEvent(now.Add(-9*time.Minute), 404, 200, "u-2"),
		requestEvent(now.Add(-8*time.Minute), 500, 300, "u-1"),
		// Outside the trailing hour, must not count.
		requestEvent(now.Add(-2*time.Hour), 200, 999, "u-9"),
	}}
	agg := newTestAggregator(store, nil, now)

	got, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("current metrics: %v", err)
	}
	if got.TotalRequests != 3 {
		t.Errorf("expected 3 requests, got %d", got.TotalRequests)
	}
	third := 1.0 / 3.0
	if got.SuccessRate != third || got.ErrorRate4xx != third || got.ErrorRate5xx != third {
		t.Errorf("expected rates of 1/3, got success=%v 4xx=%v 5xx=%v", got.SuccessRate, got.ErrorRate4xx, got.ErrorRate5xx)
	}
	if got.AvgResponseTime != 200 {
		t.Errorf("expected avg 200ms, got %v", got.AvgResponseTime)
	}
	if got.ActiveUsers != 2 {
		t.Errorf("expected 2 distinct users, got %d", got.ActiveUsers)
	}
	if got.DataSource != "event_log" {
		t.Errorf("expected event_log data source, got %q", got.DataSource)
	}
	if !got.CurrentTimestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, got.CurrentTimestamp)
	}
}

func TestCurrentMetricsEmptyWindowDefaults(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	agg := newTestAggregator(&stubStore{}, nil, now)

	got, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("current metrics: %v", err)
	}
	if got.SuccessRate != 1.0 {
		t.Errorf("empty window success rate must be 1.0, got %v", got.SuccessRate)
	}
	if got.ErrorRate4xx != 0 || got.ErrorRate5xx != 0 || got.FailedLoginsRate != 0 {
		t.Errorf("empty window error rates must be 0: %+v", got)
	}
	if got.TotalRequests != 0 || got.ActiveUsers != 0 || got.AvgResponseTime != 0 {
		t.Errorf("empty window counts must be 0: %+v", got)
	}
}

func TestCurrentMetricsFailedLogins(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		loginEvent(now.Add(-5*time.Minute), map[string]any{"success": true}),
		loginEvent(now.Add(-4*time.Minute), map[string]any{"success": false}),
		// No success key: treated as not failed.
		loginEvent(now.Add(-3*time.Minute), map[string]any{"username": "ana"}),
		loginEvent(now.Add(-2*time.Minute), map[string]any{"success": false}),
	}}
	agg := newTestAggregator(store, nil, now)

	got, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("current metrics: %v", err)
	}
	if got.FailedLoginsRate != 0.5 {
		t.Errorf("expected failed logins rate 0.5, got %v", got.FailedLoginsRate)
	}
}

func TestCurrentMetricsActiveUsersAcrossEventTypes(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		requestEvent(now.Add(-5*time.Minute), 200, 10, "u-1"),
		{
			Type:      domain.EventBusinessEvent,
			Timestamp: now.Add(-4 * time.Minute),
			Business:  &domain.BusinessEventFields{Name: "ml_prediction_made", UserID: "u-2"},
		},
		requestEvent(now.Add(-3*time.Minute), 200, 10, ""),
	}}
	agg := newTestAggregator(store, nil, now)

	got, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("current metrics: %v", err)
	}
	if got.ActiveUsers != 2 {
		t.Errorf("expected 2 active users across event types, got %d", got.ActiveUsers)
	}
}

func TestCurrentMetricsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		requestEvent(now.Add(-5*time.Minute), 200, 100, "u-1"),
		requestEvent(now.Add(-4*time.Minute), 500, 300, "u-2"),
	}}
	agg := newTestAggregator(store, nil, now)

	first, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := agg.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("aggregation must be a pure function of the log: %+v vs %+v", first, second)
	}
}

func TestCurrentMetricsQueryErrorPropagates(t *testing.T) {
	wantErr := errors.New("log unreadable")
	agg := newTestAggregator(&stubStore{queryErr: wantErr}, nil, time.Now().UTC())
	if _, err := agg.CurrentMetrics(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected store error to propagate, got %v", err)
	}
}

func TestHistoricalDataBuckets(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	hourA := time.Date(2025, 3, 14, 7, 0, 0, 0, time.UTC)
	hourB := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		requestEvent(hourA.Add(5*time.Minute), 200, 100, ""),
		requestEvent(hourA.Add(25*time.Minute), 200, 300, ""),
		requestEvent(hourB.Add(10*time.Minute), 200, 50, ""),
	}}
	agg := newTestAggregator(store, nil, now)

	data, err := agg.HistoricalData(context.Background(), 24)
	if err != nil {
		t.Fatalf("historical data: %v", err)
	}
	if len(data.HTTPRequestsTimeline) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d", len(data.HTTPRequestsTimeline))
	}
	first, second := data.HTTPRequestsTimeline[0], data.HTTPRequestsTimeline[1]
	if !first.Timestamp.Equal(hourA) || !second.Timestamp.Equal(hourB) {
		t.Errorf("buckets not ascending by hour: %v %v", first.Timestamp, second.Timestamp)
	}
	if first.RequestsCount != 2 || first.AvgResponseTime != 200 {
		t.Errorf("bucket A wrong: %+v", first)
	}
	if second.RequestsCount != 1 || second.AvgResponseTime != 50 {
		t.Errorf("bucket B wrong: %+v", second)
	}
	if len(data.ResponseTimesTimeline) != 2 {
		t.Errorf("latency timeline must cover the same buckets, got %d", len(data.ResponseTimesTimeline))
	}
}

func TestHistoricalDataPercentiles(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	hour := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	durations := []float64{30, 10, 50, 20, 40}
	store := &stubStore{}
	for i, d := range durations {
		store.events = append(store.events, requestEvent(hour.Add(time.Duration(i)*time.Minute), 200, d, ""))
	}
	agg := newTestAggregator(store, nil, now)

	data, err := agg.HistoricalData(context.Background(), 24)
	if err != nil {
		t.Fatalf("historical data: %v", err)
	}
	if len(data.ResponseTimesTimeline) != 1 {
		t.Fatalf("expected 1 latency bucket, got %d", len(data.ResponseTimesTimeline))
	}
	bucket := data.ResponseTimesTimeline[0]
	if bucket.P50 != 30 {
		t.Errorf("expected p50=30, got %v", bucket.P50)
	}
	if bucket.P95 != 50 {
		t.Errorf("expected p95=50, got %v", bucket.P95)
	}
	if bucket.P99 != 50 {
		t.Errorf("expected p99=50, got %v", bucket.P99)
	}
}

func TestNearestRankOutOfRange(t *testing.T) {
	if got := nearestRank([]float64{5}, 0.99); got != 5 {
		t.Errorf("single sample p99 should be that sample, got %v", got)
	}
	if got := nearestRank([]float64{1, 2}, 1.0); got != 0 {
		t.Errorf("rank past the last element reports 0, got %v", got)
	}
	if got := nearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty sample reports 0, got %v", got)
	}
}

func TestHistoricalDataErrorEventsSortedDesc(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	older := now.Add(-3 * time.Hour)
	newer := now.Add(-1 * time.Hour)
	store := &stubStore{events: []domain.Event{
		{Type: domain.EventError, Timestamp: older, Error: &domain.ErrorFields{Type: "ValueError", ErrMsg: "old"}},
		{Type: domain.EventError, Timestamp: newer, Error: &domain.ErrorFields{Type: "TimeoutError", ErrMsg: "new"}},
	}}
	agg := newTestAggregator(store, nil, now)

	data, err := agg.HistoricalData(context.Background(), 24)
	if err != nil {
		t.Fatalf("historical data: %v", err)
	}
	if len(data.ErrorEvents) != 2 {
		t.Fatalf("expected 2 error events, got %d", len(data.ErrorEvents))
	}
	if data.ErrorEvents[0].Message != "new" || data.ErrorEvents[1].Message != "old" {
		t.Errorf("error events must be newest first: %+v", data.ErrorEvents)
	}
	if data.ErrorEvents[0].ErrorType != "TimeoutError" || data.ErrorEvents[0].Level != "ERROR" {
		t.Errorf("error projection wrong: %+v", data.ErrorEvents[0])
	}
}

func TestHistoricalDataSystemTimeline(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	sampler := fakeSampler{sample: metrics.SystemSample{CPUPercent: 25, MemoryPercent: 60, DiskPercent: 45}}
	agg := newTestAggregator(&stubStore{}, sampler, now)

	data, err := agg.HistoricalData(context.Background(), 24)
	if err != nil {
		t.Fatalf("historical data: %v", err)
	}
	if len(data.SystemMetricsTimeline) != 1 {
		t.Fatalf("expected single-instant system timeline, got %d entries", len(data.SystemMetricsTimeline))
	}
	sample := data.SystemMetricsTimeline[0]
	if sample.CPUPercent != 25 || sample.MemoryPercent != 60 || sample.DiskPercent != 45 {
		t.Errorf("sample values wrong: %+v", sample)
	}
	if !sample.Timestamp.Equal(now) {
		t.Errorf("sample must be stamped with query time, got %v", sample.Timestamp)
	}
}

func TestHistoricalDataSamplerFailure(t *testing.T) {
	agg := newTestAggregator(&stubStore{}, fakeSampler{err: errors.New("no proc")}, time.Now().UTC())
	data, err := agg.HistoricalData(context.Background(), 24)
	if err != nil {
		t.Fatalf("sampler failure must not fail the query: %v", err)
	}
	if len(data.SystemMetricsTimeline) != 0 {
		t.Errorf("expected empty system timeline on sampler failure, got %d", len(data.SystemMetricsTimeline))
	}
}

func TestHistoricalDataDefaultsHours(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	store := &stubStore{events: []domain.Event{
		requestEvent(now.Add(-30*time.Hour), 200, 10, ""),
		requestEvent(now.Add(-2*time.Hour), 200, 10, ""),
	}}
	agg := newTestAggregator(store, nil, now)

	data, err := agg.HistoricalData(context.Background(), 0)
	if err != nil {
		t.Fatalf("historical data: %v", err)
	}
	if len(data.HTTPRequestsTimeline) != 1 {
		t.Errorf("hours<=0 must fall back to 24h window, got %d buckets", len(data.HTTPRequestsTimeline))
	}
}
