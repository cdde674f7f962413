// Package metrics holds the in-process metric registry: counters,
// histograms and gauges keyed by label sets, backed by a private
// prometheus registry and exported as categorized text.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNegativeValue rejects negative histogram observations and
	// negative counter increments without touching series state.
	ErrNegativeValue = errors.New("metrics: negative value rejected")
	// ErrLabelMismatch indicates label keys differ from the ones the
	// series was first registered with.
	ErrLabelMismatch = errors.New("metrics: label set does not match series registration")
)

// Labels identifies one series within a named metric family.
type Labels map[string]string

var (
	httpDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}
	dbDurationBuckets   = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0}
)

// Registry owns every metric family for the process. Families are created
// lazily and interned by name; a family's label keys are fixed at first
// registration. Series are never evicted.
type Registry struct {
	mu         sync.Mutex
	prom       *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labelKeys  map[string][]string
	order      map[string]int

	sampler SystemSampler
	logger  *slog.Logger
}

// NewRegistry builds a registry with the well-known families pre-registered
// so the exposition is populated from the first scrape. A nil sampler
// disables system gauge refresh.
func NewRegistry(sampler SystemSampler, logger *slog.Logger) *Registry {
	if logger != nil {
		logger = logger.With("component", "metrics")
	}
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labelKeys:  make(map[string][]string),
		order:      make(map[string]int),
		sampler:    sampler,
		logger:     logger,
	}
	r.setup()
	return r
}

func (r *Registry) setup() {
	r.counterVec("http_requests_total", "Total HTTP requests", []string{"method", "endpoint", "status_code"})
	r.histogramVec("http_request_duration_seconds", "HTTP request duration", httpDurationBuckets, []string{"method", "endpoint"})
	r.gaugeVec("http_requests_in_progress", "HTTP requests currently being processed", nil)
	r.counterVec("db_queries_total", "Total database queries", []string{"table", "operation"})
	r.histogramVec("db_query_duration_seconds", "Database query duration", dbDurationBuckets, []string{"table", "operation"})
	r.gaugeVec("system_cpu_usage_percent", "System CPU usage", nil)
	r.gaugeVec("system_memory_usage_bytes", "System memory usage", nil)
	r.gaugeVec("system_disk_usage_percent", "System disk usage", nil)
	r.counterVec("books_scraped_total", "Total books scraped", nil)
	r.counterVec("ml_predictions_total", "Total ML predictions made", []string{"recommended"})
	r.counterVec("user_logins_total", "Total user logins", []string{"status"})
}

// Counter returns a handle to the series identified by name and labels,
// creating the family and series on first use.
func (r *Registry) Counter(name, help string, labels Labels) (Counter, error) {
	r.mu.Lock()
	vec, err := r.counterVecLocked(name, help, labels)
	r.mu.Unlock()
	if err != nil {
		return Counter{}, err
	}
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return Counter{}, fmt.Errorf("%w: %s", ErrLabelMismatch, name)
	}
	return Counter{c: c}, nil
}

// Histogram returns a handle to the named histogram series. A nil buckets
// slice falls back to the HTTP duration buckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labels Labels) (Histogram, error) {
	r.mu.Lock()
	vec, ok := r.histograms[name]
	if !ok {
		if err := r.checkNameFree(name); err != nil {
			r.mu.Unlock()
			return Histogram{}, err
		}
		if buckets == nil {
			buckets = httpDurationBuckets
		}
		vec = r.histogramVec(name, help, buckets, labelNames(labels))
	} else if err := r.checkLabelKeys(name, labels); err != nil {
		r.mu.Unlock()
		return Histogram{}, err
	}
	r.mu.Unlock()
	h, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return Histogram{}, fmt.Errorf("%w: %s", ErrLabelMismatch, name)
	}
	return Histogram{h: h}, nil
}

// Gauge returns a handle to the named gauge series.
func (r *Registry) Gauge(name, help string, labels Labels) (Gauge, error) {
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		if err := r.checkNameFree(name); err != nil {
			r.mu.Unlock()
			return Gauge{}, err
		}
		vec = r.gaugeVec(name, help, labelNames(labels))
	} else if err := r.checkLabelKeys(name, labels); err != nil {
		r.mu.Unlock()
		return Gauge{}, err
	}
	r.mu.Unlock()
	g, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return Gauge{}, fmt.Errorf("%w: %s", ErrLabelMismatch, name)
	}
	return Gauge{g: g}, nil
}

func (r *Registry) counterVecLocked(name, help string, labels Labels) (*prometheus.CounterVec, error) {
	vec, ok := r.counters[name]
	if !ok {
		if err := r.checkNameFree(name); err != nil {
			return nil, err
		}
		return r.counterVec(name, help, labelNames(labels)), nil
	}
	if err := r.checkLabelKeys(name, labels); err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *Registry) counterVec(name, help string, keys []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, keys)
	r.prom.MustRegister(vec)
	r.counters[name] = vec
	r.remember(name, keys)
	return vec
}

func (r *Registry) histogramVec(name, help string, buckets []float64, keys []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, keys)
	r.prom.MustRegister(vec)
	r.histograms[name] = vec
	r.remember(name, keys)
	return vec
}

func (r *Registry) gaugeVec(name, help string, keys []string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, keys)
	r.prom.MustRegister(vec)
	r.gauges[name] = vec
	r.remember(name, keys)
	return vec
}

func (r *Registry) remember(name string, keys []string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	r.labelKeys[name] = sorted
	r.order[name] = len(r.order)
}

func (r *Registry) checkNameFree(name string) error {
	if _, ok := r.labelKeys[name]; ok {
		return fmt.Errorf("%w: %s already registered with another kind", ErrLabelMismatch, name)
	}
	return nil
}

func (r *Registry) checkLabelKeys(name string, labels Labels) error {
	want := r.labelKeys[name]
	got := labelNames(labels)
	sort.Strings(got)
	if len(want) != len(got) {
		return fmt.Errorf("%w: %s", ErrLabelMismatch, name)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%w: %s", ErrLabelMismatch, name)
		}
	}
	return nil
}

func labelNames(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counter is a monotonically non-decreasing series handle.
type Counter struct {
	c prometheus.Counter
}

// Inc adds one.
func (c Counter) Inc() {
	if c.c != nil {
		c.c.Inc()
	}
}

// Add increments by n. Negative n is rejected.
func (c Counter) Add(n float64) error {
	if n < 0 {
		return ErrNegativeValue
	}
	if c.c != nil {
		c.c.Add(n)
	}
	return nil
}

// Histogram is a bucketed distribution series handle.
type Histogram struct {
	h prometheus.Observer
}

// Observe records v. Negative values are rejected and leave the series
// untouched.
func (h Histogram) Observe(v float64) error {
	if v < 0 {
		return ErrNegativeValue
	}
	if h.h != nil {
		h.h.Observe(v)
	}
	return nil
}

// Gauge is a last-set scalar series handle.
type Gauge struct {
	g prometheus.Gauge
}

// Set overwrites the gauge value.
func (g Gauge) Set(v float64) {
	if g.g != nil {
		g.g.Set(v)
	}
}

// Inc adds one.
func (g Gauge) Inc() {
	if g.g != nil {
		g.g.Inc()
	}
}

// Dec subtracts one.
func (g Gauge) Dec() {
	if g.g != nil {
		g.g.Dec()
	}
}

// RecordHTTPRequest bumps the request counter and duration histogram for a
// completed request. The endpoint must already be normalized.
func (r *Registry) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	counter, err := r.Counter("http_requests_total", "Total HTTP requests", Labels{
		"method":      method,
		"endpoint":    endpoint,
		"status_code": fmt.Sprintf("%d", statusCode),
	})
	if err == nil {
		counter.Inc()
	} else {
		r.warn("http request counter", err)
	}
	hist, err := r.Histogram("http_request_duration_seconds", "HTTP request duration", httpDurationBuckets, Labels{
		"method":   method,
		"endpoint": endpoint,
	})
	if err == nil {
		err = hist.Observe(durationSeconds)
	}
	if err != nil {
		r.warn("http request histogram", err)
	}
}

// TrackInProgress increments the in-flight gauge and returns the matching
// decrement. The caller defers the returned func.
func (r *Registry) TrackInProgress() func() {
	gauge, err := r.Gauge("http_requests_in_progress", "HTTP requests currently being processed", nil)
	if err != nil {
		r.warn("in-progress gauge", err)
		return func() {}
	}
	gauge.Inc()
	return gauge.Dec
}

// RecordDBQuery bumps the persistence-layer counter and duration histogram.
func (r *Registry) RecordDBQuery(table, operation string, durationSeconds float64) {
	labels := Labels{"table": table, "operation": operation}
	counter, err := r.Counter("db_queries_total", "Total database queries", labels)
	if err == nil {
		counter.Inc()
	} else {
		r.warn("db query counter", err)
	}
	hist, err := r.Histogram("db_query_duration_seconds", "Database query duration", dbDurationBuckets, labels)
	if err == nil {
		err = hist.Observe(durationSeconds)
	}
	if err != nil {
		r.warn("db query histogram", err)
	}
}

// RecordBusinessEvent maps well-known business events onto their counters.
// Unknown event names are ignored; the event log still carries them.
func (r *Registry) RecordBusinessEvent(eventName string, labels map[string]string) {
	switch eventName {
	case "book_scraped", "books_scraped":
		if c, err := r.Counter("books_scraped_total", "Total books scraped", nil); err == nil {
			c.Inc()
		}
	case "ml_prediction", "ml_prediction_made":
		recommended := labels["recommended"]
		if recommended == "" {
			recommended = "false"
		}
		if c, err := r.Counter("ml_predictions_total", "Total ML predictions made", Labels{"recommended": recommended}); err == nil {
			c.Inc()
		}
	case "user_login", "user_login_attempt":
		status := labels["status"]
		if status == "" {
			status = "unknown"
		}
		if c, err := r.Counter("user_logins_total", "Total user logins", Labels{"status": status}); err == nil {
			c.Inc()
		}
	}
}

func (r *Registry) refreshSystemGauges(ctx context.Context) {
	if r.sampler == nil {
		return
	}
	sample, err := r.sampler.Sample(ctx)
	if err != nil {
		r.warn("system sample", err)
		return
	}
	if g, err := r.Gauge("system_cpu_usage_percent", "System CPU usage", nil); err == nil {
		g.Set(sample.CPUPercent)
	}
	if g, err := r.Gauge("system_memory_usage_bytes", "System memory usage", nil); err == nil {
		g.Set(float64(sample.MemoryUsedBytes))
	}
	if g, err := r.Gauge("system_disk_usage_percent", "System disk usage", nil); err == nil {
		g.Set(sample.DiskPercent)
	}
}

func (r *Registry) warn(what string, err error) {
	if r.logger != nil {
		r.logger.Warn("metric update failed", "metric", what, "error", err)
	}
}
