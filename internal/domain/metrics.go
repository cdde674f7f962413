package domain

import "time"

// CurrentMetrics is the point-in-time aggregate over the trailing hour.
// It is recomputed from the event log on every query and never cached.
type CurrentMetrics struct {
	TotalRequests    int       `json:"total_requests"`
	SuccessRate      float64   `json:"success_rate"`
	AvgResponseTime  float64   `json:"avg_response_time"`
	ActiveUsers      int       `json:"active_users"`
	ErrorRate5xx     float64   `json:"error_rate_5xx"`
	ErrorRate4xx     float64   `json:"error_rate_4xx"`
	FailedLoginsRate float64   `json:"failed_logins_rate"`
	CurrentTimestamp time.Time `json:"current_timestamp"`
	DataSource       string    `json:"data_source"`
}

// RequestBucket is one hour of request traffic.
type RequestBucket struct {
	Timestamp       time.Time `json:"timestamp"`
	RequestsCount   int       `json:"requests_count"`
	AvgResponseTime float64   `json:"avg_response_time"`
}

// LatencyBucket carries nearest-rank percentiles for one hour of traffic.
type LatencyBucket struct {
	Timestamp time.Time `json:"timestamp"`
	P50       float64   `json:"p50"`
	P95       float64   `json:"p95"`
	P99       float64   `json:"p99"`
}

// SystemSample is one instantaneous resource-usage reading.
type SystemSample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
}

// ErrorEvent is the dashboard projection of a persisted error record.
type ErrorEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	ErrorType string         `json:"error_type"`
	Context   map[string]any `json:"context"`
}

// HistoricalData bundles the hour-bucketed timelines for a query window.
type HistoricalData struct {
	HTTPRequestsTimeline  []RequestBucket `json:"http_requests_timeline"`
	ResponseTimesTimeline []LatencyBucket `json:"response_times_timeline"`
	SystemMetricsTimeline []SystemSample  `json:"system_metrics_timeline"`
	ErrorEvents           []ErrorEvent    `json:"error_events"`
}
