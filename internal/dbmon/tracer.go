// Package dbmon instruments persistence-layer queries issued by the
// resource API. It implements pgx's QueryTracer so every query updates the
// db_* metric series and appends a database_query event, without the
// calling code knowing monitoring exists.
package dbmon

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carlosmpereira/bookpulse/internal/monitor"
)

type traceKey struct{}

type queryTrace struct {
	sql   string
	start time.Time
}

// Tracer plugs into a pgx connection config (config.Tracer = dbmon.New(...)).
type Tracer struct {
	recorder *monitor.Recorder
	now      func() time.Time
}

// New builds a query tracer backed by the given recorder.
func New(recorder *monitor.Recorder) *Tracer {
	return &Tracer{recorder: recorder, now: time.Now}
}

// TraceQueryStart stamps the statement and start time into the context.
func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, queryTrace{sql: data.SQL, start: t.now()})
}

// TraceQueryEnd records the completed query. Recording failures are dropped:
// tracing must never surface errors into the query path.
func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, ok := ctx.Value(traceKey{}).(queryTrace)
	if !ok || t.recorder == nil {
		return
	}
	operation, table := classify(trace.sql)
	// ctx may already be cancelled when the query failed; the event record
	// still has to land.
	_ = t.recorder.RecordDatabaseQuery(context.WithoutCancel(ctx), trace.sql, table, operation, t.now().Sub(trace.start))
}

// classify derives (operation, table) labels from the statement text. Label
// values stay within the closed set of tables the resource API queries.
func classify(sql string) (operation, table string) {
	tokens := strings.Fields(strings.TrimSpace(sql))
	if len(tokens) == 0 {
		return "unknown", "unknown"
	}
	operation = strings.ToUpper(tokens[0])
	table = "unknown"
	for i, token := range tokens {
		switch strings.ToUpper(token) {
		case "FROM", "INTO", "UPDATE", "TABLE":
			if i+1 < len(tokens) {
				table = strings.ToLower(strings.Trim(tokens[i+1], `"'(),;`))
			}
		}
		if table != "unknown" {
			break
		}
	}
	return operation, table
}
