package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carlosmpereira/bookpulse/internal/metrics"
	"github.com/carlosmpereira/bookpulse/internal/monitor"
)

type requestIDKey struct{}

// RequestIDFromContext returns the identifier the interceptor assigned to
// the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Interceptor wraps every inbound request: it assigns a request ID, tracks
// the in-flight gauge, measures duration, and on completion emits one
// http_request event and updates the registry. A panicking handler is still
// recorded (as a 500 plus an error event) and the panic is re-raised.
type Interceptor struct {
	recorder  *monitor.Recorder
	registry  *metrics.Registry
	logger    *slog.Logger
	jwtSecret []byte
	now       func() time.Time
}

// NewInterceptor builds the request interceptor. jwtSecret enables
// best-effort user attribution from Bearer tokens; empty disables it.
func NewInterceptor(recorder *monitor.Recorder, registry *metrics.Registry, logger *slog.Logger, jwtSecret string) *Interceptor {
	if logger != nil {
		logger = logger.With("component", "http_interceptor")
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Interceptor{
		recorder:  recorder,
		registry:  registry,
		logger:    logger,
		jwtSecret: secret,
		now:       time.Now,
	}
}

// Wrap instruments a handler.
func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := uuid.NewString()
		start := i.now()

		release := func() {}
		if i.registry != nil {
			release = i.registry.TrackInProgress()
		}

		w.Header().Set("X-Request-ID", requestID)
		recorder := &responseRecorder{ResponseWriter: w, start: start, now: i.now}
		req = req.WithContext(context.WithValue(req.Context(), requestIDKey{}, requestID))

		userID := i.userIDFromToken(req)
		userAgent := req.Header.Get("User-Agent")
		ip := clientIP(req)

		defer func() {
			release()
			// Handlers that never write still get the timing header.
			recorder.stampOnce()
			duration := i.now().Sub(start)
			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			panicked := recover()
			if panicked != nil {
				status = http.StatusInternalServerError
				i.recordPanic(req, requestID, panicked)
			}
			i.record(req, monitor.HTTPRequest{
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				Duration:   duration,
				UserID:     userID,
				RequestID:  requestID,
				UserAgent:  userAgent,
				IPAddress:  ip,
			})
			i.audit(req, status, recorder.bytes, duration, requestID, userID)
			if panicked != nil {
				panic(panicked)
			}
		}()

		next.ServeHTTP(recorder, req)
	})
}

func (i *Interceptor) record(req *http.Request, completed monitor.HTTPRequest) {
	if i.recorder == nil {
		return
	}
	// Telemetry failure must not fail the request path.
	if err := i.recorder.RecordHTTPRequest(req.Context(), completed); err != nil && i.logger != nil {
		i.logger.Error("failed to record http request event", "error", err, "path", req.URL.Path)
	}
}

func (i *Interceptor) recordPanic(req *http.Request, requestID string, value any) {
	if i.recorder == nil {
		return
	}
	err := i.recorder.RecordError(req.Context(), fmt.Sprintf("%T", value), fmt.Sprint(value), map[string]any{
		"path":   req.URL.Path,
		"method": req.Method,
	}, requestID)
	if err != nil && i.logger != nil {
		i.logger.Error("failed to record panic event", "error", err, "path", req.URL.Path)
	}
}

func (i *Interceptor) audit(req *http.Request, status, bytes int, duration time.Duration, requestID, userID string) {
	if i.logger == nil {
		return
	}
	fields := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
		"request_id", requestID,
	}
	if ip := clientIP(req); ip != "" {
		fields = append(fields, "ip", ip)
	}
	if userID != "" {
		fields = append(fields, "user_id", userID)
	}
	switch {
	case status >= http.StatusInternalServerError:
		i.logger.Error("http_request", fields...)
	case status >= http.StatusBadRequest:
		i.logger.Warn("http_request", fields...)
	default:
		i.logger.Info("http_request", fields...)
	}
}

// userIDFromToken attributes the request to a user when a verifiable Bearer
// token is present. Any failure leaves the request anonymous; the
// interceptor never rejects on behalf of the auth service.
func (i *Interceptor) userIDFromToken(req *http.Request) string {
	if len(i.jwtSecret) == 0 {
		return ""
	}
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		return i.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !token.Valid {
		return ""
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}

// responseRecorder captures status and size, and stamps X-Response-Time on
// the first write since headers cannot change afterwards.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	start  time.Time
	now    func() time.Time
	wrote  bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.stampOnce()
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.stampOnce()
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) stampOnce() {
	if rr.wrote {
		return
	}
	rr.wrote = true
	elapsed := float64(rr.now().Sub(rr.start)) / float64(time.Millisecond)
	rr.Header().Set("X-Response-Time", fmt.Sprintf("%.2fms", elapsed))
}

func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the interceptor.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
