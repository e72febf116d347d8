package middleware

import (
	"fmt"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/telemetry"
)

// RequestLogger logs one structured line per request through logrus.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return chimw.RequestLogger(&logFormatter{log: log})
}

type logFormatter struct {
	log logrus.FieldLogger
}

func (f *logFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	fields := logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"remote": r.RemoteAddr,
	}
	if id := chimw.GetReqID(r.Context()); id != "" {
		fields["request_id"] = id
	}
	return &logEntry{log: f.log.WithFields(fields)}
}

type logEntry struct {
	log logrus.FieldLogger
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.log.WithFields(logrus.Fields{
		"status":     status,
		"bytes":      bytes,
		"elapsed_ms": float64(elapsed.Nanoseconds()) / 1e6,
	}).Info("request")
}

func (e *logEntry) Panic(v interface{}, stack []byte) {
	e.log.WithFields(logrus.Fields{
		"panic": fmt.Sprintf("%+v", v),
		"stack": string(stack),
	}).Error("request panicked")
}

// Metrics records request count and latency per route pattern.
// A nil recorder disables it.
func Metrics(m *telemetry.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Context(), r.Method, routeLabel(r), status, float64(time.Since(start).Milliseconds()))
		})
	}
}

// Tracing starts a span per request, continuing any trace the caller sent.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.Extract(r.Context(), r.Header)
		ctx, span := telemetry.StartSpan(ctx, "dashauth/http", r.Method+" "+routeLabel(r),
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", routeLabel(r)),
		)
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	})
}

// routeLabel keeps metric cardinality bounded: proxied paths collapse into
// the catch-all pattern.
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/login", "/logout", "/healthz":
		return r.URL.Path
	default:
		return "/*"
	}
}
