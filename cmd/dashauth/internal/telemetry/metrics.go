package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates the HTTP server instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("dashauth/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(status)),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if status >= 500 {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// LoginMetrics holds metric instruments for login attempts.
type LoginMetrics struct {
	Attempts metric.Int64Counter
	Duration metric.Float64Histogram
}

// NewLoginMetrics creates the login instruments.
func NewLoginMetrics() (*LoginMetrics, error) {
	meter := otel.Meter("dashauth/login")

	attempts, err := meter.Int64Counter(
		"login.attempt.count",
		metric.WithDescription("Total number of login attempts by provider and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"login.duration",
		metric.WithDescription("Login duration including credential verification and token lookup"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	return &LoginMetrics{Attempts: attempts, Duration: duration}, nil
}

// RecordLogin records one login attempt. A nil receiver records nothing.
func (m *LoginMetrics) RecordLogin(ctx context.Context, provider, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAuthProvider, provider),
		attribute.String(AttrAuthOutcome, outcome),
	)
	m.Attempts.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, durationMs, attrs)
}

// TokenCacheMetrics holds metric instruments for the service account token cache.
type TokenCacheMetrics struct {
	Lookups     metric.Int64Counter
	Fetches     metric.Int64Counter
	FetchErrors metric.Int64Counter
}

// NewTokenCacheMetrics creates the token cache instruments.
func NewTokenCacheMetrics() (*TokenCacheMetrics, error) {
	meter := otel.Meter("dashauth/tokencache")

	lookups, err := meter.Int64Counter(
		"tokencache.lookup.count",
		metric.WithDescription("Token lookups by cache result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	fetches, err := meter.Int64Counter(
		"tokencache.fetch.count",
		metric.WithDescription("Token fetches from the Kubernetes API"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"tokencache.fetch.error.count",
		metric.WithDescription("Failed token fetches from the Kubernetes API"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &TokenCacheMetrics{Lookups: lookups, Fetches: fetches, FetchErrors: fetchErrors}, nil
}

// RecordLookup records a cache lookup. A nil receiver records nothing.
func (m *TokenCacheMetrics) RecordLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.Lookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrCacheHit, hit)))
}

// RecordFetch records a fetch from the API. A nil receiver records nothing.
func (m *TokenCacheMetrics) RecordFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.Fetches.Add(ctx, 1)
	if err != nil {
		m.FetchErrors.Add(ctx, 1)
	}
}

// Metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrAuthProvider = "auth.provider"
	AttrAuthOutcome  = "auth.outcome"

	AttrCacheHit = "cache.hit"
)
