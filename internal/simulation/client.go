// Package simulation talks to the external profitability backend. The web
// tier sends the visitor's input record and keeps whatever object comes back.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	calculatePath      = "/api/simulation/calculate"
	requestIDHeader    = "X-Request-ID"
	maxResponseBytes   = 1 << 20
	maxErrorExcerpt    = 512
	instrumentationLib = "github.com/minpaku-sim/web/internal/simulation"

	outcomeOK        = "ok"
	outcomeStatus    = "status"
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

// Request is the body sent to the backend. Field names follow the backend contract.
type Request struct {
	Region              string `json:"region"`
	PropertyType        string `json:"propertyType"`
	MonthlyRent         int64  `json:"monthlyRent"`
	FurnitureAppliances bool   `json:"furnitureAppliances"`
	RenovationCost      int64  `json:"renovationCost"`
	ManagementFeeRate   int64  `json:"managementFeeRate"`
	CleaningFee         int64  `json:"cleaningFee"`
}

// Calculator computes a simulation for one input record.
type Calculator interface {
	Calculate(ctx context.Context, req Request) (Result, error)
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("simulation: backend status %d", e.StatusCode)
	}
	return fmt.Sprintf("simulation: backend status %d: %s", e.StatusCode, e.Body)
}

// Client issues calculation calls against the simulation backend. With an empty
// base URL it answers from the demo responder instead.
type Client struct {
	baseURL    string
	http       *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	meter      metric.Meter
	latency    metric.Float64Histogram
	requests   metric.Int64Counter
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for client spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithPropagator overrides the propagator used for outbound trace headers.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		if p != nil {
			c.propagator = p
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) {
		if m != nil {
			c.meter = m
		}
	}
}

// NewClient constructs a backend client. The caller bounds each call through
// its context; the HTTP client itself carries no timeout.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:       &http.Client{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationLib),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		meter:      otel.GetMeterProvider().Meter(instrumentationLib),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	c.latency, err = c.meter.Float64Histogram(
		"minpaku.simulation.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of simulation backend calls"),
	)
	if err != nil {
		c.logger.Warn("simulation: unable to register latency metric", zap.Error(err))
	}
	c.requests, err = c.meter.Int64Counter(
		"minpaku.simulation.requests",
		metric.WithDescription("Simulation backend calls by outcome"),
	)
	if err != nil {
		c.logger.Warn("simulation: unable to register request metric", zap.Error(err))
	}
	return c
}

// Demo reports whether the client answers from the demo responder.
func (c *Client) Demo() bool {
	return c == nil || c.baseURL == ""
}

// Calculate posts the request and returns the opaque payload.
func (c *Client) Calculate(ctx context.Context, req Request) (Result, error) {
	if c.Demo() {
		return demoResult(req)
	}

	start := c.now()
	outcome := outcomeError
	defer func() { c.observe(ctx, start, outcome) }()

	endpoint, err := url.JoinPath(c.baseURL, calculatePath)
	if err != nil {
		return Result{}, fmt.Errorf("simulation: build endpoint: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("simulation: encode request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "simulation.calculate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(http.MethodPost),
		semconv.URLFull(endpoint),
		attribute.String("minpaku.region", req.Region),
		attribute.String("minpaku.property_type", req.PropertyType),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, c.fail(span, fmt.Errorf("simulation: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if id := middleware.GetReqID(ctx); id != "" {
		httpReq.Header.Set(requestIDHeader, id)
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, c.fail(span, fmt.Errorf("simulation: request failed: %w", err))
	}
	defer resp.Body.Close()
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	logger := c.logger.With(
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = outcomeStatus
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: drainError(resp.Body)}
		logger.Warn("simulation backend rejected request", zap.String("body", statusErr.Body))
		return Result{}, c.fail(span, statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return Result{}, c.fail(span, fmt.Errorf("simulation: read response: %w", err))
	}
	if len(body) > maxResponseBytes {
		outcome = outcomeMalformed
		return Result{}, c.fail(span, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseBytes))
	}
	result, err := NewResult(body)
	if err != nil {
		outcome = outcomeMalformed
		logger.Warn("simulation backend returned malformed body")
		return Result{}, c.fail(span, err)
	}

	outcome = outcomeOK
	span.SetStatus(codes.Ok, "")
	logger.Debug("simulation completed")
	return result, nil
}

func (c *Client) observe(ctx context.Context, start time.Time, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if c.latency != nil {
		c.latency.Record(ctx, float64(c.now().Sub(start))/float64(time.Millisecond), attrs)
	}
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// IsMalformed reports whether err signals an unusable 2xx body.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

func drainError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorExcerpt))
	return strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
}
