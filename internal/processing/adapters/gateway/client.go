// Package gateway holds HTTP clients for the document extraction and the
// risk and identity assessment gateways.
//
// Both clients speak JSON, send images base64-encoded, trace each call with
// an OpenTelemetry span and guard the remote side with a circuit breaker.
// Every failure is returned as a categorized *Error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"checkpoint/pkg/platform/circuit"
	"checkpoint/pkg/requestcontext"
)

const maxResponseBytes = 4 << 20

var tracer = otel.Tracer("checkpoint/processing/gateway")

// Option configures a gateway client.
type Option func(*client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBreaker guards calls with b.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *client) {
		c.apiKey = key
	}
}

type client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func newClient(name, baseURL string, opts ...Option) *client {
	c := &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// postJSON sends in to path and returns the 2xx response body.
func (c *client) postJSON(ctx context.Context, span trace.Span, path string, in any) ([]byte, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, NewError(ErrorOutage, c.name, "circuit open", nil)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, NewError(ErrorInternal, c.name, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(ErrorInternal, c.name, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if rid := requestcontext.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		ge := categorizeTransport(c.name, err)
		c.recordFailure(ctx, ge)
		return nil, ge
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		ge := categorizeTransport(c.name, err)
		c.recordFailure(ctx, ge)
		return nil, ge
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ge := categorizeStatus(c.name, resp.StatusCode, body)
		c.recordFailure(ctx, ge)
		return nil, ge
	}

	c.recordSuccess(ctx)
	return body, nil
}

// Only retryable failures count against the breaker.
func (c *client) recordFailure(ctx context.Context, ge *Error) {
	if c.breaker == nil || !ge.Retryable {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened && c.logger != nil {
		c.logger.WarnContext(ctx, "gateway circuit opened",
			"gateway", c.name,
			"category", ge.Category,
		)
	}
}

func (c *client) recordSuccess(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed && c.logger != nil {
		c.logger.InfoContext(ctx, "gateway circuit closed", "gateway", c.name)
	}
}

func startSpan(ctx context.Context, name, gatewayName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("gateway", gatewayName)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CategoryOf(err)))
	}
	span.End()
}

func decode(gatewayName string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(ErrorBadData, gatewayName, fmt.Sprintf("decode response (%d bytes)", len(body)), err)
	}
	return nil
}
