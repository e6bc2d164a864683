// Package gateway is the single HTTP channel to the platform API.
//
// Every request resolves against the configured base URL, carries ambient
// credentials (cookie jar plus bearer token from the token store) and an
// X-Request-ID. Responses are observed by registered hooks so the session
// layer can react to 401s without the gateway knowing about sessions.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/metrics"
	"github.com/shreegurucool/auth-go/tokenstore"
)

const tracerName = "github.com/shreegurucool/auth-go/gateway"

// HeaderRequestID is the request correlation header.
const HeaderRequestID = "X-Request-ID"

// Gateway performs HTTP exchanges against the platform API.
type Gateway struct {
	base        *url.URL
	httpClient  *http.Client
	credentials bool
	tokens      auth.TokenStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time

	mu           sync.RWMutex
	onResponse   []func(*http.Response)
	unauthorized []func(*http.Request)
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the underlying HTTP client. Default: a client with a 30s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithCredentials controls whether cookies are carried across requests.
// Default: true.
func WithCredentials(enabled bool) Option {
	return func(g *Gateway) { g.credentials = enabled }
}

// WithTokenStore sets the store the bearer token is read from.
func WithTokenStore(s auth.TokenStore) Option {
	return func(g *Gateway) { g.tokens = s }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics records exchange counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracerProvider sets the OpenTelemetry provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway for baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("auth/gateway: invalid base URL %q", baseURL)
	}
	g := &Gateway{
		base:        u,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: true,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.credentials && g.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("auth/gateway: cookie jar: %w", err)
		}
		c := *g.httpClient
		c.Jar = jar
		g.httpClient = &c
	}
	return g, nil
}

// BaseURL returns the API root.
func (g *Gateway) BaseURL() string { return g.base.String() }

// OnResponse registers a hook called with every received response. Each hook
// gets its own copy of the response whose Body replays the bytes already read.
func (g *Gateway) OnResponse(fn func(*http.Response)) {
	g.mu.Lock()
	g.onResponse = append(g.onResponse, fn)
	g.mu.Unlock()
}

// OnUnauthorized registers a hook called with the originating request
// whenever the server answers 401.
func (g *Gateway) OnUnauthorized(fn func(*http.Request)) {
	g.mu.Lock()
	g.unauthorized = append(g.unauthorized, fn)
	g.mu.Unlock()
}

// CallOption adjusts a single call.
type CallOption func(*call)

type call struct {
	header http.Header
	query  url.Values
}

// WithHeader sets a request header, replacing the gateway default.
func WithHeader(key, value string) CallOption {
	return func(c *call) { c.header.Set(key, value) }
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) CallOption {
	return func(c *call) { c.query.Add(key, value) }
}

// Get performs a GET and decodes the response into out (when non-nil).
func (g *Gateway) Get(ctx context.Context, path string, out any, opts ...CallOption) error {
	return g.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post performs a POST.
func (g *Gateway) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return g.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put performs a PUT.
func (g *Gateway) Put(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return g.Do(ctx, http.MethodPut, path, body, out, opts...)
}

// Delete performs a DELETE.
func (g *Gateway) Delete(ctx context.Context, path string, out any, opts ...CallOption) error {
	return g.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do performs one exchange. body is JSON-encoded unless it is an io.Reader,
// which is sent as-is. A 2xx response is decoded into out when out is non-nil.
// Non-2xx responses return *auth.APIError; exchanges without a response
// return *auth.TransportError.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any, opts ...CallOption) error {
	c := &call{header: http.Header{}, query: url.Values{}}
	for _, o := range opts {
		o(c)
	}
	op := method + " " + path

	ctx, span := g.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	req, err := g.newRequest(ctx, method, path, body, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("guru.request_id", req.Header.Get(HeaderRequestID)))

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.ObserveRequest(method, path, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("gateway exchange failed", "op", op, "error", err)
		return &auth.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	g.metrics.ObserveRequest(method, path, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	g.dispatch(req, resp, data)

	if readErr != nil {
		span.RecordError(readErr)
		span.SetStatus(codes.Error, readErr.Error())
		return &auth.TransportError{Op: op, Err: readErr}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Error())
		g.logger.Debug("gateway non-2xx", "op", op, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}
	span.SetStatus(codes.Ok, "")

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("auth/gateway: %s: decode response: %w", op, err)
	}
	return nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body any, c *call) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("auth/gateway: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, g.resolve(path, c.query), reader)
	if err != nil {
		return nil, fmt.Errorf("auth/gateway: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	reqID := auth.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(HeaderRequestID, reqID)

	if token := g.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	return req, nil
}

// token returns the bearer token to propagate. An expired JWT is purged.
func (g *Gateway) token(ctx context.Context) string {
	if g.tokens == nil {
		return ""
	}
	token, err := g.tokens.Get(ctx)
	if err != nil {
		g.logger.Warn("token store read failed", "error", err)
		return ""
	}
	if token != "" && tokenstore.Expired(token, g.now()) {
		g.logger.Debug("dropping expired token")
		if err := g.tokens.Clear(ctx); err != nil {
			g.logger.Warn("token store clear failed", "error", err)
		}
		return ""
	}
	return token
}

func (g *Gateway) resolve(path string, query url.Values) string {
	u := *g.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (g *Gateway) dispatch(req *http.Request, resp *http.Response, data []byte) {
	g.mu.RLock()
	onResponse := append([]func(*http.Response){}, g.onResponse...)
	unauthorized := append([]func(*http.Request){}, g.unauthorized...)
	g.mu.RUnlock()

	for _, fn := range onResponse {
		r := *resp
		r.Body = io.NopCloser(bytes.NewReader(data))
		fn(&r)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		g.metrics.RecordUnauthorized()
		for _, fn := range unauthorized {
			fn(req)
		}
	}
}

func decodeError(status int, data []byte) *auth.APIError {
	apiErr := &auth.APIError{Status: status, Body: data}
	var payload struct {
		Message string              `json:"message"`
		Error   string              `json:"error"`
		Errors  []auth.FieldMessage `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
		apiErr.Errors = payload.Errors
	}
	return apiErr
}
