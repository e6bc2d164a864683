// Package auth provides the client-side session and authentication SDK for
// the learning platform.
//
// The root package defines the shared types, the error taxonomy and the
// service contracts. Concrete components live in sub-packages: the request
// gateway (gateway/), the auth endpoint bindings (authapi/), token storage
// (tokenstore/), the session store (session/), the sign-up/login lifecycle
// (lifecycle/) and the identity gate (gate/, middleware/ginmw).
//
// Example:
//
//	client, err := auth.NewClient(
//	    auth.Config{BaseURL: "https://learn.example.com/api"},
//	    auth.WithTokenStore(tokenstore.NewMemory()),
//	    auth.WithAuthAPI(api),
//	)
package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"
)

// Client holds the validated configuration and the services shared by the
// session components. Services are injected via Option functions.
type Client struct {
	config Config
	logger *slog.Logger
	tokens TokenStore
	api    AuthAPI
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the API root every request path is resolved against.
	// Example: "http://localhost:5002/api"
	BaseURL string

	// DisableCredentials stops the gateway from carrying cookies.
	DisableCredentials bool

	// ProbeTimeout bounds the startup session probe. Default: 5s.
	ProbeTimeout time.Duration

	// ResendCooldown is how long OTP resends stay blocked. Default: 60s.
	ResendCooldown time.Duration

	// TokenStore selects the token storage: "memory", "file" or "redis".
	// Default: "memory".
	TokenStore string

	// TokenFile is the local storage file used by the "file" store.
	TokenFile string

	RedisAddr      string
	RedisPassword  string
	RedisNamespace string

	// MetricsEnabled turns on Prometheus metrics.
	MetricsEnabled bool

	// EntryPath is where the identity gate sends anonymous visitors.
	// Default: "/welcome".
	EntryPath string

	Debug bool
}

// Defaults.
const (
	DefaultBaseURL        = "http://localhost:5002/api"
	DefaultProbeTimeout   = 5 * time.Second
	DefaultResendCooldown = 60 * time.Second
	DefaultEntryPath      = "/welcome"
	DefaultTokenStore     = "memory"
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenStore sets the token storage implementation.
func WithTokenStore(t TokenStore) Option {
	return func(c *Client) { c.tokens = t }
}

// WithAuthAPI sets the auth endpoint implementation.
func WithAuthAPI(a AuthAPI) Option {
	return func(c *Client) { c.api = a }
}

// NewClient validates cfg, applies defaults and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("auth: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("auth: invalid BaseURL %q", cfg.BaseURL)
	}
	switch cfg.TokenStore {
	case "":
		cfg.TokenStore = DefaultTokenStore
	case "memory", "file", "redis":
	default:
		return nil, fmt.Errorf("auth: unknown token store %q", cfg.TokenStore)
	}
	if cfg.TokenStore == "file" && cfg.TokenFile == "" {
		return nil, fmt.Errorf("auth: TokenFile is required for the file token store")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = DefaultResendCooldown
	}
	if cfg.EntryPath == "" {
		cfg.EntryPath = DefaultEntryPath
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Tokens returns the token store, or nil if not configured.
func (c *Client) Tokens() TokenStore { return c.tokens }

// API returns the auth endpoint implementation, or nil if not configured.
func (c *Client) API() AuthAPI { return c.api }

// Close releases resources held by injected services that implement io.Closer.
func (c *Client) Close() error {
	var firstErr error
	for _, svc := range []any{c.tokens, c.api} {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
