// Package bootstrap assembles the session components from an auth.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/audit"
	"github.com/shreegurucool/auth-go/authapi"
	"github.com/shreegurucool/auth-go/gate"
	"github.com/shreegurucool/auth-go/gateway"
	"github.com/shreegurucool/auth-go/lifecycle"
	"github.com/shreegurucool/auth-go/metrics"
	"github.com/shreegurucool/auth-go/session"
	"github.com/shreegurucool/auth-go/tokenstore"
)

// Runtime holds one wired set of components.
type Runtime struct {
	Client  *auth.Client
	Tokens  auth.TokenStore
	Gateway *gateway.Gateway
	API     *authapi.Service
	Session *session.Store
	Machine *lifecycle.Machine
	Gate    *gate.Gate
	Audit   *audit.Logger
	Metrics *metrics.Metrics

	unsubscribe func()
}

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
	tokens     auth.TokenStore
	audit      []audit.Option
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers metrics on r instead of the default registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithHTTPClient sets the HTTP client used by the gateway.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenStore overrides the store selected by the config.
func WithTokenStore(s auth.TokenStore) Option {
	return func(o *options) { o.tokens = s }
}

// WithAuditOptions adds audit handlers.
func WithAuditOptions(opts ...audit.Option) Option {
	return func(o *options) { o.audit = append(o.audit, opts...) }
}

// New validates cfg and wires the components.
func New(cfg auth.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Validate and apply defaults before anything is opened.
	probe, err := auth.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	cfg = probe.Config()

	tokens := o.tokens
	if tokens == nil {
		if tokens, err = newTokenStore(cfg); err != nil {
			return nil, err
		}
	}

	m := metrics.New(cfg.MetricsEnabled, o.registerer)

	gwOpts := []gateway.Option{
		gateway.WithCredentials(!cfg.DisableCredentials),
		gateway.WithTokenStore(tokens),
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
	}
	if o.httpClient != nil {
		gwOpts = append(gwOpts, gateway.WithHTTPClient(o.httpClient))
	}
	gw, err := gateway.New(cfg.BaseURL, gwOpts...)
	if err != nil {
		closeStore(tokens)
		return nil, err
	}

	api := authapi.New(gw, tokens, authapi.WithLogger(logger))
	client, err := auth.NewClient(cfg,
		auth.WithLogger(logger),
		auth.WithTokenStore(tokens),
		auth.WithAuthAPI(api),
	)
	if err != nil {
		closeStore(tokens)
		return nil, err
	}

	store := session.New(api, tokens,
		session.WithProbeTimeout(cfg.ProbeTimeout),
		session.WithLogger(logger),
		session.WithMetrics(m),
	)
	gw.OnUnauthorized(store.HandleUnauthorized)

	auditor := audit.New(0, append([]audit.Option{audit.WithSlogHandler(logger)}, o.audit...)...)

	machine := lifecycle.New(store, api,
		lifecycle.WithCooldown(cfg.ResendCooldown),
		lifecycle.WithAuditor(auditor),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(m),
	)

	// Session changes made outside the machine, such as a 401 on an ordinary
	// request, move it back to Anonymous.
	unsubscribe := store.Subscribe(machine.SessionChanged)

	return &Runtime{
		Client:  client,
		Tokens:  tokens,
		Gateway: gw,
		API:     api,
		Session: store,
		Machine: machine,
		Gate:    gate.New(store, gate.WithEntryPath(cfg.EntryPath)),
		Audit:   auditor,
		Metrics: m,

		unsubscribe: unsubscribe,
	}, nil
}

// Start probes for an existing session and moves the lifecycle machine to
// the matching state. It blocks until the probe settles.
func (r *Runtime) Start(ctx context.Context) (lifecycle.State, error) {
	r.Session.Initialize(ctx)
	st, err := r.Machine.Resume(ctx, r.Session.Snapshot())
	if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
		return st, fmt.Errorf("bootstrap: resume: %w", err)
	}
	return st, nil
}

// Close flushes the audit log and releases the token store.
func (r *Runtime) Close() error {
	r.unsubscribe()
	_ = r.Audit.Close()
	return r.Client.Close()
}

func newTokenStore(cfg auth.Config) (auth.TokenStore, error) {
	switch cfg.TokenStore {
	case "file":
		return tokenstore.NewFile(cfg.TokenFile), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("bootstrap: redis token store requires an address")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return tokenstore.NewRedis(rdb, cfg.RedisNamespace), nil
	default:
		return tokenstore.NewMemory(), nil
	}
}

func closeStore(s auth.TokenStore) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
