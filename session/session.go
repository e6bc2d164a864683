// Package session owns the client's view of who is signed in.
//
// The Store is the single source of truth for the current identity. It is
// mutated only through Initialize, Login, Logout, Signup, Refresh and the 401
// hook; readers take consistent snapshots or subscribe to changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/authapi"
	"github.com/shreegurucool/auth-go/metrics"
)

var (
	// ErrNoIdentity is returned when a successful response carries no user.
	ErrNoIdentity = errors.New("auth/session: response carries no identity")

	// ErrInactive is returned by Refresh when the account is not active.
	ErrInactive = errors.New("auth/session: account not active")

	// ErrSuperseded is returned by Refresh when another update landed while
	// the probe was in flight. The newer state is kept.
	ErrSuperseded = errors.New("auth/session: refresh superseded")
)

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Identity *auth.Identity
	Loading  bool
}

// Authenticated reports whether the snapshot holds a fully authenticated
// identity. An unapproved learner is not authenticated.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil && !s.Identity.PendingApproval()
}

// Store holds the session state.
type Store struct {
	api          auth.AuthAPI
	tokens       auth.TokenStore
	probeTimeout time.Duration
	exempt       []string
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu       sync.RWMutex
	identity *auth.Identity
	loading  bool
	gen      uint64 // bumped by every mutation
	subs     map[int]func(Snapshot)
	nextSub  int

	initOnce sync.Once
	ready    chan struct{}
	sf       singleflight.Group
}

// Option configures the Store.
type Option func(*Store)

// WithProbeTimeout bounds every session probe. Default: auth.DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Store) { s.probeTimeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records probe and authentication outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store. The store starts loading with no identity until
// Initialize settles.
func New(api auth.AuthAPI, tokens auth.TokenStore, opts ...Option) *Store {
	s := &Store{
		api:          api,
		tokens:       tokens,
		probeTimeout: auth.DefaultProbeTimeout,
		exempt:       authapi.Paths,
		logger:       slog.Default(),
		loading:      true,
		subs:         make(map[int]func(Snapshot)),
		ready:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type probeResult struct {
	id  *auth.Identity
	err error
}

// Initialize probes the server for an existing session, racing the probe
// against the probe timeout. It runs once; later calls return immediately.
// It blocks until the race settles. A probe answering after the timeout is
// discarded.
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		defer close(s.ready)

		s.mu.Lock()
		s.gen++
		gen := s.gen
		s.mu.Unlock()

		probeCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		results := make(chan probeResult, 1)
		go func() {
			id, err := s.api.Me(probeCtx)
			results <- probeResult{id: id, err: err}
		}()

		timer := time.NewTimer(s.probeTimeout)
		defer timer.Stop()

		var (
			id      *auth.Identity
			outcome string
		)
		select {
		case r := <-results:
			switch {
			case r.err != nil:
				outcome = "failed"
				s.logger.Debug("session probe failed", "error", r.err)
			case r.id == nil:
				outcome = "failed"
			case !r.id.Active():
				outcome = "inactive"
				s.purge(ctx)
			default:
				outcome = "ok"
				id = r.id
			}
		case <-timer.C:
			outcome = "timeout"
			s.logger.Debug("session probe timed out", "timeout", s.probeTimeout)
		case <-ctx.Done():
			outcome = "canceled"
		}

		s.mu.Lock()
		if s.gen != gen {
			outcome = "stale"
			s.loading = false
			s.mu.Unlock()
			s.metrics.RecordProbe(outcome)
			return
		}
		snap, subs := s.setLocked(id)
		s.mu.Unlock()

		s.metrics.RecordProbe(outcome)
		s.logger.Debug("session probe settled", "outcome", outcome, "authenticated", snap.Authenticated())
		notify(subs, snap)
	})
}

// Ready is closed once the initial probe has settled.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// Login submits credentials. On success the identity is adopted and the full
// response returned. An account that is not active is a business rejection:
// the identity is cleared, the token purged and the response returned with a
// nil error so the caller can inspect it. On failure the state is untouched.
func (s *Store) Login(ctx context.Context, creds auth.Credentials) (*auth.AuthResponse, error) {
	if strings.TrimSpace(creds.Email) == "" {
		s.metrics.RecordAuthFailure("login", "validation")
		return nil, &auth.ValidationError{Field: "email", Message: "Email is required"}
	}
	if creds.Password == "" {
		s.metrics.RecordAuthFailure("login", "validation")
		return nil, &auth.ValidationError{Field: "password", Message: "Password is required"}
	}

	resp, err := s.api.Login(ctx, creds)
	if err != nil {
		s.metrics.RecordAuthFailure("login", failureReason(err))
		return nil, fmt.Errorf("auth/session: login: %w", err)
	}
	if resp == nil || resp.User == nil {
		s.metrics.RecordAuthFailure("login", "no_identity")
		return nil, ErrNoIdentity
	}

	if !resp.User.Active() {
		s.logger.Info("login rejected: account not active", "email", resp.User.Email, "status", resp.User.Status)
		s.purge(ctx)
		s.set(nil)
		s.metrics.RecordAuthFailure("login", "inactive")
		return resp, nil
	}

	s.set(resp.User)
	s.metrics.RecordAuthSuccess("login")
	return resp, nil
}

// Logout ends the session. The identity is cleared and the token purged
// whether or not the server call succeeds.
func (s *Store) Logout(ctx context.Context) {
	if err := s.api.Logout(ctx); err != nil {
		s.logger.Warn("logout request failed", "error", err)
	}
	s.purge(context.WithoutCancel(ctx))
	s.set(nil)
	s.metrics.RecordAuthSuccess("logout")
}

// Signup registers an account. The role defaults to learner. Signup never
// changes the identity: the account still has to verify its email.
func (s *Store) Signup(ctx context.Context, req auth.SignupRequest) (*auth.SignupResponse, error) {
	if req.Role == "" {
		req.Role = auth.RoleLearner
	}
	resp, err := s.api.Signup(ctx, req)
	if err != nil {
		s.metrics.RecordAuthFailure("signup", failureReason(err))
		return nil, fmt.Errorf("auth/session: signup: %w", err)
	}
	s.metrics.RecordAuthSuccess("signup")
	return resp, nil
}

// Refresh re-probes the current session under the probe timeout and adopts
// the result. Concurrent calls share one probe.
func (s *Store) Refresh(ctx context.Context) (*auth.Identity, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()

		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
		id, err := s.api.Me(probeCtx)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			s.metrics.RecordProbe("stale")
			return nil, ErrSuperseded
		}
		var resultErr error
		switch {
		case err != nil:
			id, resultErr = nil, fmt.Errorf("auth/session: refresh: %w", err)
		case id == nil:
			resultErr = ErrNoIdentity
		case !id.Active():
			id, resultErr = nil, ErrInactive
		}
		snap, subs := s.setLocked(id)
		s.mu.Unlock()

		if errors.Is(resultErr, ErrInactive) {
			s.purge(ctx)
		}
		if resultErr != nil {
			s.metrics.RecordProbe("failed")
		} else {
			s.metrics.RecordProbe("ok")
		}
		notify(subs, snap)
		return snap.Identity, resultErr
	})
	id, _ := v.(*auth.Identity)
	return id.Clone(), err
}

// IsAuthenticated reports whether a fully authenticated identity is present.
func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().Authenticated()
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive every new snapshot. Under concurrent
// mutation deliveries may interleave; Snapshot is authoritative.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// HandleUnauthorized drops the identity when the server rejects the session
// on an ordinary request. Auth endpoints and the initial probe handle their
// own 401s and are ignored here. A 401 for a bearer token that has since been
// replaced, or one that races a newer session update, is stale and ignored.
func (s *Store) HandleUnauthorized(req *http.Request) {
	for _, p := range s.exempt {
		if strings.HasSuffix(req.URL.Path, p) {
			return
		}
	}

	s.mu.RLock()
	skip := s.loading || s.identity == nil
	gen := s.gen
	s.mu.RUnlock()
	if skip {
		return
	}

	ctx := context.WithoutCancel(req.Context())
	sent := bearerToken(req)
	if sent != "" && s.tokens != nil {
		if cur, err := s.tokens.Get(ctx); err == nil && cur != sent {
			s.logger.Debug("ignoring 401 for a replaced token", "path", req.URL.Path)
			return
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("ignoring 401 superseded by a session update", "path", req.URL.Path)
		return
	}
	snap, subs := s.setLocked(nil)
	s.mu.Unlock()

	s.logger.Info("session rejected by server", "path", req.URL.Path)
	s.purgeToken(ctx, sent)
	notify(subs, snap)
}

func (s *Store) set(id *auth.Identity) {
	s.mu.Lock()
	snap, subs := s.setLocked(id)
	s.mu.Unlock()
	notify(subs, snap)
}

// setLocked must be called with s.mu held.
func (s *Store) setLocked(id *auth.Identity) (Snapshot, []func(Snapshot)) {
	s.gen++
	s.identity = id.Clone()
	s.loading = false

	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return s.snapshotLocked(), subs
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Identity: s.identity.Clone(), Loading: s.loading}
}

func (s *Store) purge(ctx context.Context) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear session token", "error", err)
	}
}

// purgeToken clears the stored token unless it was replaced after the
// rejected request carried sent.
func (s *Store) purgeToken(ctx context.Context, sent string) {
	if s.tokens == nil {
		return
	}
	if sent != "" {
		if cur, err := s.tokens.Get(ctx); err == nil && cur != sent {
			return
		}
	}
	s.purge(ctx)
}

func bearerToken(req *http.Request) string {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func failureReason(err error) string {
	if status := auth.StatusOf(err); status != 0 {
		return strconv.Itoa(status)
	}
	var tErr *auth.TransportError
	if errors.As(err, &tErr) {
		return "transport"
	}
	return "error"
}
