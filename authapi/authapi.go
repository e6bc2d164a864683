// Package authapi binds the platform's /auth endpoints to auth.AuthAPI.
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/gateway"
)

// Endpoint paths, relative to the API root.
const (
	PathSignup      = "/auth/signup"
	PathVerifyEmail = "/auth/verify-email"
	PathResendOTP   = "/auth/resend-verification-otp"
	PathLogin       = "/auth/login"
	PathLogout      = "/auth/logout"
	PathMe          = "/auth/me"
)

// Paths lists every endpoint the service calls.
var Paths = []string{PathSignup, PathVerifyEmail, PathResendOTP, PathLogin, PathLogout, PathMe}

// ErrNoIdentity is returned by Me when the server answers without a user.
var ErrNoIdentity = errors.New("auth/api: response carries no identity")

// Service calls the auth endpoints through the request gateway.
type Service struct {
	gw     *gateway.Gateway
	tokens auth.TokenStore
	logger *slog.Logger
}

// compile-time check
var _ auth.AuthAPI = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates an auth endpoint service. Tokens returned by the server are
// persisted in tokens.
func New(gw *gateway.Gateway, tokens auth.TokenStore, opts ...Option) *Service {
	s := &Service{gw: gw, tokens: tokens, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Signup registers a new account.
func (s *Service) Signup(ctx context.Context, req auth.SignupRequest) (*auth.SignupResponse, error) {
	var resp auth.SignupResponse
	if err := s.gw.Post(ctx, PathSignup, req, &resp); err != nil {
		return nil, fmt.Errorf("auth/api: signup: %w", err)
	}
	s.persist(ctx, resp.Token)
	return &resp, nil
}

// VerifyEmail submits the verification code.
func (s *Service) VerifyEmail(ctx context.Context, email, otp string) (*auth.AuthResponse, error) {
	body := map[string]string{"email": email, "otp": otp}
	var resp auth.AuthResponse
	if err := s.gw.Post(ctx, PathVerifyEmail, body, &resp); err != nil {
		return nil, fmt.Errorf("auth/api: verify email: %w", err)
	}
	s.persist(ctx, resp.Token)
	return &resp, nil
}

// ResendOTP requests a fresh verification code.
func (s *Service) ResendOTP(ctx context.Context, email string) error {
	if err := s.gw.Post(ctx, PathResendOTP, map[string]string{"email": email}, nil); err != nil {
		return fmt.Errorf("auth/api: resend otp: %w", err)
	}
	return nil
}

// Login exchanges credentials for a session.
func (s *Service) Login(ctx context.Context, creds auth.Credentials) (*auth.AuthResponse, error) {
	var resp auth.AuthResponse
	if err := s.gw.Post(ctx, PathLogin, creds, &resp); err != nil {
		return nil, fmt.Errorf("auth/api: login: %w", err)
	}
	s.persist(ctx, resp.Token)
	return &resp, nil
}

// Logout invalidates the server session. The local token is left to the caller.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.gw.Post(ctx, PathLogout, nil, nil); err != nil {
		return fmt.Errorf("auth/api: logout: %w", err)
	}
	return nil
}

// Me returns the identity of the current session. The server may wrap the
// identity as {"user": {...}} or return it bare.
func (s *Service) Me(ctx context.Context) (*auth.Identity, error) {
	var raw json.RawMessage
	if err := s.gw.Get(ctx, PathMe, &raw); err != nil {
		return nil, fmt.Errorf("auth/api: me: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoIdentity
	}

	var wrapped struct {
		User *auth.Identity `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("auth/api: me: decode: %w", err)
	}
	if wrapped.User != nil {
		return wrapped.User, nil
	}

	var bare auth.Identity
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("auth/api: me: decode: %w", err)
	}
	if bare.ID == "" && bare.Email == "" {
		return nil, ErrNoIdentity
	}
	return &bare, nil
}

func (s *Service) persist(ctx context.Context, token string) {
	if token == "" || s.tokens == nil {
		return
	}
	if err := s.tokens.Set(ctx, token); err != nil {
		s.logger.Warn("failed to persist session token", "error", err)
	}
}
