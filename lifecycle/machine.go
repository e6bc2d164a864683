// Package lifecycle drives sign-up, email verification, approval gating,
// login and logout as an explicit state machine.
//
// A Machine moves between the states of Kind. Transitional states
// (CredentialsSubmitting, OtpVerifying) exist only while a network call is
// outstanding; a second operation submitted meanwhile returns ErrBusy.
// Failures never escape as unusable states: every failure path lands in a
// state carrying a message suitable for display.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/audit"
	"github.com/shreegurucool/auth-go/metrics"
	"github.com/shreegurucool/auth-go/session"
)

// Sessions is the session store surface the machine drives.
// *session.Store implements it.
type Sessions interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.SignupResponse, error)
	Login(ctx context.Context, creds auth.Credentials) (*auth.AuthResponse, error)
	Logout(ctx context.Context)
	Refresh(ctx context.Context) (*auth.Identity, error)
}

// Verifier checks and re-sends email verification codes.
// auth.AuthAPI implements it.
type Verifier interface {
	VerifyEmail(ctx context.Context, email, otp string) (*auth.AuthResponse, error)
	ResendOTP(ctx context.Context, email string) error
}

var (
	ErrBusy              = errors.New("lifecycle: an operation is already in progress")
	ErrInvalidTransition = errors.New("lifecycle: operation not allowed in the current state")
	ErrCooldown          = errors.New("lifecycle: resend blocked until the cooldown expires")
	ErrLoading           = errors.New("lifecycle: session probe has not settled")
)

// Messages shown to the user.
const (
	MsgSignupFailed       = "Failed to create account"
	MsgIncompleteOTP      = "Please enter complete OTP"
	MsgInvalidOTP         = "Invalid OTP. Please try again."
	MsgResendFailed       = "Failed to resend OTP"
	MsgInvalidCredentials = "Invalid email or password"
	MsgNoAccount          = "No account found with this email"
	MsgVerifyFirst        = "Please verify your email before logging in"
	MsgLoginFailed        = "Failed to login. Please check your credentials."
	MsgSignUpFirst        = "Please sign up first"
	MsgSignInAfterVerify  = "Email verified. Please sign in to continue."
	MsgSessionExpired     = "Your session has expired. Please log in again."

	ReasonInactive = "account not active"
)

// Machine is the auth lifecycle state machine. It is safe for concurrent use.
type Machine struct {
	sessions Sessions
	verifier Verifier
	now      func() time.Time
	cooldown time.Duration
	auditor  *audit.Logger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	forms    *formValidator

	busy     atomic.Bool
	mu       sync.RWMutex
	state    State
	resendAt time.Time
}

// Option configures the Machine.
type Option func(*Machine)

// WithClock sets the clock driving the resend cooldown. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithCooldown sets the resend cooldown. Default: auth.DefaultResendCooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Machine) { m.cooldown = d }
}

// WithAuditor records every transition.
func WithAuditor(a *audit.Logger) Option {
	return func(m *Machine) { m.auditor = a }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics counts transitions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// New creates a Machine in the Anonymous state.
func New(sessions Sessions, verifier Verifier, opts ...Option) *Machine {
	m := &Machine{
		sessions: sessions,
		verifier: verifier,
		now:      time.Now,
		cooldown: auth.DefaultResendCooldown,
		logger:   slog.Default(),
		forms:    newFormValidator(),
		state:    anonymous(""),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Cooldown returns how long resends stay blocked.
func (m *Machine) Cooldown() time.Duration {
	m.mu.RLock()
	until := m.resendAt
	m.mu.RUnlock()
	if until.IsZero() {
		return 0
	}
	if d := until.Sub(m.now()); d > 0 {
		return d
	}
	return 0
}

// CooldownSeconds returns the cooldown rounded up to whole seconds.
func (m *Machine) CooldownSeconds() int {
	return int((m.Cooldown() + time.Second - 1) / time.Second)
}

// ResendAvailableAt returns when the next resend is allowed. It is zero when
// no resend has happened for the current challenge.
func (m *Machine) ResendAvailableAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resendAt
}

// RestoreCooldown carries a resend deadline over from an earlier machine
// for the same challenge. Deadlines already past are ignored.
func (m *Machine) RestoreCooldown(until time.Time) error {
	cur, err := m.begin(OtpPending)
	if err != nil {
		return err
	}
	defer m.end()

	if !until.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	if until.After(m.resendAt) {
		m.resendAt = until
	}
	m.mu.Unlock()
	m.logger.Debug("resend cooldown restored", "email", cur.otp.Email, "until", until)
	return nil
}

// SubmitSignup validates the form locally and registers the account.
// Success moves to OtpPending for the registered email.
func (m *Machine) SubmitSignup(ctx context.Context, form SignupForm) (State, error) {
	if _, err := m.begin(Anonymous, Rejected); err != nil {
		return m.State(), err
	}
	defer m.end()

	if err := m.forms.check(form); err != nil {
		return m.transition(ctx, "signup", anonymous(auth.MessageOf(err)), "invalid", err), err
	}

	m.transition(ctx, "signup", submitting(), "pending", nil)
	resp, err := m.sessions.Signup(ctx, auth.SignupRequest{
		Name:     strings.TrimSpace(form.Name),
		Email:    strings.TrimSpace(form.Email),
		Password: form.Password,
		Role:     form.Role,
	})
	if err != nil {
		return m.transition(ctx, "signup", anonymous(messageOr(err, MsgSignupFailed)), "failure", err), err
	}

	email := strings.TrimSpace(form.Email)
	if resp != nil && resp.Email != "" {
		email = resp.Email
	}
	m.clearCooldown()
	return m.transition(ctx, "signup", otpPending(email, strings.TrimSpace(form.Name), ""), "success", nil), nil
}

// ResumeOTP enters OtpPending for an account registered earlier.
func (m *Machine) ResumeOTP(ctx context.Context, email, name string) (State, error) {
	if _, err := m.begin(Anonymous, Rejected); err != nil {
		return m.State(), err
	}
	defer m.end()

	if strings.TrimSpace(email) == "" {
		vErr := &auth.ValidationError{Field: "email", Message: MsgSignUpFirst}
		return m.transition(ctx, "resume_otp", anonymous(MsgSignUpFirst), "invalid", vErr), vErr
	}
	m.clearCooldown()
	return m.transition(ctx, "resume_otp", otpPending(strings.TrimSpace(email), name, ""), "success", nil), nil
}

// SubmitOTP verifies the emailed code. Any failure returns to OtpPending
// with the code cleared.
func (m *Machine) SubmitOTP(ctx context.Context, code string) (State, error) {
	cur, err := m.begin(OtpPending)
	if err != nil {
		return cur, err
	}
	defer m.end()
	ch := cur.otp

	if !validOTP(code) {
		vErr := &auth.ValidationError{Field: "otp", Message: MsgIncompleteOTP}
		return m.transition(ctx, "verify_otp", otpPending(ch.Email, ch.Name, MsgIncompleteOTP), "invalid", vErr), vErr
	}

	m.transition(ctx, "verify_otp", otpVerifying(ch, code), "pending", nil)
	resp, err := m.verifier.VerifyEmail(ctx, ch.Email, code)
	if err != nil {
		next := otpPending(ch.Email, ch.Name, messageOr(err, MsgInvalidOTP))
		return m.transition(ctx, "verify_otp", next, "failure", err), fmt.Errorf("lifecycle: verify otp: %w", err)
	}

	next, result, cause := m.afterVerify(ctx, resp)
	return m.transition(ctx, "verify_otp", next, result, cause), nil
}

func (m *Machine) afterVerify(ctx context.Context, resp *auth.AuthResponse) (State, string, error) {
	var id *auth.Identity
	if resp != nil {
		id = resp.User
	}
	refreshed := false
	if id == nil {
		rid, err := m.sessions.Refresh(ctx)
		if err != nil {
			return anonymous(MsgSignInAfterVerify), "partial", err
		}
		id, refreshed = rid, true
	}

	if !id.Active() {
		m.sessions.Logout(ctx)
		return rejected(ReasonInactive), "rejected", nil
	}
	if id.PendingApproval() {
		return approvalPending(id), "success", nil
	}
	if !refreshed {
		// Adopt the server session so the store agrees with the machine.
		rid, err := m.sessions.Refresh(ctx)
		if err != nil {
			return anonymous(MsgSignInAfterVerify), "partial", err
		}
		if rid.PendingApproval() {
			return approvalPending(rid), "success", nil
		}
		id = rid
	}
	return authenticated(id), "success", nil
}

// ResendOTP asks for a fresh code. It returns ErrCooldown without calling the
// server while the cooldown runs. Success restarts the cooldown.
func (m *Machine) ResendOTP(ctx context.Context) (State, error) {
	cur, err := m.begin(OtpPending)
	if err != nil {
		return cur, err
	}
	defer m.end()
	ch := cur.otp

	if m.Cooldown() > 0 {
		return cur, ErrCooldown
	}

	if err := m.verifier.ResendOTP(ctx, ch.Email); err != nil {
		next := otpPending(ch.Email, ch.Name, messageOr(err, MsgResendFailed))
		return m.transition(ctx, "resend_otp", next, "failure", err), fmt.Errorf("lifecycle: resend otp: %w", err)
	}

	m.mu.Lock()
	m.resendAt = m.now().Add(m.cooldown)
	m.mu.Unlock()
	return m.transition(ctx, "resend_otp", otpPending(ch.Email, ch.Name, ""), "success", nil), nil
}

// SubmitLogin exchanges credentials for a session and classifies the
// returned account.
func (m *Machine) SubmitLogin(ctx context.Context, creds auth.Credentials) (State, error) {
	if _, err := m.begin(Anonymous, Rejected); err != nil {
		return m.State(), err
	}
	defer m.end()

	m.transition(ctx, "login", submitting(), "pending", nil)
	resp, err := m.sessions.Login(ctx, creds)
	if err == nil && (resp == nil || resp.User == nil) {
		err = session.ErrNoIdentity
	}
	if err != nil {
		return m.transition(ctx, "login", anonymous(loginMessage(err)), "failure", err), err
	}

	id := resp.User
	switch {
	case !id.Active():
		return m.transition(ctx, "login", rejected(ReasonInactive), "rejected", nil), nil
	case id.PendingApproval():
		return m.transition(ctx, "login", approvalPending(id), "success", nil), nil
	default:
		return m.transition(ctx, "login", authenticated(id), "success", nil), nil
	}
}

// Logout ends the session and returns to Anonymous. Logging out while
// Anonymous does nothing.
func (m *Machine) Logout(ctx context.Context) (State, error) {
	cur, err := m.begin(Anonymous, Authenticated, ApprovalPending, Rejected)
	if err != nil {
		return cur, err
	}
	defer m.end()

	if cur.kind == Anonymous {
		return cur, nil
	}
	m.sessions.Logout(ctx)
	return m.transition(ctx, "logout", anonymous(""), "success", nil), nil
}

// Back abandons OtpPending, ApprovalPending or Rejected. Leaving
// ApprovalPending also ends the server session.
func (m *Machine) Back(ctx context.Context) (State, error) {
	cur, err := m.begin(OtpPending, ApprovalPending, Rejected)
	if err != nil {
		return cur, err
	}
	defer m.end()

	if cur.kind == ApprovalPending {
		m.sessions.Logout(ctx)
	}
	return m.transition(ctx, "back", anonymous(""), "success", nil), nil
}

// Resume derives the state of a returning user from a settled session snapshot.
func (m *Machine) Resume(ctx context.Context, snap session.Snapshot) (State, error) {
	cur, err := m.begin(Anonymous)
	if err != nil {
		return cur, err
	}
	defer m.end()

	if snap.Loading {
		return cur, ErrLoading
	}
	id := snap.Identity
	switch {
	case id == nil:
		return cur, nil
	case !id.Active():
		return m.transition(ctx, "resume", rejected(ReasonInactive), "rejected", nil), nil
	case id.PendingApproval():
		return m.transition(ctx, "resume", approvalPending(id), "success", nil), nil
	default:
		return m.transition(ctx, "resume", authenticated(id), "success", nil), nil
	}
}

// SessionChanged follows session updates made outside the machine, such as
// a 401 on an ordinary request. When the session is gone while the machine
// shows Authenticated or ApprovalPending, it returns to Anonymous. Updates
// arriving while an operation is in flight belong to that operation and are
// ignored. Pass it to session.Store.Subscribe.
func (m *Machine) SessionChanged(snap session.Snapshot) {
	if snap.Loading || snap.Identity != nil {
		return
	}
	if _, err := m.begin(Authenticated, ApprovalPending); err != nil {
		return
	}
	defer m.end()

	m.transition(context.Background(), "session_expired", anonymous(MsgSessionExpired), "expired", nil)
}

func (m *Machine) begin(allowed ...Kind) (State, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return m.State(), ErrBusy
	}
	cur := m.State()
	if !slices.Contains(allowed, cur.kind) {
		m.busy.Store(false)
		return cur, fmt.Errorf("%w: %s", ErrInvalidTransition, cur)
	}
	return cur, nil
}

func (m *Machine) end() { m.busy.Store(false) }

func (m *Machine) clearCooldown() {
	m.mu.Lock()
	m.resendAt = time.Time{}
	m.mu.Unlock()
}

func (m *Machine) transition(ctx context.Context, action string, next State, result string, cause error) State {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	m.metrics.RecordTransition(prev.kind.String(), next.kind.String())

	ev := audit.Event{
		RequestID: auth.RequestIDFromContext(ctx),
		Action:    action,
		From:      prev.String(),
		To:        next.String(),
		Result:    result,
		Details:   next.message,
	}
	switch {
	case next.identity != nil:
		ev.UserID, ev.Email = next.identity.ID, next.identity.Email
	case next.otp.Email != "":
		ev.Email = next.otp.Email
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	auditor := m.auditor
	if auditor == nil {
		auditor = audit.FromContext(ctx)
	}
	auditor.Log(ev)

	m.logger.Debug("lifecycle transition", "action", action, "from", prev.String(), "to", next.String(), "result", result)
	return next
}

func messageOr(err error, fallback string) string {
	if msg := auth.MessageOf(err); msg != "" {
		return msg
	}
	return fallback
}

func loginMessage(err error) string {
	var vErr *auth.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	switch auth.StatusOf(err) {
	case 401:
		return MsgInvalidCredentials
	case 404:
		return MsgNoAccount
	case 403:
		return messageOr(err, MsgVerifyFirst)
	default:
		return MsgLoginFailed
	}
}
