// Package fake provides an in-memory implementation of the platform's /auth
// API for tests and demos.
//
// Use fake.New() with httptest, or Start(), to exercise the gateway, the
// session store and the lifecycle without a real backend.
package fake

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/shreegurucool/auth-go"
)

// Option configures the fake server.
type Option func(*Server)

type account struct {
	identity auth.Identity
	hash     []byte
	verified bool
	otp      string
	resends  int
}

// Server is a fake auth backend. It implements http.Handler.
type Server struct {
	mu         sync.Mutex
	accounts   map[string]*account // email → account
	sessions   map[string]string   // token → email
	otpGen     func() string
	meDelay    time.Duration
	failLogout bool
	logouts    int
	secret     []byte
	tokenTTL   time.Duration

	router chi.Router
}

// WithUser adds an account. password is stored hashed; verified marks the
// email as already confirmed.
func WithUser(id auth.Identity, password string, verified bool) Option {
	return func(s *Server) {
		if id.ID == "" {
			id.ID = uuid.NewString()
		}
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		s.accounts[strings.ToLower(id.Email)] = &account{identity: id, hash: hash, verified: verified}
	}
}

// WithOTPGenerator replaces the random 6-digit code generator.
func WithOTPGenerator(fn func() string) Option {
	return func(s *Server) { s.otpGen = fn }
}

// WithMeDelay delays every /auth/me answer.
func WithMeDelay(d time.Duration) Option {
	return func(s *Server) { s.meDelay = d }
}

// WithLogoutFailure makes /auth/logout answer 500.
func WithLogoutFailure() Option {
	return func(s *Server) { s.failLogout = true }
}

// WithTokenTTL sets the lifetime of issued tokens. Default: 1h.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// New creates a fake server.
func New(opts ...Option) *Server {
	s := &Server{
		accounts: make(map[string]*account),
		sessions: make(map[string]string),
		otpGen:   randomOTP,
		secret:   []byte("fake-signing-key"),
		tokenTTL: time.Hour,
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.handleSignup)
			r.Post("/verify-email", s.handleVerifyEmail)
			r.Post("/resend-verification-otp", s.handleResend)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})
		r.Get("/student/dashboard-stats", s.handleDashboardStats)
	})
	s.router = r
	return s
}

// Start serves s on a local httptest server. The API root is URL + "/api".
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OTP returns the outstanding verification code for email.
func (s *Server) OTP(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		return a.otp
	}
	return ""
}

// Approve marks a learner as approved.
func (s *Server) Approve(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		a.identity.Approved = true
	}
}

// SetStatus changes the account status.
func (s *Server) SetStatus(email string, status auth.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		a.identity.Status = status
	}
}

// ResendCount returns how many times a code was re-sent to email.
func (s *Server) ResendCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		return a.resends
	}
	return 0
}

// LogoutCalls returns how many logout requests were received.
func (s *Server) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// --- handlers ---

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body"})
		return
	}

	var fieldErrs []auth.FieldMessage
	if strings.TrimSpace(req.Name) == "" {
		fieldErrs = append(fieldErrs, auth.FieldMessage{Msg: "Name is required", Path: "name"})
	}
	if !strings.Contains(req.Email, "@") {
		fieldErrs = append(fieldErrs, auth.FieldMessage{Msg: "Please provide a valid email", Path: "email"})
	}
	if len(req.Password) < 8 {
		fieldErrs = append(fieldErrs, auth.FieldMessage{Msg: "Password must be at least 8 characters", Path: "password"})
	}
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": fieldErrs})
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleLearner
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Server error"})
		return
	}

	key := strings.ToLower(req.Email)
	s.mu.Lock()
	if _, exists := s.accounts[key]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "User already exists"})
		return
	}
	s.accounts[key] = &account{
		identity: auth.Identity{
			ID:       uuid.NewString(),
			Name:     req.Name,
			Email:    req.Email,
			Role:     req.Role,
			Status:   auth.StatusActive,
			Approved: req.Role != auth.RoleLearner,
		},
		hash: hash,
		otp:  s.otpGen(),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "OTP sent to your email",
		"email":   req.Email,
	})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "User not found"})
		return
	}
	if a.otp == "" || a.otp != req.OTP {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid or expired OTP"})
		return
	}
	a.verified = true
	a.otp = ""
	id := a.identity
	s.mu.Unlock()

	s.issue(w, id, "Email verified successfully")
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "User not found"})
		return
	}
	if a.verified {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Email already verified"})
		return
	}
	a.otp = s.otpGen()
	a.resends++
	writeJSON(w, http.StatusOK, map[string]any{"message": "OTP resent to your email"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(creds.Email)]
	var (
		hash     []byte
		verified bool
		id       auth.Identity
	)
	if ok {
		hash, verified, id = a.hash, a.verified, a.identity
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "User not found"})
		return
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
		return
	}
	if !verified {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Please verify your email first"})
		return
	}
	// Suspended accounts still receive a session; the client decides.
	s.issue(w, id, "Login successful")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logouts++
	fail := s.failLogout
	if !fail {
		if token := bearer(r); token != "" {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Server error"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: auth.TokenKey, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.meDelay > 0 {
		select {
		case <-time.After(s.meDelay):
		case <-r.Context().Done():
			return
		}
	}
	id, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Not authorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Not authorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"student": id.ID, "enrolledCourses": 0})
}

// --- helpers ---

func (s *Server) issue(w http.ResponseWriter, id auth.Identity, message string) {
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.ID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}).SignedString(s.secret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Server error"})
		return
	}

	s.mu.Lock()
	s.sessions[token] = strings.ToLower(id.Email)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: auth.TokenKey, Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"token":   token,
		"user":    id,
	})
}

// authenticate resolves the caller from the bearer token or the session cookie.
func (s *Server) authenticate(r *http.Request) (auth.Identity, bool) {
	token := bearer(r)
	if token == "" {
		if c, err := r.Cookie(auth.TokenKey); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return auth.Identity{}, false
	}
	if _, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return auth.Identity{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.sessions[token]
	if !ok {
		return auth.Identity{}, false
	}
	a, ok := s.accounts[email]
	if !ok {
		return auth.Identity{}, false
	}
	return a.identity, true
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
