package bootstrap

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/audit"
	"github.com/shreegurucool/auth-go/fake"
	"github.com/shreegurucool/auth-go/gate"
	"github.com/shreegurucool/auth-go/lifecycle"
	"github.com/shreegurucool/auth-go/tokenstore"
)

var mentor = auth.Identity{
	ID:       "m1",
	Name:     "Meera",
	Email:    "meera@example.com",
	Role:     auth.RoleMentor,
	Status:   auth.StatusActive,
	Approved: true,
}

func startRuntime(t *testing.T, srv *fake.Server, mutate func(*auth.Config), opts ...Option) *Runtime {
	t.Helper()
	ts := srv.Start()
	t.Cleanup(ts.Close)

	cfg := auth.Config{BaseURL: ts.URL + "/api", ProbeTimeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	rt, err := New(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(auth.Config{}, nil); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := New(auth.Config{BaseURL: "http://localhost", TokenStore: "redis"}, nil); err == nil {
		t.Error("expected error for redis store without address")
	}
}

func TestNew_SelectsTokenStore(t *testing.T) {
	path := t.TempDir() + "/storage.json"
	rt, err := New(auth.Config{BaseURL: "http://localhost/api", TokenStore: "file", TokenFile: path}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer rt.Close()
	f, ok := rt.Tokens.(*tokenstore.File)
	if !ok || f.Path() != path {
		t.Errorf("Tokens = %T, want *tokenstore.File at %s", rt.Tokens, path)
	}
	if rt.Gate.EntryPath() != auth.DefaultEntryPath {
		t.Errorf("EntryPath = %q", rt.Gate.EntryPath())
	}
}

func TestStart_Anonymous(t *testing.T) {
	rt := startRuntime(t, fake.New(), nil)

	st, err := rt.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if st.Kind() != lifecycle.Anonymous {
		t.Errorf("state = %v, want Anonymous", st)
	}
	if d := rt.Gate.Check(); d.Action != gate.Redirect || d.To != auth.DefaultEntryPath {
		t.Errorf("decision = %+v", d)
	}
}

func TestStart_ResumesStoredSession(t *testing.T) {
	srv := fake.New(fake.WithUser(mentor, "Secret#123", true))
	tokens := tokenstore.NewMemory()

	first := startRuntime(t, srv, nil, WithTokenStore(tokens))
	if _, err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Machine.SubmitLogin(context.Background(), auth.Credentials{Email: mentor.Email, Password: "Secret#123"}); err != nil {
		t.Fatalf("SubmitLogin() error: %v", err)
	}

	// A second runtime sharing the token store picks the session up.
	second := startRuntime(t, srv, nil, WithTokenStore(tokens))
	st, err := second.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if st.Kind() != lifecycle.Authenticated || st.Identity().ID != mentor.ID {
		t.Errorf("state = %v", st)
	}
	if d := second.Gate.Check(); d.Action != gate.Render {
		t.Errorf("decision = %+v, want Render", d)
	}
}

func TestSignupThenVerify(t *testing.T) {
	srv := fake.New(fake.WithOTPGenerator(func() string { return "123456" }))
	var out bytes.Buffer
	rt := startRuntime(t, srv, nil, WithAuditOptions(audit.WithWriterHandler(&out)))
	ctx := context.Background()
	if _, err := rt.Start(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := rt.Machine.SubmitSignup(ctx, lifecycle.SignupForm{
		Name:            "Asha",
		Email:           "a@b.com",
		Password:        "Secret#123",
		ConfirmPassword: "Secret#123",
	})
	if err != nil {
		t.Fatalf("SubmitSignup() error: %v", err)
	}
	if ch, ok := st.OTP(); st.Kind() != lifecycle.OtpPending || !ok || ch.Email != "a@b.com" {
		t.Fatalf("state = %v", st)
	}

	st, err = rt.Machine.SubmitOTP(ctx, "000000")
	if err == nil {
		t.Fatal("SubmitOTP(000000) should fail")
	}
	if ch, _ := st.OTP(); st.Kind() != lifecycle.OtpPending || ch.Code != "" || st.Message() == "" {
		t.Errorf("after rejection state = %v message %q", st, st.Message())
	}

	st, err = rt.Machine.SubmitOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("SubmitOTP() error: %v", err)
	}
	if st.Kind() != lifecycle.ApprovalPending {
		t.Errorf("state = %v, want ApprovalPending", st)
	}
	if tok, _ := rt.Tokens.Get(ctx); tok == "" {
		t.Error("verification should persist the issued token")
	}

	rt.Audit.Close()
	if !strings.Contains(out.String(), `"action":"verify_otp"`) {
		t.Errorf("audit log missing verify_otp: %s", out.String())
	}
}

func TestUnauthorizedResponseClearsSession(t *testing.T) {
	srv := fake.New(fake.WithUser(mentor, "Secret#123", true))
	rt := startRuntime(t, srv, func(c *auth.Config) { c.DisableCredentials = true })
	ctx := context.Background()
	if _, err := rt.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Machine.SubmitLogin(ctx, auth.Credentials{Email: mentor.Email, Password: "Secret#123"}); err != nil {
		t.Fatalf("SubmitLogin() error: %v", err)
	}
	if !rt.Session.IsAuthenticated() {
		t.Fatal("session should be authenticated after login")
	}

	if err := rt.Gateway.Get(ctx, "/student/dashboard-stats", nil); err != nil {
		t.Fatalf("protected call with token: %v", err)
	}

	// The server no longer recognises the session.
	if err := rt.Tokens.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	err := rt.Gateway.Get(ctx, "/student/dashboard-stats", nil)
	if auth.StatusOf(err) != 401 {
		t.Fatalf("status = %d, want 401 (err %v)", auth.StatusOf(err), err)
	}
	if rt.Session.Snapshot().Identity != nil {
		t.Error("401 on a protected call should clear the identity")
	}
	if d := rt.Gate.Check(); d.Action != gate.Redirect {
		t.Errorf("decision = %+v, want Redirect", d)
	}
	if st := rt.Machine.State(); st.Kind() != lifecycle.Anonymous || st.Message() != lifecycle.MsgSessionExpired {
		t.Errorf("machine state = %v message %q, want Anonymous after the session was rejected", st, st.Message())
	}

	st, err := rt.Machine.SubmitLogin(ctx, auth.Credentials{Email: mentor.Email, Password: "Secret#123"})
	if err != nil || st.Kind() != lifecycle.Authenticated {
		t.Fatalf("login after rejection: state = %v, err = %v", st, err)
	}
	if !rt.Session.IsAuthenticated() {
		t.Error("session should be authenticated after logging in again")
	}
}
