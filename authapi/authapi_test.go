package authapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/authapi"
	"github.com/shreegurucool/auth-go/fake"
	"github.com/shreegurucool/auth-go/gateway"
	"github.com/shreegurucool/auth-go/tokenstore"
)

func newService(t *testing.T, h http.Handler) (*authapi.Service, *tokenstore.Memory) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := tokenstore.NewMemory()
	gw, err := gateway.New(srv.URL+"/api", gateway.WithTokenStore(tokens), gateway.WithCredentials(false))
	if err != nil {
		t.Fatalf("gateway.New() error: %v", err)
	}
	return authapi.New(gw, tokens), tokens
}

func backend() *fake.Server {
	return fake.New(
		fake.WithOTPGenerator(func() string { return "654321" }),
		fake.WithUser(auth.Identity{ID: "m1", Name: "Meera", Email: "meera@example.com", Role: auth.RoleMentor, Status: auth.StatusActive, Approved: true}, "Secret#123", true),
	)
}

func TestLogin_PersistsToken(t *testing.T) {
	svc, tokens := newService(t, backend())
	ctx := context.Background()

	resp, err := svc.Login(ctx, auth.Credentials{Email: "meera@example.com", Password: "Secret#123"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if resp.User == nil || resp.User.ID != "m1" {
		t.Fatalf("User = %+v", resp.User)
	}
	if tok, _ := tokens.Get(ctx); tok == "" || tok != resp.Token {
		t.Errorf("stored token = %q, want %q", tok, resp.Token)
	}

	id, err := svc.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if id.Email != "meera@example.com" {
		t.Errorf("Me() = %+v", id)
	}
}

func TestLogin_ErrorsKeepStatus(t *testing.T) {
	svc, tokens := newService(t, backend())
	ctx := context.Background()

	_, err := svc.Login(ctx, auth.Credentials{Email: "meera@example.com", Password: "wrong"})
	if auth.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("StatusOf() = %d, want 401 (err %v)", auth.StatusOf(err), err)
	}
	if tok, _ := tokens.Get(ctx); tok != "" {
		t.Errorf("token stored after failed login: %q", tok)
	}
}

func TestSignupVerifyResend(t *testing.T) {
	srv := backend()
	svc, tokens := newService(t, srv)
	ctx := context.Background()

	resp, err := svc.Signup(ctx, auth.SignupRequest{Name: "Asha", Email: "a@b.com", Password: "Secret#123", Role: auth.RoleLearner})
	if err != nil {
		t.Fatalf("Signup() error: %v", err)
	}
	if resp.Email != "a@b.com" || resp.Message == "" {
		t.Errorf("Signup() = %+v", resp)
	}

	if err := svc.ResendOTP(ctx, "a@b.com"); err != nil {
		t.Fatalf("ResendOTP() error: %v", err)
	}
	if srv.ResendCount("a@b.com") != 1 {
		t.Errorf("ResendCount() = %d", srv.ResendCount("a@b.com"))
	}

	_, err = svc.VerifyEmail(ctx, "a@b.com", "000000")
	if auth.StatusOf(err) != http.StatusBadRequest {
		t.Errorf("wrong code StatusOf() = %d", auth.StatusOf(err))
	}
	if auth.MessageOf(err) != "Invalid or expired OTP" {
		t.Errorf("MessageOf() = %q", auth.MessageOf(err))
	}

	v, err := svc.VerifyEmail(ctx, "a@b.com", "654321")
	if err != nil {
		t.Fatalf("VerifyEmail() error: %v", err)
	}
	if v.User == nil || !v.User.PendingApproval() {
		t.Errorf("verified learner should be pending approval: %+v", v.User)
	}
	if tok, _ := tokens.Get(ctx); tok == "" {
		t.Error("verification token not persisted")
	}
}

func TestLogout(t *testing.T) {
	srv := fake.New(fake.WithLogoutFailure())
	svc, _ := newService(t, srv)

	err := svc.Logout(context.Background())
	if auth.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("StatusOf() = %d, want 500", auth.StatusOf(err))
	}
	if srv.LogoutCalls() != 1 {
		t.Errorf("LogoutCalls() = %d", srv.LogoutCalls())
	}
}

func TestMe_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr bool
	}{
		{"wrapped", `{"user":{"_id":"u1","email":"a@b.com","role":"student"}}`, "u1", false},
		{"bare", `{"_id":"u2","email":"c@d.com","role":"admin","isApproved":true}`, "u2", false},
		{"empty object", `{}`, "", true},
		{"empty body", ``, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			id, err := svc.Me(context.Background())
			if tt.wantErr {
				if !errors.Is(err, authapi.ErrNoIdentity) {
					t.Errorf("error = %v, want ErrNoIdentity", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Me() error: %v", err)
			}
			if id.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", id.ID, tt.wantID)
			}
		})
	}
}

func TestMe_Unauthorized(t *testing.T) {
	svc, _ := newService(t, backend())
	_, err := svc.Me(context.Background())
	if auth.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("StatusOf() = %d, want 401", auth.StatusOf(err))
	}
}
