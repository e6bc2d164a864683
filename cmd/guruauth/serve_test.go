package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/fake"
	"github.com/shreegurucool/auth-go/internal/bootstrap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRuntime(t *testing.T, users ...auth.Identity) *bootstrap.Runtime {
	t.Helper()
	opts := []fake.Option{}
	for _, u := range users {
		opts = append(opts, fake.WithUser(u, "Secret#123", true))
	}
	ts := fake.New(opts...).Start()
	t.Cleanup(ts.Close)

	rt, err := bootstrap.New(auth.Config{BaseURL: ts.URL + "/api"}, nil)
	if err != nil {
		t.Fatalf("bootstrap.New() error: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return rt
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_AnonymousIsRedirected(t *testing.T) {
	r := newRouter(newTestRuntime(t))

	if rec := get(r, "/welcome"); rec.Code != http.StatusOK {
		t.Errorf("/welcome status = %d", rec.Code)
	}
	rec := get(r, "/home")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/welcome" {
		t.Errorf("/home status = %d location %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRouter_RolesAndStats(t *testing.T) {
	learner := auth.Identity{ID: "s1", Name: "Sam", Email: "sam@example.com", Role: auth.RoleLearner, Status: auth.StatusActive, Approved: true}
	mentor := auth.Identity{ID: "m1", Name: "Meera", Email: "meera@example.com", Role: auth.RoleMentor, Status: auth.StatusActive, Approved: true}

	tests := []struct {
		name       string
		user       auth.Identity
		mentorCode int
	}{
		{"learner", learner, http.StatusForbidden},
		{"mentor", mentor, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t, tt.user)
			if _, err := rt.Machine.SubmitLogin(context.Background(), auth.Credentials{Email: tt.user.Email, Password: "Secret#123"}); err != nil {
				t.Fatalf("SubmitLogin() error: %v", err)
			}
			r := newRouter(rt)

			if rec := get(r, "/home"); rec.Code != http.StatusOK {
				t.Errorf("/home status = %d", rec.Code)
			}
			if rec := get(r, "/home/stats"); rec.Code != http.StatusOK {
				t.Errorf("/home/stats status = %d body %s", rec.Code, rec.Body)
			}
			if rec := get(r, "/home/mentor"); rec.Code != tt.mentorCode {
				t.Errorf("/home/mentor status = %d, want %d", rec.Code, tt.mentorCode)
			}
		})
	}
}
