package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	auth "github.com/shreegurucool/auth-go"
)

func exerciseStore(t *testing.T, s auth.TokenStore) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get() on empty store error: %v", err)
	}
	if got != "" {
		t.Fatalf("Get() on empty store = %q, want empty", got)
	}

	if err := s.Set(ctx, "abc"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, "def"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if got, _ := s.Get(ctx); got != "def" {
		t.Errorf("Get() = %q, want %q", got, "def")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got, _ := s.Get(ctx); got != "" {
		t.Errorf("Get() after Clear = %q, want empty", got)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear() on empty store error: %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFile(t *testing.T) {
	exerciseStore(t, NewFile(filepath.Join(t.TempDir(), "nested", "storage.json")))
}

func TestFile_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFile(path)
	ctx := context.Background()

	if err := s.Set(ctx, "tok"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := map[string]string{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not JSON: %v", err)
	}
	if doc["theme"] != "dark" {
		t.Errorf("unrelated key lost: %v", doc)
	}
	if _, ok := doc[auth.TokenKey]; ok {
		t.Errorf("token key still present: %v", doc)
	}
}

func TestFile_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := NewFile(path).Set(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Get(context.Background()); err == nil {
		t.Error("Get() expected error for a corrupt document")
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedis(client, "guruauth-test-"+time.Now().Format("150405.000"), WithTTL(time.Minute))
	defer s.Close()

	exerciseStore(t, s)
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"opaque token", "not-a-jwt", false},
		{"empty", "", false},
		{"no exp claim", signed(t, jwt.MapClaims{"sub": "u1"}), false},
		{"future exp", signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), false},
		{"past exp", signed(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}), true},
		{"exp equals now", signed(t, jwt.MapClaims{"exp": now.Unix()}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFile_Values(t *testing.T) {
	s := NewFile(filepath.Join(t.TempDir(), "storage.json"))
	ctx := context.Background()

	if v, err := s.Value(ctx, "resend_at:a@b.com"); err != nil || v != "" {
		t.Fatalf("Value() on missing file = %q, %v", v, err)
	}
	if err := s.SetValue(ctx, "resend_at:a@b.com", "2026-01-01T00:01:00Z"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if err := s.Set(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Value(ctx, "resend_at:a@b.com"); v != "2026-01-01T00:01:00Z" {
		t.Errorf("Value() = %q after token write", v)
	}
	if err := s.SetValue(ctx, "resend_at:a@b.com", ""); err != nil {
		t.Fatalf("SetValue(\"\") error: %v", err)
	}
	if v, _ := s.Value(ctx, "resend_at:a@b.com"); v != "" {
		t.Errorf("Value() = %q, want removed", v)
	}
	if tok, _ := s.Get(ctx); tok != "tok" {
		t.Errorf("token = %q, want tok", tok)
	}
}
