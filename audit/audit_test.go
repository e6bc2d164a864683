package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestEventEmission(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	logger := New(10, WithHandler(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))

	logger.Log(Event{Action: "login", From: "Anonymous", To: "Authenticated", Result: "success", UserID: "m1"})
	logger.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != "m1" {
		t.Errorf("expected m1, got %s", events[0].UserID)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestMultipleHandlers(t *testing.T) {
	var n1, n2 int
	logger := New(10,
		WithHandler(func(Event) { n1++ }),
		WithHandler(func(Event) { n2++ }),
	)
	logger.Log(Event{Action: "logout", Result: "success"})
	logger.Log(Event{Action: "logout", Result: "success"})
	logger.Close()

	if n1 != 2 || n2 != 2 {
		t.Errorf("handler counts = %d, %d; want 2, 2", n1, n2)
	}
}

func TestCloseFlushesAndDropsLateEvents(t *testing.T) {
	var count int
	logger := New(100, WithHandler(func(Event) { count++ }))
	for i := 0; i < 50; i++ {
		logger.Log(Event{Action: "resend_otp", Result: "failure"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if count != 50 {
		t.Errorf("flushed %d events, want 50", count)
	}

	logger.Log(Event{Action: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if count != 50 {
		t.Errorf("event logged after Close was emitted")
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	logger.Log(Event{Action: "login"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger: %v", err)
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(10, WithWriterHandler(&buf))
	logger.Log(Event{Action: "verify_otp", From: "OtpVerifying", To: "ApprovalPending", Result: "success"})
	logger.Close()

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("output is not a JSON line: %q", buf.String())
	}
	if got.To != "ApprovalPending" {
		t.Errorf("To = %q", got.To)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	sl := slog.New(slog.NewTextHandler(&buf, nil))
	logger := New(10, WithSlogHandler(sl))
	logger.Log(Event{Action: "login", From: "CredentialsSubmitting", To: "Rejected", Result: "rejected", Details: "account not active"})
	logger.Close()

	out := buf.String()
	for _, want := range []string{"action=login", "to=Rejected", `details="account not active"`} {
		if !strings.Contains(out, want) {
			t.Errorf("slog output %q missing %q", out, want)
		}
	}
}

func TestContextPropagation(t *testing.T) {
	logger := New(10)
	defer logger.Close()

	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("logger not retrieved from context")
	}
	if FromContext(context.Background()) != nil {
		t.Error("empty context should not have logger")
	}
}
