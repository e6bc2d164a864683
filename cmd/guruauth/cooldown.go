package main

import (
	"context"
	"strings"
	"time"

	"github.com/shreegurucool/auth-go/internal/bootstrap"
)

// valueStore is a token store that keeps extra entries next to the token.
// *tokenstore.File implements it.
type valueStore interface {
	Value(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

func cooldownKey(email string) string {
	return "resend_at:" + strings.ToLower(strings.TrimSpace(email))
}

// restoreCooldown applies the resend deadline saved by an earlier run.
func restoreCooldown(ctx context.Context, rt *bootstrap.Runtime, email string) error {
	vs, ok := rt.Tokens.(valueStore)
	if !ok {
		return nil
	}
	raw, err := vs.Value(ctx, cooldownKey(email))
	if err != nil || raw == "" {
		return err
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return vs.SetValue(ctx, cooldownKey(email), "")
	}
	return rt.Machine.RestoreCooldown(until)
}

// saveCooldown stores the machine's resend deadline for the next run. A zero
// deadline removes the entry.
func saveCooldown(ctx context.Context, rt *bootstrap.Runtime, email string) error {
	vs, ok := rt.Tokens.(valueStore)
	if !ok {
		return nil
	}
	until := rt.Machine.ResendAvailableAt()
	if until.IsZero() {
		return vs.SetValue(ctx, cooldownKey(email), "")
	}
	return vs.SetValue(ctx, cooldownKey(email), until.UTC().Format(time.RFC3339Nano))
}
