// Package gate decides what a protected view shows for the current session.
package gate

import (
	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/session"
)

// Action is the outcome of a gate check.
type Action int

const (
	// Wait: the session probe has not settled. Show a waiting indicator and
	// make no navigation decision.
	Wait Action = iota
	// Redirect to the entry screen, replacing history.
	Redirect
	// Render the protected content.
	Render
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating the gate.
type Decision struct {
	Action   Action
	To       string // Redirect target
	Replace  bool   // replace the history entry instead of pushing
	Identity *auth.Identity
}

// Evaluate decides for snapshot s, redirecting to entry when the snapshot is
// not fully authenticated.
func Evaluate(s session.Snapshot, entry string) Decision {
	switch {
	case s.Loading:
		return Decision{Action: Wait}
	case !s.Authenticated():
		return Decision{Action: Redirect, To: entry, Replace: true}
	default:
		return Decision{Action: Render, Identity: s.Identity}
	}
}

// Source provides session snapshots. *session.Store implements it.
type Source interface {
	Snapshot() session.Snapshot
}

// Gate evaluates a Source against a fixed entry path.
type Gate struct {
	src   Source
	entry string
}

// Option configures the Gate.
type Option func(*Gate)

// WithEntryPath sets where anonymous visitors are sent. Default: auth.DefaultEntryPath.
func WithEntryPath(p string) Option {
	return func(g *Gate) {
		if p != "" {
			g.entry = p
		}
	}
}

// New creates a Gate over src.
func New(src Source, opts ...Option) *Gate {
	g := &Gate{src: src, entry: auth.DefaultEntryPath}
	for _, o := range opts {
		o(g)
	}
	return g
}

// EntryPath returns the redirect target.
func (g *Gate) EntryPath() string { return g.entry }

// Check evaluates the current snapshot.
func (g *Gate) Check() Decision {
	return Evaluate(g.src.Snapshot(), g.entry)
}
