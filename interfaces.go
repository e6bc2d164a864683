package auth

import "context"

// TokenStore persists the opaque session token under TokenKey.
// Implementations: tokenstore/ (memory, file, redis).
type TokenStore interface {
	// Get returns the stored token, or "" when none is stored.
	Get(ctx context.Context) (string, error)

	// Set stores the token, replacing any previous one.
	Set(ctx context.Context, token string) error

	// Clear removes the token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// AuthAPI is the set of authentication endpoints the client consumes.
// Implementations: authapi/ (HTTP through the request gateway).
type AuthAPI interface {
	// Signup registers a new account. The server answers with the email the
	// verification code was sent to.
	Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error)

	// VerifyEmail submits the one-time code sent after signup.
	VerifyEmail(ctx context.Context, email, otp string) (*AuthResponse, error)

	// ResendOTP asks the server to send a fresh verification code.
	ResendOTP(ctx context.Context, email string) error

	// Login exchanges credentials for a session.
	Login(ctx context.Context, creds Credentials) (*AuthResponse, error)

	// Logout invalidates the server session.
	Logout(ctx context.Context) error

	// Me probes the current session and returns its identity.
	Me(ctx context.Context) (*Identity, error)
}
