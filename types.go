package auth

import (
	"encoding/json"
	"fmt"
)

// TokenKey is the well-known storage key the session token is persisted under.
const TokenKey = "token"

// Role is the platform role of an identity. The set is closed.
type Role string

const (
	RoleLearner Role = "student"
	RoleMentor  Role = "mentor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleLearner, RoleMentor, RoleAdmin:
		return true
	}
	return false
}

// UnmarshalJSON rejects roles outside the closed set.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Role(s).Valid() {
		return fmt.Errorf("auth: unknown role %q", s)
	}
	*r = Role(s)
	return nil
}

// AccountStatus is the server-side account status. Values other than the
// named constants are possible and are treated as not active.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
)

// Identity represents the authenticated principal.
type Identity struct {
	ID       string        `json:"_id"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Role     Role          `json:"role"`
	Status   AccountStatus `json:"status,omitempty"`
	Approved bool          `json:"isApproved"`
}

// UnmarshalJSON accepts both "_id" and "id" for the identifier.
func (i *Identity) UnmarshalJSON(data []byte) error {
	type plain Identity
	var aux struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*i = Identity(aux.plain)
	if i.ID == "" {
		i.ID = aux.AltID
	}
	return nil
}

// Active reports whether the account may hold a session.
// An empty status is sent for accounts the server never suspended.
func (i *Identity) Active() bool {
	return i.Status == "" || i.Status == StatusActive
}

// PendingApproval reports whether the identity is a learner still waiting
// for approval. Such an identity is never fully authenticated.
func (i *Identity) PendingApproval() bool {
	return i.Role == RoleLearner && !i.Approved
}

// Clone returns a copy of i, or nil.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the registration payload.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// SignupResponse is returned by the registration endpoint.
type SignupResponse struct {
	Message string    `json:"message"`
	Email   string    `json:"email"`
	Token   string    `json:"token,omitempty"`
	User    *Identity `json:"user,omitempty"`
}

// AuthResponse is returned by the login and email verification endpoints.
type AuthResponse struct {
	Message string    `json:"message,omitempty"`
	Token   string    `json:"token,omitempty"`
	User    *Identity `json:"user"`
}
