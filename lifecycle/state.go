package lifecycle

import (
	auth "github.com/shreegurucool/auth-go"
)

// Kind identifies a lifecycle state.
type Kind int

const (
	Anonymous Kind = iota
	CredentialsSubmitting
	OtpPending
	OtpVerifying
	ApprovalPending
	Authenticated
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Anonymous:
		return "Anonymous"
	case CredentialsSubmitting:
		return "CredentialsSubmitting"
	case OtpPending:
		return "OtpPending"
	case OtpVerifying:
		return "OtpVerifying"
	case ApprovalPending:
		return "ApprovalPending"
	case Authenticated:
		return "Authenticated"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// transitional states are left only by the operation that entered them.
func (k Kind) transitional() bool {
	return k == CredentialsSubmitting || k == OtpVerifying
}

// OTPChallenge is the pending email verification.
type OTPChallenge struct {
	Email string
	Name  string
	// Code is the code being verified. It is empty whenever the machine
	// waits for input.
	Code string
}

// State is an immutable lifecycle state. Only the Machine creates states,
// so each kind carries exactly the payload it needs.
type State struct {
	kind     Kind
	otp      OTPChallenge
	identity *auth.Identity
	reason   string
	message  string
}

// Kind returns the state kind.
func (s State) Kind() Kind { return s.kind }

// OTP returns the verification challenge while in OtpPending or OtpVerifying.
func (s State) OTP() (OTPChallenge, bool) {
	if s.kind != OtpPending && s.kind != OtpVerifying {
		return OTPChallenge{}, false
	}
	return s.otp, true
}

// Identity returns the identity carried by ApprovalPending and Authenticated.
func (s State) Identity() *auth.Identity { return s.identity.Clone() }

// Reason returns why the account was rejected.
func (s State) Reason() string { return s.reason }

// Message returns the user-facing message of the last failed step, if any.
func (s State) Message() string { return s.message }

func (s State) String() string {
	if s.kind == Rejected {
		return "Rejected(" + s.reason + ")"
	}
	return s.kind.String()
}

func anonymous(message string) State {
	return State{kind: Anonymous, message: message}
}

func submitting() State {
	return State{kind: CredentialsSubmitting}
}

func otpPending(email, name, message string) State {
	return State{kind: OtpPending, otp: OTPChallenge{Email: email, Name: name}, message: message}
}

func otpVerifying(ch OTPChallenge, code string) State {
	ch.Code = code
	return State{kind: OtpVerifying, otp: ch}
}

func approvalPending(id *auth.Identity) State {
	return State{kind: ApprovalPending, identity: id.Clone()}
}

func authenticated(id *auth.Identity) State {
	return State{kind: Authenticated, identity: id.Clone()}
}

func rejected(reason string) State {
	return State{kind: Rejected, reason: reason}
}
