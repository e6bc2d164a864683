package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/lifecycle"
)

func signupCmd(g *globals) *cobra.Command {
	var form lifecycle.SignupForm
	var role string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and request an email verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if form.ConfirmPassword == "" {
				form.ConfirmPassword = form.Password
			}
			form.Role = auth.Role(role)
			st, err := rt.Machine.SubmitSignup(cmd.Context(), form)
			if err != nil {
				return stateError(st, err)
			}
			ch, _ := st.OTP()
			if err := saveCooldown(cmd.Context(), rt, ch.Email); err != nil {
				warn("Could not reset the resend cooldown: %v", err)
			}
			success("Verification code sent to %s", ch.Email)
			info("Run: guruauth verify --email %s --code <code>", ch.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&form.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password")
	cmd.Flags().StringVar(&form.ConfirmPassword, "confirm", "", "Password confirmation (defaults to --password)")
	cmd.Flags().StringVar(&role, "role", "", "Role: student, mentor or admin (default student)")
	return cmd
}

func verifyCmd(g *globals) *cobra.Command {
	var email, code string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit the emailed verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if st, err := rt.Machine.ResumeOTP(cmd.Context(), email, ""); err != nil {
				return stateError(st, err)
			}
			st, err := rt.Machine.SubmitOTP(cmd.Context(), code)
			if err != nil {
				return stateError(st, err)
			}
			report(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address the code was sent to")
	cmd.Flags().StringVar(&code, "code", "", "Six digit verification code")
	return cmd
}

func resendCmd(g *globals) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Request a new verification code",
		Long: `Request a new verification code.

Resends are limited to one per cooldown (60s by default). With the file
token store the deadline is kept next to the token, so it holds across
runs; other stores only enforce it within a single run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if st, err := rt.Machine.ResumeOTP(cmd.Context(), email, ""); err != nil {
				return stateError(st, err)
			}
			if err := restoreCooldown(cmd.Context(), rt, email); err != nil {
				return err
			}
			st, err := rt.Machine.ResendOTP(cmd.Context())
			if errors.Is(err, lifecycle.ErrCooldown) {
				return fmt.Errorf("wait %ds before requesting another code", rt.Machine.CooldownSeconds())
			}
			if err != nil {
				return stateError(st, err)
			}
			if err := saveCooldown(cmd.Context(), rt, email); err != nil {
				warn("Could not save the resend cooldown: %v", err)
			}
			success("A new code was sent to %s", email)
			info("Resend again in %ds", rt.Machine.CooldownSeconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	return cmd
}

func loginCmd(g *globals) *cobra.Command {
	var creds auth.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.Machine.State().Kind() != lifecycle.Anonymous {
				if _, err := rt.Machine.Logout(cmd.Context()); err != nil {
					return err
				}
			}
			st, err := rt.Machine.SubmitLogin(cmd.Context(), creds)
			if err != nil {
				return stateError(st, err)
			}
			report(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&creds.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Password")
	return cmd
}

func logoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.Machine.State().Kind() == lifecycle.Anonymous {
				info("Not signed in")
				return nil
			}
			if _, err := rt.Machine.Logout(cmd.Context()); err != nil {
				return err
			}
			success("Signed out")
			return nil
		},
	}
}

func whoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			report(rt.Machine.State())
			return nil
		},
	}
}

func report(st lifecycle.State) {
	switch st.Kind() {
	case lifecycle.Authenticated:
		id := st.Identity()
		success("Signed in as %s <%s> (%s)", id.Name, id.Email, id.Role)
	case lifecycle.ApprovalPending:
		id := st.Identity()
		warn("%s is waiting for approval", id.Email)
	case lifecycle.Rejected:
		warn("Account rejected: %s", st.Reason())
	default:
		info("Not signed in")
	}
}

// stateError prefers the message the state carries for display.
func stateError(st lifecycle.State, err error) error {
	if errors.Is(err, lifecycle.ErrBusy) || st.Message() == "" {
		return err
	}
	return fmt.Errorf("%s", st.Message())
}
