// Command guruauth drives the session SDK from a terminal and can serve a
// small gated web app for manual testing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shreegurucool/auth-go/config"
	"github.com/shreegurucool/auth-go/internal/bootstrap"
)

var version = "dev"

type globals struct {
	envFile string
	v       *viper.Viper
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "guruauth",
		Short: "Sign up, verify and sign in against the learning platform API",
		Long: `guruauth talks to the learning platform auth API.

Configuration is read from GURU_* environment variables, an optional
.env file and the flags below. The session token is kept in the token
store between invocations.

Examples:
  guruauth signup --name Asha --email a@b.com --password 'Secret#123'
  guruauth verify --email a@b.com --code 123456
  guruauth login --email a@b.com --password 'Secret#123'
  guruauth whoami`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(g.envFile)
		},
	}

	g.v = config.New()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.envFile, "env-file", ".env", "Path to an optional .env file")
	flags.String("api", "", "API base URL (GURU_API_BASE_URL)")
	flags.String("token-store", "", "Token store: memory, file or redis (GURU_TOKEN_STORE)")
	flags.String("token-file", "", "Token file for the file store (GURU_TOKEN_FILE)")
	flags.Bool("debug", false, "Enable debug logging (GURU_DEBUG)")
	for key, flag := range map[string]string{
		config.KeyAPIBaseURL: "api",
		config.KeyTokenStore: "token-store",
		config.KeyTokenFile:  "token-file",
		config.KeyDebug:      "debug",
	} {
		if err := g.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(
		signupCmd(g),
		verifyCmd(g),
		resendCmd(g),
		loginCmd(g),
		logoutCmd(g),
		whoamiCmd(g),
		serveCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// runtime decodes the configuration and wires a started runtime.
func (g *globals) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := config.Decode(g.v)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rt, err := bootstrap.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, err := rt.Start(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
