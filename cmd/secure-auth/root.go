package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/config"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
	apperrors "github.com/amirk1998/secure-auth/pkg/errors"
)

// Global flags available to all subcommands.
var (
	envFile   string
	clientIP  string
	userAgent string
)

// NewRootCmd creates the root command for the secure-auth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secure-auth",
		Short: "secure-auth - password authentication core",
		Long: `secure-auth manages accounts, sessions and password resets with
rate limiting, account lockout and a redacted audit trail.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")
	cmd.PersistentFlags().StringVar(&clientIP, "client-ip", "", "client address recorded in audit events")
	cmd.PersistentFlags().StringVar(&userAgent, "user-agent", "secure-auth-cli", "client agent recorded in audit events")

	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newPasswordCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newMaintainCmd())

	return cmd
}

// withApp loads configuration, wires the application, runs fn and tears
// everything down again. m may be nil.
func withApp(cmd *cobra.Command, m *metrics.Metrics, fn func(ctx context.Context, app *Application) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = audit.WithUserAgent(audit.WithClientIP(ctx, clientIP), userAgent)

	app, err := newApplication(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

// readSecret returns value, or reads one line from stdin when it is empty.
func readSecret(cmd *cobra.Command, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt+": ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read %s: %w", prompt, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describeError renders caller-facing errors without internal detail.
func describeError(err error) error {
	var ae *apperrors.AuthError
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Kind {
	case apperrors.KindRateLimit:
		return fmt.Errorf("%s (retry in %s)", ae.Message, ae.RetryAfter.Round(time.Second))
	case apperrors.KindPasswordValidation:
		return fmt.Errorf("%s: %s", ae.Message, strings.Join(ae.Violations, "; "))
	case apperrors.KindValidation:
		if ae.Field != "" {
			return fmt.Errorf("%s: %s", ae.Field, ae.Message)
		}
	}
	return fmt.Errorf("%s", apperrors.SafeMessage(err))
}
