package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var (
	errLoginFailed    = errors.New("login failed")
	errInvalidSession = errors.New("invalid session")
	errNoMatch        = errors.New("password does not match")
	errWeakPassword   = errors.New("password does not meet requirements")
)

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Password reset by emailed token",
	}
	cmd.AddCommand(newResetRequestCmd())
	cmd.AddCommand(newResetCompleteCmd())
	return cmd
}

func newResetRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <username-or-email>",
		Short: "Email a reset link to the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				if err := app.passwords.InitiatePasswordReset(ctx, args[0]); err != nil {
					return describeError(err)
				}
				cmd.Println("if the account exists, a reset link has been sent")
				return nil
			})
		},
	}
}

type resetCompleteConfig struct {
	token    string
	password string
}

func newResetCompleteCmd() *cobra.Command {
	cfg := &resetCompleteConfig{}

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				plain, err := readSecret(cmd, cfg.password, "new password")
				if err != nil {
					return err
				}
				res, err := app.passwords.CompletePasswordReset(ctx, cfg.token, plain)
				if err != nil {
					return describeError(err)
				}
				if !res.Success {
					cmd.Println(res.Error)
					return errWeakPassword
				}
				cmd.Println("password changed; all sessions were signed out")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.token, "token", "", "reset token from the email")
	cmd.Flags().StringVar(&cfg.password, "password", "", "new password (read from stdin when omitted)")

	return cmd
}

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Hash, verify and check passwords offline",
	}
	cmd.AddCommand(newPasswordHashCmd())
	cmd.AddCommand(newPasswordCheckCmd())
	cmd.AddCommand(newPasswordStrengthCmd())
	return cmd
}

func newPasswordHashCmd() *cobra.Command {
	var plain string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the Argon2id hash of a password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(_ context.Context, app *Application) error {
				p, err := readSecret(cmd, plain, "password")
				if err != nil {
					return err
				}
				hash, err := app.passwords.HashPassword(p)
				if err != nil {
					return describeError(err)
				}
				cmd.Println(hash)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&plain, "password", "", "password (read from stdin when omitted)")

	return cmd
}

func newPasswordCheckCmd() *cobra.Command {
	var (
		plain string
		hash  string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a password against a hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(_ context.Context, app *Application) error {
				p, err := readSecret(cmd, plain, "password")
				if err != nil {
					return err
				}
				if !app.passwords.VerifyPassword(p, hash) {
					cmd.Println("no match")
					return errNoMatch
				}
				cmd.Println("match")
				if app.passwords.NeedsRehash(hash) {
					cmd.Println("hash uses outdated parameters")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&plain, "password", "", "password (read from stdin when omitted)")
	cmd.Flags().StringVar(&hash, "hash", "", "encoded Argon2id hash")
	_ = cmd.MarkFlagRequired("hash")

	return cmd
}

func newPasswordStrengthCmd() *cobra.Command {
	var plain string

	cmd := &cobra.Command{
		Use:   "strength",
		Short: "List every strength rule a password violates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(_ context.Context, app *Application) error {
				p, err := readSecret(cmd, plain, "password")
				if err != nil {
					return err
				}
				res := app.passwords.ValidatePasswordStrength(p)
				if !res.Valid {
					cmd.Println(strings.Join(res.Errors, "\n"))
					return errWeakPassword
				}
				cmd.Println("ok")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&plain, "password", "", "password (read from stdin when omitted)")

	return cmd
}
