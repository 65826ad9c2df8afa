package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

type userCreateConfig struct {
	username string
	email    string
	password string
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	cfg := &userCreateConfig{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				plain, err := readSecret(cmd, cfg.password, "password")
				if err != nil {
					return err
				}
				user, err := app.auth.Register(ctx, cfg.username, cfg.email, plain)
				if err != nil {
					return describeError(err)
				}
				cmd.Printf("created user %s (%s)\n", user.Username, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.username, "username", "", "account username")
	cmd.Flags().StringVar(&cfg.email, "email", "", "account email address")
	cmd.Flags().StringVar(&cfg.password, "password", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

type loginConfig struct {
	username string
	password string
}

func newLoginCmd() *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				plain, err := readSecret(cmd, cfg.password, "password")
				if err != nil {
					return err
				}
				res, err := app.auth.Login(ctx, cfg.username, plain)
				if err != nil {
					return describeError(err)
				}
				if !res.Success {
					if res.AccountLocked && res.LockedUntil != nil {
						cmd.Printf("%s (until %s)\n", res.Error, res.LockedUntil.Format(time.RFC3339))
					} else {
						cmd.Println(res.Error)
					}
					return errLoginFailed
				}
				cmd.Printf("session token: %s\n", res.SessionToken)
				cmd.Printf("expires at:    %s\n", res.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.username, "username", "", "account username")
	cmd.Flags().StringVar(&cfg.password, "password", "", "account password (read from stdin when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				if err := app.auth.Logout(ctx, token); err != nil {
					return describeError(err)
				}
				cmd.Println("logged out")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "session token")

	return cmd
}

func newValidateCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether a session token is still valid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				sess, err := app.auth.ValidateSession(ctx, token)
				if err != nil {
					return describeError(err)
				}
				if sess == nil {
					cmd.Println("session is not valid")
					return errInvalidSession
				}
				cmd.Printf("user:       %s\n", sess.UserID)
				cmd.Printf("expires at: %s\n", sess.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "session token")

	return cmd
}
