package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the authentication audit trail",
	}
	cmd.AddCommand(newAuditListCmd())
	cmd.AddCommand(newAuditMonitorCmd())
	return cmd
}

type auditListConfig struct {
	userID     string
	username   string
	eventType  string
	since      time.Duration
	failedOnly bool
	limit      int
	jsonOutput bool
}

func newAuditListCmd() *cobra.Command {
	cfg := &auditListConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				return runAuditList(ctx, cmd, app, cfg)
			})
		},
	}

	cmd.Flags().StringVar(&cfg.userID, "user-id", "", "only events for this user ID")
	cmd.Flags().StringVar(&cfg.username, "username", "", "only events for this username")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only events of this type")
	cmd.Flags().DurationVar(&cfg.since, "since", 24*time.Hour, "how far back to look")
	cmd.Flags().BoolVar(&cfg.failedOnly, "failed", false, "only failed events")
	cmd.Flags().IntVar(&cfg.limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output events as JSON")

	return cmd
}

func runAuditList(ctx context.Context, cmd *cobra.Command, app *Application, cfg *auditListConfig) error {
	filters := audit.QueryFilters{
		Start:    time.Now().UTC().Add(-cfg.since),
		End:      time.Now().UTC(),
		UserID:   cfg.userID,
		Username: cfg.username,
		Type:     models.EventType(cfg.eventType),
		Limit:    cfg.limit,
	}
	if cfg.failedOnly {
		failed := false
		filters.Success = &failed
	}

	events, err := app.auditLogger.Query(ctx, filters)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tUSER\tSUCCESS\tIP\tREASON")
	for _, ev := range events {
		user := ev.Username
		if user == "" {
			user = ev.UserID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%v\n",
			ev.Timestamp.Format(time.RFC3339), ev.EventType, user, ev.Success, ev.IPAddress, ev.Metadata["reason"])
	}
	return w.Flush()
}

func newAuditMonitorCmd() *cobra.Command {
	var (
		window    time.Duration
		threshold int
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Report accounts with repeated failed logins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
				alerts, err := app.monitor.DetectFailedLogins(ctx, window, threshold)
				if err != nil {
					return fmt.Errorf("failed to scan audit log: %w", err)
				}
				if len(alerts) == 0 {
					cmd.Println("no suspicious activity")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tFAILURES\tFIRST\tLAST")
				for _, a := range alerts {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
						a.Username, a.Failures, a.First.Format(time.RFC3339), a.Last.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", audit.DefaultAlertWindow, "trailing window to scan")
	cmd.Flags().IntVar(&threshold, "threshold", audit.DefaultAlertThreshold, "failures that trigger an alert")

	return cmd
}
