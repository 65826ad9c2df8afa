package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/config"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/metrics"
)

type maintainConfig struct {
	interval    time.Duration
	metricsAddr string
	once        bool
}

func newMaintainCmd() *cobra.Command {
	cfg := &maintainConfig{}

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run cleanup sweeps and the failed-login monitor",
		Long: `Sweep stale rate limit keys, expired sessions and expired reset tokens,
and scan the audit log for repeated failed logins. Runs until SIGINT or
SIGTERM unless --once is given, serving Prometheus metrics meanwhile.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMaintain(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.interval, "interval", 0, "time between passes (default from MAINTENANCE_INTERVAL)")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "metrics listen address (default from METRICS_ADDR)")
	cmd.Flags().BoolVar(&cfg.once, "once", false, "run a single pass and exit")

	return cmd
}

func runMaintain(cmd *cobra.Command, mc *maintainConfig) error {
	if mc.once {
		return withApp(cmd, nil, func(ctx context.Context, app *Application) error {
			report, err := app.maintenance.RunOnce(ctx)
			if report != nil {
				cmd.Printf("removed %d limiter keys, %d sessions, %d reset tokens; %d alerts\n",
					report.LimiterKeys, report.Sessions, report.ResetTokens, len(report.Alerts))
			}
			return err
		})
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	interval := mc.interval
	if interval <= 0 {
		interval = cfg.MaintenanceInterval
	}
	addr := mc.metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	srv := metrics.NewServer(addr, log)
	serveErr, err := srv.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			logger.LogError(log, "metrics server shutdown failed", err)
		}
	}()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(cmd, srv.Metrics(), func(_ context.Context, app *Application) error {
		if _, err := app.maintenance.RunOnce(ctx); err != nil {
			logger.LogError(log, "initial maintenance pass failed", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			app.maintenance.Run(ctx, interval)
		}()

		log.Info("maintenance running", zap.String("metrics_addr", srv.Addr()), zap.Duration("interval", interval))
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			stop()
			<-done
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
		<-done
		return nil
	})
}
