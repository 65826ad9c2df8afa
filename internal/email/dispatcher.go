package email

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
)

// Dispatcher delivers password reset emails.
type Dispatcher interface {
	SendPasswordResetEmail(ctx context.Context, recipient, token, displayName string) error
}

// Config is shared by every dispatcher.
type Config struct {
	From     string
	BaseURL  string
	ResetTTL time.Duration
}

// LogDispatcher writes reset emails to the application log instead of
// sending them. Development only: the log line carries the reset link.
type LogDispatcher struct {
	cfg Config
	log *zap.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(cfg Config, log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{cfg: cfg, log: logger.OrNop(log).Named("email")}
}

func (d *LogDispatcher) SendPasswordResetEmail(_ context.Context, recipient, token, displayName string) error {
	msg, err := BuildResetMessage(d.cfg.From, d.cfg.BaseURL, recipient, token, displayName, d.cfg.ResetTTL)
	if err != nil {
		return err
	}
	d.log.Info("password reset email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("reset_link", ResetLink(d.cfg.BaseURL, token)),
	)
	return nil
}
