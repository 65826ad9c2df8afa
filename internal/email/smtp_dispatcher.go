package email

import (
	"context"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/ratelimit"
)

const (
	DefaultSMTPRetries   = 3
	DefaultSMTPRetryBase = 500 * time.Millisecond
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPConfig struct {
	Config
	Host     string
	Port     int
	Username string
	Password string

	MaxRetries uint64
	RetryBase  time.Duration
}

type SMTPOption func(*SMTPDispatcher)

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(d *SMTPDispatcher) { d.send = fn }
}

// WithThrottle paces deliveries per recipient.
func WithThrottle(t *ratelimit.Throttle) SMTPOption {
	return func(d *SMTPDispatcher) { d.throttle = t }
}

// SMTPDispatcher sends reset emails through an SMTP relay, retrying
// transient failures with exponential backoff.
type SMTPDispatcher struct {
	cfg      SMTPConfig
	send     SendFunc
	throttle *ratelimit.Throttle
	log      *zap.Logger
}

var _ Dispatcher = (*SMTPDispatcher)(nil)

func NewSMTPDispatcher(cfg SMTPConfig, log *zap.Logger, opts ...SMTPOption) *SMTPDispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultSMTPRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultSMTPRetryBase
	}
	d := &SMTPDispatcher{
		cfg:  cfg,
		send: smtp.SendMail,
		log:  logger.OrNop(log).Named("email"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *SMTPDispatcher) SendPasswordResetEmail(ctx context.Context, recipient, token, displayName string) error {
	msg, err := BuildResetMessage(d.cfg.From, d.cfg.BaseURL, recipient, token, displayName, d.cfg.ResetTTL)
	if err != nil {
		return err
	}
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	if d.throttle != nil {
		if err := d.throttle.Wait(ctx, recipient); err != nil {
			return oops.Code("EMAIL_THROTTLED").With("to", logger.MaskEmail(recipient)).Wrap(err)
		}
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := d.send(addr, auth, d.cfg.From, []string{recipient}, raw); err != nil {
			d.log.Warn("smtp send failed",
				zap.String("to", logger.MaskEmail(recipient)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").
			With("to", logger.MaskEmail(recipient)).
			With("attempts", attempt).
			Wrap(err)
	}

	d.log.Info("password reset email sent", zap.String("to", logger.MaskEmail(recipient)))
	return nil
}
