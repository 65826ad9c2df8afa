package logger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/oops"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger: JSON production config for "production",
// colored development config otherwise. An empty level keeps the default.
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// LogError logs err at error level, expanding oops code and context into fields.
func LogError(l *zap.Logger, msg string, err error, fields ...zap.Field) {
	l.Error(msg, append(fields, ErrorFields(err)...)...)
}

// ErrorFields returns zap fields describing err.
func ErrorFields(err error) []zap.Field {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		fields := []zap.Field{zap.Error(err)}
		if cause := errors.Unwrap(err); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		return fields
	}
	fields := []zap.Field{zap.String("error", oopsErr.Error())}
	if code := oopsErr.Code(); code != nil && fmt.Sprint(code) != "" {
		fields = append(fields, zap.String("code", fmt.Sprint(code)))
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		fields = append(fields, zap.Any("context", ctx))
	}
	return fields
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps the first characters and the domain:
// john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if m := emailRegex.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if parts := strings.SplitN(email, "@", 2); len(parts) == 2 {
		return "***@" + parts[1]
	}
	return "***"
}
