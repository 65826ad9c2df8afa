package password

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/amirk1998/secure-auth/internal/audit"
	"github.com/amirk1998/secure-auth/internal/logger"
	"github.com/amirk1998/secure-auth/internal/models"
	"github.com/amirk1998/secure-auth/internal/repository"
	"github.com/amirk1998/secure-auth/internal/security"
	apperrors "github.com/amirk1998/secure-auth/pkg/errors"
)

const (
	MsgTokenRequired    = "reset token is required"
	MsgNewPasswordEmpty = "new password is required"
	MsgPasswordReused   = "password was used recently"

	msgTokenInvalid = "reset token is invalid"
	msgTokenUsed    = "reset token has already been used"
	msgTokenExpired = "reset token has expired"

	tokenTypeReset = "reset"
)

// Audit reasons for reset events.
const (
	reasonTokenIssued     = "token_issued"
	reasonUserNotFound    = "user_not_found"
	reasonRateLimited     = "rate_limit_exceeded"
	reasonMissingToken    = "missing_token"
	reasonMissingPassword = "missing_password"
	reasonWeakPassword    = "weak_password"
	reasonInvalidToken    = "invalid_token"
	reasonTokenUsed       = "token_used"
	reasonTokenExpired    = "token_expired"
	reasonPasswordReused  = "password_reused"
	reasonPasswordChanged = "password_changed"
	reasonInternalError   = "internal_error"
)

var errTokenConsumed = errors.New("reset token consumed concurrently")

// InitiatePasswordReset issues a reset token for the account named by
// usernameOrEmail and emails it. Unknown or empty identifiers return nil
// without any side effect, so callers cannot probe for accounts. Email
// delivery failures are logged, not returned.
func (m *Manager) InitiatePasswordReset(ctx context.Context, usernameOrEmail string) error {
	identifier := strings.TrimSpace(usernameOrEmail)
	if identifier == "" {
		return nil
	}

	if m.limiter != nil {
		allowed, err := m.limiter.TryConsume(ctx, normalizeIdentifier(identifier), ResetOperation)
		if err != nil {
			logger.LogError(m.log, "reset rate limit check failed", err)
			return nil
		}
		if !allowed {
			m.metrics.RecordRateLimited(ResetOperation)
			m.metrics.RecordPasswordReset("request", reasonRateLimited)
			m.logEvent(ctx, audit.Event{
				Type:     models.EventPasswordResetRequest,
				Username: identifier,
				Metadata: map[string]any{"reason": reasonRateLimited},
			})
			return nil
		}
	}

	user, err := m.findUser(ctx, identifier)
	if err != nil {
		logger.LogError(m.log, "reset user lookup failed", err)
		return apperrors.NewInternalError(err)
	}
	if user == nil {
		m.metrics.RecordPasswordReset("request", reasonUserNotFound)
		m.logEvent(ctx, audit.Event{
			Type:     models.EventPasswordResetRequest,
			Username: identifier,
			Metadata: map[string]any{"reason": reasonUserNotFound},
		})
		return nil
	}

	now := m.now()
	revoked, err := m.resetTokens.InvalidateAllByUser(ctx, user.ID, now)
	if err != nil {
		logger.LogError(m.log, "failed to revoke previous reset tokens", err, zap.String("user_id", user.ID))
		return apperrors.NewInternalError(err)
	}

	token, err := security.GenerateToken()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	rt := &models.ResetToken{
		TokenHash: security.HashToken(token),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.resetTTL),
	}
	if err := m.resetTokens.Create(ctx, rt); err != nil {
		logger.LogError(m.log, "failed to store reset token", err, zap.String("user_id", user.ID))
		return apperrors.NewInternalError(err)
	}

	emailSent := true
	if err := m.mailer.SendPasswordResetEmail(ctx, user.Email, token, user.Username); err != nil {
		emailSent = false
		logger.LogError(m.log, "failed to send password reset email", err,
			zap.String("user_id", user.ID),
			zap.String("to", logger.MaskEmail(user.Email)),
		)
	}

	m.metrics.RecordPasswordReset("request", reasonTokenIssued)
	m.logEvent(ctx, audit.Event{
		Type:     models.EventPasswordResetRequest,
		UserID:   user.ID,
		Username: user.Username,
		Success:  true,
		Metadata: map[string]any{
			"reason":           reasonTokenIssued,
			"email_sent":       emailSent,
			"revoked_previous": revoked,
			"expires_at":       rt.ExpiresAt,
		},
	})
	return nil
}

// findUser resolves by username, then by email. A miss is (nil, nil).
func (m *Manager) findUser(ctx context.Context, identifier string) (*models.User, error) {
	user, err := m.users.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	user, err = m.users.FindByEmail(ctx, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

type resetAttempt struct {
	userID   string
	username string
	reason   string
	revoked  int64
}

// CompletePasswordReset sets a new password using a reset token. Input and
// policy failures come back as a ResetResult; a missing, used or expired
// token is an InvalidTokenError. On success the token is spent and every
// session of the user is revoked.
func (m *Manager) CompletePasswordReset(ctx context.Context, token, newPassword string) (*ResetResult, error) {
	a := &resetAttempt{}
	res, err := m.completeReset(ctx, a, token, newPassword)

	if err != nil && apperrors.KindOf(err) == apperrors.KindInternal {
		a.reason = reasonInternalError
		logger.LogError(m.log, "password reset failed", err, zap.String("user_id", a.userID))
		err = apperrors.NewInternalError(err)
	}

	success := err == nil && res != nil && res.Success
	meta := map[string]any{"reason": a.reason}
	if success {
		meta["sessions_revoked"] = a.revoked
	}
	m.metrics.RecordPasswordReset("complete", a.reason)
	m.logEvent(ctx, audit.Event{
		Type:     models.EventPasswordResetComplete,
		UserID:   a.userID,
		Username: a.username,
		Success:  success,
		Metadata: meta,
	})
	return res, err
}

func (m *Manager) completeReset(ctx context.Context, a *resetAttempt, token, newPassword string) (*ResetResult, error) {
	if token == "" {
		a.reason = reasonMissingToken
		return &ResetResult{Error: MsgTokenRequired}, nil
	}
	if newPassword == "" {
		a.reason = reasonMissingPassword
		return &ResetResult{Error: MsgNewPasswordEmpty}, nil
	}
	if v := m.ValidatePasswordStrength(newPassword); !v.Valid {
		a.reason = reasonWeakPassword
		return &ResetResult{Error: strings.Join(v.Errors, "; ")}, nil
	}

	digest := security.HashToken(token)
	now := m.now()

	rt, err := m.resetTokens.FindByToken(ctx, digest)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		a.reason = reasonInvalidToken
		return nil, apperrors.NewInvalidTokenError(tokenTypeReset, msgTokenInvalid)
	case err != nil:
		return nil, err
	case rt.Used:
		a.userID = rt.UserID
		a.reason = reasonTokenUsed
		return nil, apperrors.NewInvalidTokenError(tokenTypeReset, msgTokenUsed)
	case rt.IsExpiredAt(now):
		a.userID = rt.UserID
		a.reason = reasonTokenExpired
		return nil, apperrors.NewInvalidTokenError(tokenTypeReset, msgTokenExpired)
	}
	a.userID = rt.UserID

	user, err := m.users.FindByID(ctx, rt.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		a.reason = reasonInvalidToken
		return nil, apperrors.NewInvalidTokenError(tokenTypeReset, msgTokenInvalid)
	}
	if err != nil {
		return nil, err
	}
	a.username = user.Username

	if m.usedRecently(newPassword, user) {
		a.reason = reasonPasswordReused
		return &ResetResult{Error: MsgPasswordReused}, nil
	}

	newHash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	// Spend the token first: of two concurrent completions only one may
	// change the password.
	_, err = m.resetTokens.Update(ctx, digest, func(t *models.ResetToken) error {
		if !t.IsUsableAt(now) {
			return errTokenConsumed
		}
		t.MarkUsed(now)
		return nil
	})
	if errors.Is(err, errTokenConsumed) || errors.Is(err, repository.ErrNotFound) {
		a.reason = reasonTokenUsed
		return nil, apperrors.NewInvalidTokenError(tokenTypeReset, msgTokenUsed)
	}
	if err != nil {
		return nil, err
	}

	_, err = m.users.Update(ctx, user.ID, func(u *models.User) error {
		u.PushPasswordHistory(u.PasswordHash, m.historySize)
		u.PasswordHash = newHash
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	revoked, err := m.sessions.InvalidateAllUserSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	a.revoked = revoked
	m.metrics.RecordSessionsInvalidated(reasonPasswordChanged, revoked)

	a.reason = reasonPasswordChanged
	m.log.Info("password reset completed", zap.String("user_id", user.ID), zap.Int64("sessions_revoked", revoked))
	return &ResetResult{Success: true}, nil
}

func (m *Manager) logEvent(ctx context.Context, ev audit.Event) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogAuthEvent(ctx, ev); err != nil {
		logger.LogError(m.log, "failed to record audit event", err, zap.String("event_type", string(ev.Type)))
	}
}
