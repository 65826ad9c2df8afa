package validator

import (
	"regexp"
	"strings"

	"github.com/amirk1998/secure-auth/pkg/errors"
)

var (
	// Username: 3-32 alphanumeric characters, dots, dashes and underscores
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

	// Email: basic email validation
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

type Validator struct {
	policy *PasswordPolicy
}

func New(policy *PasswordPolicy) *Validator {
	if policy == nil {
		policy = DefaultPasswordPolicy()
	}
	return &Validator{policy: policy}
}

// ValidateUsername checks if username is well formed
func (v *Validator) ValidateUsername(username string) error {
	if username == "" {
		return errors.NewValidationError("username", "username is required")
	}
	if !usernameRegex.MatchString(username) {
		return errors.NewValidationError("username", "username must be 3-32 letters, digits, dots, dashes or underscores")
	}
	return nil
}

// ValidateEmail checks if email format is valid
func (v *Validator) ValidateEmail(email string) error {
	if email == "" {
		return errors.NewValidationError("email", "email is required")
	}
	if len(email) > 255 || !emailRegex.MatchString(email) {
		return errors.NewValidationError("email", "invalid email format")
	}
	return nil
}

// ValidatePassword returns a PasswordValidationError listing every violated rule.
func (v *Validator) ValidatePassword(password string) error {
	if violations := v.policy.Check(password); len(violations) > 0 {
		return errors.NewPasswordValidationError(violations)
	}
	return nil
}

// PasswordPolicy exposes the policy the validator was built with.
func (v *Validator) PasswordPolicy() *PasswordPolicy {
	return v.policy
}

// SanitizeString removes null bytes and surrounding whitespace
func (v *Validator) SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// IsEmail reports whether input looks like an email address rather than a username.
func IsEmail(input string) bool {
	return emailRegex.MatchString(input)
}
