package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"
)

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

const DefaultMinPasswordLength = 8

// MsgPasswordRequired is the only violation reported for an empty password.
const MsgPasswordRequired = "password is required"

// PasswordRule returns a violation message, or "" when the password passes.
type PasswordRule interface {
	Check(password string) string
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) string

func (f PasswordRuleFunc) Check(password string) string {
	return f(password)
}

// PasswordPolicy applies every rule and collects all violations.
type PasswordPolicy struct {
	rules []PasswordRule
}

func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordPolicy{rules: copied}
}

// DefaultPasswordPolicy requires 8 characters, a letter, a digit and a symbol.
func DefaultPasswordPolicy() *PasswordPolicy {
	return NewPasswordPolicy(
		MinLengthRule(DefaultMinPasswordLength),
		RequireLetterRule(),
		RequireDigitRule(),
		RequireSymbolRule(),
	)
}

// Check returns nil for a compliant password. An empty password yields only
// MsgPasswordRequired.
func (p *PasswordPolicy) Check(password string) []string {
	if password == "" {
		return []string{MsgPasswordRequired}
	}
	var violations []string
	for _, rule := range p.rules {
		if msg := rule.Check(password); msg != "" {
			violations = append(violations, msg)
		}
	}
	return violations
}

func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) string {
		if utf8.RuneCountInString(password) < min {
			return fmt.Sprintf("password must be at least %d characters long", min)
		}
		return ""
	})
}

func RequireLetterRule() PasswordRule {
	return PasswordRuleFunc(func(password string) string {
		for _, r := range password {
			if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
				return ""
			}
		}
		return "password must contain at least one letter"
	})
}

func RequireDigitRule() PasswordRule {
	return PasswordRuleFunc(func(password string) string {
		for _, r := range password {
			if '0' <= r && r <= '9' {
				return ""
			}
		}
		return "password must contain at least one digit"
	})
}

func RequireSymbolRule() PasswordRule {
	return PasswordRuleFunc(func(password string) string {
		if strings.ContainsAny(password, PasswordSymbols) {
			return ""
		}
		return "password must contain at least one special character"
	})
}

// MinStrengthScoreRule rejects passwords whose zxcvbn score is below minScore.
// A minScore of 0 disables the rule.
func MinStrengthScoreRule(minScore int, userInputs ...string) PasswordRule {
	if minScore > 4 {
		minScore = 4
	}
	return PasswordRuleFunc(func(password string) string {
		if minScore <= 0 {
			return ""
		}
		if zxcvbn.PasswordStrength(password, userInputs).Score < minScore {
			return "password is too easy to guess"
		}
		return ""
	})
}
