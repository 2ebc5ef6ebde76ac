package password

import (
	"fmt"
	"strings"
	"unicode"
)

const specialChars = "!@#$%^&*(),.?\":{}|<>-_+=[]\\;'/`~"

// Policy describes the complexity rules a new password must satisfy.
type Policy struct {
	MinLength      int  `yaml:"min_length"`
	RequireUpper   bool `yaml:"require_upper"`
	RequireLower   bool `yaml:"require_lower"`
	RequireDigit   bool `yaml:"require_digit"`
	RequireSpecial bool `yaml:"require_special"`
}

// DefaultPolicy requires 8 characters with upper, lower, digit and special.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Validate returns the list of violated rules, or nil if p is acceptable.
func (pol Policy) Validate(p string) []string {
	var violations []string

	if len([]rune(p)) < pol.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters long", pol.MinLength))
	}
	if len(p) > maxPasswordBytes {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes long", maxPasswordBytes))
	}

	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}

	if pol.RequireUpper && !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if pol.RequireLower && !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if pol.RequireDigit && !digit {
		violations = append(violations, "must contain a digit")
	}
	if pol.RequireSpecial && !special {
		violations = append(violations, "must contain a special character")
	}
	return violations
}
