// Package password checks submitted passwords against the account password
// policy: at least 10 characters with a lowercase letter, an uppercase
// letter, a digit and one special character.
package password

import "unicode"

const (
	MinLength = 10

	// SpecialChars is the accepted special character set.
	SpecialChars = "@$!%*#?&"
)

// Validate returns one message per violated rule, empty for a valid password.
func Validate(pwd string) []string {
	var errs []string

	if len(pwd) < MinLength {
		errs = append(errs, "password must be at least 10 characters long")
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool

	for _, r := range pwd {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			for _, s := range SpecialChars {
				if r == s {
					hasSpecial = true
					break
				}
			}
		}
	}

	if !hasLower {
		errs = append(errs, "password must contain at least one lowercase letter")
	}
	if !hasUpper {
		errs = append(errs, "password must contain at least one uppercase letter")
	}
	if !hasDigit {
		errs = append(errs, "password must contain at least one number")
	}
	if !hasSpecial {
		errs = append(errs, "password must contain at least one special character (@$!%*#?&)")
	}

	return errs
}
