package domain

// MinStrongPasswordLength is the length predicate of the recovery policy.
const MinStrongPasswordLength = 8

// PasswordStrength reports which predicates of the recovery policy a
// candidate password satisfies.
type PasswordStrength struct {
	MinLength bool
	Upper     bool
	Lower     bool
	Digit     bool
	Special   bool
}

// OK reports whether every predicate holds.
func (s PasswordStrength) OK() bool {
	return s.MinLength && s.Upper && s.Lower && s.Digit && s.Special
}

// Missing lists human-readable names of the predicates that failed, in the
// order the recovery page lists them.
func (s PasswordStrength) Missing() []string {
	var out []string
	if !s.MinLength {
		out = append(out, "at least 8 characters")
	}
	if !s.Upper {
		out = append(out, "an uppercase letter")
	}
	if !s.Lower {
		out = append(out, "a lowercase letter")
	}
	if !s.Digit {
		out = append(out, "a number")
	}
	if !s.Special {
		out = append(out, "a special character")
	}
	return out
}

// CheckPasswordStrength evaluates the five predicates. Upper, lower and digit
// are ASCII classes; anything outside [A-Za-z0-9] counts as special.
func CheckPasswordStrength(password string) PasswordStrength {
	var s PasswordStrength
	s.MinLength = len([]rune(password)) >= MinStrongPasswordLength
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			s.Upper = true
		case r >= 'a' && r <= 'z':
			s.Lower = true
		case r >= '0' && r <= '9':
			s.Digit = true
		default:
			s.Special = true
		}
	}
	return s
}
