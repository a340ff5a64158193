package license

import (
	"fmt"
	"strings"
)

// Activation code format: exactly five hyphen-separated groups of five
// uppercase alphanumeric characters, 29 characters total.
const (
	codeGroups     = 5
	codeGroupLen   = 5
	CodeLength     = codeGroups*codeGroupLen + (codeGroups - 1)
)

// ValidateCodeFormat checks activation code syntax. Invalid codes are
// rejected here, before any network call is spent on them.
func ValidateCodeFormat(code string) error {
	if len(code) != CodeLength {
		return fmt.Errorf("activation code must be %d characters (XXXXX-XXXXX-XXXXX-XXXXX-XXXXX)", CodeLength)
	}

	groups := strings.Split(code, "-")
	if len(groups) != codeGroups {
		return fmt.Errorf("activation code must have %d groups separated by hyphens", codeGroups)
	}

	for i, group := range groups {
		if len(group) != codeGroupLen {
			return fmt.Errorf("group %d must be %d characters", i+1, codeGroupLen)
		}
		for _, ch := range group {
			if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
				return fmt.Errorf("activation code may contain only uppercase letters and digits")
			}
		}
	}

	return nil
}

// NormalizeCode uppercases and trims a user-entered code. Hyphens are kept:
// the wire format is the hyphenated form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MaskCode redacts an activation code for logging, keeping just enough to
// correlate support requests.
func MaskCode(code string) string {
	if len(code) < codeGroupLen {
		return "*****"
	}
	return code[:codeGroupLen] + "-*****-*****-*****-*****"
}
