package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	minNameLen = 5
	maxNameLen = 32
)

// ErrInvalidName indicates the bot name violates the naming rule.
var ErrInvalidName = errors.New("invalid bot name")

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

// ValidateName enforces the platform naming rule: 5 to 32 characters,
// alphanumerics and single hyphens with alphanumeric ends, and a name
// that ends with "bot" in any casing.
func ValidateName(name string) error {
	if len(name) < minNameLen || len(name) > maxNameLen {
		return fmt.Errorf("%w: length must be between %d and %d characters", ErrInvalidName, minNameLen, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: only letters, digits and hyphens are allowed, starting and ending with a letter or digit", ErrInvalidName)
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("%w: consecutive hyphens are not allowed", ErrInvalidName)
	}
	if !strings.HasSuffix(strings.ToLower(name), "bot") {
		return fmt.Errorf("%w: name must end with \"bot\"", ErrInvalidName)
	}
	return nil
}
