package sqlite

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 128

// Scheduler names carry slashes (JL/U), brackets (array jobs 205[3]), dots and
// dashes (host names). Anything that could close a quoted identifier or act as a
// bind marker is refused.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\-.\[\]/:%+]+$`)

// SanitizeIdentifier validates a table or column name against the allow-list
func SanitizeIdentifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	if len(name) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %q longer than %d characters", ErrInvalidIdentifier, name, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return "", fmt.Errorf("%w: %q uses the reserved sqlite_ prefix", ErrInvalidIdentifier, name)
	}
	return name, nil
}

// TableName builds the deterministic <prefix>_<entityID> table name
func TableName(prefix, entityID string) (string, error) {
	if entityID == "" {
		return "", fmt.Errorf("%w: empty entity id for %s", ErrInvalidIdentifier, prefix)
	}
	return SanitizeIdentifier(prefix + "_" + entityID)
}

// quote wraps an already sanitized identifier in double quotes
func quote(name string) string {
	return `"` + name + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", ")
}
