package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const maxIdentifierLen = 128

// ValidateIdentifier reports whether name is a plain, unquoted-safe SQL
// identifier of at most 128 characters.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name is required")
	case len(name) > maxIdentifierLen:
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	case !identifierRe.MatchString(name):
		return fmt.Errorf("name %q must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}

// QuoteIdentifier double-quotes name, doubling embedded double quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral single-quotes value, doubling embedded single quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
