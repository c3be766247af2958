// Package ident validates and quotes identifiers of external relational stores.
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the longest identifier in bytes accepted by the supported
// stores (Postgres NAMEDATALEN - 1). Multi-byte names hit it before 63 runes.
const MaxLength = 63

var ErrInvalidIdentifier = errors.New("invalid identifier")

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// quoteChars are the identifier quoting characters of the supported dialects.
const quoteChars = "\"`"

// ValidateIdentifier checks an external-store identifier:
//   - non-empty
//   - at most MaxLength bytes
//   - no identifier quoting character
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentifier)
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%w: %q must be at most %d bytes", ErrInvalidIdentifier, name, MaxLength)
	}
	if strings.ContainsAny(name, quoteChars) {
		return fmt.Errorf("%w: %q contains a quote character", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateTableName checks an internal/target table name against ^[a-z][a-z0-9_]{0,62}$.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q must match [a-z][a-z0-9_]*", ErrInvalidIdentifier, name)
	}
	return nil
}

// QuoteIdentifier wraps name in quote, doubling any embedded quote character.
func QuoteIdentifier(name string, quote byte) string {
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// QuoteLiteral wraps a string value in single quotes, doubling embedded single quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
