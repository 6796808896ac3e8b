// Package sanitize builds injection-safe filter predicates and validates
// caller-supplied identifiers and limits before they reach the vector index.
//
// Every function here is pure and fail-closed: malformed input is always
// rejected outright, never partially applied or best-effort corrected.
// No other package may concatenate caller input into a query expression.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrValidation indicates that caller-supplied input failed validation.
// It is always returned before any I/O is performed.
var ErrValidation = errors.New("validation failed")

const (
	// maxIdentifierLen bounds identifier input before the grammar check runs,
	// so pathological inputs are rejected without regex work.
	maxIdentifierLen = 64

	// DefaultMaxRows is the ceiling for general row limits (bulk loads).
	DefaultMaxRows = 1000

	// MaxSearchResults is the ceiling for similarity-search result counts.
	MaxSearchResults = 100
)

// identifierPattern is the canonical UUID text form (8-4-4-4-12 hex groups).
// Deliberately stricter than uuid.Parse, which also accepts braced, URN, and
// undashed variants that must not reach generated query expressions.
var identifierPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateIdentifier reports whether s is a well-formed tenant/conversation/
// message identifier. Empty, oversized, or malformed input is rejected, as is
// anything containing quoting or statement-separator characters (those can
// never appear in the canonical UUID grammar, so the single pattern match
// covers them).
func ValidateIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLen {
		return false
	}
	return identifierPattern.MatchString(s)
}

// EscapeLiteral doubles embedded single quotes so a value interpolated into a
// generated string literal cannot terminate it early. Values bound as query
// parameters do not need this; it exists for the rare backend expression that
// requires an inline literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// BuildPredicate converts a {column: value} filter map into a parameterized
// conjunction ("a = ? AND b = ?") plus the bound argument list. It is the
// only permitted path for building filter expressions.
//
// Every column name must appear in the allowed list and every value must be a
// string; anything else returns ErrValidation with no partial result.
// Columns are emitted in sorted order so generated SQL is deterministic.
func BuildPredicate(allowed []string, filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("%w: empty filter set", ErrValidation)
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, col := range allowed {
		allowedSet[col] = true
	}

	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	clauses := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		if !allowedSet[col] {
			return "", nil, fmt.Errorf("%w: column %q is not allowed in filters", ErrValidation, col)
		}
		v, ok := filters[col].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: filter value for %q must be a string", ErrValidation, col)
		}
		clauses = append(clauses, col+" = ?")
		args = append(args, v)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// ClampLimit validates a caller-supplied row limit and caps it at max.
// Non-positive limits are rejected rather than defaulted: the caller decides
// defaults, this layer only refuses nonsense.
func ClampLimit(n, max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("%w: limit ceiling must be positive, got %d", ErrValidation, max)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, n)
	}
	if n > max {
		return max, nil
	}
	return n, nil
}
