package types

import (
	"regexp"
	"strings"
)

// CodeAlphabet is the character set for generated session codes. Visually
// confusable characters (0/O, 1/I) are excluded so codes survive being read
// aloud or copied from a projector.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var codeRegex = regexp.MustCompile(`^[A-Z0-9]+$`)

// CanonicalCode normalizes a session code for lookup: trimmed, uppercase.
// Lookups are case-insensitive via this canonicalization.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks a canonicalized session code.
func ValidateCode(code string) error {
	if code == "" {
		return ErrEmptyCode
	}
	if !codeRegex.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

// NormalizeAlias trims an alias and strips ":". The colon is the room
// identifier delimiter and must never appear in an alias.
func NormalizeAlias(alias string) string {
	return strings.TrimSpace(strings.ReplaceAll(alias, ":", ""))
}

// ValidateAlias checks a normalized alias. Aliases are free text otherwise;
// students pick anything pronounceable, including non-ASCII names.
func ValidateAlias(alias string) error {
	if alias == "" {
		return ErrEmptyAlias
	}
	if len(alias) > 50 {
		return ErrAliasTooLong
	}
	return nil
}
