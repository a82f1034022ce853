// Package exec validates the shell-command text the policy engine parses
// when it synthesizes an AllowedAlways allowlist pattern for a shell call
// (§4.1): the first token of a command must look like a safe bare
// executable name or a path, and the full command must be free of
// characters that would let a prefix grant cover more than the named
// executable.
package exec

import (
	"regexp"
	"strings"
)

var (
	// ShellMetachars matches the shell metacharacters that make a prefix
	// grant unsafe to synthesize: a command containing any of these can
	// pipe, redirect, or chain into something the approved prefix never
	// covered, so allowlist.go falls back to an exact-match pattern
	// instead.
	ShellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	// ControlChars matches newlines and carriage returns, which have no
	// legitimate place inside a single shell command argument.
	ControlChars = regexp.MustCompile(`[\r\n]`)

	quoteChars         = regexp.MustCompile(`["']`)
	bareNamePattern    = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	windowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

// looksLikePath reports whether value has the shape of a file path rather
// than a bare executable name: a leading dot/tilde, a path separator, or a
// Windows drive letter.
func looksLikePath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, `/\`) {
		return true
	}
	return windowsDriveLetter.MatchString(value)
}

// IsSafeExecutableValue reports whether value is safe to treat as the
// executable token of a synthesized shell allowlist prefix: non-empty,
// free of null bytes, control characters, shell metacharacters, and
// quotes, and either path-shaped or a bare name matching
// [A-Za-z0-9._+-]+ that doesn't start with a dash (which would read as an
// option, not a command name).
func IsSafeExecutableValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "\x00") {
		return false
	}
	if ControlChars.MatchString(trimmed) || ShellMetachars.MatchString(trimmed) || quoteChars.MatchString(trimmed) {
		return false
	}
	if looksLikePath(trimmed) {
		return true
	}
	if strings.HasPrefix(trimmed, "-") {
		return false
	}
	return bareNamePattern.MatchString(trimmed)
}
