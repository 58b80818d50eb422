package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides which mirrored files are kept.
//
// Patterns are evaluated against the path relative to the mirrored prefix
// (the same path the file gets under the local directory):
//   - Includes: when set, the path must match at least one
//   - Excludes: the path must not match any
//
// A zero-config Matcher keeps everything. A Matcher is safe for concurrent
// use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	excludeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns of which at least one must match.
	// Empty means every path is included.
	Includes []string

	// Excludes are glob patterns of which none may match.
	Excludes []string

	// ExcludeHidden drops paths with a segment starting with '.'.
	ExcludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles cfg into a Matcher.
//
// Patterns are normalized so Windows-style separators work while escape
// sequences for literal glob metacharacters are preserved.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		excludeHidden: cfg.ExcludeHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		normalized := NormalizePattern(r)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether the relative path is kept.
//
// Paths are matched as-is; object keys are opaque strings.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return true
	}
	if m.excludeHidden && IsHidden(rel) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if matchPattern(inc, rel) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, rel) {
			return false
		}
	}
	return true
}

// IsZero reports whether the matcher keeps every path.
func (m *Matcher) IsZero() bool {
	return m == nil || (len(m.includes) == 0 && len(m.excludes) == 0 && !m.excludeHidden)
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		// validated in New
		return false
	}
	return matched
}
