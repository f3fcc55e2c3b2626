package otp

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern matches a word-boundary delimited run of 4 to 6 digits.
const DefaultPattern = `\b\d{4,6}\b`

var defaultRe = regexp.MustCompile(DefaultPattern)

// IsValidCode reports whether s is exactly 4 to 6 ASCII decimal digits.
func IsValidCode(s string) bool {
	if len(s) < 4 || len(s) > 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Matcher extracts candidate tokens from rendered document text.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles pattern. An empty pattern selects DefaultPattern.
func NewMatcher(pattern string) (*Matcher, error) {
	if strings.TrimSpace(pattern) == "" || pattern == DefaultPattern {
		return &Matcher{re: defaultRe}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &Matcher{re: re}, nil
}

// DefaultMatcher returns the matcher for DefaultPattern.
func DefaultMatcher() *Matcher { return &Matcher{re: defaultRe} }

func (m *Matcher) Pattern() string { return m.re.String() }

// FindAll returns every non-overlapping match in document order.
// Matches are candidates only; callers still apply IsValidCode.
func (m *Matcher) FindAll(text string) []string {
	if m == nil || m.re == nil || text == "" {
		return nil
	}
	return m.re.FindAllString(text, -1)
}

// ValidatePattern reports whether pattern compiles. Empty is valid (default pattern).
func ValidatePattern(pattern string) error {
	_, err := NewMatcher(pattern)
	return err
}

// Validate checks the settings record. Only the custom pattern can be malformed.
func (s Settings) Validate() error {
	return ValidatePattern(s.CustomPattern)
}
