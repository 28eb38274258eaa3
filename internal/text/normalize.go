// Package text cleans request text before it reaches an engine command line.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// Normalize cleans raw input text and rejects input with nothing left to speak.
func Normalize(s string) (string, error) {
	s = Clean(s)
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

// Clean is Normalize without the emptiness check, for optional fields such
// as a reference transcript. Line endings become \n and invalid UTF-8 is
// replaced with U+FFFD. Control characters other than newline and tab are
// dropped, since NUL cannot be passed through argv at all.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
