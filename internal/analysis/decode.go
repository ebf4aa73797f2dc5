package analysis

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// DecodeError explains why a base64-looking payload was not used as decoded text.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "analysis: base64 decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "analysis: base64 decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// looksBase64 reports whether s consists only of base64 alphabet characters.
// Anything with non-ASCII text (e.g. Japanese) never qualifies.
func looksBase64(s string) bool {
	return base64Pattern.MatchString(s)
}

// decodeBase64Text decodes s as standard base64 (padding optional) and
// requires the result to be non-empty UTF-8 text.
func decodeBase64Text(s string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(raw) == 0 {
		return "", &DecodeError{Reason: "decoded content is empty"}
	}
	if !utf8.Valid(raw) {
		return "", &DecodeError{Reason: "decoded bytes are not valid UTF-8"}
	}
	return string(raw), nil
}

// truncateRunes returns the first n characters of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

