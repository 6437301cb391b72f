package predicate

import (
	"strconv"
	"strings"
)

// HasWildcard reports whether s holds an unescaped * or ?.
func HasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?':
			return true
		}
	}
	return false
}

// PrefixOf returns the unescaped literal before a trailing *, when that *
// is the only wildcard in s.
func PrefixOf(s string) (string, bool) {
	if len(s) < 2 || !strings.HasSuffix(s, "*") {
		return "", false
	}
	body := s[:len(s)-1]
	if HasWildcard(body) || strings.HasSuffix(body, `\`) && !evenBackslashes(body) {
		return "", false
	}
	return Unescape(body), true
}

func evenBackslashes(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}

// Unescape removes the backslash escapes of wildcards and backslashes.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeWildcards makes literal text safe to store as a SimpleTerm string
// value.
func EscapeWildcards(s string) string {
	if !strings.ContainsAny(s, `*?\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '*' || r == '?' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeEscapes resolves query-syntax escapes in raw. With keepWildcards
// the escapes of *, ? and \ survive so wildcard meaning is preserved.
func decodeEscapes(raw string, keepWildcards bool) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	runes := []rune(raw)
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' || i+1 == len(runes) {
			b.WriteRune(r)
			continue
		}
		i++
		next := runes[i]
		if next == 'x' && i+2 < len(runes) {
			if code, err := strconv.ParseUint(string(runes[i+1:i+3]), 16, 8); err == nil {
				b.WriteRune(rune(code))
				i += 2
				continue
			}
		}
		if keepWildcards && (next == '*' || next == '?' || next == '\\') {
			b.WriteByte('\\')
		}
		b.WriteRune(next)
	}
	return b.String()
}
