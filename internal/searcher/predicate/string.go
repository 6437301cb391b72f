package predicate

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

// String renders the term in query syntax. Wildcards and existing escapes
// in string values are kept as they are.
func (t *SimpleTerm) String() string {
	var b strings.Builder
	b.WriteString(t.Field)
	b.WriteByte(':')
	if t.Value.Kind == value.KindString {
		b.WriteString(EscapePattern(t.Value.Str))
	} else {
		b.WriteString(EscapeText(t.Value.String()))
	}
	if t.Fuzzy != nil {
		b.WriteByte('~')
		b.WriteString(FormatNumber(*t.Fuzzy))
	}
	writeBoost(&b, t.Boost)
	return b.String()
}

func (r *Range) String() string {
	var b strings.Builder
	b.WriteString(r.Field)
	b.WriteByte(':')
	WriteRange(&b, boundText(r.Min), boundText(r.Max), r.MinInclusive, r.MaxInclusive)
	writeBoost(&b, r.Boost)
	return b.String()
}

func boundText(v *value.Value) *string {
	if v == nil {
		return nil
	}
	var s string
	if v.Kind == value.KindString {
		s = v.Str
	} else {
		s = v.String()
	}
	return &s
}

// String joins clauses with their occurrence prefix. Nested logical nodes
// are parenthesized.
// String renders the clauses. A boosted node is parenthesized so the boost
// applies to the whole group.
func (l *Logical) String() string {
	var b strings.Builder
	if l.Boost != nil && *l.Boost != 1 {
		b.WriteByte('(')
		l.writeClauses(&b)
		b.WriteByte(')')
		writeBoost(&b, l.Boost)
		return b.String()
	}
	l.writeClauses(&b)
	return b.String()
}

func (l *Logical) writeClauses(b *strings.Builder) {
	for i, c := range l.Clauses {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(OccurPrefix(c.Occur))
		if nested, ok := c.Node.(*Logical); ok {
			b.WriteByte('(')
			nested.writeClauses(b)
			b.WriteByte(')')
			writeBoost(b, nested.Boost)
			continue
		}
		if c.Node == nil {
			b.WriteString("<nil>")
			continue
		}
		b.WriteString(c.Node.String())
	}
}

// OccurPrefix is the query-syntax prefix of o.
func OccurPrefix(o Occur) string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	}
	return ""
}

// WriteRange writes a bracketed range. Nil bounds render as *.
func WriteRange(b *strings.Builder, lower, upper *string, includeLower, includeUpper bool) {
	if includeLower {
		b.WriteByte('[')
	} else {
		b.WriteByte('{')
	}
	if lower == nil {
		b.WriteByte('*')
	} else {
		b.WriteString(EscapeText(*lower))
	}
	b.WriteString(" TO ")
	if upper == nil {
		b.WriteByte('*')
	} else {
		b.WriteString(EscapeText(*upper))
	}
	if includeUpper {
		b.WriteByte(']')
	} else {
		b.WriteByte('}')
	}
}

func writeBoost(b *strings.Builder, boost *float64) {
	if boost != nil && *boost != 1 {
		b.WriteByte('^')
		b.WriteString(FormatNumber(*boost))
	}
}

func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func special(r rune) bool {
	switch r {
	case ' ', '\t', '(', ')', '[', ']', '{', '}', '"', '^', '~':
		return true
	}
	return r < ' ' || r == 0x7f
}

// EscapeText escapes literal text, wildcards included. Control characters
// are written as \xNN.
func EscapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		escapeRune(&b, r, r == '*' || r == '?' || r == '\\')
	}
	return b.String()
}

// EscapePattern escapes text that may hold wildcards and backslash escapes.
// Those are copied through unchanged.
func EscapePattern(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' {
			if i+1 < len(runes) && strings.ContainsRune(`*?\`, runes[i+1]) {
				b.WriteRune(r)
				b.WriteRune(runes[i+1])
				i++
				continue
			}
			escapeRune(&b, r, true)
			continue
		}
		escapeRune(&b, r, false)
	}
	return b.String()
}

func escapeRune(b *strings.Builder, r rune, force bool) {
	switch {
	case r < ' ' || r == 0x7f:
		b.WriteString(`\x`)
		b.WriteString(strconv.FormatInt(int64(r)+0x100, 16)[1:])
	case force || special(r):
		b.WriteByte('\\')
		b.WriteRune(r)
	default:
		b.WriteRune(r)
	}
}
