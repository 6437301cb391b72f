package compiler

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/predicate"
)

// Render writes q in the same syntax predicate nodes print in, so a
// compiled keyword-field query renders like its source predicate.
func Render(q engine.Query) string {
	var b strings.Builder
	render(&b, q, true)
	return b.String()
}

func render(b *strings.Builder, q engine.Query, top bool) {
	switch q := q.(type) {
	case nil:
		b.WriteString("<nil>")
	case *engine.TermQuery:
		field(b, q.Term.Field)
		b.WriteString(predicate.EscapeText(q.Term.Text))
		boost(b, q.Boost)
	case *engine.PrefixQuery:
		field(b, q.Prefix.Field)
		b.WriteString(predicate.EscapeText(q.Prefix.Text))
		b.WriteByte('*')
		boost(b, q.Boost)
	case *engine.WildcardQuery:
		field(b, q.Pattern.Field)
		b.WriteString(predicate.EscapePattern(q.Pattern.Text))
		boost(b, q.Boost)
	case *engine.FuzzyQuery:
		field(b, q.Term.Field)
		b.WriteString(predicate.EscapeText(q.Term.Text))
		b.WriteByte('~')
		b.WriteString(strconv.Itoa(q.MaxEdits))
		boost(b, q.Boost)
	case *engine.PhraseQuery:
		field(b, q.Field)
		b.WriteByte('"')
		for i, t := range q.Terms {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(predicate.EscapeText(t))
		}
		b.WriteByte('"')
		if q.Slop > 0 {
			b.WriteByte('~')
			b.WriteString(strconv.Itoa(q.Slop))
		}
		boost(b, q.Boost)
	case *engine.TermRangeQuery:
		field(b, q.Field)
		predicate.WriteRange(b, q.Lower, q.Upper, q.IncludeLower, q.IncludeUpper)
		boost(b, q.Boost)
	case *engine.NumericRangeQuery:
		field(b, q.Field)
		if q.Min != nil && q.Max != nil && q.MinInclusive && q.MaxInclusive && q.Min.Equal(*q.Max) {
			b.WriteString(predicate.EscapeText(q.Min.String()))
		} else {
			predicate.WriteRange(b, text(q.Min), text(q.Max), q.MinInclusive, q.MaxInclusive)
		}
		boost(b, q.Boost)
	case *engine.BooleanQuery:
		// A boosted root keeps its parentheses so the boost is not lost.
		wrap := !top || (q.Boost != 0 && q.Boost != 1)
		if wrap {
			b.WriteByte('(')
		}
		for i, c := range q.Clauses {
			if i > 0 {
				b.WriteByte(' ')
			}
			switch c.Occur {
			case engine.Must:
				b.WriteByte('+')
			case engine.MustNot:
				b.WriteByte('-')
			}
			render(b, c.Query, false)
		}
		if wrap {
			b.WriteByte(')')
			boost(b, q.Boost)
		}
	case *engine.MatchNoneQuery:
		b.WriteString("<empty>")
	case *engine.MatchAllQuery:
		b.WriteString("*:*")
		boost(b, q.Boost)
	default:
		b.WriteString("<unknown>")
	}
}

func field(b *strings.Builder, name string) {
	b.WriteString(name)
	b.WriteByte(':')
}

func boost(b *strings.Builder, v float64) {
	if v != 0 && v != 1 {
		b.WriteByte('^')
		b.WriteString(predicate.FormatNumber(v))
	}
}

func text(v *value.Value) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
