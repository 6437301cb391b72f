package engine

import (
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

// Query is the engine-native query tree. The set of variants is closed.
// A zero Boost means 1.
type Query interface {
	isQuery()
}

// Occur is how a boolean clause contributes to its parent.
type Occur int

const (
	Must Occur = iota
	Should
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "MUST"
	case Should:
		return "SHOULD"
	case MustNot:
		return "MUST_NOT"
	}
	return "UNKNOWN"
}

type TermQuery struct {
	Term  Term
	Boost float64
}

type PrefixQuery struct {
	Prefix Term
	Boost  float64
}

// WildcardQuery matches terms against a pattern where '*' is any run of
// characters and '?' is exactly one. A backslash escapes the next rune.
type WildcardQuery struct {
	Pattern Term
	Boost   float64
}

type FuzzyQuery struct {
	Term     Term
	MaxEdits int
	Boost    float64
}

// PhraseQuery matches Terms in order within Field. Slop is the number of
// extra positions tolerated between consecutive terms in total.
type PhraseQuery struct {
	Field string
	Terms []string
	Slop  int
	Boost float64
}

// TermRangeQuery matches string terms in [Lower, Upper]; a nil bound is
// open.
type TermRangeQuery struct {
	Field        string
	Lower        *string
	Upper        *string
	IncludeLower bool
	IncludeUpper bool
	Boost        float64
}

// NumericRangeQuery matches encoded numeric or date terms of Kind.
type NumericRangeQuery struct {
	Field        string
	Kind         value.Kind
	Min          *value.Value
	Max          *value.Value
	MinInclusive bool
	MaxInclusive bool
	Boost        float64
}

type BooleanClause struct {
	Query Query
	Occur Occur
}

// BooleanQuery needs at least one Must or Should clause to match anything.
// Should clauses are optional when a Must clause is present.
type BooleanQuery struct {
	Clauses []BooleanClause
	Boost   float64
}

// MatchNoneQuery is produced for values that analyze to no tokens. Field
// records where it came from.
type MatchNoneQuery struct {
	Field string
}

type MatchAllQuery struct {
	Boost float64
}

func (*TermQuery) isQuery()         {}
func (*PrefixQuery) isQuery()       {}
func (*WildcardQuery) isQuery()     {}
func (*FuzzyQuery) isQuery()        {}
func (*PhraseQuery) isQuery()       {}
func (*TermRangeQuery) isQuery()    {}
func (*NumericRangeQuery) isQuery() {}
func (*BooleanQuery) isQuery()      {}
func (*MatchNoneQuery) isQuery()    {}
func (*MatchAllQuery) isQuery()     {}

func boostOf(b float64) float64 {
	if b == 0 {
		return 1
	}
	return b
}
