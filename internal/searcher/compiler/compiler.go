// Package compiler translates predicate trees into engine queries and
// provides the traversals used around compilation: field-name extraction and
// rename, copy-on-write rewriting of engine trees, empty-term pruning and a
// canonical debug rendering.
package compiler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/predicate"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
)

var ErrCompile = errors.New("query compilation failed")

// maxEdits is the largest edit distance a fuzzy term may ask for.
const maxEdits = 2

// CompileError is returned for predicates the engine cannot express. It
// matches both ErrCompile and errors.ErrInvalidQuery.
type CompileError struct {
	Field string
	Msg   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling query on field %q: %s", e.Field, e.Msg)
}

func (e *CompileError) Unwrap() []error {
	return []error{ErrCompile, apperrors.ErrInvalidQuery}
}

func compileErrorf(field, format string, args ...any) error {
	return &CompileError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Compiler turns predicates into engine queries using the analyzer the
// fields were indexed with.
type Compiler struct {
	analyzer engine.Analyzer
}

func New(analyzer engine.Analyzer) *Compiler {
	if analyzer == nil {
		analyzer = engine.StandardAnalyzer{}
	}
	return &Compiler{analyzer: analyzer}
}

func (c *Compiler) Compile(n predicate.Node) (engine.Query, error) {
	switch n := n.(type) {
	case *predicate.SimpleTerm:
		return c.compileTerm(n)
	case *predicate.Range:
		return c.compileRange(n)
	case *predicate.Logical:
		return c.compileLogical(n)
	case nil:
		return nil, compileErrorf("", "nil predicate")
	}
	return nil, compileErrorf("", "unsupported predicate %T", n)
}

func (c *Compiler) compileTerm(t *predicate.SimpleTerm) (engine.Query, error) {
	boost := boostOf(t.Boost)
	v := t.Value
	switch {
	case v.Kind == value.KindBool:
		if t.Fuzzy != nil {
			return nil, compileErrorf(t.Field, "fuzzy match on a bool value")
		}
		return &engine.TermQuery{Term: engine.ValueTerm(t.Field, v), Boost: boost}, nil
	case v.Kind.Numeric():
		if t.Fuzzy != nil {
			return nil, compileErrorf(t.Field, "fuzzy match on a %s value", v.Kind)
		}
		exact := v
		return &engine.NumericRangeQuery{
			Field:        t.Field,
			Kind:         v.Kind,
			Min:          &exact,
			Max:          &exact,
			MinInclusive: true,
			MaxInclusive: true,
			Boost:        boost,
		}, nil
	case v.Kind != value.KindString:
		return nil, compileErrorf(t.Field, "unsupported value kind %s", v.Kind)
	}

	if v.Str == "" {
		return &engine.MatchNoneQuery{Field: t.Field}, nil
	}
	if predicate.HasWildcard(v.Str) {
		if t.Fuzzy != nil {
			return nil, compileErrorf(t.Field, "fuzzy match on a wildcard pattern")
		}
		if prefix, ok := predicate.PrefixOf(v.Str); ok {
			return &engine.PrefixQuery{Prefix: engine.NewTerm(t.Field, c.fold(t.Field, prefix)), Boost: boost}, nil
		}
		return &engine.WildcardQuery{Pattern: engine.NewTerm(t.Field, c.fold(t.Field, v.Str)), Boost: boost}, nil
	}

	tokens := c.analyzer.Analyze(t.Field, predicate.Unescape(v.Str))
	switch len(tokens) {
	case 0:
		return &engine.MatchNoneQuery{Field: t.Field}, nil
	case 1:
		term := engine.NewTerm(t.Field, tokens[0].Term)
		if t.Fuzzy != nil {
			return &engine.FuzzyQuery{Term: term, MaxEdits: editsFor(*t.Fuzzy, term.Text), Boost: boost}, nil
		}
		return &engine.TermQuery{Term: term, Boost: boost}, nil
	}
	phrase := &engine.PhraseQuery{Field: t.Field, Terms: make([]string, len(tokens)), Boost: boost}
	for i, tok := range tokens {
		phrase.Terms[i] = tok.Term
	}
	if t.Fuzzy != nil && *t.Fuzzy == math.Trunc(*t.Fuzzy) {
		phrase.Slop = int(*t.Fuzzy)
	}
	return phrase, nil
}

// editsFor maps a fuzzy value to an edit distance. Values below 1 are a
// minimum similarity relative to the term length.
func editsFor(fuzzy float64, text string) int {
	edits := int(fuzzy)
	if fuzzy < 1 {
		edits = int((1 - fuzzy) * float64(utf8.RuneCountInString(text)))
	}
	return min(max(edits, 0), maxEdits)
}

// fold lower-cases wildcard and range text when the field's analyzer
// lower-cases indexed terms. Patterns are never analyzed.
func (c *Compiler) fold(field, text string) string {
	probe := c.analyzer.Analyze(field, "Xy")
	if len(probe) == 1 && probe[0].Term == "xy" {
		return strings.ToLower(text)
	}
	return text
}

func (c *Compiler) compileRange(r *predicate.Range) (engine.Query, error) {
	if r.Min == nil && r.Max == nil {
		return nil, compileErrorf(r.Field, "range without bounds")
	}
	if r.Min != nil && r.Max != nil && r.Min.Kind != r.Max.Kind {
		return nil, compileErrorf(r.Field, "range bounds of different kinds %s and %s", r.Min.Kind, r.Max.Kind)
	}
	var kind value.Kind
	if r.Min != nil {
		kind = r.Min.Kind
	} else {
		kind = r.Max.Kind
	}
	boost := boostOf(r.Boost)
	switch {
	case kind == value.KindString:
		q := &engine.TermRangeQuery{
			Field:        r.Field,
			IncludeLower: r.MinInclusive,
			IncludeUpper: r.MaxInclusive,
			Boost:        boost,
		}
		if r.Min != nil {
			lo := c.fold(r.Field, r.Min.Str)
			q.Lower = &lo
		}
		if r.Max != nil {
			hi := c.fold(r.Field, r.Max.Str)
			q.Upper = &hi
		}
		return q, nil
	case kind.Numeric():
		return &engine.NumericRangeQuery{
			Field:        r.Field,
			Kind:         kind,
			Min:          r.Min,
			Max:          r.Max,
			MinInclusive: r.MinInclusive,
			MaxInclusive: r.MaxInclusive,
			Boost:        boost,
		}, nil
	}
	return nil, compileErrorf(r.Field, "range over %s values", kind)
}

func (c *Compiler) compileLogical(l *predicate.Logical) (engine.Query, error) {
	q := &engine.BooleanQuery{Clauses: make([]engine.BooleanClause, 0, len(l.Clauses)), Boost: boostOf(l.Boost)}
	for _, clause := range l.Clauses {
		sub, err := c.Compile(clause.Node)
		if err != nil {
			return nil, err
		}
		q.Clauses = append(q.Clauses, engine.BooleanClause{Query: sub, Occur: occurOf(clause.Occur)})
	}
	return q, nil
}

func occurOf(o predicate.Occur) engine.Occur {
	switch o {
	case predicate.Must:
		return engine.Must
	case predicate.MustNot:
		return engine.MustNot
	}
	return engine.Should
}

func boostOf(b *float64) float64 {
	if b == nil {
		return 0
	}
	return *b
}
