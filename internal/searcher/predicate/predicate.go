// Package predicate is the engine-independent query tree. Trees are
// immutable: rewrites return new nodes only along changed paths and share
// every unchanged subtree with the input.
package predicate

import (
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "Must"
	case MustNot:
		return "MustNot"
	}
	return "Should"
}

// Node is one of *SimpleTerm, *Range or *Logical.
type Node interface {
	isNode()
	String() string
}

// SimpleTerm matches a field value. String values may contain the * and ?
// wildcards; a backslash escapes them.
type SimpleTerm struct {
	Field string
	Value value.Value
	// Fuzzy is an edit distance (>= 1) or a similarity (< 1) for single
	// terms and the slop for phrases.
	Fuzzy *float64
	Boost *float64
}

// Range matches values between Min and Max. A nil bound is open.
type Range struct {
	Field        string
	Min          *value.Value
	Max          *value.Value
	MinInclusive bool
	MaxInclusive bool
	Boost        *float64
}

type Clause struct {
	Node  Node
	Occur Occur
}

// Logical combines clauses by occurrence.
type Logical struct {
	Clauses []Clause
	Boost   *float64
}

func (*SimpleTerm) isNode() {}
func (*Range) isNode()      {}
func (*Logical) isNode()    {}

// Term builds a string SimpleTerm.
func Term(field, text string) *SimpleTerm {
	return &SimpleTerm{Field: field, Value: value.String(text)}
}

// ValueTerm builds a typed SimpleTerm.
func ValueTerm(field string, v value.Value) *SimpleTerm {
	return &SimpleTerm{Field: field, Value: v}
}

func And(nodes ...Node) *Logical { return combine(Must, nodes) }

func Or(nodes ...Node) *Logical { return combine(Should, nodes) }

func Not(n Node) Clause { return Clause{Node: n, Occur: MustNot} }

func combine(o Occur, nodes []Node) *Logical {
	l := &Logical{Clauses: make([]Clause, len(nodes))}
	for i, n := range nodes {
		l.Clauses[i] = Clause{Node: n, Occur: o}
	}
	return l
}

// Float returns a pointer to f, for fuzzy and boost values.
func Float(f float64) *float64 { return &f }

// IsEmpty reports whether n is the empty-term sentinel: a string term with
// no text, which can match nothing.
func IsEmpty(n Node) bool {
	t, ok := n.(*SimpleTerm)
	return ok && t.Value.Kind == value.KindString && t.Value.Str == ""
}
