package compiler

import (
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

// Rewrite applies leaf to every non-boolean query, bottom-up. Boolean
// queries are copied only when a clause changed. A nil result removes the
// clause, and a boolean query left without clauses becomes nil itself.
func Rewrite(q engine.Query, leaf func(engine.Query) engine.Query) engine.Query {
	b, ok := q.(*engine.BooleanQuery)
	if !ok {
		if q == nil {
			return nil
		}
		return leaf(q)
	}
	var clauses []engine.BooleanClause
	changed := false
	for i, c := range b.Clauses {
		r := Rewrite(c.Query, leaf)
		if r != c.Query && !changed {
			changed = true
			clauses = append(make([]engine.BooleanClause, 0, len(b.Clauses)), b.Clauses[:i]...)
		}
		if changed && r != nil {
			clauses = append(clauses, engine.BooleanClause{Query: r, Occur: c.Occur})
		}
	}
	if !changed {
		return b
	}
	if len(clauses) == 0 {
		return nil
	}
	return &engine.BooleanQuery{Clauses: clauses, Boost: b.Boost}
}

// PruneEmptyTerms drops clauses whose text analyzed to nothing. The result
// is nil when nothing searchable remains.
func PruneEmptyTerms(q engine.Query) engine.Query {
	return Rewrite(q, func(leaf engine.Query) engine.Query {
		if _, ok := leaf.(*engine.MatchNoneQuery); ok {
			return nil
		}
		return leaf
	})
}
