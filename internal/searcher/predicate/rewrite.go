package predicate

// Visitor rewrites leaves. A nil func leaves that variant unchanged; a nil
// result removes the leaf from its parent.
type Visitor struct {
	SimpleTerm func(*SimpleTerm) Node
	Range      func(*Range) Node
	// Logical sees the node after its clauses were rewritten.
	Logical func(*Logical) Node
}

// Rewrite applies v bottom-up. Logical nodes are rebuilt only when a clause
// changed; a Logical that loses every clause becomes nil.
func Rewrite(n Node, v Visitor) Node {
	switch t := n.(type) {
	case *SimpleTerm:
		if v.SimpleTerm == nil {
			return n
		}
		return v.SimpleTerm(t)
	case *Range:
		if v.Range == nil {
			return n
		}
		return v.Range(t)
	case *Logical:
		out := rewriteClauses(t, v)
		if out == nil || v.Logical == nil {
			return out
		}
		return v.Logical(out.(*Logical))
	}
	return n
}

func rewriteClauses(l *Logical, v Visitor) Node {
	var clauses []Clause
	changed := false
	for i, c := range l.Clauses {
		r := Rewrite(c.Node, v)
		if r != c.Node && !changed {
			changed = true
			clauses = append(make([]Clause, 0, len(l.Clauses)), l.Clauses[:i]...)
		}
		if !changed {
			continue
		}
		if r != nil {
			clauses = append(clauses, Clause{Node: r, Occur: c.Occur})
		}
	}
	if !changed {
		return l
	}
	if len(clauses) == 0 {
		return nil
	}
	return &Logical{Clauses: clauses, Boost: l.Boost}
}

// Walk calls fn for every node in depth-first order. Returning false skips
// the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if l, ok := n.(*Logical); ok {
		for _, c := range l.Clauses {
			Walk(c.Node, fn)
		}
	}
}
