package compiler

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/predicate"
)

// ExtractFieldNames returns every field a leaf of n refers to, sorted and
// without duplicates.
func ExtractFieldNames(n predicate.Node) []string {
	seen := make(map[string]struct{})
	predicate.Walk(n, func(node predicate.Node) bool {
		switch node := node.(type) {
		case *predicate.SimpleTerm:
			seen[node.Field] = struct{}{}
		case *predicate.Range:
			seen[node.Field] = struct{}{}
		}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RewriteFieldNames renames leaf fields found in names. Subtrees with no
// renamed field are shared with n.
func RewriteFieldNames(n predicate.Node, names map[string]string) predicate.Node {
	if len(names) == 0 {
		return n
	}
	return predicate.Rewrite(n, predicate.Visitor{
		SimpleTerm: func(t *predicate.SimpleTerm) predicate.Node {
			to, ok := names[t.Field]
			if !ok || to == t.Field {
				return t
			}
			renamed := *t
			renamed.Field = to
			return &renamed
		},
		Range: func(r *predicate.Range) predicate.Node {
			to, ok := names[r.Field]
			if !ok || to == r.Field {
				return r
			}
			renamed := *r
			renamed.Field = to
			return &renamed
		},
	})
}
