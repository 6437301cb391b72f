// Package fields names the index fields shared by the indexer, the query
// compiler and the permission filter.
package fields

import "strings"

const (
	VersionID    = "VersionId"
	NodeID       = "NodeId"
	ParentID     = "ParentId"
	Path         = "Path"
	InTree       = "InTree"
	InFolder     = "InFolder"
	Name         = "Name"
	Type         = "Type"
	TypeIs       = "TypeIs"
	IsLastPublic = "IsLastPublic"
	IsLastDraft  = "IsLastDraft"
	// AllText aggregates the text of every field for free-text search.
	AllText = "_Text"
	Binary  = "Binary"
)

// InTreeValues returns path and every ancestor of it, lower-cased, which is
// what the InTree field holds. "/Root/A/B" yields "/root", "/root/a" and
// "/root/a/b".
func InTreeValues(path string) []string {
	p := strings.ToLower(strings.TrimSuffix(path, "/"))
	if p == "" {
		return nil
	}
	var out []string
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return append(out, p)
}

// TreeTerm is the InTree term text matching path and everything below it.
func TreeTerm(path string) string {
	return strings.ToLower(strings.TrimSuffix(path, "/"))
}
