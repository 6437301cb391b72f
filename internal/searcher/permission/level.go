// Package permission filters search hits by the caller's access level on
// each document's node and the sensitivity of the fields the query touches.
package permission

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
)

// AccessLevel is the coarse visibility a user has on a node. Levels are
// ordered; a higher level includes everything below it.
type AccessLevel int

const (
	Denied AccessLevel = iota
	See
	Preview
	Open
	OpenMinor
)

func (l AccessLevel) String() string {
	switch l {
	case See:
		return "See"
	case Preview:
		return "Preview"
	case Open:
		return "Open"
	case OpenMinor:
		return "OpenMinor"
	}
	return "Denied"
}

func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "denied", "none", "":
		return Denied, nil
	case "see":
		return See, nil
	case "preview":
		return Preview, nil
	case "open":
		return Open, nil
	case "openminor":
		return OpenMinor, nil
	}
	return Denied, fmt.Errorf("unknown access level %q", s)
}

// FieldLevel is how much of a document a query reveals by matching on a
// field.
type FieldLevel int

const (
	HeadOnly FieldLevel = iota
	NoBinaryOrFullText
	BinaryOrFullText
)

func (l FieldLevel) String() string {
	switch l {
	case HeadOnly:
		return "HeadOnly"
	case NoBinaryOrFullText:
		return "NoBinaryOrFullText"
	}
	return "BinaryOrFullText"
}

// Classifier assigns field levels. Fields it does not list are
// NoBinaryOrFullText.
type Classifier struct {
	headOnly map[string]struct{}
	binary   map[string]struct{}
}

func NewClassifier(headOnly, binary []string) *Classifier {
	c := &Classifier{
		headOnly: make(map[string]struct{}, len(headOnly)),
		binary:   make(map[string]struct{}, len(binary)),
	}
	for _, f := range headOnly {
		c.headOnly[f] = struct{}{}
	}
	for _, f := range binary {
		c.binary[f] = struct{}{}
	}
	return c
}

// DefaultClassifier treats the structural fields as head-only and the binary
// and aggregate text fields as full-text.
func DefaultClassifier() *Classifier {
	return NewClassifier(
		[]string{fields.NodeID, fields.Type, fields.TypeIs, fields.ParentID, fields.InTree, fields.InFolder, fields.Path},
		[]string{fields.Binary, fields.AllText},
	)
}

func (c *Classifier) FieldLevel(field string) FieldLevel {
	if _, ok := c.binary[field]; ok {
		return BinaryOrFullText
	}
	if _, ok := c.headOnly[field]; ok {
		return HeadOnly
	}
	return NoBinaryOrFullText
}

// QueryLevel is the highest level among names. A query naming no field is
// HeadOnly.
func (c *Classifier) QueryLevel(names []string) FieldLevel {
	level := HeadOnly
	for _, n := range names {
		level = max(level, c.FieldLevel(n))
	}
	return level
}

// Version carries the per-document flags admission depends on.
type Version struct {
	IsLastPublic bool
	IsLastDraft  bool
}

func (v Version) old() bool { return !v.IsLastPublic && !v.IsLastDraft }

// Access is what a resolver reports for one user and node.
type Access struct {
	Level              AccessLevel
	MayViewOldVersions bool
}

// Admit decides whether a document version with access a may be returned
// for a query at field level fl. allVersions is set when the query asks for
// non-current versions too.
func Admit(a Access, fl FieldLevel, v Version, allVersions bool) bool {
	oldAllowed := allVersions && v.old() && a.MayViewOldVersions
	switch a.Level {
	case See:
		return fl == HeadOnly && v.IsLastPublic && (!allVersions || a.MayViewOldVersions)
	case Preview:
		return fl <= NoBinaryOrFullText && v.IsLastPublic && (!allVersions || a.MayViewOldVersions)
	case Open:
		return v.IsLastPublic || oldAllowed
	case OpenMinor:
		return v.IsLastDraft || v.IsLastPublic || oldAllowed
	}
	return false
}
