// Package activity models indexing activities and executes them against the
// index in dependency order. Every activity has a log-assigned id; the index
// records how far it has applied the log as a Status in its commit metadata.
package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

// Type is the kind of change an activity applies.
type Type string

const (
	AddDocument    Type = "AddDocument"
	AddTree        Type = "AddTree"
	UpdateDocument Type = "UpdateDocument"
	RemoveTree     Type = "RemoveTree"
	Rebuild        Type = "Rebuild"
	Restore        Type = "Restore"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case AddDocument, AddTree, UpdateDocument, RemoveTree, Rebuild, Restore:
		return true
	}
	return false
}

// IsTree reports whether the activity affects a whole subtree rather than a
// single node.
func (t Type) IsTree() bool {
	return t == AddTree || t == RemoveTree || t == Restore
}

type RunningState string

const (
	Waiting RunningState = "Waiting"
	Running RunningState = "Running"
	Done    RunningState = "Done"
)

// Activity is one request to change the index.
type Activity struct {
	ID               int64            `json:"id"`
	Type             Type             `json:"type"`
	NodeID           int64            `json:"nodeId"`
	VersionID        int64            `json:"versionId"`
	Path             string           `json:"path"`
	VersionTimestamp int64            `json:"versionTimestamp"`
	RunningState     RunningState     `json:"runningState"`
	LockTime         time.Time        `json:"lockTime,omitzero"`
	Document         *engine.Document `json:"document,omitempty"`
	IsUnprocessed    bool             `json:"isUnprocessed"`
}

// Validate checks the fields the executor relies on.
func (a *Activity) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown activity type %q", a.Type)
	}
	if a.Type.IsTree() && a.Path == "" {
		return fmt.Errorf("%s activity needs a path", a.Type)
	}
	if !a.Type.IsTree() && a.NodeID == 0 {
		return fmt.Errorf("%s activity needs a node id", a.Type)
	}
	if (a.Type == AddDocument || a.Type == UpdateDocument) && a.VersionID == 0 {
		return fmt.Errorf("%s activity needs a version id", a.Type)
	}
	return nil
}

func (a *Activity) String() string {
	return fmt.Sprintf("#%d %s node=%d version=%d path=%s", a.ID, a.Type, a.NodeID, a.VersionID, a.Path)
}

// DependsOn reports whether a must wait for earlier. Two activities are
// dependent when they share a node, or when one is a tree operation whose
// subtree contains the other's path.
func (a *Activity) DependsOn(earlier *Activity) bool {
	if a.NodeID != 0 && a.NodeID == earlier.NodeID {
		return true
	}
	if a.Type.IsTree() && earlier.Path != "" && IsInTree(earlier.Path, a.Path) {
		return true
	}
	if earlier.Type.IsTree() && a.Path != "" && IsInTree(a.Path, earlier.Path) {
		return true
	}
	return false
}

// Supersedes reports whether running a makes executing the earlier,
// still waiting activity pointless. A Rebuild covers activities on the same
// node; a Restore covers everything in its subtree.
func (a *Activity) Supersedes(earlier *Activity) bool {
	if earlier.ID >= a.ID {
		return false
	}
	switch a.Type {
	case Rebuild:
		return earlier.NodeID == a.NodeID && !earlier.Type.IsTree()
	case Restore:
		return earlier.Path != "" && IsInTree(earlier.Path, a.Path)
	}
	return false
}

// IsInTree reports whether path equals root or lies below it. Paths compare
// case-insensitively.
func IsInTree(path, root string) bool {
	p := strings.ToLower(strings.TrimSuffix(path, "/"))
	r := strings.ToLower(strings.TrimSuffix(root, "/"))
	if r == "" {
		return true
	}
	return p == r || strings.HasPrefix(p, r+"/")
}
