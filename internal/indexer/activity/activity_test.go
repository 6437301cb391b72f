package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependsOn(t *testing.T) {
	tests := []struct {
		name    string
		a       Activity
		earlier Activity
		want    bool
	}{
		{"same node", Activity{ID: 2, Type: UpdateDocument, NodeID: 5}, Activity{ID: 1, Type: AddDocument, NodeID: 5}, true},
		{"different node", Activity{ID: 3, Type: AddDocument, NodeID: 9}, Activity{ID: 1, Type: AddDocument, NodeID: 5}, false},
		{"tree contains earlier", Activity{ID: 2, Type: RemoveTree, Path: "/Root/A"}, Activity{ID: 1, Type: AddDocument, NodeID: 5, Path: "/root/a/doc"}, true},
		{"earlier tree contains", Activity{ID: 2, Type: AddDocument, NodeID: 6, Path: "/Root/A/B"}, Activity{ID: 1, Type: AddTree, Path: "/Root/A"}, true},
		{"sibling trees", Activity{ID: 2, Type: AddTree, Path: "/Root/AB"}, Activity{ID: 1, Type: RemoveTree, Path: "/Root/A"}, false},
		{"zero node ids", Activity{ID: 2, Type: AddTree, Path: "/Root/X"}, Activity{ID: 1, Type: AddTree, Path: "/Root/Y"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.DependsOn(&tt.earlier))
		})
	}
}

func TestSupersedes(t *testing.T) {
	rebuild := &Activity{ID: 10, Type: Rebuild, NodeID: 5}
	assert.True(t, rebuild.Supersedes(&Activity{ID: 3, Type: UpdateDocument, NodeID: 5}))
	assert.False(t, rebuild.Supersedes(&Activity{ID: 3, Type: UpdateDocument, NodeID: 6}))
	assert.False(t, rebuild.Supersedes(&Activity{ID: 11, Type: UpdateDocument, NodeID: 5}), "later ids are never superseded")
	assert.False(t, rebuild.Supersedes(&Activity{ID: 3, Type: RemoveTree, NodeID: 5, Path: "/Root/A"}))

	restore := &Activity{ID: 10, Type: Restore, Path: "/Root/A"}
	assert.True(t, restore.Supersedes(&Activity{ID: 4, Type: AddDocument, NodeID: 1, Path: "/Root/A/x"}))
	assert.True(t, restore.Supersedes(&Activity{ID: 4, Type: RemoveTree, Path: "/root/a"}))
	assert.False(t, restore.Supersedes(&Activity{ID: 4, Type: AddDocument, NodeID: 1, Path: "/Root/B/x"}))
}

func TestValidate(t *testing.T) {
	require.NoError(t, (&Activity{Type: AddDocument, NodeID: 1, VersionID: 2}).Validate())
	require.NoError(t, (&Activity{Type: RemoveTree, Path: "/Root"}).Validate())
	assert.Error(t, (&Activity{Type: "Move", NodeID: 1}).Validate())
	assert.Error(t, (&Activity{Type: AddTree}).Validate())
	assert.Error(t, (&Activity{Type: Rebuild}).Validate())
	assert.Error(t, (&Activity{Type: UpdateDocument, NodeID: 1}).Validate())
}

func TestIsInTree(t *testing.T) {
	assert.True(t, IsInTree("/Root/A", "/root/a/"))
	assert.True(t, IsInTree("/Root/A/B", "/Root/A"))
	assert.False(t, IsInTree("/Root/AB", "/Root/A"))
	assert.True(t, IsInTree("/anything", ""))
}
