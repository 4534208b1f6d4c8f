package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

func treeDoc(parent *model.Component, deps map[string][]string, names ...string) *model.Document {
	doc := &model.Document{Parent: parent, Dependencies: deps}
	for _, n := range names {
		doc.Components = append(doc.Components, &model.Component{Identity: "pkg:npm/" + n, Name: n})
	}
	return doc
}

func TestDependencyTreeFromParent(t *testing.T) {
	doc := Assemble(makeTestResult(), nil, "v")

	roots := DependencyTree(doc)
	require.Len(t, roots, 1)
	assert.Equal(t, "express", roots[0].Name)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "debug", roots[0].Children[0].Name)
	assert.Equal(t, "optional", roots[0].Children[0].Scope)
}

func TestDependencyTreeWithoutParentUsesUnpulledComponents(t *testing.T) {
	doc := treeDoc(nil, map[string][]string{
		"pkg:npm/a": {"pkg:npm/c"},
		"pkg:npm/b": {"pkg:npm/c"},
	}, "a", "b", "c")

	roots := DependencyTree(doc)
	require.Len(t, roots, 2)
	assert.Equal(t, "a", roots[0].Name)
	assert.Equal(t, "b", roots[1].Name)
	assert.Equal(t, "c", roots[0].Children[0].Name)
	assert.Equal(t, "c", roots[1].Children[0].Name)
}

func TestDependencyTreeDedupesRepeatsAndCycles(t *testing.T) {
	doc := treeDoc(
		&model.Component{Identity: "pkg:npm/root", Name: "root"},
		map[string][]string{
			"pkg:npm/root": {"pkg:npm/a", "pkg:npm/b"},
			"pkg:npm/a":    {"pkg:npm/b"},
			"pkg:npm/b":    {"pkg:npm/a"},
		}, "a", "b")

	roots := DependencyTree(doc)
	require.Len(t, roots, 2)

	// a -> b -> a(deduped)
	a := roots[0]
	require.Len(t, a.Children, 1)
	b := a.Children[0]
	assert.Equal(t, "b", b.Name)
	require.Len(t, b.Children, 1)
	assert.True(t, b.Children[0].Deduped)
	assert.Empty(t, b.Children[0].Children)

	// second root b was already expanded under a
	assert.True(t, roots[1].Deduped)
	assert.Empty(t, roots[1].Children)
}

func TestRenderTreeEmptyIsArray(t *testing.T) {
	data, err := RenderTree(&model.Document{})
	require.NoError(t, err)

	var out []any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
