package output

import (
	"encoding/json"
	"fmt"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// TreeNode is one entry of the npm-style dependency tree.
type TreeNode struct {
	Name     string      `json:"name"`
	Version  string      `json:"version,omitempty"`
	PURL     string      `json:"purl"`
	Scope    string      `json:"scope,omitempty"`
	Deduped  bool        `json:"deduped,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// DependencyTree rebuilds the dependency graph of doc as a tree. The roots
// are the parent's direct dependencies, or every component nothing depends
// on when there is no parent. A component is expanded at its first
// occurrence only; later occurrences are marked deduped, which also
// terminates cycles.
//
// Example:
//
//	[
//	  { "name":"express", "purl":"pkg:npm/express@4.18.2", "children": [
//	      { "name":"debug", "purl":"pkg:npm/debug@2.6.9" }
//	  ]},
//	  { "name":"morgan", "purl":"pkg:npm/morgan@1.10.0", "children": [
//	      { "name":"debug", "purl":"pkg:npm/debug@2.6.9", "deduped": true }
//	  ]}
//	]
func DependencyTree(doc *model.Document) []*TreeNode {
	byID := make(map[string]*model.Component, len(doc.Components))
	for _, c := range doc.Components {
		byID[c.Identity] = c
	}

	var roots []string
	if doc.Parent != nil {
		roots = doc.Dependencies[doc.Parent.Identity]
	} else {
		pulled := map[string]bool{}
		for _, children := range doc.Dependencies {
			for _, child := range children {
				pulled[child] = true
			}
		}
		for _, c := range doc.Components {
			if !pulled[c.Identity] {
				roots = append(roots, c.Identity)
			}
		}
	}

	expanded := map[string]bool{}
	var build func(id string) *TreeNode
	build = func(id string) *TreeNode {
		c, ok := byID[id]
		if !ok {
			return nil
		}
		node := &TreeNode{Name: c.Name, Version: c.Version, PURL: c.Identity, Scope: string(c.Scope)}
		if c.Group != "" {
			node.Name = c.Group + "/" + c.Name
		}
		if expanded[id] {
			node.Deduped = len(doc.Dependencies[id]) > 0
			return node
		}
		expanded[id] = true
		for _, child := range doc.Dependencies[id] {
			if n := build(child); n != nil {
				node.Children = append(node.Children, n)
			}
		}
		return node
	}

	out := []*TreeNode{}
	for _, id := range roots {
		if n := build(id); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// RenderTree renders the dependency tree of doc as indented JSON.
func RenderTree(doc *model.Document) ([]byte, error) {
	data, err := json.MarshalIndent(DependencyTree(doc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dependency tree JSON: %w", err)
	}
	return append(data, '\n'), nil
}
