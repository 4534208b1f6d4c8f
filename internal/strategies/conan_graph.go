package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// JSON structures for `conan graph info . --format=json`.

type conanGraphJSON struct {
	Graph struct {
		Nodes map[string]conanGraphNode `json:"nodes"`
	} `json:"graph"`
}

type conanGraphNode struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	User        string `json:"user"`
	Channel     string `json:"channel"`
	Context     string `json:"context"` // "host" | "build"
	License     any    `json:"license"` // string or []string
	Description string `json:"description"`
	Homepage    string `json:"homepage"`
	URL         string `json:"url"`
	Rrev        string `json:"rrev"`

	// Per-node dependency edges: child node ID -> edge metadata
	Dependencies map[string]conanGraphEdge `json:"dependencies"`
}

type conanGraphEdge struct {
	Direct bool `json:"direct"`
	Build  bool `json:"build"`
	Skip   bool `json:"skip"`
}

// parseConanGraphJSON turns the graph into top-level records, one per node,
// with back-references along the graph edges. Node "0" is the consumer
// project; build-context nodes are marked dev-only.
func parseConanGraphJSON(data []byte, source string) ([]*model.RawPackageRecord, error) {
	var g conanGraphJSON
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse conan graph output: %w", err)
	}
	nodes := g.Graph.Nodes

	byID := map[string]*model.RawPackageRecord{}
	var out []*model.RawPackageRecord
	for _, id := range sortedKeys(nodes) {
		node := nodes[id]
		if id != "0" && node.Name == "" {
			continue
		}
		channel := ""
		if node.User != "" {
			channel = node.User + "/" + node.Channel
		}
		rec := conanRecord(node.Name, node.Version, channel, node.Rrev)
		rec.Root = id == "0"
		rec.Dev = node.Context == "build"
		rec.Description = node.Description
		rec.License = licenseString(node.License)
		rec.Homepage = node.Homepage
		if rec.Homepage == "" {
			rec.Homepage = node.URL
		}
		rec.EvidencePath = source
		byID[id] = rec
		out = append(out, rec)
	}

	for _, id := range sortedKeys(nodes) {
		parent, ok := byID[id]
		if !ok {
			continue
		}
		edges := nodes[id].Dependencies
		for _, childID := range sortedKeys(edges) {
			if edges[childID].Skip {
				continue
			}
			if child, ok := byID[childID]; ok && child != parent {
				parent.AddReference(child)
			}
		}
	}
	return out, nil
}
