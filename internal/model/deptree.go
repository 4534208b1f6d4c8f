package model

// RawPackageRecord is the ecosystem-native shape of one discovered package,
// as produced by a lockfile parse, a native tool or a manifest fallback.
// Records are consumed once by the registry and then discarded.
type RawPackageRecord struct {
	Name      string
	Group     string // explicit group/namespace; parsed from Name when empty
	Version   string
	Shasum    string // single precomputed checksum (always SHA-1)
	Integrity string // multi-algorithm blob, e.g. "sha512-<b64> sha1-<b64>"
	Scope     Scope  // declared scope, if the source carries one
	Dev       bool   // build/dev-only dependency

	Description string
	License     string
	Homepage    string
	Qualifiers  map[string]string

	// Root marks the self package of a manifest.
	Root bool

	// EvidencePath is the file (or tool output) the record was read from.
	// Nested records inherit their parent's path when empty.
	EvidencePath string

	Dependencies []DependencyEdge
}

// DependencyEdge links a record to one of its dependencies. An edge either
// carries a first-occurrence node that must be expanded, or a back-reference
// to a node already placed elsewhere in the tree. Back-references are never
// expanded, which is what terminates cycles.
type DependencyEdge struct {
	Node    *RawPackageRecord
	BackRef bool
}

// Expand returns an edge to a first-occurrence node.
func Expand(node *RawPackageRecord) DependencyEdge {
	return DependencyEdge{Node: node}
}

// Reference returns a back-reference edge to an already placed node.
func Reference(node *RawPackageRecord) DependencyEdge {
	return DependencyEdge{Node: node, BackRef: true}
}

// AddDependency appends an expanded edge to r.
func (r *RawPackageRecord) AddDependency(child *RawPackageRecord) {
	r.Dependencies = append(r.Dependencies, Expand(child))
}

// AddReference appends a back-reference edge to r.
func (r *RawPackageRecord) AddReference(child *RawPackageRecord) {
	r.Dependencies = append(r.Dependencies, Reference(child))
}
