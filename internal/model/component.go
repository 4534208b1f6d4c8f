// Package model defines the internal data structures used by the SBOM engine.
package model

import "sort"

// Scope is the inferred usage scope of a component.
type Scope string

const (
	ScopeUndefined Scope = ""
	ScopeRequired  Scope = "required"
	ScopeOptional  Scope = "optional"
	ScopeExcluded  Scope = "excluded"
)

// Hash algorithm names as they appear in CycloneDX documents.
const (
	SHA1   = "SHA-1"
	SHA256 = "SHA-256"
	SHA384 = "SHA-384"
	SHA512 = "SHA-512"
)

type Hash struct {
	Algorithm string
	Content   string // lowercase hex when the digest could be decoded
}

type ExternalRef struct {
	Type    string
	URL     string
	Comment string
}

type Property struct {
	Name  string
	Value string
}

// Component is one deduplicated package in the final bill of materials.
// Everything except Provenance is fixed once the component is registered.
type Component struct {
	Identity     string // canonical package URL; the only dedup key
	Type         string // "library" or "application"
	Ecosystem    string // driver that discovered it (e.g. "npm")
	Group        string
	Name         string
	Version      string
	Description  string
	Supplier     string
	Scope        Scope
	Hashes       []Hash
	Licenses     []string
	ExternalRefs []ExternalRef
	Properties   []Property

	// Degraded is set when the component came from a fallback manifest parse.
	Degraded bool

	Provenance *Provenance
}

// AddProperty appends a name/value property, skipping empty values.
func (c *Component) AddProperty(name, value string) {
	if value == "" {
		return
	}
	c.Properties = append(c.Properties, Property{Name: name, Value: value})
}

// SortComponents orders components by identity for deterministic output.
func SortComponents(comps []*Component) {
	sort.Slice(comps, func(i, j int) bool {
		return comps[i].Identity < comps[j].Identity
	})
}
