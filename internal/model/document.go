package model

import "time"

type Tool struct {
	Vendor  string
	Name    string
	Version string
}

type Author struct {
	Name  string
	Email string
}

// Document is the logical bill of materials. Both output shapes are rendered
// from the same Document value.
type Document struct {
	SerialNumber string
	Timestamp    time.Time
	Tool         Tool
	Authors      []Author
	Supplier     string

	// Parent is the primary project component, if one was identified.
	Parent *Component

	Components []*Component

	// Dependencies maps a component identity to the identities it depends on.
	Dependencies map[string][]string

	ExternalRefs []ExternalRef

	// BasePath is the scan root that provenance paths are made relative to.
	BasePath string
}
