package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// SpecVersion is the CycloneDX schema version of both renderings.
const SpecVersion = "1.5"

// ---- CycloneDX 1.5 JSON schema types ----

type cdxBOM struct {
	BOMFormat    string          `json:"bomFormat"`
	SpecVersion  string          `json:"specVersion"`
	SerialNumber string          `json:"serialNumber"`
	Version      int             `json:"version"`
	Metadata     cdxMetadata     `json:"metadata"`
	Components   []cdxComponent  `json:"components"`
	Dependencies []cdxDependency `json:"dependencies,omitempty"`

	ExternalReferences []cdxExternalRef `json:"externalReferences,omitempty"`
}

type cdxMetadata struct {
	Timestamp string        `json:"timestamp"`
	Tools     []cdxTool     `json:"tools"`
	Authors   []cdxAuthor   `json:"authors,omitempty"`
	Supplier  *cdxSupplier  `json:"supplier,omitempty"`
	Component *cdxComponent `json:"component,omitempty"`
}

type cdxTool struct {
	Vendor  string `json:"vendor"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type cdxAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type cdxSupplier struct {
	Name string `json:"name"`
}

type cdxComponent struct {
	BOMRef             string           `json:"bom-ref"`
	Type               string           `json:"type"`
	Group              string           `json:"group,omitempty"`
	Name               string           `json:"name"`
	Version            string           `json:"version,omitempty"`
	Description        string           `json:"description,omitempty"`
	Scope              string           `json:"scope,omitempty"`
	Hashes             []cdxHash        `json:"hashes,omitempty"`
	Licenses           []cdxLicense     `json:"licenses,omitempty"`
	PURL               string           `json:"purl,omitempty"`
	ExternalReferences []cdxExternalRef `json:"externalReferences,omitempty"`
	Properties         []cdxProperty    `json:"properties,omitempty"`
	Evidence           *cdxEvidence     `json:"evidence,omitempty"`
}

type cdxHash struct {
	Alg     string `json:"alg"`
	Content string `json:"content"`
}

type cdxLicense struct {
	License cdxLicenseName `json:"license"`
}

type cdxLicenseName struct {
	Name string `json:"name"`
}

type cdxExternalRef struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Comment string `json:"comment,omitempty"`
}

type cdxProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cdxEvidence struct {
	Identity cdxIdentity `json:"identity"`
}

type cdxIdentity struct {
	Field      string      `json:"field"`
	Confidence float64     `json:"confidence"`
	Methods    []cdxMethod `json:"methods"`
}

type cdxMethod struct {
	Technique  string  `json:"technique"`
	Confidence float64 `json:"confidence"`
	Value      string  `json:"value"`
}

// cdxDependency represents one node in the CycloneDX dependency graph.
// "ref" is the identity of the component; "dependsOn" lists its children.
type cdxDependency struct {
	Ref       string   `json:"ref"`
	DependsOn []string `json:"dependsOn"`
}

// RenderJSON renders doc in the flat property shape. Provenance paths are
// made relative to doc.BasePath.
func RenderJSON(doc *model.Document) ([]byte, error) {
	bom := buildCycloneDX(doc)
	data, err := json.MarshalIndent(bom, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CycloneDX JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func buildCycloneDX(doc *model.Document) cdxBOM {
	bom := cdxBOM{
		BOMFormat:    "CycloneDX",
		SpecVersion:  SpecVersion,
		SerialNumber: doc.SerialNumber,
		Version:      1,
		Metadata: cdxMetadata{
			Timestamp: doc.Timestamp.UTC().Format(time.RFC3339),
			Tools: []cdxTool{{
				Vendor:  doc.Tool.Vendor,
				Name:    doc.Tool.Name,
				Version: doc.Tool.Version,
			}},
		},
		Components: make([]cdxComponent, 0, len(doc.Components)),
	}
	for _, a := range doc.Authors {
		bom.Metadata.Authors = append(bom.Metadata.Authors, cdxAuthor{Name: a.Name, Email: a.Email})
	}
	if doc.Supplier != "" {
		bom.Metadata.Supplier = &cdxSupplier{Name: doc.Supplier}
	}
	if doc.Parent != nil {
		parent := toCDX(doc.Parent, doc.BasePath)
		bom.Metadata.Component = &parent
	}
	for _, c := range doc.Components {
		bom.Components = append(bom.Components, toCDX(c, doc.BasePath))
	}
	for _, ref := range doc.ExternalRefs {
		bom.ExternalReferences = append(bom.ExternalReferences, cdxExternalRef(ref))
	}
	for _, ref := range dependencyRefs(doc) {
		deps := doc.Dependencies[ref]
		if deps == nil {
			deps = []string{}
		}
		bom.Dependencies = append(bom.Dependencies, cdxDependency{Ref: ref, DependsOn: deps})
	}
	return bom
}

func toCDX(c *model.Component, base string) cdxComponent {
	comp := cdxComponent{
		BOMRef:      c.Identity,
		Type:        c.Type,
		Group:       c.Group,
		Name:        c.Name,
		Version:     c.Version,
		Description: c.Description,
		Scope:       string(c.Scope),
		PURL:        c.Identity,
	}
	if comp.Type == "" {
		comp.Type = "library"
	}
	for _, h := range c.Hashes {
		comp.Hashes = append(comp.Hashes, cdxHash{Alg: h.Algorithm, Content: h.Content})
	}
	for _, l := range c.Licenses {
		comp.Licenses = append(comp.Licenses, cdxLicense{License: cdxLicenseName{Name: l}})
	}
	for _, ref := range c.ExternalRefs {
		comp.ExternalReferences = append(comp.ExternalReferences, cdxExternalRef(ref))
	}
	for _, p := range componentProperties(c, base) {
		comp.Properties = append(comp.Properties, cdxProperty(p))
	}
	if methods := identityMethods(c, base); len(methods) > 0 {
		comp.Evidence = &cdxEvidence{Identity: cdxIdentity{Field: "purl", Confidence: 1, Methods: methods}}
	}
	return comp
}

// componentProperties lists the evidence files, the ecosystem and the
// degraded flag followed by the component's own properties. With a non-empty
// base, evidence files are rewritten relative to it.
func componentProperties(c *model.Component, base string) []model.Property {
	var props []model.Property
	for _, p := range c.Provenance.Paths() {
		props = append(props, model.Property{Name: "SrcFile", Value: relPath(base, p)})
	}
	if c.Ecosystem != "" {
		props = append(props, model.Property{Name: "sbom:ecosystem", Value: c.Ecosystem})
	}
	if c.Degraded {
		props = append(props, model.Property{Name: "sbom:degraded", Value: "true"})
	}
	return append(props, c.Properties...)
}

// identityMethods emits one method per provenance chain. Chains read from a
// lock file or tool output are manifest analysis; the hops after the file
// show which packages pulled the component in.
func identityMethods(c *model.Component, base string) []cdxMethod {
	chains := c.Provenance.Chains()
	methods := make([]cdxMethod, 0, len(chains))
	for _, chain := range chains {
		rel := make(model.EvidenceChain, len(chain))
		copy(rel, chain)
		rel[0] = relPath(base, rel[0])
		confidence := 1.0
		if c.Degraded {
			confidence = 0.6
		}
		methods = append(methods, cdxMethod{
			Technique:  "manifest-analysis",
			Confidence: confidence,
			Value:      rel.Signature(),
		})
	}
	return methods
}

// dependencyRefs returns the parent and every component, in document order.
func dependencyRefs(doc *model.Document) []string {
	var refs []string
	if doc.Parent != nil {
		refs = append(refs, doc.Parent.Identity)
	}
	for _, c := range doc.Components {
		refs = append(refs, c.Identity)
	}
	return refs
}

func relPath(base, path string) string {
	if base == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// Write writes data to path, or to stdout when path is "-".
func Write(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
