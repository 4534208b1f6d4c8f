package output

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

const xmlNamespace = "http://cyclonedx.org/schema/bom/" + SpecVersion

type xmlBOM struct {
	XMLName      xml.Name         `xml:"bom"`
	Xmlns        string           `xml:"xmlns,attr"`
	SerialNumber string           `xml:"serialNumber,attr"`
	Version      int              `xml:"version,attr"`
	Metadata     xmlMetadata      `xml:"metadata"`
	Components   []xmlComponent   `xml:"components>component"`
	ExternalRefs []xmlExternalRef `xml:"externalReferences>reference,omitempty"`
	Dependencies []xmlDependency  `xml:"dependencies>dependency,omitempty"`
}

type xmlMetadata struct {
	Timestamp string        `xml:"timestamp"`
	Tools     []xmlTool     `xml:"tools>tool"`
	Authors   []xmlAuthor   `xml:"authors>author,omitempty"`
	Component *xmlComponent `xml:"component,omitempty"`
	Supplier  *xmlSupplier  `xml:"supplier,omitempty"`
}

type xmlTool struct {
	Vendor  string `xml:"vendor"`
	Name    string `xml:"name"`
	Version string `xml:"version"`
}

type xmlAuthor struct {
	Name  string `xml:"name"`
	Email string `xml:"email,omitempty"`
}

type xmlSupplier struct {
	Name string `xml:"name"`
}

type xmlComponent struct {
	Type         string           `xml:"type,attr"`
	BOMRef       string           `xml:"bom-ref,attr"`
	Group        string           `xml:"group,omitempty"`
	Name         string           `xml:"name"`
	Version      string           `xml:"version,omitempty"`
	Description  string           `xml:"description,omitempty"`
	Scope        string           `xml:"scope,omitempty"`
	Hashes       []xmlHash        `xml:"hashes>hash,omitempty"`
	Licenses     []xmlLicense     `xml:"licenses>license,omitempty"`
	PURL         string           `xml:"purl,omitempty"`
	ExternalRefs []xmlExternalRef `xml:"externalReferences>reference,omitempty"`
	Properties   []xmlProperty    `xml:"properties>property,omitempty"`
	Evidence     *xmlEvidence     `xml:"evidence,omitempty"`
}

type xmlLicense struct {
	Name string `xml:"name"`
}

type xmlHash struct {
	Alg     string `xml:"alg,attr"`
	Content string `xml:",chardata"`
}

type xmlExternalRef struct {
	Type    string `xml:"type,attr"`
	URL     string `xml:"url"`
	Comment string `xml:"comment,omitempty"`
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlEvidence struct {
	Field      string      `xml:"identity>field"`
	Confidence float64     `xml:"identity>confidence"`
	Methods    []xmlMethod `xml:"identity>methods>method"`
}

type xmlMethod struct {
	Technique  string  `xml:"technique"`
	Confidence float64 `xml:"confidence"`
	Value      string  `xml:"value"`
}

type xmlDependency struct {
	Ref       string          `xml:"ref,attr"`
	DependsOn []xmlDependency `xml:"dependency,omitempty"`
}

// RenderXML renders doc in the attribute shape. Provenance paths are kept as
// they were recorded.
func RenderXML(doc *model.Document) ([]byte, error) {
	bom := xmlBOM{
		Xmlns:        xmlNamespace,
		SerialNumber: doc.SerialNumber,
		Version:      1,
		Metadata: xmlMetadata{
			Timestamp: doc.Timestamp.UTC().Format(time.RFC3339),
			Tools:     []xmlTool{{Vendor: doc.Tool.Vendor, Name: doc.Tool.Name, Version: doc.Tool.Version}},
		},
		Components: make([]xmlComponent, 0, len(doc.Components)),
	}
	for _, a := range doc.Authors {
		bom.Metadata.Authors = append(bom.Metadata.Authors, xmlAuthor(a))
	}
	if doc.Supplier != "" {
		bom.Metadata.Supplier = &xmlSupplier{Name: doc.Supplier}
	}
	if doc.Parent != nil {
		parent := toXML(doc.Parent)
		bom.Metadata.Component = &parent
	}
	for _, c := range doc.Components {
		bom.Components = append(bom.Components, toXML(c))
	}
	for _, ref := range doc.ExternalRefs {
		bom.ExternalRefs = append(bom.ExternalRefs, xmlExternalRef(ref))
	}
	for _, ref := range dependencyRefs(doc) {
		dep := xmlDependency{Ref: ref}
		for _, child := range doc.Dependencies[ref] {
			dep.DependsOn = append(dep.DependsOn, xmlDependency{Ref: child})
		}
		bom.Dependencies = append(bom.Dependencies, dep)
	}

	data, err := xml.MarshalIndent(bom, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CycloneDX XML: %w", err)
	}
	out := append([]byte(xml.Header), data...)
	return append(out, '\n'), nil
}

func toXML(c *model.Component) xmlComponent {
	comp := xmlComponent{
		Type:        c.Type,
		BOMRef:      c.Identity,
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
		comp.Hashes = append(comp.Hashes, xmlHash{Alg: h.Algorithm, Content: h.Content})
	}
	for _, l := range c.Licenses {
		comp.Licenses = append(comp.Licenses, xmlLicense{Name: l})
	}
	for _, ref := range c.ExternalRefs {
		comp.ExternalRefs = append(comp.ExternalRefs, xmlExternalRef(ref))
	}
	for _, p := range componentProperties(c, "") {
		comp.Properties = append(comp.Properties, xmlProperty(p))
	}
	if methods := identityMethods(c, ""); len(methods) > 0 {
		ev := &xmlEvidence{Field: "purl", Confidence: 1}
		for _, m := range methods {
			ev.Methods = append(ev.Methods, xmlMethod(m))
		}
		comp.Evidence = ev
	}
	return comp
}
