// Package output assembles the bill of materials and renders it as
// CycloneDX JSON or XML.
package output

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/StinkyLord/sbom-builder/internal/config"
	"github.com/StinkyLord/sbom-builder/internal/model"
	"github.com/StinkyLord/sbom-builder/internal/purl"
	"github.com/StinkyLord/sbom-builder/internal/scanner"
)

// Generator identity written into every document.
const (
	ToolVendor = "StinkyLord"
	ToolName   = "sbom-builder"
)

// Authors is the fixed author block of every document.
var Authors = []model.Author{{Name: "StinkyLord", Email: "sbom-builder@users.noreply.github.com"}}

// Global external reference comments.
const (
	RefBasePath    = "Base path"
	RefPackageFile = "Package file"
)

// Assemble turns a scan result into a Document. The serial number is random
// per call.
func Assemble(res *scanner.Result, cfg *config.Config, toolVersion string) *model.Document {
	if cfg == nil {
		cfg = config.Default()
	}
	doc := &model.Document{
		SerialNumber: "urn:uuid:" + uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Tool:         model.Tool{Vendor: ToolVendor, Name: ToolName, Version: toolVersion},
		Authors:      Authors,
		Supplier:     cfg.Supplier,
		Parent:       res.Parent,
		Components:   res.Registry.Components(),
		Dependencies: res.Registry.Dependencies(),
		BasePath:     res.BasePath,
	}
	if doc.Parent == nil && cfg.ProjectName != "" {
		doc.Parent = projectComponent(cfg.ProjectName)
	}

	if res.BasePath != "" && len(res.PackageFiles) == 1 {
		doc.ExternalRefs = []model.ExternalRef{
			{Type: "other", URL: res.BasePath, Comment: RefBasePath},
			{Type: "other", URL: res.PackageFiles[0], Comment: RefPackageFile},
		}
	}
	return doc
}

// WriteDocument renders doc in format and writes it to path. With
// config.FormatBoth the JSON and XML files share path minus its extension;
// stdout ("-") receives both renderings in turn. It returns the written paths.
func WriteDocument(doc *model.Document, format, path string) ([]string, error) {
	type rendering struct {
		ext    string
		render func(*model.Document) ([]byte, error)
	}
	var todo []rendering
	switch format {
	case config.FormatJSON, "":
		todo = []rendering{{".json", RenderJSON}}
	case config.FormatXML:
		todo = []rendering{{".xml", RenderXML}}
	case config.FormatBoth:
		todo = []rendering{{".json", RenderJSON}, {".xml", RenderXML}}
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	var written []string
	for _, r := range todo {
		data, err := r.render(doc)
		if err != nil {
			return written, err
		}
		target := path
		if len(todo) > 1 && path != "-" {
			target = strings.TrimSuffix(path, filepath.Ext(path)) + r.ext
		}
		if err := Write(target, data); err != nil {
			return written, fmt.Errorf("cannot write %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func projectComponent(name string) *model.Component {
	id := purl.PackageIdentity{Type: "generic", Name: name}
	return &model.Component{
		Identity: id.String(),
		Type:     "application",
		Name:     name,
	}
}
