package registry

import (
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/hashes"
	"github.com/StinkyLord/sbom-builder/internal/model"
	"github.com/StinkyLord/sbom-builder/internal/purl"
	"github.com/StinkyLord/sbom-builder/internal/scope"
)

// Builder runs one raw record through identity resolution, scope
// classification and hash normalisation.
type Builder struct {
	Resolver *purl.Resolver
	Scope    *scope.Classifier

	// RequiredOnly drops optional components instead of annotating them.
	RequiredOnly bool
}

// NewBuilder creates a Builder with a fresh identity cache.
func NewBuilder(classifier *scope.Classifier, requiredOnly bool) *Builder {
	return &Builder{
		Resolver:     purl.NewResolver(0),
		Scope:        classifier,
		RequiredOnly: requiredOnly,
	}
}

// Identity returns the canonical identity of rec, or "" when it has none.
func (b *Builder) Identity(rec *model.RawPackageRecord, ecosystem string) string {
	id, ok := b.Resolver.Resolve(rec, ecosystem)
	if !ok {
		return ""
	}
	return id.String()
}

// Build creates the component for rec. It reports false when the record must
// be dropped: no usable name, an excluded scope, or an optional scope while
// RequiredOnly is set. Root records keep their declared scope.
func (b *Builder) Build(rec *model.RawPackageRecord, ecosystem string, chain model.EvidenceChain) (*model.Component, bool) {
	id, ok := b.Resolver.Resolve(rec, ecosystem)
	if !ok {
		return nil, false
	}

	// The project's own root package is never classified by import evidence.
	sc := rec.Scope
	if !rec.Root {
		sc = b.Scope.Classify(id.Name, id.Namespace, rec.Scope, rec.Dev)
	}
	if sc == model.ScopeExcluded {
		return nil, false
	}
	if b.RequiredOnly && sc == model.ScopeOptional {
		return nil, false
	}

	c := &model.Component{
		Identity:    id.String(),
		Type:        "library",
		Ecosystem:   ecosystem,
		Group:       id.Namespace,
		Name:        id.Name,
		Version:     id.Version,
		Description: strings.TrimSpace(rec.Description),
		Scope:       sc,
		Hashes:      hashes.Normalize(rec.Shasum, rec.Integrity),
		Provenance:  model.NewProvenance(chain),
	}
	if rec.Root {
		c.Type = "application"
	}
	if l := strings.TrimSpace(rec.License); l != "" {
		c.Licenses = []string{l}
	}
	if h := strings.TrimSpace(rec.Homepage); h != "" {
		c.ExternalRefs = append(c.ExternalRefs, model.ExternalRef{Type: "website", URL: h})
	}
	return c, true
}
