// Package scope infers whether a component is required, optional or
// excluded from externally supplied import evidence.
package scope

import (
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/model"
	"github.com/StinkyLord/sbom-builder/internal/purl"
)

// typingNamespaces hold declaration-only packages that never ship code.
var typingNamespaces = map[string]bool{
	"@types": true,
}

// Classifier applies the scope decision table. The zero value (or a nil
// Classifier) has no evidence and leaves declared scopes untouched.
type Classifier struct {
	refs map[string]struct{}
}

// NewClassifier builds a classifier over the referenced package identifiers.
// Identifiers may be import paths, package names or package URLs.
func NewClassifier(referenced []string) *Classifier {
	c := &Classifier{refs: make(map[string]struct{}, len(referenced))}
	for _, r := range referenced {
		r = strings.TrimSpace(r)
		if id, err := purl.Parse(r); err == nil {
			// A package URL references its namespace and name.
			r = id.Name
			if id.Namespace != "" {
				r = id.Namespace + "/" + id.Name
			}
		}
		if r != "" {
			c.refs[r] = struct{}{}
			c.refs[strings.ToLower(r)] = struct{}{}
		}
	}
	return c
}

// HasEvidence reports whether import analysis produced any references.
func (c *Classifier) HasEvidence() bool {
	return c != nil && len(c.refs) > 0
}

// Classify resolves the scope of one component.
func (c *Classifier) Classify(name, group string, declared model.Scope, dev bool) model.Scope {
	if IsTypingOnly(name, group) {
		return model.ScopeExcluded
	}
	// A dev-only flag from the source is a declared optional scope.
	if dev && declared == model.ScopeUndefined {
		declared = model.ScopeOptional
	}
	if !c.HasEvidence() {
		return declared
	}
	if !c.references(name, group) {
		return model.ScopeOptional
	}
	if dev {
		return model.ScopeOptional
	}
	return model.ScopeRequired
}

// IsTypingOnly reports whether the package lives in a typing-only namespace.
func IsTypingOnly(name, group string) bool {
	if typingNamespaces[group] {
		return true
	}
	if g, _, ok := strings.Cut(name, "/"); ok && typingNamespaces[g] {
		return true
	}
	return false
}

func (c *Classifier) references(name, group string) bool {
	for _, candidate := range candidates(name, group) {
		if _, ok := c.refs[candidate]; ok {
			return true
		}
		if _, ok := c.refs[strings.ToLower(candidate)]; ok {
			return true
		}
	}
	return false
}

// candidates lists the spellings under which a component may be referenced:
// bare name, group/name, group:name, group.name and the @group/name scope.
func candidates(name, group string) []string {
	out := []string{name}
	if group == "" {
		return out
	}
	out = append(out,
		group+"/"+name,
		group+":"+name,
		group+"."+name,
	)
	if !strings.HasPrefix(group, "@") {
		out = append(out, "@"+group+"/"+name)
	}
	return out
}
