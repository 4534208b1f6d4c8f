// Package registry assembles the deduplicated component graph of one build.
package registry

import (
	"sort"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// Registry maps identity -> component. It holds exactly one component per
// identity at any time.
type Registry struct {
	components map[string]*model.Component
	parents    map[string]*model.Component
	edges      map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		components: map[string]*model.Component{},
		parents:    map[string]*model.Component{},
		edges:      map[string]map[string]struct{}{},
	}
}

// Add registers c. A repeat identity never overwrites the stored component;
// its provenance chains are unioned into the existing set instead. Add
// reports whether c was new.
func (r *Registry) Add(c *model.Component) bool {
	existing, ok := r.components[c.Identity]
	if !ok {
		r.components[c.Identity] = c
		return true
	}
	if existing.Provenance == nil {
		existing.Provenance = model.NewProvenance()
	}
	existing.Provenance.Union(c.Provenance)
	return false
}

// AddFirst registers c only if its identity is unseen; later duplicates are
// dropped without touching provenance. Used when merging separate roots.
func (r *Registry) AddFirst(c *model.Component) bool {
	if _, ok := r.components[c.Identity]; ok {
		return false
	}
	r.components[c.Identity] = c
	return true
}

// AddParent records a primary-project component kept out of the list.
func (r *Registry) AddParent(c *model.Component) {
	if existing, ok := r.parents[c.Identity]; ok {
		existing.Provenance.Union(c.Provenance)
		return
	}
	r.parents[c.Identity] = c
}

func (r *Registry) Get(identity string) (*model.Component, bool) {
	c, ok := r.components[identity]
	return c, ok
}

func (r *Registry) Len() int { return len(r.components) }

// Components returns the registered components ordered by identity.
func (r *Registry) Components() []*model.Component {
	out := make([]*model.Component, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c)
	}
	model.SortComponents(out)
	return out
}

// Parents returns the primary-project components ordered by identity.
func (r *Registry) Parents() []*model.Component {
	out := make([]*model.Component, 0, len(r.parents))
	for _, c := range r.parents {
		out = append(out, c)
	}
	model.SortComponents(out)
	return out
}

// Link records that parent depends on child.
func (r *Registry) Link(parent, child string) {
	if parent == "" || child == "" || parent == child {
		return
	}
	set, ok := r.edges[parent]
	if !ok {
		set = map[string]struct{}{}
		r.edges[parent] = set
	}
	set[child] = struct{}{}
}

// Dependencies returns the edges whose endpoints are both known (registered
// components or parents), with sorted children.
func (r *Registry) Dependencies() map[string][]string {
	known := func(id string) bool {
		if _, ok := r.components[id]; ok {
			return true
		}
		_, ok := r.parents[id]
		return ok
	}
	out := map[string][]string{}
	for parent, children := range r.edges {
		if !known(parent) {
			continue
		}
		var list []string
		for child := range children {
			if known(child) {
				list = append(list, child)
			}
		}
		sort.Strings(list)
		out[parent] = list
	}
	return out
}

// MergeFirstWins folds other into r across scan roots: the first
// registration of an identity is kept and later duplicates are dropped.
// Unlike Add, provenance is not unioned. Only the first root's project stays
// a parent; the project packages of later roots become components.
func (r *Registry) MergeFirstWins(other *Registry) {
	for _, c := range other.Components() {
		r.AddFirst(c)
	}
	for _, p := range other.Parents() {
		if _, ok := r.parents[p.Identity]; ok {
			continue
		}
		if len(r.parents) == 0 {
			r.parents[p.Identity] = p
			continue
		}
		r.AddFirst(p)
	}
	for parent, children := range other.edges {
		for child := range children {
			r.Link(parent, child)
		}
	}
}
