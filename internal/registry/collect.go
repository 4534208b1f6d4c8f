package registry

import "github.com/StinkyLord/sbom-builder/internal/model"

// Source describes where a batch of raw records came from.
type Source struct {
	Ecosystem string

	// Degraded marks records from a fallback manifest parse.
	Degraded bool

	// Tool names the native tool whose output the records came from.
	Tool string

	// ExcludeRoot keeps Root records out of the component list and records
	// them as parents instead.
	ExcludeRoot bool
}

// Stats counts what happened to the records of one Collect call.
type Stats struct {
	Registered int
	Merged     int
	Dropped    int
}

type workItem struct {
	rec      *model.RawPackageRecord
	chain    model.EvidenceChain
	parentID string
}

// Collect walks each record tree and registers its components.
//
// The walk is iterative. Expanded edges are pushed for expansion;
// back-reference edges only contribute a dependency link and are never
// expanded, which is what terminates cycles. A node reached twice through
// expanded edges is treated as a back-reference on the second visit, so
// malformed trees still terminate.
func (r *Registry) Collect(b *Builder, src Source, records []*model.RawPackageRecord) Stats {
	var stats Stats
	expanded := map[*model.RawPackageRecord]bool{}

	stack := make([]workItem, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec == nil {
			continue
		}
		stack = append(stack, workItem{rec: rec, chain: rootChain(rec)})
	}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if expanded[item.rec] {
			r.Link(item.parentID, b.Identity(item.rec, src.Ecosystem))
			continue
		}
		expanded[item.rec] = true

		id := r.register(b, src, item, &stats)
		r.Link(item.parentID, id)

		childChain := item.chain
		if id != "" {
			childChain = item.chain.Extend(id)
		}
		deps := item.rec.Dependencies
		for i := len(deps) - 1; i >= 0; i-- {
			edge := deps[i]
			if edge.Node == nil {
				continue
			}
			if edge.BackRef {
				r.Link(id, b.Identity(edge.Node, src.Ecosystem))
				continue
			}
			stack = append(stack, workItem{rec: edge.Node, chain: childChain, parentID: id})
		}
	}
	return stats
}

// register builds and stores one record, returning its identity ("" when
// the record has no usable name).
func (r *Registry) register(b *Builder, src Source, item workItem, stats *Stats) string {
	c, ok := b.Build(item.rec, src.Ecosystem, item.chain)
	if !ok {
		stats.Dropped++
		return b.Identity(item.rec, src.Ecosystem)
	}
	c.Degraded = src.Degraded
	c.AddProperty("sbom:tool", src.Tool)

	if item.rec.Root && src.ExcludeRoot {
		r.AddParent(c)
		return c.Identity
	}
	if r.Add(c) {
		stats.Registered++
	} else {
		stats.Merged++
	}
	return c.Identity
}

func rootChain(rec *model.RawPackageRecord) model.EvidenceChain {
	if rec.EvidencePath == "" {
		return nil
	}
	return model.EvidenceChain{rec.EvidencePath}
}
