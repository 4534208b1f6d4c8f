package model

import (
	"sort"
	"strings"
)

// chainSeparator joins hops into a chain signature.
const chainSeparator = " -> "

// EvidenceChain is an ordered hop sequence explaining how a component was
// found: the evidence file first, then the identities of the packages that
// pulled it in.
type EvidenceChain []string

// Signature is the stable dedup key of a chain.
func (c EvidenceChain) Signature() string {
	return strings.Join(c, chainSeparator)
}

// Extend returns a copy of c with hop appended.
func (c EvidenceChain) Extend(hop string) EvidenceChain {
	out := make(EvidenceChain, len(c), len(c)+1)
	copy(out, c)
	return append(out, hop)
}

// Provenance is a set of evidence chains keyed by signature.
type Provenance struct {
	chains map[string]EvidenceChain
}

func NewProvenance(chains ...EvidenceChain) *Provenance {
	p := &Provenance{chains: map[string]EvidenceChain{}}
	for _, c := range chains {
		p.Add(c)
	}
	return p
}

// Add unions chain into the set and reports whether it was new.
// Empty chains are ignored.
func (p *Provenance) Add(chain EvidenceChain) bool {
	if len(chain) == 0 {
		return false
	}
	sig := chain.Signature()
	if _, ok := p.chains[sig]; ok {
		return false
	}
	p.chains[sig] = chain
	return true
}

// Union adds every chain of other into p.
func (p *Provenance) Union(other *Provenance) {
	if other == nil {
		return
	}
	for _, c := range other.chains {
		p.Add(c)
	}
}

func (p *Provenance) Len() int {
	if p == nil {
		return 0
	}
	return len(p.chains)
}

// Chains returns the chains ordered by signature.
func (p *Provenance) Chains() []EvidenceChain {
	if p == nil {
		return nil
	}
	sigs := make([]string, 0, len(p.chains))
	for sig := range p.chains {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	out := make([]EvidenceChain, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, p.chains[sig])
	}
	return out
}

// Paths returns the distinct evidence files (first hop of every chain), sorted.
func (p *Provenance) Paths() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range p.Chains() {
		if !seen[c[0]] {
			seen[c[0]] = true
			out = append(out, c[0])
		}
	}
	sort.Strings(out)
	return out
}
