// Package purl computes canonical package-URL identities for raw package
// records. The percent-decoded string form is the registry's dedup key.
package purl

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// PackageIdentity is a parsed package URL.
type PackageIdentity struct {
	Type       string
	Namespace  string
	Name       string
	Version    string
	Qualifiers map[string]string
	Subpath    string
}

// String renders the canonical, percent-decoded form:
//
//	pkg:type/namespace/name@version?key=value#subpath
//
// Qualifiers are ordered by key so equal identities always render equally.
func (p PackageIdentity) String() string {
	var b strings.Builder
	b.WriteString("pkg:")
	b.WriteString(p.Type)
	b.WriteByte('/')
	if p.Namespace != "" {
		b.WriteString(p.Namespace)
		b.WriteByte('/')
	}
	b.WriteString(p.Name)
	if p.Version != "" {
		b.WriteByte('@')
		b.WriteString(p.Version)
	}
	if q := p.qualifierString(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if p.Subpath != "" {
		b.WriteByte('#')
		b.WriteString(p.Subpath)
	}
	return b.String()
}

func (p PackageIdentity) qualifierString() string {
	keys := make([]string, 0, len(p.Qualifiers))
	for k, v := range p.Qualifiers {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p.Qualifiers[k])
	}
	return strings.Join(parts, "&")
}

// Parse reads a package URL string. Percent-encoded segments are decoded so
// that Parse(s).String() is the canonical form of s.
func Parse(s string) (PackageIdentity, error) {
	var p PackageIdentity
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "pkg:")
	if !ok {
		return p, fmt.Errorf("purl %q: missing pkg: scheme", s)
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		p.Subpath = decode(strings.Trim(rest[i+1:], "/"))
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		p.Qualifiers = map[string]string{}
		for _, kv := range strings.Split(rest[i+1:], "&") {
			k, v, _ := strings.Cut(kv, "=")
			if k != "" && v != "" {
				p.Qualifiers[strings.ToLower(k)] = decode(v)
			}
		}
		rest = rest[:i]
	}
	if i := strings.LastIndexByte(rest, '@'); i > strings.LastIndexByte(rest, '/') {
		p.Version = decode(rest[i+1:])
		rest = rest[:i]
	}
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) < 2 {
		return p, fmt.Errorf("purl %q: missing type or name", s)
	}
	p.Type = strings.ToLower(segments[0])
	p.Name = decode(segments[len(segments)-1])
	ns := segments[1 : len(segments)-1]
	for i := range ns {
		ns[i] = decode(ns[i])
	}
	p.Namespace = strings.Join(ns, "/")
	if p.Type == "" || p.Name == "" {
		return p, fmt.Errorf("purl %q: missing type or name", s)
	}
	return p, nil
}

// decode percent-decodes a segment, keeping the raw text when it is not
// valid percent-encoding.
func decode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}
