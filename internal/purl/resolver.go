package purl

import (
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// reVCSVersion matches version strings pointing at a git host, e.g.
// "git+ssh://git@github.com/foo/bar.git#v1.2.3".
// Groups: 1=host, 2=owner, 3=repo, 4=ref (optional)
var reVCSVersion = regexp.MustCompile(`^(?:[a-z]+\+)?[a-z]+://git@([^/:]+)[/:]([^/]+)/([^#]+?)(?:\.git)?(?:#(.*))?$`)

const defaultCacheSize = 4096

// genericTypes are ecosystems without a package-URL type of their own.
var genericTypes = map[string]bool{"cmake": true, "meson": true}

// Resolver computes identities and memoises them for the lifetime of one build.
type Resolver struct {
	cache *lru.Cache[string, PackageIdentity]
}

// NewResolver creates a Resolver with an identity cache of the given size.
func NewResolver(size int) *Resolver {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, PackageIdentity](size)
	if err != nil {
		return &Resolver{}
	}
	return &Resolver{cache: cache}
}

// Resolve computes the identity of rec under the given ecosystem type.
// It reports false when no usable name remains; callers drop such records.
func (r *Resolver) Resolve(rec *model.RawPackageRecord, ecosystem string) (PackageIdentity, bool) {
	if rec == nil {
		return PackageIdentity{}, false
	}
	if r == nil || r.cache == nil {
		return Resolve(rec, ecosystem)
	}
	key := cacheKey(rec, ecosystem)
	if id, ok := r.cache.Get(key); ok {
		return id, true
	}
	id, ok := Resolve(rec, ecosystem)
	if ok {
		r.cache.Add(key, id)
	}
	return id, ok
}

func cacheKey(rec *model.RawPackageRecord, ecosystem string) string {
	parts := []string{ecosystem, rec.Group, rec.Name, rec.Version}
	keys := make([]string, 0, len(rec.Qualifiers))
	for k := range rec.Qualifiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+rec.Qualifiers[k])
	}
	return strings.Join(parts, "\x00")
}

// Resolve is the uncached form of Resolver.Resolve.
func Resolve(rec *model.RawPackageRecord, ecosystem string) (PackageIdentity, bool) {
	ptype := strings.ToLower(strings.TrimSpace(ecosystem))
	if genericTypes[ptype] {
		ptype = "generic"
	}
	version := decode(strings.TrimSpace(rec.Version))

	if m := reVCSVersion.FindStringSubmatch(version); m != nil {
		ptype = hostType(m[1])
		if m[4] != "" {
			version = m[4]
		}
	}

	group := decode(strings.TrimSpace(rec.Group))
	name := decode(strings.TrimSpace(rec.Name))
	if group == "" {
		group, name = splitScopedName(name, ecosystem)
	}
	name = strings.Trim(name, "/")
	group = strings.Trim(group, "/")

	if ptype == "pypi" {
		name = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	}
	if name == "" || ptype == "" {
		return PackageIdentity{}, false
	}

	var quals map[string]string
	if len(rec.Qualifiers) > 0 {
		quals = make(map[string]string, len(rec.Qualifiers))
		for k, v := range rec.Qualifiers {
			quals[strings.ToLower(k)] = decode(v)
		}
	}

	return PackageIdentity{
		Type:       ptype,
		Namespace:  group,
		Name:       name,
		Version:    version,
		Qualifiers: quals,
	}, true
}

// splitScopedName extracts the group from an ecosystem's scoped-name syntax:
// "@scope/name" for npm, "group:artifact" for maven and "a/b/name" paths for
// Go modules and everything else.
func splitScopedName(name, ecosystem string) (string, string) {
	switch ecosystem {
	case "maven", "gradle":
		if g, a, ok := strings.Cut(name, ":"); ok {
			return g, a
		}
		return "", name
	case "npm":
		if !strings.HasPrefix(name, "@") {
			return "", name
		}
	}
	if i := strings.LastIndexByte(name, '/'); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// hostType turns a git host into a package type: github.com -> github.
func hostType(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if i := strings.LastIndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}
