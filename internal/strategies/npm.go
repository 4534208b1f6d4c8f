package strategies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// NpmStrategy extracts Node.js dependencies:
//   - package-lock.json / npm-shrinkwrap.json (lockfile v1, v2 and v3)
//   - pnpm-lock.yaml
//   - npm ls --json --all --long
//   - package.json (degraded)
type NpmStrategy struct{}

func (s *NpmStrategy) Name() string { return "npm" }

func (s *NpmStrategy) Markers() []string {
	return []string{"package.json", "package-lock.json", "pnpm-lock.yaml"}
}

func (s *NpmStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *NpmStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("package-lock.json", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			for _, name := range []string{"package-lock.json", "npm-shrinkwrap.json"} {
				path := filepath.Join(dir, name)
				data, err := env.readIfExists(ctx, path)
				if errors.Is(err, ErrNotApplicable) {
					continue
				}
				if err != nil {
					return nil, err
				}
				return parsePackageLock(data, path)
			}
			return nil, ErrNotApplicable
		}),
		lockStep("pnpm-lock.yaml", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "pnpm-lock.yaml")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parsePnpmLock(data, path)
		}),
		toolStep("npm ls", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			out, err := env.Tool(ctx, dir, s.Name(), "npm", "ls", "--json", "--all", "--long")
			if err == nil {
				return parseNpmLs(out, filepath.Join(dir, "package.json"))
			}
			// npm ls exits 1 when the tree has problems such as missing peers
			// but still prints the whole tree.
			if len(bytes.TrimSpace(out)) == 0 {
				return nil, err
			}
			records, perr := parseNpmLs(out, filepath.Join(dir, "package.json"))
			if perr != nil || len(records) == 0 || records[0].Name == "" {
				return nil, err
			}
			env.Log.Warn().Err(err).Str("dir", dir).Msg("npm ls reported problems; using its tree")
			return records, nil
		}),
		fallbackStep("package.json", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "package.json")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parsePackageJSON(data, path)
		}),
	})
}

// ---- package.json ----

type npmManifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Description          string            `json:"description"`
	License              any               `json:"license"`
	Homepage             string            `json:"homepage"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

func parsePackageJSON(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var m npmManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	root := &model.RawPackageRecord{
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		License:      licenseString(m.License),
		Homepage:     m.Homepage,
		Root:         true,
		EvidencePath: path,
	}
	add := func(deps map[string]string, dev bool) {
		for _, name := range sortedKeys(deps) {
			root.AddDependency(&model.RawPackageRecord{
				Name:    name,
				Version: cleanRange(deps[name]),
				Dev:     dev,
			})
		}
	}
	add(m.Dependencies, false)
	add(m.OptionalDependencies, false)
	add(m.PeerDependencies, false)
	add(m.DevDependencies, true)
	return []*model.RawPackageRecord{root}, nil
}

// cleanRange turns a semver range into a version when it pins one exactly
// (after dropping a leading ^, ~, = or v). Git and URL specs are kept as is.
func cleanRange(r string) string {
	r = strings.TrimSpace(r)
	if strings.Contains(r, "://") {
		return r
	}
	r = strings.TrimLeft(r, "^~=v ")
	if r == "" || strings.ContainsAny(r, " *|<>xX") || r == "latest" {
		return ""
	}
	return r
}

// ---- package-lock.json ----

type npmLock struct {
	Name            string                    `json:"name"`
	Version         string                    `json:"version"`
	LockfileVersion int                       `json:"lockfileVersion"`
	Packages        map[string]npmLockPackage `json:"packages"`
	Dependencies    map[string]npmLockV1Entry `json:"dependencies"`
}

type npmLockPackage struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Resolved             string            `json:"resolved"`
	Integrity            string            `json:"integrity"`
	License              any               `json:"license"`
	Dev                  bool              `json:"dev"`
	Link                 bool              `json:"link"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

type npmLockV1Entry struct {
	Version      string                    `json:"version"`
	Integrity    string                    `json:"integrity"`
	Dev          bool                      `json:"dev"`
	Dependencies map[string]npmLockV1Entry `json:"dependencies"`
}

func parsePackageLock(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var lock npmLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(lock.Packages) > 0 {
		return buildLockTree(lock, path), nil
	}
	root := &model.RawPackageRecord{Name: lock.Name, Version: lock.Version, Root: true, EvidencePath: path}
	attachV1(root, lock.Dependencies)
	return []*model.RawPackageRecord{root}, nil
}

// buildLockTree turns the flat "packages" map of lockfile v2/v3 into a tree
// using node_modules resolution: a dependency of the package at P resolves
// to the nearest P/node_modules/<name>, walking up towards the root. The
// first visit of a path is expanded, later visits become back-references.
func buildLockTree(lock npmLock, path string) []*model.RawPackageRecord {
	records := map[string]*model.RawPackageRecord{}
	node := func(key string) *model.RawPackageRecord {
		if rec, ok := records[key]; ok {
			return rec
		}
		pkg := lock.Packages[key]
		rec := &model.RawPackageRecord{
			Name:      pkg.Name,
			Version:   pkg.Version,
			Integrity: pkg.Integrity,
			Dev:       pkg.Dev,
			License:   licenseString(pkg.License),
		}
		if key == "" {
			rec.Root = true
			rec.EvidencePath = path
			if rec.Name == "" {
				rec.Name = lock.Name
			}
			if rec.Version == "" {
				rec.Version = lock.Version
			}
		} else if rec.Name == "" {
			rec.Name = nameFromNodeModulesPath(key)
		}
		if strings.HasPrefix(pkg.Resolved, "git+") {
			rec.Version = pkg.Resolved
		}
		records[key] = rec
		return rec
	}

	root := node("")
	expanded := map[string]bool{"": true}
	stack := []string{""}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := records[key]
		pkg := lock.Packages[key]

		var names []string
		names = append(names, sortedKeys(pkg.Dependencies)...)
		names = append(names, sortedKeys(pkg.OptionalDependencies)...)
		names = append(names, sortedKeys(pkg.PeerDependencies)...)
		if key == "" {
			names = append(names, sortedKeys(pkg.DevDependencies)...)
		}

		var push []string
		for _, name := range names {
			child, ok := resolveNodeModules(lock.Packages, key, name)
			if !ok {
				continue
			}
			if target := lock.Packages[child]; target.Link && target.Resolved != "" {
				if _, ok := lock.Packages[target.Resolved]; ok {
					child = target.Resolved
				}
			}
			if expanded[child] {
				parent.AddReference(node(child))
				continue
			}
			expanded[child] = true
			parent.AddDependency(node(child))
			push = append(push, child)
		}
		for i := len(push) - 1; i >= 0; i-- {
			stack = append(stack, push[i])
		}
	}
	return []*model.RawPackageRecord{root}
}

func resolveNodeModules(pkgs map[string]npmLockPackage, from, name string) (string, bool) {
	dir := from
	for {
		candidate := "node_modules/" + name
		if dir != "" {
			candidate = dir + "/node_modules/" + name
		}
		if _, ok := pkgs[candidate]; ok {
			return candidate, true
		}
		if dir == "" {
			return "", false
		}
		i := strings.LastIndex(dir, "node_modules/")
		if i <= 0 {
			dir = ""
		} else {
			dir = strings.TrimSuffix(dir[:i], "/")
		}
	}
}

func nameFromNodeModulesPath(key string) string {
	if i := strings.LastIndex(key, "node_modules/"); i >= 0 {
		return key[i+len("node_modules/"):]
	}
	return key[strings.LastIndex(key, "/")+1:]
}

func attachV1(parent *model.RawPackageRecord, deps map[string]npmLockV1Entry) {
	type frame struct {
		parent *model.RawPackageRecord
		deps   map[string]npmLockV1Entry
	}
	stack := []frame{{parent, deps}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, name := range sortedKeys(f.deps) {
			e := f.deps[name]
			rec := &model.RawPackageRecord{Name: name, Version: e.Version, Integrity: e.Integrity, Dev: e.Dev}
			f.parent.AddDependency(rec)
			if len(e.Dependencies) > 0 {
				stack = append(stack, frame{rec, e.Dependencies})
			}
		}
	}
}

// ---- pnpm-lock.yaml ----

type pnpmLock struct {
	Packages map[string]pnpmPackage `yaml:"packages"`
}

type pnpmPackage struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Dev        bool   `yaml:"dev"`
	Resolution struct {
		Integrity string `yaml:"integrity"`
	} `yaml:"resolution"`
	Dependencies map[string]string `yaml:"dependencies"`
}

// parsePnpmLock reads the flat packages section; each package is a top-level
// record and dependencies between them are back-references.
func parsePnpmLock(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var lock pnpmLock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byKey := map[string]*model.RawPackageRecord{}
	var out []*model.RawPackageRecord
	keys := sortedKeys(lock.Packages)
	for _, key := range keys {
		pkg := lock.Packages[key]
		name, version := splitPnpmKey(key)
		if pkg.Name != "" {
			name = pkg.Name
		}
		if pkg.Version != "" {
			version = pkg.Version
		}
		rec := &model.RawPackageRecord{
			Name:         name,
			Version:      version,
			Integrity:    pkg.Resolution.Integrity,
			Dev:          pkg.Dev,
			EvidencePath: path,
		}
		byKey[name+"@"+version] = rec
		out = append(out, rec)
	}
	for i, key := range keys {
		for _, dep := range sortedKeys(lock.Packages[key].Dependencies) {
			v := pnpmVersion(lock.Packages[key].Dependencies[dep])
			if child, ok := byKey[dep+"@"+v]; ok {
				out[i].AddReference(child)
			}
		}
	}
	return out, nil
}

// rePnpmV5Key matches the "/name/version" key form; the version may carry a
// "_peer@x" suffix.
var rePnpmV5Key = regexp.MustCompile(`^((?:@[^/]+/)?[^/@]+)/(\d[^/_(]*)`)

// splitPnpmKey handles "/name/1.0.0" (v5), "/name@1.0.0" (v6) and
// "name@1.0.0(peer@2.0.0)" (v9).
func splitPnpmKey(key string) (string, string) {
	key = strings.TrimPrefix(key, "/")
	if i := strings.IndexByte(key, '('); i > 0 {
		key = key[:i]
	}
	if m := rePnpmV5Key.FindStringSubmatch(key); m != nil {
		return m[1], m[2]
	}
	if i := strings.LastIndex(key, "@"); i > 0 {
		return key[:i], pnpmVersion(key[i+1:])
	}
	return key, ""
}

// pnpmVersion drops peer suffixes: "1.0.0(react@18.0.0)" and "1.0.0_react@17".
func pnpmVersion(v string) string {
	if i := strings.IndexAny(v, "(_"); i > 0 {
		return v[:i]
	}
	return v
}

// ---- npm ls ----

type npmLsNode struct {
	Name         string                `json:"name"`
	Version      string                `json:"version"`
	Resolved     string                `json:"resolved"`
	Integrity    string                `json:"integrity"`
	Description  string                `json:"description"`
	License      any                   `json:"license"`
	Homepage     string                `json:"homepage"`
	Dev          bool                  `json:"dev"`
	Deduped      bool                  `json:"deduped"`
	Missing      bool                  `json:"missing"`
	Dependencies map[string]*npmLsNode `json:"dependencies"`
}

// parseNpmLs converts the npm ls tree. Entries marked deduped become
// back-references to the full entry with the same name and version.
func parseNpmLs(data []byte, source string) ([]*model.RawPackageRecord, error) {
	var top npmLsNode
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parse npm ls output: %w", err)
	}

	type frame struct {
		name string
		node *npmLsNode
		rec  *model.RawPackageRecord
	}
	mk := func(name string, n *npmLsNode) *model.RawPackageRecord {
		if n.Name != "" {
			name = n.Name
		}
		rec := &model.RawPackageRecord{
			Name:        name,
			Version:     n.Version,
			Integrity:   n.Integrity,
			Dev:         n.Dev,
			Description: n.Description,
			License:     licenseString(n.License),
			Homepage:    n.Homepage,
		}
		if strings.HasPrefix(n.Resolved, "git+") {
			rec.Version = n.Resolved
		}
		return rec
	}

	// First pass: one record per full (non-deduped) entry.
	full := map[*npmLsNode]*model.RawPackageRecord{}
	byKey := map[string]*model.RawPackageRecord{}
	walk := []frame{{name: top.Name, node: &top}}
	for len(walk) > 0 {
		f := walk[len(walk)-1]
		walk = walk[:len(walk)-1]
		rec := mk(f.name, f.node)
		full[f.node] = rec
		if _, ok := byKey[rec.Name+"@"+rec.Version]; !ok {
			byKey[rec.Name+"@"+rec.Version] = rec
		}
		for _, name := range sortedKeys(f.node.Dependencies) {
			child := f.node.Dependencies[name]
			if child == nil || child.Deduped || child.Missing {
				continue
			}
			walk = append(walk, frame{name: name, node: child})
		}
	}

	// Second pass: edges.
	root := full[&top]
	root.Root = true
	root.EvidencePath = source
	for node, rec := range full {
		for _, name := range sortedKeys(node.Dependencies) {
			child := node.Dependencies[name]
			switch {
			case child == nil || child.Missing:
			case child.Deduped:
				if target, ok := byKey[name+"@"+child.Version]; ok {
					rec.AddReference(target)
				} else {
					rec.AddDependency(mk(name, child))
				}
			default:
				rec.AddDependency(full[child])
			}
		}
	}
	return []*model.RawPackageRecord{root}, nil
}

// licenseString accepts the string, object and array license shapes.
func licenseString(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		if t, ok := l["type"].(string); ok {
			return t
		}
	case []any:
		var parts []string
		for _, item := range l {
			if s := licenseString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " OR ")
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
