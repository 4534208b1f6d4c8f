package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// CargoStrategy extracts Rust crate dependencies:
//   - Cargo.lock
//   - cargo metadata --format-version 1
//   - Cargo.toml (degraded)
type CargoStrategy struct{}

func (s *CargoStrategy) Name() string { return "cargo" }

func (s *CargoStrategy) Markers() []string { return []string{"Cargo.toml", "Cargo.lock"} }

func (s *CargoStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *CargoStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	manifest := func(ctx context.Context) (*cargoManifest, error) {
		data, err := env.readIfExists(ctx, filepath.Join(dir, "Cargo.toml"))
		if err != nil {
			return nil, err
		}
		var m cargoManifest
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse Cargo.toml: %w", err)
		}
		return &m, nil
	}

	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("Cargo.lock", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "Cargo.lock")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			rootName := ""
			if m, err := manifest(ctx); err == nil {
				rootName = m.Package.Name
			}
			return parseCargoLock(data, path, rootName)
		}),
		toolStep("cargo metadata", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			out, err := env.Tool(ctx, dir, s.Name(), "cargo", "metadata", "--format-version", "1")
			if err != nil {
				return nil, err
			}
			return parseCargoMetadata(out, filepath.Join(dir, "Cargo.toml"))
		}),
		fallbackStep("Cargo.toml", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			m, err := manifest(ctx)
			if err != nil {
				return nil, err
			}
			return m.records(filepath.Join(dir, "Cargo.toml")), nil
		}),
	})
}

// ---- Cargo.lock ----

type cargoLock struct {
	Package []struct {
		Name         string   `toml:"name"`
		Version      string   `toml:"version"`
		Source       string   `toml:"source"`
		Checksum     string   `toml:"checksum"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"package"`
}

// parseCargoLock makes every locked crate a top-level record with
// back-references for its dependencies. Dependency entries are "name",
// "name version" or "name version (source)".
func parseCargoLock(data []byte, path, rootName string) ([]*model.RawPackageRecord, error) {
	var lock cargoLock
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byName := map[string][]*model.RawPackageRecord{}
	out := make([]*model.RawPackageRecord, 0, len(lock.Package))
	for _, pkg := range lock.Package {
		rec := &model.RawPackageRecord{
			Name:         pkg.Name,
			Version:      pkg.Version,
			Root:         pkg.Source == "" && pkg.Name == rootName,
			EvidencePath: path,
		}
		if pkg.Checksum != "" {
			rec.Integrity = "sha256:" + pkg.Checksum
		}
		byName[pkg.Name] = append(byName[pkg.Name], rec)
		out = append(out, rec)
	}
	for i, pkg := range lock.Package {
		for _, dep := range pkg.Dependencies {
			fields := strings.Fields(dep)
			if len(fields) == 0 {
				continue
			}
			for _, cand := range byName[fields[0]] {
				if len(fields) == 1 || cand.Version == fields[1] {
					out[i].AddReference(cand)
					break
				}
			}
		}
	}
	return out, nil
}

// ---- cargo metadata ----

type cargoMetadata struct {
	Packages []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
		License     string `json:"license"`
		Homepage    string `json:"homepage"`
		Repository  string `json:"repository"`
	} `json:"packages"`
	Resolve *struct {
		Root  string `json:"root"`
		Nodes []struct {
			ID   string `json:"id"`
			Deps []struct {
				Pkg      string `json:"pkg"`
				DepKinds []struct {
					Kind string `json:"kind"`
				} `json:"dep_kinds"`
			} `json:"deps"`
		} `json:"nodes"`
	} `json:"resolve"`
}

func parseCargoMetadata(data []byte, source string) ([]*model.RawPackageRecord, error) {
	var meta cargoMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse cargo metadata output: %w", err)
	}

	byID := map[string]*model.RawPackageRecord{}
	out := make([]*model.RawPackageRecord, 0, len(meta.Packages))
	for _, p := range meta.Packages {
		rec := &model.RawPackageRecord{
			Name:         p.Name,
			Version:      p.Version,
			Description:  p.Description,
			License:      p.License,
			Homepage:     p.Homepage,
			EvidencePath: source,
		}
		if rec.Homepage == "" {
			rec.Homepage = p.Repository
		}
		byID[p.ID] = rec
		out = append(out, rec)
	}
	if meta.Resolve == nil {
		return out, nil
	}
	if root, ok := byID[meta.Resolve.Root]; ok {
		root.Root = true
	}
	devOnly := map[string]bool{}
	for _, n := range meta.Resolve.Nodes {
		parent, ok := byID[n.ID]
		if !ok {
			continue
		}
		for _, d := range n.Deps {
			child, ok := byID[d.Pkg]
			if !ok {
				continue
			}
			parent.AddReference(child)
			if n.ID == meta.Resolve.Root {
				dev := len(d.DepKinds) > 0
				for _, k := range d.DepKinds {
					if k.Kind != "dev" {
						dev = false
					}
				}
				devOnly[d.Pkg] = dev
			}
		}
	}
	for id, dev := range devOnly {
		byID[id].Dev = dev
	}
	return out, nil
}

// ---- Cargo.toml ----

type cargoManifest struct {
	Package struct {
		Name        string `toml:"name"`
		Version     string `toml:"version"`
		Description string `toml:"description"`
		License     string `toml:"license"`
		Homepage    string `toml:"homepage"`
	} `toml:"package"`
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

func (m *cargoManifest) records(path string) []*model.RawPackageRecord {
	root := &model.RawPackageRecord{
		Name:         m.Package.Name,
		Version:      m.Package.Version,
		Description:  m.Package.Description,
		License:      m.Package.License,
		Homepage:     m.Package.Homepage,
		Root:         true,
		EvidencePath: path,
	}
	add := func(deps map[string]any, dev bool) {
		for _, name := range sortedKeys(deps) {
			rec := &model.RawPackageRecord{Name: name, Dev: dev}
			switch v := deps[name].(type) {
			case string:
				rec.Version = cleanRange(v)
			case map[string]any:
				if s, ok := v["version"].(string); ok {
					rec.Version = cleanRange(s)
				}
				if pkg, ok := v["package"].(string); ok {
					rec.Name = pkg
				}
			}
			root.AddDependency(rec)
		}
	}
	add(m.Dependencies, false)
	add(m.BuildDependencies, false)
	add(m.DevDependencies, true)
	return []*model.RawPackageRecord{root}
}
