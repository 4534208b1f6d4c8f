package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// VcpkgStrategy extracts vcpkg dependencies:
//   - vcpkg-lock.json
//   - vcpkg_installed/vcpkg/status or installed/vcpkg/status
//   - vcpkg.json (degraded)
type VcpkgStrategy struct{}

func (s *VcpkgStrategy) Name() string { return "vcpkg" }

func (s *VcpkgStrategy) Markers() []string { return []string{"vcpkg.json"} }

func (s *VcpkgStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *VcpkgStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("vcpkg-lock.json", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "vcpkg-lock.json")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseVcpkgLock(data, path)
		}),
		lockStep("vcpkg status", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			for _, rel := range []string{
				filepath.Join("vcpkg_installed", "vcpkg", "status"),
				filepath.Join("installed", "vcpkg", "status"),
			} {
				path := filepath.Join(dir, rel)
				if !fileExists(path) {
					continue
				}
				data, err := env.ReadFile(ctx, path)
				if err != nil {
					return nil, err
				}
				return parseVcpkgStatus(data, path), nil
			}
			return nil, ErrNotApplicable
		}),
		fallbackStep("vcpkg.json", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "vcpkg.json")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseVcpkgManifest(data, path)
		}),
	})
}

// vcpkgManifest represents vcpkg.json. Dependencies can be plain strings or
// objects.
type vcpkgManifest struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	VersionSemver string            `json:"version-semver"`
	VersionString string            `json:"version-string"`
	Description   any               `json:"description"`
	License       string            `json:"license"`
	Homepage      string            `json:"homepage"`
	Dependencies  []json.RawMessage `json:"dependencies"`
	Overrides     []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"overrides"`
}

type vcpkgDependency struct {
	Name      string `json:"name"`
	VersionGE string `json:"version>="`
	Host      bool   `json:"host"`
}

func parseVcpkgManifest(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var m vcpkgManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	root := &model.RawPackageRecord{
		Name:         m.Name,
		Version:      firstNonEmpty(m.Version, m.VersionSemver, m.VersionString),
		Description:  joinText(m.Description),
		License:      m.License,
		Homepage:     m.Homepage,
		Root:         true,
		EvidencePath: path,
	}
	overrides := map[string]string{}
	for _, o := range m.Overrides {
		overrides[o.Name] = o.Version
	}
	for _, dep := range m.Dependencies {
		var name string
		if err := json.Unmarshal(dep, &name); err == nil {
			root.AddDependency(&model.RawPackageRecord{Name: name, Version: overrides[name]})
			continue
		}
		var obj vcpkgDependency
		if err := json.Unmarshal(dep, &obj); err == nil && obj.Name != "" {
			root.AddDependency(&model.RawPackageRecord{
				Name:    obj.Name,
				Version: firstNonEmpty(overrides[obj.Name], obj.VersionGE),
				Dev:     obj.Host,
			})
		}
	}
	return []*model.RawPackageRecord{root}, nil
}

func parseVcpkgLock(data []byte, path string) ([]*model.RawPackageRecord, error) {
	// vcpkg-lock.json has various formats across versions.
	var lock struct {
		Packages map[string]struct {
			Version string `json:"version"`
		} `json:"packages"`
	}
	if err := json.Unmarshal(data, &lock); err == nil && len(lock.Packages) > 0 {
		var out []*model.RawPackageRecord
		for _, key := range sortedKeys(lock.Packages) {
			name, triplet := splitTriplet(key)
			rec := &model.RawPackageRecord{Name: name, Version: lock.Packages[key].Version, EvidencePath: path}
			if triplet != "" {
				rec.Qualifiers = map[string]string{"triplet": triplet}
			}
			out = append(out, rec)
		}
		return out, nil
	}

	// Flat array format used in newer vcpkg.
	var arr []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("parse %s: unrecognised lock format", path)
	}
	var out []*model.RawPackageRecord
	for _, item := range arr {
		if item.Name != "" {
			out = append(out, &model.RawPackageRecord{Name: item.Name, Version: item.Version, EvidencePath: path})
		}
	}
	return out, nil
}

// parseVcpkgStatus parses the dpkg-style status file of installed packages:
//
//	Package: boost-system
//	Version: 1.82.0
//	Port-Version: 2
//	Architecture: x64-linux
//	Status: install ok installed
//
// Feature stanzas (with a Feature: field) are skipped.
func parseVcpkgStatus(data []byte, path string) []*model.RawPackageRecord {
	var out []*model.RawPackageRecord
	seen := map[string]bool{}
	fields := map[string]string{}

	flush := func() {
		defer func() { fields = map[string]string{} }()
		name := fields["Package"]
		if name == "" || fields["Feature"] != "" || !strings.HasSuffix(fields["Status"], " installed") {
			return
		}
		name, triplet := splitTriplet(name)
		if triplet == "" {
			triplet = fields["Architecture"]
		}
		version := fields["Version"]
		key := name + "@" + version + ":" + triplet
		if seen[key] {
			return
		}
		seen[key] = true
		rec := &model.RawPackageRecord{
			Name:         name,
			Version:      version,
			EvidencePath: path,
			Qualifiers:   map[string]string{"triplet": triplet},
		}
		if pv := fields["Port-Version"]; pv != "" && pv != "0" {
			rec.Qualifiers["port_version"] = pv
		}
		out = append(out, rec)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	flush()
	return out
}

// splitTriplet strips a triplet suffix: "boost:x64-windows" -> "boost", "x64-windows".
func splitTriplet(s string) (string, string) {
	name, triplet, _ := strings.Cut(s, ":")
	return name, triplet
}

// joinText accepts a string or an array of strings.
func joinText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var parts []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
