package strategies

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// ConanStrategy extracts Conan package manager dependencies:
//   - conan.lock (v1 and v2 formats)
//   - a pre-generated graph.json
//   - conan graph info . --format=json
//   - conanfile.txt / conanfile.py (degraded)
type ConanStrategy struct{}

func (s *ConanStrategy) Name() string { return "conan" }

func (s *ConanStrategy) Markers() []string {
	return []string{"conanfile.txt", "conanfile.py", "conan.lock"}
}

func (s *ConanStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *ConanStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("conan.lock", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "conan.lock")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseConanLock(data, path)
		}),
		lockStep("graph.json", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			// A graph previously written by "conan graph info . --format=json > graph.json".
			for _, rel := range []string{"graph.json", filepath.Join("build", "graph.json"), "conan-graph.json"} {
				path := filepath.Join(dir, rel)
				if !fileExists(path) {
					continue
				}
				data, err := env.ReadFile(ctx, path)
				if err != nil {
					return nil, err
				}
				return parseConanGraphJSON(data, path)
			}
			return nil, ErrNotApplicable
		}),
		toolStep("conan graph info", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			out, err := env.Tool(ctx, dir, s.Name(), "conan", "graph", "info", ".", "--format=json")
			if err != nil {
				return nil, err
			}
			return parseConanGraphJSON(out, manifestFile(dir, "conanfile.txt", "conanfile.py"))
		}),
		fallbackStep("conanfile.txt", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "conanfile.txt")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseConanfileTxt(data, path), nil
		}),
		fallbackStep("conanfile.py", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "conanfile.py")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseConanfilePy(data, path), nil
		}),
	})
}

// ---- conan.lock v1 JSON structures ----

type conanLockV1 struct {
	GraphLock struct {
		Nodes map[string]conanLockV1Node `json:"nodes"`
	} `json:"graph_lock"`
}

type conanLockV1Node struct {
	Ref      string   `json:"ref"` // e.g. "boost/1.82.0#abc123"
	Requires []string `json:"requires"`
	BuildReq []string `json:"build_requires"`
}

// conanLockV2 is the flat format written by Conan 2.
type conanLockV2 struct {
	Requires      []string `json:"requires"`
	BuildRequires []string `json:"build_requires"`
}

// reConanRef matches Conan package references like "boost/1.82.0" or "openssl/3.1.4@conan/stable#rev"
// Groups: 1=name, 2=version, 3=@user/channel (optional), 4=#revision (optional)
var reConanRef = regexp.MustCompile(`^([A-Za-z0-9_\-\.]+)/([A-Za-z0-9_\-\.]+)(@[^\s#]*)?(?:#([A-Za-z0-9\-_]+))?`)

// reConanfilePyRequires matches self.requires(...) and self.build_requires(...) calls.
// Captures: 1=call, 2=name, 3=version, 4=@user/channel (optional), 5=#revision (optional)
var reConanfilePyRequires = regexp.MustCompile(`self\.(requires|build_requires|tool_requires|test_requires)\s*\(\s*["']([A-Za-z0-9_\-\.]+)/([A-Za-z0-9_\-\.]+)(@[^#"']*)?(?:#([A-Za-z0-9\-_]+))?[^"']*["']`)

// reConanfilePyPythonRequires matches python_requires = "name/version..." in conanfile.py
var reConanfilePyPythonRequires = regexp.MustCompile(`python_requires\s*=\s*["']([A-Za-z0-9_\-\.]+)/([A-Za-z0-9_\-\.]+)(@[^#"']*)?(?:#([A-Za-z0-9\-_]+))?[^"']*["']`)

// reConanfilePyList matches the requires = [...] / requires = (...) attribute forms.
var reConanfilePyList = regexp.MustCompile(`(?m)^\s*(requires|build_requires|tool_requires|test_requires)\s*=\s*[\[\(]([^\]\)]+)[\]\)]`)

var reConanfilePyItem = regexp.MustCompile(`["']([A-Za-z0-9_\-\.]+)/([A-Za-z0-9_\-\.]+)(@[^#"']*)?(?:#([A-Za-z0-9\-_]+))?[^"']*["']`)

// conanRecord builds a record from reference parts. channel and revision may
// be empty.
func conanRecord(name, version, channel, revision string) *model.RawPackageRecord {
	rec := &model.RawPackageRecord{Name: name, Version: version}
	channel = strings.TrimPrefix(channel, "@")
	if channel != "" && channel != "_/_" {
		user, ch, _ := strings.Cut(channel, "/")
		rec.Qualifiers = map[string]string{"user": user, "channel": ch}
	}
	if revision != "" {
		if rec.Qualifiers == nil {
			rec.Qualifiers = map[string]string{}
		}
		rec.Qualifiers["rrev"] = revision
	}
	return rec
}

// conanRefRecord parses "name/version@user/channel#revision".
func conanRefRecord(ref string) *model.RawPackageRecord {
	m := reConanRef.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return nil
	}
	return conanRecord(m[1], m[2], m[3], m[4])
}

func parseConanLock(data []byte, path string) ([]*model.RawPackageRecord, error) {
	var v1 conanLockV1
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(v1.GraphLock.Nodes) > 0 {
		return conanLockV1Records(v1, path), nil
	}

	var v2 conanLockV2
	if err := json.Unmarshal(data, &v2); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var out []*model.RawPackageRecord
	add := func(refs []string, dev bool) {
		for _, ref := range refs {
			if rec := conanRefRecord(ref); rec != nil {
				rec.Dev = dev
				rec.EvidencePath = path
				out = append(out, rec)
			}
		}
	}
	add(v2.Requires, false)
	add(v2.BuildRequires, true)
	return out, nil
}

// conanLockV1Records makes every graph node a top-level record. Node "0" is
// the consumer project; edges between nodes are back-references.
func conanLockV1Records(lock conanLockV1, path string) []*model.RawPackageRecord {
	nodes := lock.GraphLock.Nodes
	byIdx := map[string]*model.RawPackageRecord{}
	var out []*model.RawPackageRecord
	for _, idx := range sortedKeys(nodes) {
		node := nodes[idx]
		var rec *model.RawPackageRecord
		if idx == "0" {
			rec = &model.RawPackageRecord{Root: true}
			if r := conanRefRecord(node.Ref); r != nil {
				rec.Name, rec.Version = r.Name, r.Version
			}
		} else if rec = conanRefRecord(node.Ref); rec == nil {
			continue
		}
		rec.EvidencePath = path
		byIdx[idx] = rec
		out = append(out, rec)
	}
	for _, idx := range sortedKeys(nodes) {
		parent, ok := byIdx[idx]
		if !ok {
			continue
		}
		link := func(reqs []string, build bool) {
			for _, req := range reqs {
				// req may be "2" or "2#revision"
				req, _, _ = strings.Cut(req, "#")
				if child, ok := byIdx[req]; ok && child != parent {
					if build && idx == "0" {
						child.Dev = true
					}
					parent.AddReference(child)
				}
			}
		}
		link(nodes[idx].Requires, false)
		link(nodes[idx].BuildReq, true)
	}
	return out
}

func parseConanfileTxt(data []byte, path string) []*model.RawPackageRecord {
	type sectionKind int
	const (
		sectionNone sectionKind = iota
		sectionRequires
		sectionBuildRequires
	)
	currentSection := sectionNone

	var out []*model.RawPackageRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			switch strings.ToLower(line) {
			case "[requires]":
				currentSection = sectionRequires
			case "[build_requires]", "[tool_requires]", "[test_requires]":
				currentSection = sectionBuildRequires
			default:
				currentSection = sectionNone
			}
			continue
		}
		if currentSection == sectionNone {
			continue
		}
		if rec := conanRefRecord(line); rec != nil {
			rec.Dev = currentSection == sectionBuildRequires
			rec.EvidencePath = path
			out = append(out, rec)
		}
	}
	return out
}

func parseConanfilePy(data []byte, path string) []*model.RawPackageRecord {
	content := string(data)
	var out []*model.RawPackageRecord
	add := func(kind, name, version, channel, revision string) {
		rec := conanRecord(name, version, channel, revision)
		rec.Dev = kind != "" && kind != "requires"
		rec.EvidencePath = path
		out = append(out, rec)
	}

	for _, m := range reConanfilePyRequires.FindAllStringSubmatch(content, -1) {
		add(m[1], m[2], m[3], m[4], m[5])
	}
	for _, m := range reConanfilePyPythonRequires.FindAllStringSubmatch(content, -1) {
		add("python_requires", m[1], m[2], m[3], m[4])
	}
	for _, lm := range reConanfilePyList.FindAllStringSubmatch(content, -1) {
		for _, im := range reConanfilePyItem.FindAllStringSubmatch(lm[2], -1) {
			add(lm[1], im[1], im[2], im[3], im[4])
		}
	}
	return out
}
