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

	"github.com/pelletier/go-toml/v2"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// PypiStrategy extracts Python dependencies:
//   - poetry.lock
//   - pip list --format=json
//   - requirements.txt / pyproject.toml (degraded)
type PypiStrategy struct{}

func (s *PypiStrategy) Name() string { return "pypi" }

func (s *PypiStrategy) Markers() []string {
	return []string{"poetry.lock", "pyproject.toml", "requirements.txt"}
}

func (s *PypiStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *PypiStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	project := func(ctx context.Context) *pyProject {
		data, err := env.readIfExists(ctx, filepath.Join(dir, "pyproject.toml"))
		if err != nil {
			return nil
		}
		var p pyProject
		if err := toml.Unmarshal(data, &p); err != nil {
			env.Log.Debug().Err(err).Str("dir", dir).Msg("ignoring unreadable pyproject.toml")
			return nil
		}
		return &p
	}

	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("poetry.lock", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "poetry.lock")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parsePoetryLock(data, path, project(ctx))
		}),
		toolStep("pip list", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			out, err := env.Tool(ctx, dir, s.Name(), "pip", "list", "--format=json")
			if err != nil {
				return nil, err
			}
			return parsePipList(out, manifestFile(dir, "requirements.txt", "pyproject.toml"))
		}),
		fallbackStep("requirements.txt", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "requirements.txt")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseRequirements(data, path), nil
		}),
		fallbackStep("pyproject.toml", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			p := project(ctx)
			if p == nil {
				return nil, ErrNotApplicable
			}
			return p.records(filepath.Join(dir, "pyproject.toml")), nil
		}),
	})
}

// ---- pyproject.toml ----

type pyProject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Description          string              `toml:"description"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name            string         `toml:"name"`
			Version         string         `toml:"version"`
			Description     string         `toml:"description"`
			Dependencies    map[string]any `toml:"dependencies"`
			DevDependencies map[string]any `toml:"dev-dependencies"`
			Group           map[string]struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func (p *pyProject) root(path string) *model.RawPackageRecord {
	root := &model.RawPackageRecord{
		Name:         p.Project.Name,
		Version:      p.Project.Version,
		Description:  p.Project.Description,
		Root:         true,
		EvidencePath: path,
	}
	if root.Name == "" {
		root.Name = p.Tool.Poetry.Name
		root.Version = p.Tool.Poetry.Version
		root.Description = p.Tool.Poetry.Description
	}
	return root
}

// direct returns the declared dependency names with their dev flag.
func (p *pyProject) direct() map[string]bool {
	out := map[string]bool{}
	for _, spec := range p.Project.Dependencies {
		if name, _ := parsePep508(spec); name != "" {
			out[normalizePyName(name)] = false
		}
	}
	for _, specs := range p.Project.OptionalDependencies {
		for _, spec := range specs {
			if name, _ := parsePep508(spec); name != "" {
				if _, ok := out[normalizePyName(name)]; !ok {
					out[normalizePyName(name)] = true
				}
			}
		}
	}
	for name := range p.Tool.Poetry.Dependencies {
		if name != "python" {
			out[normalizePyName(name)] = false
		}
	}
	dev := p.Tool.Poetry.DevDependencies
	for group, g := range p.Tool.Poetry.Group {
		if group == "main" {
			continue
		}
		for name := range g.Dependencies {
			if dev == nil {
				dev = map[string]any{}
			}
			dev[name] = g.Dependencies[name]
		}
	}
	for name := range dev {
		if _, ok := out[normalizePyName(name)]; !ok {
			out[normalizePyName(name)] = true
		}
	}
	return out
}

func (p *pyProject) records(path string) []*model.RawPackageRecord {
	root := p.root(path)
	direct := p.direct()
	versions := map[string]string{}
	for _, spec := range p.Project.Dependencies {
		if name, version := parsePep508(spec); name != "" {
			versions[normalizePyName(name)] = version
		}
	}
	for name, v := range p.Tool.Poetry.Dependencies {
		if s, ok := v.(string); ok {
			versions[normalizePyName(name)] = cleanRange(s)
		}
	}
	for _, name := range sortedKeys(direct) {
		root.AddDependency(&model.RawPackageRecord{Name: name, Version: versions[name], Dev: direct[name]})
	}
	return []*model.RawPackageRecord{root}
}

// ---- poetry.lock ----

type poetryLock struct {
	Package []struct {
		Name         string         `toml:"name"`
		Version      string         `toml:"version"`
		Description  string         `toml:"description"`
		Category     string         `toml:"category"`
		Groups       []string       `toml:"groups"`
		Optional     bool           `toml:"optional"`
		Dependencies map[string]any `toml:"dependencies"`
		Files        []struct {
			File string `toml:"file"`
			Hash string `toml:"hash"`
		} `toml:"files"`
	} `toml:"package"`
}

// parsePoetryLock makes every locked package a top-level record. Dependencies
// between packages, and from the project root to its direct dependencies,
// are back-references.
func parsePoetryLock(data []byte, path string, project *pyProject) ([]*model.RawPackageRecord, error) {
	var lock poetryLock
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byName := map[string]*model.RawPackageRecord{}
	var out []*model.RawPackageRecord
	for _, pkg := range lock.Package {
		rec := &model.RawPackageRecord{
			Name:         pkg.Name,
			Version:      pkg.Version,
			Description:  pkg.Description,
			Dev:          pkg.Category == "dev" || (len(pkg.Groups) > 0 && !contains(pkg.Groups, "main")),
			EvidencePath: path,
		}
		if len(pkg.Files) > 0 {
			rec.Integrity = pkg.Files[0].Hash
		}
		byName[normalizePyName(pkg.Name)] = rec
		out = append(out, rec)
	}
	for i, pkg := range lock.Package {
		for _, dep := range sortedKeys(pkg.Dependencies) {
			if child, ok := byName[normalizePyName(dep)]; ok {
				out[i].AddReference(child)
			}
		}
	}

	if project != nil {
		root := project.root(path)
		direct := project.direct()
		for _, name := range sortedKeys(direct) {
			if child, ok := byName[name]; ok {
				root.AddReference(child)
			}
		}
		out = append([]*model.RawPackageRecord{root}, out...)
	}
	return out, nil
}

// ---- pip list ----

func parsePipList(data []byte, source string) ([]*model.RawPackageRecord, error) {
	var pkgs []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("parse pip list output: %w", err)
	}
	out := make([]*model.RawPackageRecord, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, &model.RawPackageRecord{Name: p.Name, Version: p.Version, EvidencePath: source})
	}
	return out, nil
}

// ---- requirements.txt ----

// rePep508 matches "name[extras] == version ; markers".
// Groups: 1=name, 2=operator (optional), 3=version (optional)
var rePep508 = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._\-]*)\s*(?:\[[^\]]*\])?\s*(?:(===|==|~=|>=|<=|!=|>|<)\s*([^\s;,#]+))?`)

// parsePep508 returns the name and, for exact pins only, the version.
func parsePep508(spec string) (string, string) {
	m := rePep508.FindStringSubmatch(spec)
	if m == nil {
		return "", ""
	}
	if m[2] == "==" || m[2] == "===" {
		return m[1], m[3]
	}
	return m[1], ""
}

func parseRequirements(data []byte, path string) []*model.RawPackageRecord {
	var out []*model.RawPackageRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name, version := parsePep508(line)
		if name == "" {
			continue
		}
		out = append(out, &model.RawPackageRecord{Name: name, Version: version, EvidencePath: path})
	}
	return out
}

// normalizePyName applies PEP 503 name normalisation.
func normalizePyName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
