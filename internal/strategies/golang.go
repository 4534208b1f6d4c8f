package strategies

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

// GoStrategy extracts Go module dependencies:
//   - go list -m -json all
//   - go.mod + go.sum (degraded)
//
// It also publishes the module paths as import namespaces, so that package
// imports such as github.com/spf13/cobra/doc can be matched to their module.
type GoStrategy struct{}

func (s *GoStrategy) Name() string { return "golang" }

func (s *GoStrategy) Markers() []string { return []string{"go.mod"} }

func (s *GoStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *GoStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	sums := map[string]string{}
	if data, err := env.readIfExists(ctx, filepath.Join(dir, "go.sum")); err == nil {
		sums = parseGoSum(data)
	}

	res := runCascade(ctx, env, s.Name(), dir, []step{
		toolStep("go list", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			out, err := env.Tool(ctx, dir, s.Name(), "go", "list", "-m", "-json", "all")
			if err != nil {
				return nil, err
			}
			return parseGoList(out, filepath.Join(dir, "go.mod"), sums)
		}),
		fallbackStep("go.mod", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "go.mod")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseGoMod(data, path, sums)
		}),
	})
	res.Namespaces = goNamespaces(res.Records)
	return res
}

type goListModule struct {
	Path     string
	Version  string
	Main     bool
	Indirect bool
	Replace  *goListModule
}

// parseGoList reads the stream of JSON objects printed by go list -m -json.
func parseGoList(data []byte, source string, sums map[string]string) ([]*model.RawPackageRecord, error) {
	var root *model.RawPackageRecord
	var deps []*model.RawPackageRecord

	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var m goListModule
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse go list output: %w", err)
		}
		if m.Main {
			if root == nil {
				root = &model.RawPackageRecord{Name: m.Path, Root: true, EvidencePath: source}
			}
			continue
		}
		version := m.Version
		if m.Replace != nil && m.Replace.Version != "" {
			version = m.Replace.Version
		}
		deps = append(deps, &model.RawPackageRecord{
			Name:      m.Path,
			Version:   version,
			Integrity: sums[m.Path+"@"+version],
		})
	}
	if root == nil {
		return nil, fmt.Errorf("go list output has no main module")
	}
	for _, d := range deps {
		root.AddDependency(d)
	}
	return []*model.RawPackageRecord{root}, nil
}

func parseGoMod(data []byte, path string, sums map[string]string) ([]*model.RawPackageRecord, error) {
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, err
	}
	root := &model.RawPackageRecord{Root: true, EvidencePath: path}
	if f.Module != nil {
		root.Name = f.Module.Mod.Path
	}

	replaced := map[string]string{}
	for _, r := range f.Replace {
		if r.New.Version != "" {
			replaced[r.Old.Path] = r.New.Version
		}
	}
	for _, req := range f.Require {
		version := req.Mod.Version
		if v, ok := replaced[req.Mod.Path]; ok {
			version = v
		}
		root.AddDependency(&model.RawPackageRecord{
			Name:      req.Mod.Path,
			Version:   version,
			Integrity: sums[req.Mod.Path+"@"+version],
		})
	}
	return []*model.RawPackageRecord{root}, nil
}

// parseGoSum maps "module@version" to an integrity token built from the h1
// hash (base64 SHA-256). go.mod-only lines are ignored.
func parseGoSum(data []byte) map[string]string {
	sums := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 || strings.HasSuffix(fields[1], "/go.mod") {
			continue
		}
		if h, ok := strings.CutPrefix(fields[2], "h1:"); ok {
			sums[fields[0]+"@"+fields[1]] = "sha256-" + h
		}
	}
	return sums
}

func goNamespaces(records []*model.RawPackageRecord) []string {
	var out []string
	for _, root := range records {
		for _, edge := range root.Dependencies {
			if edge.Node != nil && edge.Node.Name != "" {
				out = appendUnique(out, edge.Node.Name)
			}
		}
	}
	return out
}
