// Package scanner orchestrates the ecosystem drivers and merges their results.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/rs/zerolog"

	"github.com/StinkyLord/sbom-builder/internal/config"
	"github.com/StinkyLord/sbom-builder/internal/imports"
	"github.com/StinkyLord/sbom-builder/internal/model"
	"github.com/StinkyLord/sbom-builder/internal/registry"
	"github.com/StinkyLord/sbom-builder/internal/scope"
	"github.com/StinkyLord/sbom-builder/internal/strategies"
)

// ErrUnreadableRoot is the one condition that aborts a scan.
var ErrUnreadableRoot = errors.New("scan root is not readable")

// Result holds the merged components and metadata about which drivers ran.
type Result struct {
	Registry *registry.Registry

	// Parent is the root package of the primary driver at the scan root.
	Parent *model.Component

	// BasePath and PackageFiles are set only when a single scan root is known.
	BasePath     string
	PackageFiles []string

	Runs              []Run
	Warnings          []string
	StrategiesUsed    []string
	StrategiesSkipped []string
}

// Run summarises one driver execution.
type Run struct {
	Ecosystem string
	Dir       string
	State     strategies.State
	Step      string
	Degraded  bool
	Stats     registry.Stats
}

// Scanner runs ecosystem drivers against scan roots.
type Scanner struct {
	Config     *config.Config
	Log        zerolog.Logger
	Strategies []strategies.Strategy
	Env        *strategies.Env
}

// New creates a Scanner with every known driver and a real tool runner.
func New(cfg *config.Config, log zerolog.Logger) *Scanner {
	return &Scanner{
		Config:     cfg,
		Log:        log,
		Strategies: strategies.All(),
		Env:        strategies.NewEnv(cfg, log),
	}
}

type target struct {
	strategy strategies.Strategy
	dir      string
}

// Scan detects ecosystems under root, runs their drivers one after another
// and registers the results. Only an unreadable root is an error; driver
// failures become warnings.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	root, err := readableRoot(root)
	if err != nil {
		return nil, err
	}
	log := s.Log.With().Str("root", root).Logger()

	res := &Result{Registry: registry.New(), BasePath: root}
	targets := s.detect(root)
	log.Debug().Int("targets", len(targets)).Bool("multi_project", s.Config.MultiProject).Msg("detection finished")

	// Drivers run strictly sequentially.
	var outcomes []*strategies.Result
	for _, t := range targets {
		outcomes = append(outcomes, s.runDriver(ctx, t))
	}

	classifier := scope.NewClassifier(s.evidence(root, outcomes, res))
	builder := registry.NewBuilder(classifier, s.Config.RequiredOnly)

	// The first driver at the scan root that produced records owns the
	// document's parent component.
	primary := -1
	for i, out := range outcomes {
		if out.Dir == root && len(out.Records) > 0 {
			primary = i
			break
		}
	}

	used := map[string]bool{}
	for i, out := range outcomes {
		src := registry.Source{
			Ecosystem:   out.Ecosystem,
			Degraded:    out.Degraded,
			Tool:        out.Tool,
			ExcludeRoot: i == primary,
		}
		stats := res.Registry.Collect(builder, src, out.Records)
		res.Runs = append(res.Runs, Run{
			Ecosystem: out.Ecosystem,
			Dir:       out.Dir,
			State:     out.State,
			Step:      out.Step,
			Degraded:  out.Degraded,
			Stats:     stats,
		})
		for _, w := range out.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): %s", out.Ecosystem, relTo(root, out.Dir), w))
		}
		for _, f := range out.PackageFiles() {
			res.PackageFiles = appendUnique(res.PackageFiles, f)
		}
		if len(out.Records) > 0 {
			used[out.Ecosystem] = true
		}
		log.Info().
			Str("ecosystem", out.Ecosystem).
			Str("dir", out.Dir).
			Stringer("state", out.State).
			Bool("degraded", out.Degraded).
			Int("registered", stats.Registered).
			Int("merged", stats.Merged).
			Int("dropped", stats.Dropped).
			Msg("driver finished")
	}

	for _, st := range s.Strategies {
		if used[st.Name()] {
			res.StrategiesUsed = append(res.StrategiesUsed, st.Name())
		} else {
			res.StrategiesSkipped = append(res.StrategiesSkipped, st.Name())
		}
	}
	if parents := res.Registry.Parents(); len(parents) > 0 {
		res.Parent = parents[0]
	}
	return res, nil
}

// runDriver isolates one driver: a panic is turned into a warning so the
// remaining drivers still run.
func (s *Scanner) runDriver(ctx context.Context, t target) (out *strategies.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Str("ecosystem", t.strategy.Name()).Str("dir", t.dir).Interface("panic", r).Msg("driver crashed")
			out = &strategies.Result{
				Ecosystem: t.strategy.Name(),
				Dir:       t.dir,
				State:     strategies.Done,
				Warnings:  []string{fmt.Sprintf("driver crashed: %v", r)},
			}
		}
	}()
	s.Log.Debug().Str("ecosystem", t.strategy.Name()).Str("dir", t.dir).Msg("running driver")
	return t.strategy.Extract(ctx, t.dir, s.Env)
}

// detect selects drivers. In single-project mode the first driver whose
// markers are present in root wins. In multi-project mode every driver runs
// for every directory holding one of its markers.
func (s *Scanner) detect(root string) []target {
	if !s.Config.MultiProject {
		for _, st := range s.Strategies {
			if st.Detect(root) {
				return []target{{strategy: st, dir: root}}
			}
		}
		return nil
	}

	var rootTargets, nested []target
	for _, st := range s.Strategies {
		for _, dir := range s.markerDirs(root, st.Markers()) {
			t := target{strategy: st, dir: dir}
			if dir == root {
				rootTargets = append(rootTargets, t)
			} else {
				nested = append(nested, t)
			}
		}
	}
	return append(rootTargets, nested...)
}

// markerDirs globs **/<marker> below root and returns the sorted distinct
// directories, skipping dependency and build output trees.
func (s *Scanner) markerDirs(root string, markers []string) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, m := range markers {
		matches, err := doublestar.Glob(filepath.Join(escapeGlob(root), "**", m))
		if err != nil {
			s.Log.Warn().Err(err).Str("marker", m).Msg("marker glob failed")
			continue
		}
		for _, path := range matches {
			dir := filepath.Dir(path)
			if seen[dir] || inSkippedDir(root, dir) {
				continue
			}
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

var skippedDirs = map[string]bool{
	"node_modules": true, "vendor": true, "target": true, ".git": true,
	"site-packages": true, "__pycache__": true, ".venv": true, "venv": true,
	"vcpkg_installed": true, "testdata": true,
}

func inSkippedDir(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skippedDirs[part] {
			return true
		}
	}
	return false
}

// evidence assembles the referenced-identifier set: configured identifiers,
// optionally the project's own imports, and the module namespaces that own
// any referenced import path.
func (s *Scanner) evidence(root string, outcomes []*strategies.Result, res *Result) []string {
	refs := append([]string{}, s.Config.ReferencedIdentifiers...)
	if s.Config.AnalyzeImports {
		found, err := imports.Collect(root)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("import analysis: %v", err))
			s.Log.Warn().Err(err).Msg("import analysis failed")
		}
		refs = append(refs, found...)
	}
	if len(refs) == 0 {
		return nil
	}

	var namespaces []string
	for _, out := range outcomes {
		namespaces = append(namespaces, out.Namespaces...)
	}
	return expandNamespaces(refs, namespaces)
}

// expandNamespaces adds every namespace that owns one of refs, so that an
// import of "github.com/a/b/sub" also references module "github.com/a/b".
func expandNamespaces(refs, namespaces []string) []string {
	out := append([]string{}, refs...)
	for _, ns := range namespaces {
		for _, r := range refs {
			if r == ns || strings.HasPrefix(r, ns+"/") {
				out = appendUnique(out, ns)
				break
			}
		}
	}
	return out
}

func readableRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadableRoot, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrUnreadableRoot, abs)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
	}
	return abs, nil
}

// escapeGlob quotes glob metacharacters in a literal path.
func escapeGlob(path string) string {
	var b strings.Builder
	for _, r := range path {
		if strings.ContainsRune(`*?[]{}\`, r) && r != filepath.Separator {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func appendUnique(slice []string, s string) []string {
	for _, v := range slice {
		if v == s {
			return slice
		}
	}
	return append(slice, s)
}
