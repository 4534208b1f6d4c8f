// Package strategies holds the ecosystem drivers. Each driver detects its
// ecosystem by marker files and extracts raw package records through a
// cascade: frozen lockfile, then native tool, then manifest fallback.
package strategies

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/viant/afs"

	"github.com/StinkyLord/sbom-builder/internal/config"
	"github.com/StinkyLord/sbom-builder/internal/model"
)

// ErrNotApplicable is returned by a cascade step whose input is absent.
// The cascade moves on without logging a failure.
var ErrNotApplicable = errors.New("step not applicable")

// Strategy is the interface every ecosystem driver implements.
type Strategy interface {
	// Name is the ecosystem and package-URL type, e.g. "npm".
	Name() string
	// Markers are the manifest/lock file names that identify the ecosystem.
	Markers() []string
	// Detect reports whether dir contains one of the markers.
	Detect(dir string) bool
	// Extract runs the cascade against dir. It never fails the scan: tool
	// and parse errors end up in Result.Warnings.
	Extract(ctx context.Context, dir string, env *Env) *Result
}

// All returns every driver in detection priority order.
func All() []Strategy {
	return []Strategy{
		&NpmStrategy{},
		&GoStrategy{},
		&PypiStrategy{},
		&CargoStrategy{},
		&MavenStrategy{},
		&ConanStrategy{},
		&VcpkgStrategy{},
		&CMakeStrategy{},
		&MesonStrategy{},
	}
}

// Env carries what a driver needs from the outside world.
type Env struct {
	Config *config.Config
	Runner Runner
	Log    zerolog.Logger
	FS     afs.Service
}

// NewEnv creates an Env running real tools under cfg.ToolTimeout.
func NewEnv(cfg *config.Config, log zerolog.Logger) *Env {
	return &Env{
		Config: cfg,
		Runner: &ExecRunner{Timeout: cfg.ToolTimeout},
		Log:    log,
		FS:     afs.New(),
	}
}

// ReadFile reads a manifest or lockfile.
func (e *Env) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if e.FS == nil {
		return os.ReadFile(path)
	}
	return e.FS.DownloadWithURL(ctx, path)
}

// readIfExists reads path, mapping a missing file to ErrNotApplicable.
func (e *Env) readIfExists(ctx context.Context, path string) ([]byte, error) {
	if !fileExists(path) {
		return nil, ErrNotApplicable
	}
	return e.ReadFile(ctx, path)
}

// Tool runs the configured (or default) command for an ecosystem in dir.
func (e *Env) Tool(ctx context.Context, dir, ecosystem string, defaults ...string) ([]byte, error) {
	cmd := e.Config.Command(ecosystem, defaults...)
	if len(cmd) == 0 {
		return nil, ErrNotApplicable
	}
	e.Log.Debug().Str("ecosystem", ecosystem).Strs("command", cmd).Str("dir", dir).Msg("invoking native tool")
	return e.Runner.Run(ctx, dir, cmd[0], cmd[1:]...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// manifestFile returns the first of names present in dir, or the first name
// when none is. Tool output is attributed to this file.
func manifestFile(dir string, names ...string) string {
	for _, n := range names {
		if path := filepath.Join(dir, n); fileExists(path) {
			return path
		}
	}
	return filepath.Join(dir, names[0])
}

// hasMarker reports whether any marker file exists directly in dir.
func hasMarker(dir string, markers []string) bool {
	for _, m := range markers {
		if fileExists(filepath.Join(dir, m)) {
			return true
		}
	}
	return false
}

// Result is the outcome of one driver run.
type Result struct {
	Ecosystem string
	Dir       string
	Records   []*model.RawPackageRecord

	// Namespaces is an optional side artifact: import-path prefixes owned
	// by packages of this ecosystem (used to match import evidence).
	Namespaces []string

	State State
	Trace []State
	Step  string // the step that produced Records
	Tool  string // the native tool step that produced Records, if any

	Degraded bool
	Warnings []string
}

// PackageFiles returns the distinct evidence files of the top-level records.
func (r *Result) PackageFiles() []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.Records {
		if rec.EvidencePath != "" && !seen[rec.EvidencePath] {
			seen[rec.EvidencePath] = true
			out = append(out, rec.EvidencePath)
		}
	}
	return out
}

func appendUnique(slice []string, s string) []string {
	for _, v := range slice {
		if v == s {
			return slice
		}
	}
	return append(slice, s)
}
