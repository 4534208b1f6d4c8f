package strategies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/StinkyLord/sbom-builder/internal/config"
	"github.com/StinkyLord/sbom-builder/internal/model"
)

// fakeRunner stands in for native tools. Commands not listed in stdout fail
// with ErrToolFailed, like a missing executable would. When a command has a
// report entry, its contents are written to the -DoutputFile= argument.
// Commands in exitStdout print their output and then exit non-zero.
type fakeRunner struct {
	mu         sync.Mutex
	stdout     map[string]string
	exitStdout map[string]string
	report     map[string]string
	calls      []string
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.Join(append([]string{filepath.Base(name)}, args...), " ")
	f.calls = append(f.calls, cmd)

	for prefix, body := range f.report {
		if !strings.HasPrefix(cmd, prefix) {
			continue
		}
		for _, a := range args {
			if p, ok := strings.CutPrefix(a, "-DoutputFile="); ok {
				if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
					return nil, err
				}
				return nil, nil
			}
		}
	}
	for prefix, out := range f.exitStdout {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), fmt.Errorf("%w: %s: exit status 1", ErrToolFailed, name)
		}
	}
	for prefix, out := range f.stdout {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil
		}
	}
	return nil, fmt.Errorf("%w: %s: executable file not found", ErrToolFailed, name)
}

func newTestEnv(t *testing.T, runner Runner) *Env {
	t.Helper()
	env := NewEnv(config.Default(), zerolog.Nop())
	if runner == nil {
		runner = &fakeRunner{}
	}
	env.Runner = runner
	return env
}

// writeFiles creates a fixture tree under a fresh temp dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

// flatten walks records depth-first through expanded edges and returns
// "name@version" for every node.
func flatten(records []*model.RawPackageRecord) []string {
	var out []string
	seen := map[*model.RawPackageRecord]bool{}
	var walk func(r *model.RawPackageRecord)
	walk = func(r *model.RawPackageRecord) {
		if seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r.Name+"@"+r.Version)
		for _, e := range r.Dependencies {
			if !e.BackRef {
				walk(e.Node)
			}
		}
	}
	for _, r := range records {
		walk(r)
	}
	return out
}

func findRecord(records []*model.RawPackageRecord, name string) *model.RawPackageRecord {
	seen := map[*model.RawPackageRecord]bool{}
	stack := append([]*model.RawPackageRecord{}, records...)
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r == nil || seen[r] {
			continue
		}
		seen[r] = true
		if r.Name == name {
			return r
		}
		for _, e := range r.Dependencies {
			stack = append(stack, e.Node)
		}
	}
	return nil
}

func depNames(r *model.RawPackageRecord) (expanded, refs []string) {
	for _, e := range r.Dependencies {
		if e.BackRef {
			refs = append(refs, e.Node.Name)
		} else {
			expanded = append(expanded, e.Node.Name)
		}
	}
	return expanded, refs
}
