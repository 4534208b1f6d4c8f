package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/StinkyLord/sbom-builder/internal/registry"
	"github.com/StinkyLord/sbom-builder/internal/tempdir"
)

// ImageInput describes a container image already expanded into filesystem
// roots by an external exporter.
type ImageInput struct {
	RootPaths          []string
	WorkingDir         string
	ExtractedLayersDir string
}

// ScanImage scans every root of an exported image in order, then the image
// working directory, and merges them: the first root to register an identity
// keeps it. The first root's project package becomes the document parent;
// the project packages of later roots are listed as components. A root that
// cannot be read is skipped with a warning; the scan fails only when no root
// could be read. ExtractedLayersDir is removed afterwards, but only when it
// lives under the platform temp root.
func (s *Scanner) ScanImage(ctx context.Context, in ImageInput) (*Result, error) {
	defer s.cleanupLayers(in.ExtractedLayersDir)

	merged := &Result{Registry: registry.New()}
	used := map[string]bool{}
	scanned := 0
	roots := in.roots()
	for _, root := range roots {
		sub, err := s.Scan(ctx, root)
		if err != nil {
			merged.Warnings = append(merged.Warnings, fmt.Sprintf("root %s: %v", root, err))
			s.Log.Warn().Err(err).Str("root", root).Msg("skipping image root")
			continue
		}
		scanned++
		merged.Registry.MergeFirstWins(sub.Registry)
		merged.Runs = append(merged.Runs, sub.Runs...)
		merged.Warnings = append(merged.Warnings, sub.Warnings...)
		for _, f := range sub.PackageFiles {
			merged.PackageFiles = appendUnique(merged.PackageFiles, f)
		}
		for _, name := range sub.StrategiesUsed {
			used[name] = true
		}
		if len(roots) == 1 {
			merged.BasePath = sub.BasePath
		}
	}
	if scanned == 0 {
		return nil, fmt.Errorf("%w: no image root could be read", ErrUnreadableRoot)
	}
	if merged.BasePath == "" {
		merged.PackageFiles = nil
	}
	if parents := merged.Registry.Parents(); len(parents) > 0 {
		merged.Parent = parents[0]
	}

	for _, st := range s.Strategies {
		if used[st.Name()] {
			merged.StrategiesUsed = append(merged.StrategiesUsed, st.Name())
		} else {
			merged.StrategiesSkipped = append(merged.StrategiesSkipped, st.Name())
		}
	}
	return merged, nil
}

// roots lists the explicit roots followed by the working directory, if it
// is not one of them.
func (in ImageInput) roots() []string {
	roots := append([]string(nil), in.RootPaths...)
	if in.WorkingDir == "" {
		return roots
	}
	for _, r := range roots {
		if filepath.Clean(r) == filepath.Clean(in.WorkingDir) {
			return roots
		}
	}
	return append(roots, in.WorkingDir)
}

func (s *Scanner) cleanupLayers(dir string) {
	if dir == "" {
		return
	}
	err := tempdir.Remove(dir)
	switch {
	case errors.Is(err, tempdir.ErrOutsideTempRoot):
		s.Log.Warn().Str("dir", dir).Msg("extracted layers dir is outside the temp root; leaving it in place")
	case err != nil:
		s.Log.Warn().Err(err).Str("dir", dir).Msg("cannot remove extracted layers dir")
	default:
		s.Log.Debug().Str("dir", dir).Msg("removed extracted layers dir")
	}
}
