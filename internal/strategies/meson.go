package strategies

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/StinkyLord/sbom-builder/internal/fingerprints"
	"github.com/StinkyLord/sbom-builder/internal/model"
)

// MesonStrategy extracts dependencies of Meson projects:
//   - subprojects/*.wrap (pinned wrap-file and wrap-git subprojects)
//   - meson.build dependency() and subproject() calls (degraded)
type MesonStrategy struct{}

func (s *MesonStrategy) Name() string { return "meson" }

func (s *MesonStrategy) Markers() []string { return []string{"meson.build"} }

func (s *MesonStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *MesonStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("subprojects/*.wrap", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			wraps, _ := filepath.Glob(filepath.Join(dir, "subprojects", "*.wrap"))
			if len(wraps) == 0 {
				return nil, ErrNotApplicable
			}
			sort.Strings(wraps)
			var records []*model.RawPackageRecord
			for _, path := range wraps {
				data, err := env.ReadFile(ctx, path)
				if err != nil {
					return nil, err
				}
				rec, err := parseMesonWrap(data, path)
				if err != nil {
					return nil, err
				}
				if rec != nil {
					records = append(records, rec)
				}
			}
			root := mesonRoot(ctx, env, dir)
			if root == nil {
				return records, nil
			}
			for _, rec := range records {
				root.AddReference(rec)
			}
			return append([]*model.RawPackageRecord{root}, records...), nil
		}),
		fallbackStep("meson.build", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "meson.build")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			return parseMesonBuild(string(data), path), nil
		}),
	})
}

// ---- wrap files ----

var reWrapRevision = regexp.MustCompile(`^(.+)-(\d+)$`)

// parseMesonWrap reads one wrap file. The package name is the file name;
// [provide] entries do not change it. wrap-redirect and other wrap kinds
// yield nil.
func parseMesonWrap(data []byte, path string) (*model.RawPackageRecord, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:        true,
		AllowPythonMultilineValues: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".wrap")
	rec := &model.RawPackageRecord{
		Name:         fingerprints.Canonical(name),
		EvidencePath: path,
	}
	if lib, ok := fingerprints.Lookup(name); ok {
		rec.Description = lib.Description
		rec.Dev = lib.Test
	}

	switch {
	case f.HasSection("wrap-file"):
		sec := f.Section("wrap-file")
		version := sec.Key("wrapdb_version").String()
		if m := reWrapRevision.FindStringSubmatch(version); m != nil {
			version = m[1]
			rec.Qualifiers = map[string]string{"wrapdb_revision": m[2]}
		}
		if version == "" {
			version = directoryVersion(sec.Key("directory").String(), name)
		}
		if version == "" {
			version = archiveVersion(sec.Key("source_url").String())
		}
		rec.Version = version
		if h := sec.Key("source_hash").String(); h != "" {
			rec.Integrity = "sha256:" + h
		}
		if u := sec.Key("source_url").String(); u != "" {
			if rec.Qualifiers == nil {
				rec.Qualifiers = map[string]string{}
			}
			rec.Qualifiers["download_url"] = u
		}
	case f.HasSection("wrap-git"):
		sec := f.Section("wrap-git")
		rec.Version = sec.Key("revision").String()
		if m := reCMakeVersion.FindStringSubmatch(rec.Version); m != nil {
			rec.Version = m[1]
		}
		if u := sec.Key("url").String(); u != "" {
			rec.Qualifiers = map[string]string{"vcs_url": vcsURL(u)}
		}
	default:
		return nil, nil
	}
	return rec, nil
}

// directoryVersion extracts "1.3" from a source directory "zlib-1.3".
func directoryVersion(dir, name string) string {
	if dir == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(dir), strings.ToLower(name)+"-"); ok {
		if m := reCMakeVersion.FindStringSubmatch(rest); m != nil {
			return m[1]
		}
	}
	return ""
}

// ---- meson.build ----

var (
	reMesonProject    = regexp.MustCompile(`\bproject\s*\(`)
	reMesonDependency = regexp.MustCompile(`\bdependency\s*\(`)
	reMesonSubproject = regexp.MustCompile(`\bsubproject\s*\(`)
	reMesonFirstArg   = regexp.MustCompile(`^\s*'([^']+)'`)
	reMesonVersionKw  = regexp.MustCompile(`\bversion\s*:\s*(?:\[\s*)?'([^']*)'`)
	reMesonRequiredNo = regexp.MustCompile(`\brequired\s*:\s*false\b`)
	reMesonNative     = regexp.MustCompile(`\bnative\s*:\s*true\b`)
	reMesonLicense    = regexp.MustCompile(`\blicense\s*:\s*(?:\[\s*)?'([^']*)'`)
)

// mesonBuiltins are dependency() names Meson resolves itself.
var mesonBuiltins = map[string]bool{
	"threads": true, "dl": true, "m": true, "rt": true, "openmp": true,
	"mpi": true, "cuda": true, "gtk-doc": true, "appleframeworks": true,
	"intl": true, "iconv": true,
}

// mesonCallArgs returns the raw argument text of every call matched by re,
// up to the balancing parenthesis. Quoted strings are skipped while
// balancing.
func mesonCallArgs(src string, re *regexp.Regexp) []string {
	var out []string
	for _, loc := range re.FindAllStringIndex(src, -1) {
		depth, inStr := 1, false
		i := loc[1]
		for ; i < len(src) && depth > 0; i++ {
			switch c := src[i]; {
			case c == '\'' && (i == 0 || src[i-1] != '\\'):
				inStr = !inStr
			case inStr:
			case c == '(' || c == '[':
				depth++
			case c == ')' || c == ']':
				depth--
			}
		}
		end := i
		if depth == 0 {
			end = i - 1
		}
		out = append(out, src[loc[1]:end])
	}
	return out
}

func mesonVersion(constraint string) string {
	v := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(constraint), "<>=!~"))
	if m := reCMakeVersion.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return ""
}

// stripMesonComments drops # comments outside string literals.
func stripMesonComments(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		inStr := false
		cut := len(line)
		for i := 0; i < len(line); i++ {
			if line[i] == '\'' && (i == 0 || line[i-1] != '\\') {
				inStr = !inStr
			}
			if line[i] == '#' && !inStr {
				cut = i
				break
			}
		}
		b.WriteString(line[:cut])
		b.WriteByte('\n')
	}
	return b.String()
}

func mesonRoot(ctx context.Context, env *Env, dir string) *model.RawPackageRecord {
	path := filepath.Join(dir, "meson.build")
	data, err := env.readIfExists(ctx, path)
	if err != nil {
		return nil
	}
	return mesonProject(stripMesonComments(string(data)), path)
}

func mesonProject(src, path string) *model.RawPackageRecord {
	args := mesonCallArgs(src, reMesonProject)
	if len(args) == 0 {
		return nil
	}
	m := reMesonFirstArg.FindStringSubmatch(args[0])
	if m == nil {
		return nil
	}
	rec := &model.RawPackageRecord{Name: m[1], Root: true, EvidencePath: path}
	if v := reMesonVersionKw.FindStringSubmatch(args[0]); v != nil {
		rec.Version = v[1]
	}
	if l := reMesonLicense.FindStringSubmatch(args[0]); l != nil {
		rec.License = l[1]
	}
	return rec
}

// parseMesonBuild reads dependency() and subproject() calls of a meson.build.
// dependency(..., required: false) is optional and native: true marks a
// build-machine dependency.
func parseMesonBuild(src, path string) []*model.RawPackageRecord {
	src = stripMesonComments(src)
	byName := map[string]*model.RawPackageRecord{}
	var deps []*model.RawPackageRecord
	add := func(name, args string) {
		if name == "" || mesonBuiltins[strings.ToLower(name)] {
			return
		}
		canonical := fingerprints.Canonical(name)
		version := ""
		if v := reMesonVersionKw.FindStringSubmatch(args); v != nil {
			version = mesonVersion(v[1])
		}
		if existing, ok := byName[canonical]; ok {
			if existing.Version == "" {
				existing.Version = version
			}
			return
		}
		rec := &model.RawPackageRecord{
			Name:         canonical,
			Version:      version,
			Dev:          reMesonNative.MatchString(args),
			EvidencePath: path,
		}
		if reMesonRequiredNo.MatchString(args) {
			rec.Scope = model.ScopeOptional
		}
		if lib, ok := fingerprints.Lookup(name); ok {
			rec.Description = lib.Description
			rec.Dev = rec.Dev || lib.Test
		}
		byName[canonical] = rec
		deps = append(deps, rec)
	}

	for _, args := range mesonCallArgs(src, reMesonDependency) {
		if m := reMesonFirstArg.FindStringSubmatch(args); m != nil {
			add(m[1], args)
		}
	}
	for _, args := range mesonCallArgs(src, reMesonSubproject) {
		if m := reMesonFirstArg.FindStringSubmatch(args); m != nil {
			add(m[1], args)
		}
	}

	root := mesonProject(src, path)
	if root == nil {
		return deps
	}
	for _, rec := range deps {
		root.AddDependency(rec)
	}
	return []*model.RawPackageRecord{root}
}
