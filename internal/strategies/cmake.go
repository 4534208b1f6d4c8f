package strategies

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/fingerprints"
	"github.com/StinkyLord/sbom-builder/internal/model"
)

// CMakeStrategy extracts dependencies declared to CMake:
//   - package-lock.cmake (CPM package lock)
//   - CMakeLists.txt and cmake/*.cmake (degraded): FetchContent_Declare,
//     ExternalProject_Add, CPMAddPackage, CPMFindPackage and find_package.
//     Versions missing from find_package are read from CMakeCache.txt when
//     a build tree exists.
type CMakeStrategy struct{}

func (s *CMakeStrategy) Name() string { return "cmake" }

func (s *CMakeStrategy) Markers() []string { return []string{"CMakeLists.txt"} }

func (s *CMakeStrategy) Detect(dir string) bool { return hasMarker(dir, s.Markers()) }

func (s *CMakeStrategy) Extract(ctx context.Context, dir string, env *Env) *Result {
	return runCascade(ctx, env, s.Name(), dir, []step{
		lockStep("package-lock.cmake", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			path := filepath.Join(dir, "package-lock.cmake")
			data, err := env.readIfExists(ctx, path)
			if err != nil {
				return nil, err
			}
			records := parseCPMLock(data, path)
			root := cmakeRoot(ctx, env, dir)
			if root == nil {
				return records, nil
			}
			for _, rec := range records {
				root.AddReference(rec)
			}
			return append([]*model.RawPackageRecord{root}, records...), nil
		}),
		fallbackStep("CMakeLists.txt", func(ctx context.Context) ([]*model.RawPackageRecord, error) {
			files := []string{filepath.Join(dir, "CMakeLists.txt")}
			extra, _ := filepath.Glob(filepath.Join(dir, "cmake", "*.cmake"))
			files = append(files, extra...)

			sources := map[string][]cmakeCall{}
			for _, f := range files {
				data, err := env.ReadFile(ctx, f)
				if err != nil {
					if f == files[0] {
						return nil, err
					}
					continue
				}
				sources[f] = parseCMakeCalls(string(data))
			}
			return cmakeManifest(files, sources, cmakeCacheVersions(ctx, env, dir)), nil
		}),
	})
}

// ---- CMake command parsing ----

type cmakeCall struct {
	Name string // lowercased command name
	Args []string
}

// parseCMakeCalls splits a CMake script into command invocations. Quoted
// arguments are unquoted, comments (including bracket comments) are dropped
// and nested parentheses are flattened into the argument list.
func parseCMakeCalls(src string) []cmakeCall {
	var calls []cmakeCall
	i, n := 0, len(src)
	for i < n {
		c := src[i]
		switch {
		case c == '#':
			i = skipCMakeComment(src, i)
		case c == '"':
			_, i = readCMakeQuoted(src, i)
		case isCMakeIdentStart(c) && (i == 0 || !isCMakeIdent(src[i-1])):
			j := i
			for j < n && isCMakeIdent(src[j]) {
				j++
			}
			k := j
			for k < n && (src[k] == ' ' || src[k] == '\t') {
				k++
			}
			if k < n && src[k] == '(' {
				args, end := readCMakeArgs(src, k+1)
				calls = append(calls, cmakeCall{Name: strings.ToLower(src[i:j]), Args: args})
				i = end
				continue
			}
			i = j
		default:
			i++
		}
	}
	return calls
}

func readCMakeArgs(src string, i int) ([]string, int) {
	var args []string
	var tok strings.Builder
	flush := func() {
		if tok.Len() > 0 {
			args = append(args, tok.String())
			tok.Reset()
		}
	}
	depth := 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"':
			flush()
			var s string
			s, i = readCMakeQuoted(src, i)
			args = append(args, s)
		case c == '#':
			flush()
			i = skipCMakeComment(src, i)
		case c == '(':
			flush()
			depth++
			i++
		case c == ')':
			flush()
			depth--
			i++
			if depth == 0 {
				return args, i
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
			i++
		default:
			tok.WriteByte(c)
			i++
		}
	}
	flush()
	return args, i
}

// readCMakeQuoted reads the quoted argument starting at src[i] == '"'.
func readCMakeQuoted(src string, i int) (string, int) {
	var b strings.Builder
	i++
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			b.WriteByte(src[i+1])
			i += 2
		case c == '"':
			return b.String(), i + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

// skipCMakeComment skips a line comment or a #[==[ bracket comment ]==].
func skipCMakeComment(src string, i int) int {
	if i+1 < len(src) && src[i+1] == '[' {
		j := i + 2
		for j < len(src) && src[j] == '=' {
			j++
		}
		if j < len(src) && src[j] == '[' {
			closing := "]" + strings.Repeat("=", j-i-2) + "]"
			if end := strings.Index(src[j+1:], closing); end >= 0 {
				return j + 1 + end + len(closing)
			}
			return len(src)
		}
	}
	if end := strings.IndexByte(src[i:], '\n'); end >= 0 {
		return i + end + 1
	}
	return len(src)
}

func isCMakeIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isCMakeIdent(c byte) bool {
	return isCMakeIdentStart(c) || (c >= '0' && c <= '9')
}

// ---- declarations ----

// cmakeKeywords are the option names understood in dependency declarations.
var cmakeKeywords = map[string]bool{
	"NAME": true, "VERSION": true, "GIT_TAG": true, "GIT_REPOSITORY": true,
	"GITHUB_REPOSITORY": true, "GITLAB_REPOSITORY": true, "BITBUCKET_REPOSITORY": true,
	"URL": true, "URL_HASH": true, "URL_MD5": true, "SOURCE_DIR": true,
	"DOWNLOAD_ONLY": true, "OPTIONS": true, "FIND_PACKAGE_ARGS": true,
	"GIT_SHALLOW": true, "GIT_PROGRESS": true, "EXCLUDE_FROM_ALL": true,
	"SYSTEM": true, "OVERRIDE_FIND_PACKAGE": true, "PATCH_COMMAND": true,
	"CONFIGURE_COMMAND": true, "BUILD_COMMAND": true, "INSTALL_COMMAND": true,
	"CMAKE_ARGS": true, "DOWNLOAD_EXTRACT_TIMESTAMP": true,
}

// cmakeKeywordArgs splits args into positional arguments (before the first
// keyword) and keyword values.
func cmakeKeywordArgs(args []string) ([]string, map[string][]string) {
	var positional []string
	kw := map[string][]string{}
	current := ""
	for _, a := range args {
		if cmakeKeywords[a] {
			current = a
			if _, ok := kw[a]; !ok {
				kw[a] = nil
			}
			continue
		}
		if current == "" {
			positional = append(positional, a)
			continue
		}
		kw[current] = append(kw[current], a)
	}
	return positional, kw
}

func firstValue(kw map[string][]string, key string) string {
	if v := kw[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

type cmakeDecl struct {
	name    string
	version string
	repo    string // git remote
	url     string // archive download
	hash    string // integrity token, e.g. "sha256:<hex>"
}

var reCMakeVersion = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)$`)

func (d cmakeDecl) record(path string) *model.RawPackageRecord {
	rec := &model.RawPackageRecord{
		Name:         fingerprints.Canonical(d.name),
		Version:      d.version,
		Integrity:    d.hash,
		EvidencePath: path,
	}
	if m := reCMakeVersion.FindStringSubmatch(d.version); m != nil {
		rec.Version = m[1]
	}
	if lib, ok := fingerprints.Lookup(d.name); ok {
		rec.Description = lib.Description
		rec.Dev = lib.Test
	}
	switch {
	case d.repo != "":
		rec.Qualifiers = map[string]string{"vcs_url": vcsURL(d.repo)}
	case d.url != "":
		rec.Qualifiers = map[string]string{"download_url": d.url}
	}
	return rec
}

func vcsURL(repo string) string {
	if !strings.Contains(repo, "://") && !strings.HasPrefix(repo, "git@") {
		return repo
	}
	if !strings.HasSuffix(repo, ".git") {
		repo += ".git"
	}
	if strings.HasPrefix(repo, "git@") || strings.HasPrefix(repo, "git+") {
		return repo
	}
	return "git+" + repo
}

var cpmHosts = map[string]string{
	"gh": "https://github.com/",
	"gl": "https://gitlab.com/",
	"bb": "https://bitbucket.org/",
}

// cpmDecl interprets CPMAddPackage, CPMFindPackage and CPMDeclarePackage,
// both the single-argument shorthand ("gh:fmtlib/fmt#10.1.1",
// "gh:fmtlib/fmt@10.1.1") and the keyword form.
func cpmDecl(call cmakeCall) (cmakeDecl, bool) {
	if len(call.Args) == 1 {
		spec := call.Args[0]
		var d cmakeDecl
		if i := strings.IndexByte(spec, '#'); i >= 0 {
			spec, d.version = spec[:i], spec[i+1:]
		}
		if i := strings.LastIndexByte(spec, '@'); i > 0 && i > strings.LastIndexByte(spec, '/') {
			if d.version == "" {
				d.version = spec[i+1:]
			}
			spec = spec[:i]
		}
		if host, rest, ok := strings.Cut(spec, ":"); ok && cpmHosts[host] != "" {
			d.repo = cpmHosts[host] + rest
		} else {
			d.repo = spec
		}
		d.name = strings.TrimSuffix(filepath.Base(d.repo), ".git")
		return d, d.name != ""
	}

	positional, kw := cmakeKeywordArgs(call.Args)
	d := cmakeDecl{
		name:    firstValue(kw, "NAME"),
		version: firstNonEmpty(firstValue(kw, "VERSION"), firstValue(kw, "GIT_TAG")),
		repo:    firstValue(kw, "GIT_REPOSITORY"),
		url:     firstValue(kw, "URL"),
		hash:    cmakeHash(firstValue(kw, "URL_HASH")),
	}
	for key, host := range map[string]string{
		"GITHUB_REPOSITORY":    cpmHosts["gh"],
		"GITLAB_REPOSITORY":    cpmHosts["gl"],
		"BITBUCKET_REPOSITORY": cpmHosts["bb"],
	} {
		if v := firstValue(kw, key); v != "" {
			d.repo = host + v
		}
	}
	if d.name == "" && len(positional) > 0 {
		d.name = positional[0]
	}
	if d.name == "" && d.repo != "" {
		d.name = strings.TrimSuffix(filepath.Base(d.repo), ".git")
	}
	return d, d.name != ""
}

// fetchDecl interprets FetchContent_Declare and ExternalProject_Add.
func fetchDecl(call cmakeCall) (cmakeDecl, bool) {
	positional, kw := cmakeKeywordArgs(call.Args)
	if len(positional) == 0 {
		return cmakeDecl{}, false
	}
	d := cmakeDecl{
		name:    positional[0],
		version: firstValue(kw, "GIT_TAG"),
		repo:    firstValue(kw, "GIT_REPOSITORY"),
		url:     firstValue(kw, "URL"),
		hash:    cmakeHash(firstValue(kw, "URL_HASH")),
	}
	if d.version == "" && d.url != "" {
		d.version = archiveVersion(d.url)
	}
	return d, true
}

// cmakeHash turns "SHA256=<hex>" into an integrity token.
func cmakeHash(v string) string {
	alg, digest, ok := strings.Cut(v, "=")
	if !ok || digest == "" {
		return ""
	}
	return strings.ToLower(alg) + ":" + digest
}

var reArchiveVersion = regexp.MustCompile(`(?:^|[/\-_v])(\d+\.\d+(?:\.\d+)*)(?:\.tar\.gz|\.tar\.xz|\.tar\.bz2|\.tgz|\.zip)$`)

// archiveVersion extracts the version from an archive URL such as
// ".../json/releases/download/v3.11.3/json.tar.xz" or ".../zlib-1.3.tar.gz".
func archiveVersion(url string) string {
	if m := reArchiveVersion.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	for _, part := range strings.Split(url, "/") {
		if m := reCMakeVersion.FindStringSubmatch(part); m != nil && strings.Contains(m[1], ".") {
			return m[1]
		}
	}
	return ""
}

// cmakeBuiltins is a set of CMake built-in module names to skip.
var cmakeBuiltins = map[string]bool{
	"threads": true, "openmp": true, "mpi": true, "cuda": true,
	"cudatoolkit": true, "python": true, "python3": true, "python2": true,
	"pkgconfig": true, "gnuinstalldirs": true, "cmakepackageconfighelpers": true,
	"externalproject": true, "fetchcontent": true, "cpm": true,
	"ctest": true, "cpack": true, "doxygen": true, "git": true,
	"opengl": true, "vulkan": true,
}

// findPackageDecl interprets find_package(Name [version] ...).
func findPackageDecl(call cmakeCall) (cmakeDecl, bool) {
	if len(call.Args) == 0 || cmakeBuiltins[strings.ToLower(call.Args[0])] {
		return cmakeDecl{}, false
	}
	d := cmakeDecl{name: call.Args[0]}
	if len(call.Args) > 1 && reCMakeVersion.MatchString(call.Args[1]) {
		d.version = call.Args[1]
	}
	return d, true
}

// ---- documents ----

func parseCPMLock(data []byte, path string) []*model.RawPackageRecord {
	var out []*model.RawPackageRecord
	for _, call := range parseCMakeCalls(string(data)) {
		if call.Name != "cpmdeclarepackage" {
			continue
		}
		if d, ok := cpmDecl(call); ok {
			out = append(out, d.record(path))
		}
	}
	return out
}

// cmakeRoot reads the project() of dir/CMakeLists.txt, or nil.
func cmakeRoot(ctx context.Context, env *Env, dir string) *model.RawPackageRecord {
	path := filepath.Join(dir, "CMakeLists.txt")
	data, err := env.readIfExists(ctx, path)
	if err != nil {
		return nil
	}
	calls := parseCMakeCalls(string(data))
	return projectRecord(calls, cmakeVariables(calls), path)
}

func projectRecord(calls []cmakeCall, vars map[string]string, path string) *model.RawPackageRecord {
	for _, call := range calls {
		if call.Name != "project" || len(call.Args) == 0 {
			continue
		}
		rec := &model.RawPackageRecord{Name: call.Args[0], Root: true, EvidencePath: path}
		for i := 1; i+1 < len(call.Args); i++ {
			v := expandCMake(call.Args[i+1], vars)
			switch call.Args[i] {
			case "VERSION":
				rec.Version = v
			case "DESCRIPTION":
				rec.Description = v
			case "HOMEPAGE_URL":
				rec.Homepage = v
			}
		}
		return rec
	}
	return nil
}

// cmakeVariables collects set(NAME value) assignments plus the variables
// project() defines.
func cmakeVariables(calls []cmakeCall) map[string]string {
	vars := map[string]string{}
	for _, call := range calls {
		switch call.Name {
		case "set":
			if len(call.Args) >= 2 {
				vars[call.Args[0]] = call.Args[1]
			}
		case "project":
			for i := 1; i+1 < len(call.Args); i++ {
				if call.Args[i] == "VERSION" {
					vars["PROJECT_VERSION"] = call.Args[i+1]
					vars[call.Args[0]+"_VERSION"] = call.Args[i+1]
				}
			}
		}
	}
	return vars
}

var reCMakeVar = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// expandCMake substitutes known ${VAR} references. Unknown references are
// left in place.
func expandCMake(s string, vars map[string]string) string {
	for pass := 0; pass < 4; pass++ {
		if !strings.Contains(s, "${") {
			return s
		}
		next := reCMakeVar.ReplaceAllStringFunc(s, func(ref string) string {
			if v, ok := vars[ref[2:len(ref)-1]]; ok {
				return v
			}
			return ref
		})
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (d cmakeDecl) expand(vars map[string]string) cmakeDecl {
	d.name = expandCMake(d.name, vars)
	d.version = expandCMake(d.version, vars)
	d.repo = expandCMake(d.repo, vars)
	d.url = expandCMake(d.url, vars)
	if strings.Contains(d.version, "${") {
		d.version = ""
	}
	return d
}

// cmakeManifest builds records from the declarations in files (in order).
// The first declaration of a package wins; later ones only fill a missing
// version.
func cmakeManifest(files []string, sources map[string][]cmakeCall, cache map[string]string) []*model.RawPackageRecord {
	vars := map[string]string{}
	for _, f := range files {
		for k, v := range cmakeVariables(sources[f]) {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}

	root := projectRecord(sources[files[0]], vars, files[0])
	byName := map[string]*model.RawPackageRecord{}
	var deps []*model.RawPackageRecord
	for _, f := range files {
		for _, call := range sources[f] {
			var d cmakeDecl
			var ok bool
			switch call.Name {
			case "fetchcontent_declare", "externalproject_add":
				d, ok = fetchDecl(call)
			case "cpmaddpackage", "cpmfindpackage", "cpmdeclarepackage":
				d, ok = cpmDecl(call)
			case "find_package":
				d, ok = findPackageDecl(call)
				if ok && d.version == "" {
					d.version = firstNonEmpty(cache[strings.ToLower(d.name)], cache[fingerprints.Canonical(d.name)])
				}
			}
			if !ok {
				continue
			}
			d = d.expand(vars)
			rec := d.record(f)
			if existing, seen := byName[rec.Name]; seen {
				if existing.Version == "" {
					existing.Version = rec.Version
				}
				continue
			}
			byName[rec.Name] = rec
			deps = append(deps, rec)
		}
	}

	if root == nil {
		return deps
	}
	for _, rec := range deps {
		root.AddDependency(rec)
	}
	return []*model.RawPackageRecord{root}
}

// reCMakeCacheVersion matches CMakeCache version entries.
var reCMakeCacheVersion = regexp.MustCompile(`(?i)^([A-Za-z0-9_]+)_VERSION(?:_STRING)?:(?:STRING|INTERNAL)\s*=\s*(.+)$`)

// cmakeCacheVersions reads <Name>_VERSION entries from the first
// CMakeCache.txt found in the usual build directories, keyed by lowercased
// package name.
func cmakeCacheVersions(ctx context.Context, env *Env, dir string) map[string]string {
	versions := map[string]string{}
	for _, rel := range []string{
		"CMakeCache.txt",
		filepath.Join("build", "CMakeCache.txt"),
		filepath.Join("out", "CMakeCache.txt"),
		filepath.Join("cmake-build-debug", "CMakeCache.txt"),
		filepath.Join("cmake-build-release", "CMakeCache.txt"),
	} {
		data, err := env.readIfExists(ctx, filepath.Join(dir, rel))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			m := reCMakeCacheVersion.FindStringSubmatch(strings.TrimSpace(sc.Text()))
			if m == nil {
				continue
			}
			ver := strings.TrimSpace(m[2])
			if ver == "" || strings.HasSuffix(ver, "NOTFOUND") {
				continue
			}
			name := strings.ToLower(m[1])
			if _, ok := versions[name]; !ok {
				versions[name] = ver
			}
		}
		break
	}
	return versions
}
