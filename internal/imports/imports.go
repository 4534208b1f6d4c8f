// Package imports scans project sources for import statements and returns
// the set of referenced package identifiers used for scope inference.
//
// It understands:
//   - JavaScript/TypeScript: import ... from "x", import("x"), require("x")
//   - Python: import x, from x import y
//   - Go: import "x" and import ( ... ) blocks
//   - C/C++: #include <x/y.h> of a library known to the fingerprint database
//
// Relative imports, Node built-ins and the Go standard library are skipped.
package imports

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/StinkyLord/sbom-builder/internal/fingerprints"
)

var (
	reJSImport   = regexp.MustCompile(`(?:\bfrom\s+|\bimport\s+|\bimport\s*\(\s*|\brequire\s*\(\s*)['"]([^'"]+)['"]`)
	rePyImport   = regexp.MustCompile(`^\s*import\s+([\w\.]+(?:\s*,\s*[\w\.]+)*)`)
	rePyFrom     = regexp.MustCompile(`^\s*from\s+([\w\.]+)\s+import\b`)
	reGoSingle   = regexp.MustCompile(`^\s*import\s+(?:[\w\.]+\s+)?"([^"]+)"`)
	reGoBlockRow = regexp.MustCompile(`^\s*(?:[\w\.]+\s+)?"([^"]+)"`)
	reInclude    = regexp.MustCompile(`^\s*#\s*include\s*<([^>]+)>`)
)

var jsExts = map[string]bool{
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true, ".mts": true, ".cts": true,
	".vue": true, ".svelte": true,
}

var cppExts = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
	".h": true, ".hh": true, ".hpp": true, ".hxx": true, ".h++": true,
	".inl": true, ".ipp": true,
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true, "vendor": true, "dist": true, "build": true,
	"target": true, "__pycache__": true, "venv": true, ".venv": true,
	"site-packages": true, "testdata": true, "subprojects": true,
	"CMakeFiles": true, "vcpkg_installed": true,
}

// Collect walks root and returns the sorted, distinct referenced identifiers.
func Collect(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	seen := map[string]bool{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		switch {
		case jsExts[ext]:
			scanFile(path, seen, jsLine)
		case ext == ".py":
			scanFile(path, seen, pyLine)
		case ext == ".go":
			scanGoFile(path, seen)
		case cppExts[ext]:
			scanFile(path, seen, includeLine)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func scanFile(path string, seen map[string]bool, line func(string, map[string]bool)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line(sc.Text(), seen)
	}
}

func jsLine(line string, seen map[string]bool) {
	for _, m := range reJSImport.FindAllStringSubmatch(line, -1) {
		if name := jsPackageName(m[1]); name != "" {
			seen[name] = true
		}
	}
}

// jsPackageName reduces a module specifier to its package: "lodash/fp" ->
// "lodash", "@babel/core/lib/x" -> "@babel/core".
func jsPackageName(spec string) string {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") ||
		strings.HasPrefix(spec, "node:") || strings.Contains(spec, "://") {
		return ""
	}
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func pyLine(line string, seen map[string]bool) {
	if m := rePyFrom.FindStringSubmatch(line); m != nil {
		if !strings.HasPrefix(m[1], ".") {
			seen[strings.SplitN(m[1], ".", 2)[0]] = true
		}
		return
	}
	if m := rePyImport.FindStringSubmatch(line); m != nil {
		for _, mod := range strings.Split(m[1], ",") {
			mod = strings.TrimSpace(mod)
			if mod != "" {
				seen[strings.SplitN(mod, ".", 2)[0]] = true
			}
		}
	}
}

// includeLine records every name of the library owning an angle-bracket
// include. Quoted includes are project headers.
func includeLine(line string, seen map[string]bool) {
	m := reInclude.FindStringSubmatch(line)
	if m == nil {
		return
	}
	if lib, ok := fingerprints.MatchInclude(m[1]); ok {
		for _, name := range lib.Names() {
			seen[name] = true
		}
	}
}

func scanGoFile(path string, seen map[string]bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	inBlock := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case inBlock && strings.HasPrefix(line, ")"):
			inBlock = false
		case inBlock:
			if m := reGoBlockRow.FindStringSubmatch(line); m != nil {
				addGoImport(m[1], seen)
			}
		case strings.HasPrefix(line, "import ("):
			inBlock = true
		default:
			if m := reGoSingle.FindStringSubmatch(line); m != nil {
				addGoImport(m[1], seen)
			}
		}
	}
}

// addGoImport keeps imports whose first path element looks like a host;
// everything else is the standard library.
func addGoImport(path string, seen map[string]bool) {
	first := strings.SplitN(path, "/", 2)[0]
	if strings.Contains(first, ".") {
		seen[path] = true
	}
}
