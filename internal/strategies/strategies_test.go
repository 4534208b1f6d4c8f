package strategies

import (
	"context"
	"testing"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

const conanfileTxt = `[requires]
boost/1.82.0
openssl/3.1.4@conan/stable
zlib/1.2.13#abc123def456
nlohmann_json/3.11.2

[build_requires]
cmake/3.27.0
ninja/1.11.1

[generators]
CMakeDeps
`

const conanfilePy = `from conan import ConanFile

class App(ConanFile):
    python_requires = "cmake-conan/0.17.0@conan/stable"
    requires = ["fmt/10.1.1", "spdlog/1.12.0"]

    def requirements(self):
        self.requires("openssl/3.1.4@conan/stable#deadbeef1234")
        self.requires("zlib/1.2.13")

    def build_requirements(self):
        self.build_requires("cmake/3.27.0")
`

const conanLockV1Fixture = `{
  "graph_lock": {
    "nodes": {
      "0": {"ref": "app/1.0", "requires": ["1", "2"]},
      "1": {"ref": "boost/1.82.0#rev001", "requires": ["3"]},
      "2": {"ref": "openssl/3.1.4@conan/stable", "requires": ["3"]},
      "3": {"ref": "zlib/1.2.13"}
    }
  }
}`

func byName(recs []*model.RawPackageRecord) map[string]*model.RawPackageRecord {
	out := map[string]*model.RawPackageRecord{}
	for _, r := range recs {
		out[r.Name] = r
	}
	return out
}

func names(m map[string]*model.RawPackageRecord) []string {
	return sortedKeys(m)
}

// ============================================================
// Conan: conanfile.txt
// ============================================================

func TestConanfileTxt_RequiresSection(t *testing.T) {
	got := byName(parseConanfileTxt([]byte(conanfileTxt), "conanfile.txt"))

	for _, want := range []string{"boost", "openssl", "zlib", "nlohmann_json"} {
		rec, ok := got[want]
		if !ok {
			t.Errorf("conanfile.txt: expected record %q not found; got %v", want, names(got))
			continue
		}
		if rec.Dev {
			t.Errorf("conanfile.txt: %q from [requires] must not be dev-only", want)
		}
	}
}

func TestConanfileTxt_BuildRequiresSection(t *testing.T) {
	got := byName(parseConanfileTxt([]byte(conanfileTxt), "conanfile.txt"))

	for _, want := range []string{"cmake", "ninja"} {
		rec, ok := got[want]
		if !ok {
			t.Errorf("conanfile.txt [build_requires]: expected %q not found; got %v", want, names(got))
			continue
		}
		if !rec.Dev {
			t.Errorf("conanfile.txt [build_requires]: %q should be dev-only", want)
		}
	}
	if _, ok := got["CMakeDeps"]; ok {
		t.Error("conanfile.txt: [generators] entries must be ignored")
	}
}

func TestConanfileTxt_Channel(t *testing.T) {
	got := byName(parseConanfileTxt([]byte(conanfileTxt), "conanfile.txt"))

	openssl := got["openssl"]
	if openssl == nil {
		t.Fatal("openssl not found in conanfile.txt records")
	}
	if openssl.Version != "3.1.4" {
		t.Errorf("openssl version = %q, want %q", openssl.Version, "3.1.4")
	}
	if openssl.Qualifiers["user"] != "conan" || openssl.Qualifiers["channel"] != "stable" {
		t.Errorf("openssl qualifiers = %v, want user=conan channel=stable", openssl.Qualifiers)
	}
}

func TestConanfileTxt_Revision(t *testing.T) {
	got := byName(parseConanfileTxt([]byte(conanfileTxt), "conanfile.txt"))

	if zlib := got["zlib"]; zlib == nil || zlib.Qualifiers["rrev"] != "abc123def456" {
		t.Errorf("zlib revision not captured: %+v", zlib)
	}
}

// ============================================================
// Conan: conanfile.py
// ============================================================

func TestConanfilePy_AllForms(t *testing.T) {
	got := byName(parseConanfilePy([]byte(conanfilePy), "conanfile.py"))

	for _, want := range []string{"openssl", "zlib", "cmake", "cmake-conan", "fmt", "spdlog"} {
		if _, ok := got[want]; !ok {
			t.Errorf("conanfile.py: expected %q not found; got %v", want, names(got))
		}
	}
	if !got["cmake"].Dev {
		t.Error("conanfile.py: build_requires should be dev-only")
	}
	if got["fmt"].Dev {
		t.Error("conanfile.py: requires list entries must not be dev-only")
	}
}

func TestConanfilePy_RevisionInSelfRequires(t *testing.T) {
	got := byName(parseConanfilePy([]byte(conanfilePy), "conanfile.py"))

	if openssl := got["openssl"]; openssl == nil || openssl.Qualifiers["rrev"] != "deadbeef1234" {
		t.Errorf("no openssl record with revision deadbeef1234: %+v", openssl)
	}
}

// ============================================================
// Conan: conan.lock
// ============================================================

func TestConanLockV1_Graph(t *testing.T) {
	recs, err := parseConanLock([]byte(conanLockV1Fixture), "conan.lock")
	if err != nil {
		t.Fatal(err)
	}
	got := byName(recs)

	root := got["app"]
	if root == nil || !root.Root {
		t.Fatalf("node 0 should be the root record; got %v", names(got))
	}
	_, refs := depNames(root)
	if len(refs) != 2 || refs[0] != "boost" || refs[1] != "openssl" {
		t.Errorf("root references = %v, want [boost openssl]", refs)
	}

	for _, parent := range []string{"boost", "openssl"} {
		_, refs := depNames(got[parent])
		if len(refs) != 1 || refs[0] != "zlib" {
			t.Errorf("expected %s -> zlib edge; got %v", parent, refs)
		}
	}
	if got["boost"].Qualifiers["rrev"] != "rev001" {
		t.Errorf("boost revision = %q, want rev001", got["boost"].Qualifiers["rrev"])
	}
	for _, r := range recs {
		if r.EvidencePath != "conan.lock" {
			t.Errorf("%s: evidence path = %q", r.Name, r.EvidencePath)
		}
	}
}

func TestConanLockV2(t *testing.T) {
	lock := `{"version": "0.5", "requires": ["zlib/1.3#b3b7a1f2%1700000000.0"], "build_requires": ["cmake/3.27.7#abc"]}`
	recs, err := parseConanLock([]byte(lock), "conan.lock")
	if err != nil {
		t.Fatal(err)
	}
	got := byName(recs)
	if got["zlib"] == nil || got["zlib"].Version != "1.3" {
		t.Errorf("zlib/1.3 not parsed: %v", names(got))
	}
	if got["cmake"] == nil || !got["cmake"].Dev {
		t.Errorf("cmake should be a dev-only build requirement")
	}
}

// ============================================================
// Conan: conan graph info JSON
// ============================================================

func TestConanGraphJSON(t *testing.T) {
	out := `{"graph": {"nodes": {
  "0": {"name": null, "dependencies": {"1": {"direct": true}, "2": {"direct": true, "build": true}}},
  "1": {"name": "fmt", "version": "10.1.1", "rrev": "a1b2", "license": "MIT", "homepage": "https://fmt.dev", "context": "host", "dependencies": {}},
  "2": {"name": "cmake", "version": "3.27.7", "context": "build", "license": ["BSD-3-Clause"], "dependencies": {}}
}}}`
	recs, err := parseConanGraphJSON([]byte(out), "conan graph info")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || !recs[0].Root {
		t.Fatalf("expected root plus two packages, got %d", len(recs))
	}
	got := byName(recs[1:])
	if got["fmt"].License != "MIT" || got["fmt"].Homepage != "https://fmt.dev" || got["fmt"].Qualifiers["rrev"] != "a1b2" {
		t.Errorf("fmt metadata not carried: %+v", got["fmt"])
	}
	if !got["cmake"].Dev || got["cmake"].License != "BSD-3-Clause" {
		t.Errorf("cmake should be a dev-only build node: %+v", got["cmake"])
	}
	if _, refs := depNames(recs[0]); len(refs) != 2 {
		t.Errorf("root should reference both nodes, got %v", refs)
	}
}

func TestConanExtract_PreGeneratedGraph(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"conanfile.txt":    conanfileTxt,
		"build/graph.json": `{"graph": {"nodes": {"0": {}, "1": {"name": "fmt", "version": "10.1.1"}}}}`,
	})
	runner := &fakeRunner{}
	res := (&ConanStrategy{}).Extract(context.Background(), dir, newTestEnv(t, runner))
	if res.State != LockParsed || res.Step != "graph.json" {
		t.Errorf("state = %v step = %q, want lock-parsed from graph.json", res.State, res.Step)
	}
	if len(runner.calls) != 0 {
		t.Errorf("conan must not run when a graph is present: %v", runner.calls)
	}
}

func TestConanExtract_FallsBackToConanfile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"conanfile.txt": conanfileTxt})
	res := (&ConanStrategy{}).Extract(context.Background(), dir, newTestEnv(t, nil))
	if !res.Degraded || res.Step != "conanfile.txt" {
		t.Errorf("expected a degraded conanfile.txt result, got step %q degraded=%v", res.Step, res.Degraded)
	}
	if len(res.Records) != 6 {
		t.Errorf("expected 6 records, got %d", len(res.Records))
	}
}

// ============================================================
// conanRecord / conanRefRecord unit tests
// ============================================================

func TestConanRefRecord(t *testing.T) {
	cases := []struct {
		ref      string
		name     string
		version  string
		user     string
		channel  string
		revision string
	}{
		{"boost/1.82.0", "boost", "1.82.0", "", "", ""},
		{"openssl/3.1.4@conan/stable", "openssl", "3.1.4", "conan", "stable", ""},
		{"zlib/1.2.13#abc123", "zlib", "1.2.13", "", "", "abc123"},
		{"openssl/3.1.4@conan/stable#deadbeef", "openssl", "3.1.4", "conan", "stable", "deadbeef"},
		{"boost/1.82.0@_/_", "boost", "1.82.0", "", "", ""},
	}
	for _, tc := range cases {
		rec := conanRefRecord(tc.ref)
		if rec == nil {
			t.Errorf("conanRefRecord(%q) returned nil", tc.ref)
			continue
		}
		if rec.Name != tc.name || rec.Version != tc.version {
			t.Errorf("conanRefRecord(%q) = %s/%s, want %s/%s", tc.ref, rec.Name, rec.Version, tc.name, tc.version)
		}
		if rec.Qualifiers["user"] != tc.user || rec.Qualifiers["channel"] != tc.channel || rec.Qualifiers["rrev"] != tc.revision {
			t.Errorf("conanRefRecord(%q) qualifiers = %v", tc.ref, rec.Qualifiers)
		}
	}
}

func TestConanRefRecord_Invalid(t *testing.T) {
	if rec := conanRefRecord("notaref"); rec != nil {
		t.Errorf("expected nil for invalid ref, got %+v", rec)
	}
}

// ============================================================
// vcpkg
// ============================================================

func TestVcpkgManifest(t *testing.T) {
	manifest := `{
  "name": "app",
  "version": "1.2.0",
  "description": ["An app", "with docs"],
  "dependencies": [
    "fmt",
    {"name": "boost-asio", "version>=": "1.83.0"},
    {"name": "vcpkg-cmake", "host": true}
  ],
  "overrides": [{"name": "fmt", "version": "10.1.1"}]
}`
	recs, err := parseVcpkgManifest([]byte(manifest), "vcpkg.json")
	if err != nil {
		t.Fatal(err)
	}
	root := recs[0]
	if !root.Root || root.Name != "app" || root.Version != "1.2.0" || root.Description != "An app with docs" {
		t.Errorf("unexpected root: %+v", root)
	}
	want := []string{"app@1.2.0", "fmt@10.1.1", "boost-asio@1.83.0", "vcpkg-cmake@"}
	if got := flatten(recs); !equalStrings(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
	if !findRecord(recs, "vcpkg-cmake").Dev {
		t.Error("host dependencies should be dev-only")
	}
}

func TestVcpkgLock(t *testing.T) {
	recs, err := parseVcpkgLock([]byte(`{"packages": {"boost:x64-windows": {"version": "1.82.0"}, "zlib": {"version": "1.3"}}}`), "vcpkg-lock.json")
	if err != nil {
		t.Fatal(err)
	}
	got := byName(recs)
	if got["boost"] == nil || got["boost"].Qualifiers["triplet"] != "x64-windows" {
		t.Errorf("boost triplet not split: %v", names(got))
	}

	recs, err = parseVcpkgLock([]byte(`[{"name": "fmt", "version": "10.1.1"}]`), "vcpkg-lock.json")
	if err != nil || len(recs) != 1 || recs[0].Version != "10.1.1" {
		t.Errorf("array lock format not parsed: %v %v", recs, err)
	}

	if _, err := parseVcpkgLock([]byte(`"nope"`), "vcpkg-lock.json"); err == nil {
		t.Error("expected an error for an unrecognised lock")
	}
}

func TestVcpkgStatus(t *testing.T) {
	status := `Package: zlib
Version: 1.3
Port-Version: 1
Architecture: x64-linux
Status: install ok installed

Package: zlib
Feature: core
Architecture: x64-linux
Status: install ok installed

Package: fmt
Version: 10.1.1
Architecture: x64-linux
Status: purge ok not-installed
`
	recs := parseVcpkgStatus([]byte(status), "status")
	if len(recs) != 1 {
		t.Fatalf("expected only installed zlib, got %d records", len(recs))
	}
	if recs[0].Version != "1.3" || recs[0].Qualifiers["port_version"] != "1" || recs[0].Qualifiers["triplet"] != "x64-linux" {
		t.Errorf("unexpected zlib record: %+v", recs[0])
	}
}

func TestVcpkgExtract_StatusBeforeManifest(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"vcpkg.json":                   `{"name": "app", "dependencies": ["zlib"]}`,
		"vcpkg_installed/vcpkg/status": "Package: zlib\nVersion: 1.3\nStatus: install ok installed\n",
	})
	s := &VcpkgStrategy{}
	if !s.Detect(dir) {
		t.Fatal("vcpkg.json should be detected")
	}
	res := s.Extract(context.Background(), dir, newTestEnv(t, nil))
	if res.State != LockParsed || res.Degraded {
		t.Errorf("expected the status file to count as a lock, got %v degraded=%v", res.State, res.Degraded)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
