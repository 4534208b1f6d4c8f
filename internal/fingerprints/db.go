// Package fingerprints maps the names C and C++ build systems use for a
// library (CMake find_package names, pkg-config and meson dependency names,
// include prefixes) to one canonical package name, so that the same library
// found through different build files registers under one identity.
package fingerprints

import "strings"

// Library describes how to recognise a known C/C++ library.
type Library struct {
	Name        string   // Canonical package name
	Aliases     []string // Build-system spellings, matched case-insensitively
	Headers     []string // Characteristic include prefixes or header names
	Description string

	// Test marks test and benchmark frameworks.
	Test bool
}

// KnownLibraries is the built-in fingerprint database.
var KnownLibraries = []Library{
	{
		Name:        "boost",
		Aliases:     []string{"Boost"},
		Headers:     []string{"boost/"},
		Description: "Boost C++ Libraries",
	},
	{
		Name:        "openssl",
		Aliases:     []string{"OpenSSL", "libssl", "libcrypto"},
		Headers:     []string{"openssl/"},
		Description: "OpenSSL cryptography library",
	},
	{
		Name:        "zlib",
		Aliases:     []string{"ZLIB", "libz"},
		Headers:     []string{"zlib.h"},
		Description: "zlib compression library",
	},
	{
		Name:        "libcurl",
		Aliases:     []string{"CURL", "curl"},
		Headers:     []string{"curl/"},
		Description: "libcurl - the multiprotocol file transfer library",
	},
	{
		Name:        "sqlite3",
		Aliases:     []string{"SQLite3", "sqlite"},
		Headers:     []string{"sqlite3.h"},
		Description: "SQLite embedded database",
	},
	{
		Name:        "googletest",
		Aliases:     []string{"GTest", "gtest", "gtest_main", "GMock", "gmock"},
		Headers:     []string{"gtest/", "gmock/"},
		Description: "Google Test C++ testing framework",
		Test:        true,
	},
	{
		Name:        "catch2",
		Aliases:     []string{"Catch2"},
		Headers:     []string{"catch2/"},
		Description: "Catch2 unit testing framework",
		Test:        true,
	},
	{
		Name:        "benchmark",
		Aliases:     []string{"google-benchmark"},
		Headers:     []string{"benchmark/benchmark.h"},
		Description: "Google microbenchmark support library",
		Test:        true,
	},
	{
		Name:        "nlohmann_json",
		Aliases:     []string{"nlohmann-json", "nlohmann"},
		Headers:     []string{"nlohmann/"},
		Description: "JSON for Modern C++",
	},
	{
		Name:        "eigen",
		Aliases:     []string{"Eigen3", "eigen3"},
		Headers:     []string{"Eigen/", "eigen3/"},
		Description: "Eigen linear algebra library",
	},
	{
		Name:        "protobuf",
		Aliases:     []string{"Protobuf", "protobuf-lite"},
		Headers:     []string{"google/protobuf/"},
		Description: "Protocol Buffers",
	},
	{
		Name:        "grpc",
		Aliases:     []string{"gRPC", "grpc++"},
		Headers:     []string{"grpc/", "grpcpp/"},
		Description: "gRPC C++ library",
	},
	{
		Name:        "abseil",
		Aliases:     []string{"absl"},
		Headers:     []string{"absl/"},
		Description: "Abseil C++ common libraries",
	},
	{
		Name:        "fmt",
		Headers:     []string{"fmt/"},
		Description: "{fmt} formatting library",
	},
	{
		Name:        "spdlog",
		Headers:     []string{"spdlog/"},
		Description: "Fast C++ logging library",
	},
	{
		Name:        "yaml-cpp",
		Aliases:     []string{"yaml_cpp"},
		Headers:     []string{"yaml-cpp/"},
		Description: "YAML parser and emitter for C++",
	},
	{
		Name:        "libpng",
		Aliases:     []string{"PNG", "png"},
		Headers:     []string{"png.h"},
		Description: "PNG reference library",
	},
	{
		Name:        "libjpeg-turbo",
		Aliases:     []string{"JPEG", "libjpeg", "jpeg"},
		Headers:     []string{"jpeglib.h"},
		Description: "JPEG image codec",
	},
	{
		Name:        "zstd",
		Aliases:     []string{"libzstd"},
		Headers:     []string{"zstd.h"},
		Description: "Zstandard compression library",
	},
	{
		Name:        "bzip2",
		Aliases:     []string{"BZip2", "bz2"},
		Headers:     []string{"bzlib.h"},
		Description: "bzip2 compression library",
	},
	{
		Name:        "libxml2",
		Aliases:     []string{"LibXml2", "libxml-2.0"},
		Headers:     []string{"libxml/"},
		Description: "XML parser and toolkit",
	},
	{
		Name:        "glog",
		Headers:     []string{"glog/"},
		Description: "Google logging library",
	},
	{
		Name:        "gflags",
		Headers:     []string{"gflags/"},
		Description: "Google commandline flags library",
	},
}

var byAlias = map[string]*Library{}

func init() {
	for i := range KnownLibraries {
		lib := &KnownLibraries[i]
		byAlias[strings.ToLower(lib.Name)] = lib
		for _, a := range lib.Aliases {
			byAlias[strings.ToLower(a)] = lib
		}
	}
}

// Lookup returns the library known under name, ignoring case.
func Lookup(name string) (*Library, bool) {
	lib, ok := byAlias[strings.ToLower(strings.TrimSpace(name))]
	return lib, ok
}

// Canonical returns the canonical package name for name, or name lowercased
// when the library is unknown.
func Canonical(name string) string {
	if lib, ok := Lookup(name); ok {
		return lib.Name
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// MatchInclude returns the library owning an #include target such as
// "openssl/ssl.h". Only the start of the include is compared.
func MatchInclude(include string) (*Library, bool) {
	include = strings.TrimSpace(include)
	for i := range KnownLibraries {
		lib := &KnownLibraries[i]
		for _, hdr := range lib.Headers {
			if strings.HasPrefix(include, hdr) {
				return lib, true
			}
		}
	}
	return nil, false
}

// Names returns the canonical name followed by every alias, lowercased.
func (l *Library) Names() []string {
	out := []string{l.Name}
	for _, a := range l.Aliases {
		out = append(out, strings.ToLower(a))
	}
	return out
}
