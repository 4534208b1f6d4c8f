package purl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StinkyLord/sbom-builder/internal/model"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		rec       model.RawPackageRecord
		ecosystem string
		expected  string
	}{
		{"plain npm", model.RawPackageRecord{Name: "lodash", Version: "4.17.21"}, "npm", "pkg:npm/lodash@4.17.21"},
		{"scoped npm", model.RawPackageRecord{Name: "@babel/core", Version: "7.22.0"}, "npm", "pkg:npm/@babel/core@7.22.0"},
		{"encoded scope", model.RawPackageRecord{Name: "%40babel/core", Version: "7.22.0"}, "npm", "pkg:npm/@babel/core@7.22.0"},
		{"explicit group", model.RawPackageRecord{Name: "guava", Group: "com.google.guava", Version: "32.1.2-jre"}, "maven", "pkg:maven/com.google.guava/guava@32.1.2-jre"},
		{"maven colon name", model.RawPackageRecord{Name: "org.slf4j:slf4j-api", Version: "2.0.9"}, "maven", "pkg:maven/org.slf4j/slf4j-api@2.0.9"},
		{"go module path", model.RawPackageRecord{Name: "github.com/spf13/cobra", Version: "v1.10.2"}, "golang", "pkg:golang/github.com/spf13/cobra@v1.10.2"},
		{"pypi normalised", model.RawPackageRecord{Name: "Typing_Extensions", Version: "4.8.0"}, "pypi", "pkg:pypi/typing-extensions@4.8.0"},
		{"no version", model.RawPackageRecord{Name: "zlib"}, "conan", "pkg:conan/zlib"},
		{"qualifiers sorted", model.RawPackageRecord{Name: "openssl", Version: "3.1.4", Qualifiers: map[string]string{"rrev": "abc", "channel": "conan/stable"}}, "conan", "pkg:conan/openssl@3.1.4?channel=conan/stable&rrev=abc"},
		{"cmake is generic", model.RawPackageRecord{Name: "fmt", Version: "10.1.1"}, "cmake", "pkg:generic/fmt@10.1.1"},
		{"meson is generic", model.RawPackageRecord{Name: "zlib", Version: "1.3", Qualifiers: map[string]string{"wrapdb_revision": "4"}}, "meson", "pkg:generic/zlib@1.3?wrapdb_revision=4"},
		{"vcs version", model.RawPackageRecord{Name: "bar", Version: "git+ssh://git@github.com/foo/bar.git#v1.2.3"}, "npm", "pkg:github/bar@v1.2.3"},
		{"vcs without ref", model.RawPackageRecord{Name: "bar", Version: "ssh://git@gitlab.com/foo/bar.git"}, "npm", "pkg:gitlab/bar@ssh://git@gitlab.com/foo/bar.git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := Resolve(&tt.rec, tt.ecosystem)
			require.True(t, ok)
			assert.Equal(t, tt.expected, id.String())
		})
	}
}

func TestResolveVCSReference(t *testing.T) {
	rec := &model.RawPackageRecord{Name: "bar", Version: "git+ssh://git@github.com/foo/bar.git#v1.2.3"}
	id, ok := Resolve(rec, "npm")
	require.True(t, ok)
	assert.Equal(t, "github", id.Type)
	assert.Equal(t, "v1.2.3", id.Version)
}

func TestResolveDropsUnnamed(t *testing.T) {
	for _, rec := range []model.RawPackageRecord{
		{Name: ""},
		{Name: "   ", Version: "1.0.0"},
		{Name: "@scope/", Version: "1.0.0"},
	} {
		_, ok := Resolve(&rec, "npm")
		assert.False(t, ok, "record %+v should not resolve", rec)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	rec := &model.RawPackageRecord{Name: "@types/node", Version: "18.0.0"}
	r := NewResolver(8)

	first, ok := r.Resolve(rec, "npm")
	require.True(t, ok)
	second, ok := r.Resolve(rec, "npm")
	require.True(t, ok)
	uncached, _ := Resolve(rec, "npm")

	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, first.String(), uncached.String())
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"pkg:npm/@babel/core@7.22.0",
		"pkg:golang/github.com/spf13/cobra@v1.10.2",
		"pkg:conan/openssl@3.1.4?channel=conan/stable&rrev=abc",
		"pkg:generic/thing#sub/path",
	} {
		id, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, id.String())
	}

	id, err := Parse("pkg:npm/%40babel/core@7.22.0")
	require.NoError(t, err)
	assert.Equal(t, "@babel", id.Namespace)
	assert.Equal(t, "pkg:npm/@babel/core@7.22.0", id.String())

	_, err = Parse("npm/lodash")
	assert.Error(t, err)
}
