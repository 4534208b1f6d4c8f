package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "bom.json", cfg.Output)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.Equal(t, DefaultToolTimeout, cfg.ToolTimeout)
	assert.False(t, cfg.RequiredOnly)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sbom.yaml")
	content := `format: xml
tool-timeout: 30s
referenced: [lodash, express]
tools:
  npm: "npm ls --json --all --omit=dev"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool(KeyRequiredOnly, false, "")
	require.NoError(t, flags.Parse([]string{"--required-only"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, FormatXML, cfg.Format)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
	assert.True(t, cfg.RequiredOnly)
	assert.Equal(t, []string{"lodash", "express"}, cfg.ReferencedIdentifiers)
	assert.Equal(t, []string{"npm", "ls", "--json", "--all", "--omit=dev"}, cfg.Command("npm"))
	assert.Equal(t, []string{"go", "list"}, cfg.Command("golang", "go", "list"))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SBOM_FORMAT", "both")
	t.Setenv("SBOM_REQUIRED_ONLY", "true")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, FormatBoth, cfg.Format)
	assert.True(t, cfg.RequiredOnly)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Format = "spdx"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ToolTimeout = 0
	assert.Error(t, cfg.Validate())
}
