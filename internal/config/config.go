// Package config holds the explicit configuration value threaded through the
// scanner, the registry builder and every ecosystem driver.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultToolTimeout bounds every native tool invocation.
const DefaultToolTimeout = 10 * time.Minute

// Output formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatBoth = "both"
)

// Config keys, shared by flags, env (SBOM_ prefix) and the config file.
const (
	KeyOutput       = "output"
	KeyFormat       = "format"
	KeyMultiProject = "recurse"
	KeyRequiredOnly = "required-only"
	KeyToolTimeout  = "tool-timeout"
	KeyImports      = "analyze-imports"
	KeyReferenced   = "referenced"
	KeyTools        = "tools"
	KeyDebug        = "debug"
	KeyVerbose      = "verbose"
	KeySupplier     = "supplier"
	KeyProjectName  = "project-name"
)

type Config struct {
	Output       string
	Format       string
	MultiProject bool
	RequiredOnly bool
	ToolTimeout  time.Duration

	// AnalyzeImports runs the import collector to feed scope inference.
	AnalyzeImports bool
	// ReferencedIdentifiers are externally supplied import evidence.
	ReferencedIdentifiers []string

	// Tools overrides the native command of an ecosystem, e.g.
	// tools.npm = "npm ls --json --all --long --omit=dev".
	Tools map[string][]string

	Debug       bool
	Verbose     bool
	Supplier    string
	ProjectName string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Output:      "bom.json",
		Format:      FormatJSON,
		ToolTimeout: DefaultToolTimeout,
		Tools:       map[string][]string{},
	}
}

// Command returns the override for ecosystem, or fallback when none is set.
func (c *Config) Command(ecosystem string, fallback ...string) []string {
	if c != nil {
		if cmd, ok := c.Tools[ecosystem]; ok && len(cmd) > 0 {
			return cmd
		}
	}
	return fallback
}

// Load builds a Config from defaults, .env, SBOM_* environment variables, an
// optional config file and the given flags, in increasing precedence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	def := Default()
	v.SetDefault(KeyOutput, def.Output)
	v.SetDefault(KeyFormat, def.Format)
	v.SetDefault(KeyToolTimeout, def.ToolTimeout)

	v.SetEnvPrefix("SBOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config file %q: %w", configFile, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("cannot bind flags: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Output:                v.GetString(KeyOutput),
		Format:                strings.ToLower(strings.TrimSpace(v.GetString(KeyFormat))),
		MultiProject:          v.GetBool(KeyMultiProject),
		RequiredOnly:          v.GetBool(KeyRequiredOnly),
		ToolTimeout:           v.GetDuration(KeyToolTimeout),
		AnalyzeImports:        v.GetBool(KeyImports),
		ReferencedIdentifiers: v.GetStringSlice(KeyReferenced),
		Tools:                 map[string][]string{},
		Debug:                 v.GetBool(KeyDebug),
		Verbose:               v.GetBool(KeyVerbose),
		Supplier:              v.GetString(KeySupplier),
		ProjectName:           v.GetString(KeyProjectName),
	}
	for ecosystem, command := range v.GetStringMapString(KeyTools) {
		args, err := shlex.Split(command)
		if err != nil {
			return nil, fmt.Errorf("tools.%s: %w", ecosystem, err)
		}
		if len(args) > 0 {
			cfg.Tools[ecosystem] = args
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatJSON, FormatXML, FormatBoth:
	default:
		return fmt.Errorf("unsupported format %q (supported: json, xml, both)", c.Format)
	}
	if c.ToolTimeout <= 0 {
		return errors.New("tool-timeout must be positive")
	}
	if c.Output == "" {
		return errors.New("output must not be empty")
	}
	return nil
}
