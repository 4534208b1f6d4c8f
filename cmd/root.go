package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/StinkyLord/sbom-builder/internal/config"
	"github.com/StinkyLord/sbom-builder/internal/output"
	"github.com/StinkyLord/sbom-builder/internal/scanner"
)

const toolVersion = "1.0.0"

var (
	flagConfig         string
	flagShowStrategies bool
	flagTree           string

	flagDir string

	flagImageRoots []string
	flagWorkingDir string
	flagLayersDir  string
)

var rootCmd = &cobra.Command{
	Use:   "sbom-builder",
	Short: "Multi-ecosystem SBOM Generation Engine",
	Long: `sbom-builder scans project directories and produces a Software Bill of
Materials (SBOM) in CycloneDX 1.5 JSON or XML format.

Each detected ecosystem runs through a cascade: lock file first, then the
native tool, then a plain manifest parse (marked degraded):
  • npm    : package-lock.json, pnpm-lock.yaml, npm ls, package.json
  • golang : go list -m -json all, go.mod + go.sum
  • pypi   : poetry.lock, pip list, requirements.txt, pyproject.toml
  • cargo  : Cargo.lock, cargo metadata, Cargo.toml
  • maven  : mvn dependency:tree / dependency:list, pom.xml
  • conan  : conan.lock, graph.json, conan graph info, conanfile.txt/py
  • vcpkg  : vcpkg-lock.json, installed/vcpkg/status, vcpkg.json
  • cmake  : package-lock.cmake (CPM), CMakeLists.txt
  • meson  : subprojects/*.wrap, meson.build`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Scan a project directory and generate an SBOM",
	Long: `Scan a project directory for third-party dependencies and produce a
CycloneDX 1.5 SBOM.

Examples:
  sbom-builder scan /path/to/project --output bom.json
  sbom-builder scan . --output - --format xml
  sbom-builder scan . --recurse --required-only --analyze-imports
  sbom-builder scan --dir /path/to/project --show-strategies`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Scan the extracted filesystem of a container image",
	Long: `Scan one or more application roots of an already extracted container
image. The first root to register a package wins; the extracted layers
directory is removed afterwards when it lives under the temp directory.

Example:
  sbom-builder image --root /tmp/img/app --root /tmp/img/usr/lib/node_modules \
    --layers-dir /tmp/img --output bom.json`,
	Args: cobra.NoArgs,
	RunE: runImage,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (yaml, toml or json)")
	pf.StringP(config.KeyOutput, "o", "bom.json", "Output file path (use '-' for stdout)")
	pf.StringP(config.KeyFormat, "f", config.FormatJSON, "Output format: json, xml or both")
	pf.BoolP(config.KeyMultiProject, "r", false, "Detect projects in every subdirectory, not only the root")
	pf.Bool(config.KeyRequiredOnly, false, "Drop components whose scope resolves to optional")
	pf.Duration(config.KeyToolTimeout, config.DefaultToolTimeout, "Time limit for each native tool invocation")
	pf.Bool(config.KeyImports, false, "Collect import statements to infer component scope")
	pf.StringSlice(config.KeyReferenced, nil, "Identifiers known to be referenced by the code (repeatable)")
	pf.Bool(config.KeyDebug, false, "Enable debug logging")
	pf.BoolP(config.KeyVerbose, "v", false, "Enable verbose output")
	pf.String(config.KeySupplier, "", "Supplier name written to the document metadata")
	pf.String(config.KeyProjectName, "", "Project name used when no root package is found")
	pf.BoolVar(&flagShowStrategies, "show-strategies", false, "Print which drivers fired after scanning")
	pf.StringVar(&flagTree, "tree", "", "Also write an npm-style dependency tree JSON to this path")

	scanCmd.Flags().StringVarP(&flagDir, "dir", "d", ".", "Path to the project root directory")

	imageCmd.Flags().StringArrayVar(&flagImageRoots, "root", nil, "Application root inside the extracted image (repeatable, in priority order)")
	imageCmd.Flags().StringVar(&flagWorkingDir, "working-dir", "", "Image working directory, scanned after the explicit roots")
	imageCmd.Flags().StringVar(&flagLayersDir, "layers-dir", "", "Extracted layers directory to remove after the scan")

	rootCmd.AddCommand(scanCmd, imageCmd)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration and logger for one command run.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flagConfig, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := config.NewLogger(cfg)
	log.Info().Str("version", toolVersion).Msg("sbom-builder")
	return cfg, log, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	dir := flagDir
	if len(args) == 1 {
		dir = args[0]
	}
	log.Info().Str("dir", dir).Msg("scanning")

	result, err := scanner.New(cfg, log).Scan(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return emit(cfg, log, result)
}

func runImage(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	in := scanner.ImageInput{
		RootPaths:          flagImageRoots,
		WorkingDir:         flagWorkingDir,
		ExtractedLayersDir: flagLayersDir,
	}
	if len(in.RootPaths) == 0 && in.WorkingDir == "" {
		return errors.New("at least one --root or --working-dir is required")
	}
	log.Info().Strs("roots", in.RootPaths).Str("working_dir", in.WorkingDir).Msg("scanning image")

	result, err := scanner.New(cfg, log).ScanImage(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("image scan failed: %w", err)
	}
	return emit(cfg, log, result)
}

// emit logs the run summary and writes the requested documents.
func emit(cfg *config.Config, log zerolog.Logger, result *scanner.Result) error {
	log.Info().Int("components", result.Registry.Len()).Msg("scan finished")
	for _, w := range result.Warnings {
		log.Warn().Msg(w)
	}
	if flagShowStrategies || cfg.Verbose {
		for _, run := range result.Runs {
			log.Info().
				Str("ecosystem", run.Ecosystem).
				Str("dir", run.Dir).
				Str("step", run.Step).
				Bool("degraded", run.Degraded).
				Int("registered", run.Stats.Registered).
				Msg("driver")
		}
		log.Info().
			Strs("used", result.StrategiesUsed).
			Strs("skipped", result.StrategiesSkipped).
			Msg("strategies")
	}

	doc := output.Assemble(result, cfg, toolVersion)
	written, err := output.WriteDocument(doc, cfg.Format, cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to write SBOM: %w", err)
	}
	if flagTree != "" {
		data, err := output.RenderTree(doc)
		if err != nil {
			return err
		}
		if err := output.Write(flagTree, data); err != nil {
			return fmt.Errorf("failed to write dependency tree: %w", err)
		}
	}
	for _, path := range written {
		if path != "-" {
			log.Info().Str("path", path).Msg("SBOM written")
		}
	}
	return nil
}
