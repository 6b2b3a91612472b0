package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/oshokin/manifest-packager/internal/config"
	"github.com/oshokin/manifest-packager/internal/logger"
	"github.com/oshokin/manifest-packager/internal/prompt"
	"github.com/oshokin/manifest-packager/internal/service/packager"
	"github.com/oshokin/manifest-packager/internal/version"
)

var (
	// configPath is an optional configuration file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string
	// rootDir is the directory holding the root descriptor.
	rootDir string
	// outputPath overrides the archive location.
	outputPath string
	// assumeYes replaces an existing archive without asking.
	assumeYes bool

	// settings is the effective configuration, loaded before any command runs.
	settings *config.Config

	// rootCmd packages the requested sets.
	rootCmd = &cobra.Command{
		Use:   "packager [sets...]",
		Short: "Package project files described by manifest descriptors",
		Long: `Package collects the files of the requested sets from every manifest descriptor
below the root directory into a zip archive named after the primary manifest.

The "in" set also embeds the packager and sanitized, re-signed copies of the
descriptors; the "out" set adds a description of the build host.`,
		Example: `  packager                 Package the default sets
  packager in out -o hw.zip  Package two sets into hw.zip
  packager -C project -y     Package another directory, replacing the archive`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE:              runPackage,
	}
)

// Execute runs the packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Full()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default: packager.yaml in the root)")
	flags.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	flags.StringVarP(&rootDir, "root", "C", ".", "directory holding the root descriptor")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output archive (default: <name>.zip in the root)")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "replace an existing archive without asking")

	rootCmd.AddCommand(keygenCmd, signCmd, verifyCmd, showCmd, addCmd, removeCmd, configCmd)
}

// setup loads the configuration and applies the log level.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, rootDir)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	logger.SetLevel(level)

	settings = cfg

	return nil
}

// runPackage builds the archive for the requested sets.
func runPackage(cmd *cobra.Command, args []string) error {
	var confirmer prompt.Confirmer = prompt.NewTerminal()
	if assumeYes {
		confirmer = prompt.Always(true)
	}

	result, err := packager.Run(cmd.Context(), &packager.Options{
		Root:       rootDir,
		Sets:       args,
		OutputPath: outputPath,
		Config:     settings,
		Confirmer:  confirmer,
		Progress:   progressWriter(),
	})
	if err != nil {
		return err
	}

	if result.Declined {
		return nil
	}

	out := cmd.OutOrStdout()
	for _, entry := range result.Entries {
		_, _ = fmt.Fprintf(out, "\tadded %s\n", entry)
	}

	_, _ = fmt.Fprintf(out, "Created %s\n", result.OutputPath)

	return nil
}

// progressWriter returns stderr when it is a terminal, nil otherwise.
func progressWriter() io.Writer {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return os.Stderr
	}

	return nil
}
