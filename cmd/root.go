package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daocopilot/cli/internal/config"
	"github.com/daocopilot/cli/internal/telemetry"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// VersionInfo is the version string shown by --version.
func VersionInfo() string {
	if Date == "" || Date == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (built %s)", Version, Date)
}

var (
	debug     bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "DAO governance co-pilot: paid proposal analysis and its browser relay",
	Long: `copilot analyses DAO governance proposals.

It runs the pay-per-call analysis service (x402), the native messaging
relay used by the browser extension, and tooling for both.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text|json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(ragCmd)
	rootCmd.AddCommand(upgradeCmd)
}

// Root returns the top-level command.
func Root() *cobra.Command {
	return rootCmd
}

// setup loads .env and configures logging and telemetry for every command.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	if logFormat != "text" && logFormat != "json" {
		return fmt.Errorf("unsupported --log-format %q: use text or json", logFormat)
	}

	// stdout belongs to the native messaging stream while relaying.
	var w io.Writer = os.Stdout
	if cmd == relayCmd {
		w = os.Stderr
	}
	logger = newLogger(w, debug, logFormat)

	if cmd == relayCmd {
		return nil
	}
	return telemetry.Init(cmd.Context(), "copilot", Version)
}

var logger = &pterm.DefaultLogger

func newLogger(w io.Writer, debug bool, format string) *pterm.Logger {
	l := pterm.DefaultLogger.WithWriter(w)
	if debug {
		l = l.WithLevel(pterm.LogLevelDebug)
	}
	if format == "json" {
		l = l.WithFormatter(pterm.LogFormatterJSON)
	}
	return l
}

// loadConfig reads .env and the environment, then applies explicitly set
// flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return cfg, nil
}
