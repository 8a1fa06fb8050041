package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/daocopilot/cli/internal/nativehost"
	"github.com/daocopilot/cli/internal/relay"
	"github.com/daocopilot/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay [origin]",
	Short: "Run the native messaging host for the browser extension",
	Long: `Run the native messaging host used by the browser extension.

Messages are length-prefixed JSON on stdin and stdout. Logs go to stderr.
Chrome starts this through the launcher written by "copilot relay install"
and passes the calling extension's origin as the first argument.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRelay,
}

var relayInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the relay as a Chrome native messaging host",
	Args:  cobra.NoArgs,
	RunE:  runRelayInstall,
}

var relayUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the native messaging host registration",
	Args:  cobra.NoArgs,
	RunE:  runRelayUninstall,
}

func init() {
	relayCmd.Flags().String("service-url", "", "Analysis service base URL (COPILOT_SERVICE_URL)")
	relayCmd.Flags().Int("concurrency", 8, "Maximum messages handled at once")

	for _, c := range []*cobra.Command{relayInstallCmd, relayUninstallCmd} {
		c.Flags().String("browser", "chrome", "Browser to register with (chrome|chromium)")
		c.Flags().String("dir", "", "Manifest directory (defaults to the browser's NativeMessagingHosts)")
	}
	relayInstallCmd.Flags().StringSlice("extension-id", nil, "Extension ID allowed to connect (repeatable)")
	_ = relayInstallCmd.MarkFlagRequired("extension-id")

	relayCmd.AddCommand(relayInstallCmd)
	relayCmd.AddCommand(relayUninstallCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := relay.New(relay.Config{
		ServiceURL:  cfg.ServiceURL,
		Logger:      logger,
		Concurrency: concurrency,
	})
	origin := ""
	if len(args) > 0 {
		origin = args[0]
	}
	logger.Info("relay started", logger.Args(
		"service_url", cfg.ServiceURL,
		"concurrency", concurrency,
		"origin", origin,
	))
	return r.Serve(ctx, os.Stdin, os.Stdout)
}

func manifestDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	browser, _ := cmd.Flags().GetString("browser")
	return nativehost.ManifestDir(browser)
}

func runRelayInstall(cmd *cobra.Command, args []string) error {
	dir, err := manifestDir(cmd)
	if err != nil {
		return err
	}
	ids, _ := cmd.Flags().GetStringSlice("extension-id")

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate copilot binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	inst, err := nativehost.Install(dir, exe, ids)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Registered %s\n", nativehost.HostName)
	pterm.Info.Printf("Manifest: %s\n", inst.ManifestPath)
	pterm.Info.Printf("Launcher: %s\n", inst.LauncherPath)
	pterm.Info.Printf("Allowed origins: %s\n", util.JoinOrDash(inst.Manifest.AllowedOrigins...))
	return nil
}

func runRelayUninstall(cmd *cobra.Command, args []string) error {
	dir, err := manifestDir(cmd)
	if err != nil {
		return err
	}
	if err := nativehost.Uninstall(dir); err != nil {
		return err
	}
	pterm.Success.Printf("Removed %s from %s\n", nativehost.HostName, dir)
	return nil
}
