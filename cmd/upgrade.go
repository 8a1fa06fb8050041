package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/daocopilot/cli/pkg/update"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var upgradeCmd = &cobra.Command{
	Use:     "upgrade",
	Aliases: []string{"update"},
	Short:   "Upgrade copilot to the latest release",
	Long: `Upgrade copilot to the latest release.

Supported installation methods:
  - Homebrew (brew)
  - go install

If the installation method cannot be detected, manual upgrade instructions are printed.`,
	Args: cobra.NoArgs,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().Bool("dry-run", false, "Show what would be executed without running")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	pterm.Info.Println("Checking for updates...")

	latestTag, releaseURL, err := update.FetchLatest(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}

	isNewer, err := update.IsNewerVersion(Version, latestTag)
	switch {
	case err != nil:
		// dev builds have no comparable version
		pterm.Warning.Printf("Could not compare versions (%s vs %s): %v\n", Version, latestTag, err)
		pterm.Info.Println("Proceeding with upgrade...")
	case !isNewer:
		pterm.Success.Printf("You are already on the latest version (%s)\n", strings.TrimPrefix(Version, "v"))
		return nil
	default:
		pterm.Info.Printf("New version available: %s → %s\n", strings.TrimPrefix(Version, "v"), strings.TrimPrefix(latestTag, "v"))
		if releaseURL != "" {
			pterm.Info.Printf("Release notes: %s\n", releaseURL)
		}
	}

	method, binaryPath := update.DetectInstallMethod()
	argv := update.UpgradeCommand(method)
	if argv == nil {
		printManualUpgradeInstructions(latestTag, binaryPath)
		return fmt.Errorf("could not detect installation method")
	}

	if dryRun {
		pterm.Info.Printf("Would run: %s\n", strings.Join(argv, " "))
		return nil
	}

	pterm.Info.Printf("Upgrading via %s...\n", method)
	c := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Stdin = os.Stdin
	return c.Run()
}

func printManualUpgradeInstructions(version, binaryPath string) {
	version = strings.TrimPrefix(version, "v")

	downloadURL := fmt.Sprintf(
		"https://github.com/daocopilot/cli/releases/download/v%s/copilot_%s_%s_%s.tar.gz",
		version, version, runtime.GOOS, runtime.GOARCH,
	)
	if binaryPath == "" {
		binaryPath = "/usr/local/bin/copilot"
	}

	pterm.Warning.Println("Could not detect installation method.")
	pterm.Info.Println("To upgrade manually, run:")
	pterm.Println()
	pterm.Printf("  wget %s -O /tmp/copilot.tar.gz\n", downloadURL)
	pterm.Printf("  tar -xzf /tmp/copilot.tar.gz -C /tmp\n")
	pterm.Printf("  sudo cp /tmp/copilot %s\n", binaryPath)
	pterm.Println()
	pterm.Printf("or run: %s\n", update.SuggestUpgradeCommand(update.InstallMethodUnknown))
}
