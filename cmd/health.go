package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/daocopilot/cli/internal/server"
	"github.com/daocopilot/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that an analysis service is up",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().String("server", "", "Service base URL (COPILOT_SERVICE_URL)")
	healthCmd.Flags().StringP("output", "o", "", "Output format (json)")
}

type HealthInput struct {
	BaseURL string
	Output  string
}

// checkHealth fetches and prints the service health.
func checkHealth(ctx context.Context, client *http.Client, in HealthInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	url := strings.TrimRight(in.BaseURL, "/") + server.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		pterm.Error.Printf("Could not reach %s\n", in.BaseURL)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pterm.Error.Printf("Service at %s is unhealthy\n", in.BaseURL)
		return fmt.Errorf("health request failed: %s", resp.Status)
	}

	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	if in.Output == "json" {
		return util.PrintPrettyJSON(health)
	}

	dot := pterm.NewRGB(31, 163, 130).Sprint("●")
	if health.Status != "ok" {
		dot = pterm.NewRGB(239, 68, 68).Sprint("●")
	}
	pterm.Println()
	pterm.Printf("  %s %s  %s\n", dot, pterm.Bold.Sprint(util.OrDash(health.Service)), health.Status)
	pterm.Printf("    %-10s %s\n", "URL", in.BaseURL)
	pterm.Printf("    %-10s %s\n", "Timestamp", util.OrDash(health.Timestamp))
	pterm.Println()
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	client := &http.Client{Timeout: 10 * time.Second}
	return checkHealth(cmd.Context(), client, HealthInput{BaseURL: cfg.ServiceURL, Output: output})
}
