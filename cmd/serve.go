package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daocopilot/cli/internal/analysis"
	"github.com/daocopilot/cli/internal/config"
	"github.com/daocopilot/cli/internal/payment"
	"github.com/daocopilot/cli/internal/rag"
	"github.com/daocopilot/cli/internal/server"
	"github.com/daocopilot/cli/internal/telemetry"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pay-per-call proposal analysis service",
	Long: `Run the HTTP analysis service.

POST /api/analyze-proposal is gated by an x402 payment unless --free is set.
Settings come from the environment (and .env); flags override them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("port", "p", config.DefaultPort, "Port to listen on (PORT)")
	f.String("pay-to", "", "Address that receives payments (PAY_TO_ADDRESS)")
	f.String("facilitator-url", config.DefaultFacilitatorURL, "x402 facilitator base URL (FACILITATOR_URL)")
	f.String("network", config.DefaultNetwork, "Payment network (PAYMENT_NETWORK)")
	f.String("price", config.DefaultPrice, "Price per analysis in USD (PAYMENT_PRICE)")
	f.String("rag-url", config.DefaultLocalRAGURL, "Local retrieval server (LOCAL_RAG_URL)")
	f.Duration("delay", 0, "Simulated analysis latency (ANALYSIS_DELAY)")
	f.Bool("free", false, "Disable the payment gate")
	f.Bool("open", false, "Open the health endpoint in a browser once listening")
}

// ServeInput are the resolved settings for the service.
type ServeInput struct {
	Config *config.Config
	Free   bool
}

// buildServer assembles the analyzer, payment gate and HTTP server.
func buildServer(in ServeInput) (*server.Server, error) {
	cfg := in.Config
	metrics := telemetry.NewInstruments()

	ragClient := rag.NewClient(cfg.LocalRAGURL, nil)
	analyzer := analysis.New(
		analysis.WithRetriever(ragClient),
		analysis.WithDelay(cfg.AnalysisDelay),
		analysis.WithLogger(logger),
	)

	sc := server.Config{
		Analyzer: analyzer,
		Logger:   logger,
		Metrics:  metrics,
	}

	if in.Free {
		logger.Warn("payment gate disabled, analysis is free")
	} else {
		if cfg.PayTo == "" {
			return nil, errors.New("PAY_TO_ADDRESS (or --pay-to) is required unless --free is set")
		}
		gate, err := payment.NewGate(payment.Config{
			PayTo: cfg.PayTo,
			Routes: map[string]payment.RouteConfig{
				"POST " + server.AnalyzePath: {
					Price:       cfg.Price,
					Network:     cfg.Network,
					Description: "AI analysis of a DAO governance proposal",
				},
			},
			Facilitator: payment.NewFacilitatorClient(cfg.FacilitatorURL),
			Logger:      logger,
			Metrics:     metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("payment gate: %w", err)
		}
		sc.Payment = gate.Middleware
		logger.Info("payment gate enabled", logger.Args(
			"pay_to", cfg.PayTo,
			"network", cfg.Network,
			"price", cfg.Price,
			"facilitator", cfg.FacilitatorURL,
		))
	}

	return server.New(sc), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	free, _ := cmd.Flags().GetBool("free")
	open, _ := cmd.Flags().GetBool("open")

	srv, err := buildServer(ServeInput{Config: cfg, Free: free})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr())
	}()

	healthURL := fmt.Sprintf("http://localhost:%s%s", cfg.Port, server.HealthPath)
	pterm.Success.Printf("Listening on %s\n", cfg.Addr())
	pterm.Info.Printf("Health check: %s\n", healthURL)

	if open {
		if err := browser.OpenURL(healthURL); err != nil {
			pterm.Warning.Printf("Could not open browser: %v\n", err)
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
