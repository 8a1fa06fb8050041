package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/daocopilot/cli/internal/analysis"
	"github.com/daocopilot/cli/internal/payment"
	"github.com/daocopilot/cli/internal/rag"
	"github.com/daocopilot/cli/internal/server"
	"github.com/daocopilot/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ProposalAnalyzer is what the analyze command needs from a local analyzer
// or a remote service.
type ProposalAnalyzer interface {
	Analyze(ctx context.Context, daoID, proposalID, text string) (*analysis.ProposalAnalysis, error)
}

// AnalyzeCmd runs proposal analysis independent of cobra.
type AnalyzeCmd struct {
	analyzer ProposalAnalyzer
	stdin    io.Reader
}

type AnalyzeInput struct {
	Text       string
	File       string
	DaoID      string
	ProposalID string
	Output     string
}

const unknownID = "unknown"

func (a AnalyzeCmd) Analyze(ctx context.Context, in AnalyzeInput) error {
	if err := util.ValidateOutput(in.Output); err != nil {
		return err
	}

	req, err := a.resolve(in)
	if err != nil {
		return err
	}

	result, err := a.analyzer.Analyze(ctx, req.DaoID, req.ProposalID, req.ProposalText)
	if err != nil {
		var pr *PaymentRequiredError
		if errors.As(err, &pr) && in.Output == "" {
			printPaymentRequired(pr.Response)
		}
		return err
	}

	if in.Output != "" {
		return util.PrintStructured(in.Output, result)
	}
	printAnalysis(req, result)
	return nil
}

// resolve works out the text and ids from args, a file or stdin. A JSON file
// may be an analysis request or a Snapshot proposal.
func (a AnalyzeCmd) resolve(in AnalyzeInput) (analysis.Request, error) {
	req := analysis.Request{DaoID: in.DaoID, ProposalID: in.ProposalID, ProposalText: in.Text}

	if in.File != "" {
		var (
			data []byte
			err  error
		)
		if in.File == "-" {
			data, err = io.ReadAll(a.stdin)
		} else {
			data, err = os.ReadFile(in.File)
		}
		if err != nil {
			return req, fmt.Errorf("failed to read proposal: %w", err)
		}
		req.ProposalText = string(data)

		var fromJSON analysis.Request
		var proposal analysis.Proposal
		switch {
		case json.Unmarshal(data, &fromJSON) == nil && fromJSON.ProposalText != "":
			req.ProposalText = fromJSON.ProposalText
			req.DaoID = firstNonEmpty(req.DaoID, fromJSON.DaoID)
			req.ProposalID = firstNonEmpty(req.ProposalID, fromJSON.ProposalID)
		case json.Unmarshal(data, &proposal) == nil && proposal.Body != "":
			req.ProposalText = proposal.Text()
			req.ProposalID = firstNonEmpty(req.ProposalID, proposal.ID)
		}
	}

	if strings.TrimSpace(req.ProposalText) == "" {
		return req, errors.New("proposal text is required: pass it as an argument or with --file")
	}
	req.DaoID = firstNonEmpty(req.DaoID, unknownID)
	req.ProposalID = firstNonEmpty(req.ProposalID, unknownID)
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var recommendationStyles = map[analysis.Recommendation]lipgloss.Style{
	analysis.RecommendationYes:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1FA382")),
	analysis.RecommendationNo:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
	analysis.RecommendationAbstain: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B")),
}

func printAnalysis(req analysis.Request, r *analysis.ProposalAnalysis) {
	rec := string(r.Recommendation)
	if style, ok := recommendationStyles[r.Recommendation]; ok {
		rec = style.Render(rec)
	}

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"DAO", req.DaoID})
	rows = append(rows, []string{"Proposal", req.ProposalID})
	rows = append(rows, []string{"Recommendation", rec})
	rows = append(rows, []string{"Confidence", fmt.Sprintf("%d%%", r.Confidence)})
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	pterm.Println()
	pterm.Println(r.Summary)
	printList("Benefits", r.Benefits)
	printList("Risks", r.Risks)
	printList("Similar proposals", r.SimilarProposals)
}

func printList(title string, items []string) {
	pterm.Println()
	pterm.Println(pterm.Bold.Sprint(title))
	if len(items) == 0 {
		pterm.Println("  -")
		return
	}
	for _, item := range items {
		pterm.Printf("  • %s\n", item)
	}
}

func printPaymentRequired(resp payment.RequiredResponse) {
	pterm.Warning.Println(util.OrDash(resp.Error))
	if len(resp.Accepts) == 0 {
		return
	}
	rows := pterm.TableData{{"Scheme", "Network", "Amount", "Asset", "Pay To"}}
	for _, req := range resp.Accepts {
		rows = append(rows, []string{
			req.Scheme,
			req.Network,
			req.MaxAmountRequired,
			util.Truncate(req.Asset, 14),
			req.PayTo,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	pterm.Info.Println("Retry with --payment <base64 X-PAYMENT header>")
}

// PaymentRequiredError is returned when the service answers 402.
type PaymentRequiredError struct {
	Response payment.RequiredResponse
}

func (e *PaymentRequiredError) Error() string {
	if e.Response.Error != "" {
		return "payment required: " + e.Response.Error
	}
	return "payment required"
}

// remoteAnalyzer calls a running analysis service.
type remoteAnalyzer struct {
	baseURL string
	payment string
	client  *http.Client
}

func (r remoteAnalyzer) Analyze(ctx context.Context, daoID, proposalID, text string) (*analysis.ProposalAnalysis, error) {
	body, err := json.Marshal(analysis.Request{DaoID: daoID, ProposalID: proposalID, ProposalText: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.baseURL, "/")+server.AnalyzePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.payment != "" {
		req.Header.Set(payment.HeaderPayment, r.payment)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result analysis.ProposalAnalysis
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("invalid response: %w", err)
		}
		if h := resp.Header.Get(payment.HeaderPaymentResponse); h != "" {
			if settled, err := payment.DecodeSettleResponse(h); err == nil {
				logger.Info("payment settled", logger.Args("transaction", settled.Transaction, "network", settled.Network))
			}
		}
		return &result, nil
	case http.StatusPaymentRequired:
		var required payment.RequiredResponse
		if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
			return nil, fmt.Errorf("invalid payment-required response: %w", err)
		}
		return nil, &PaymentRequiredError{Response: required}
	default:
		var e server.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("analysis failed: %s: %s", resp.Status, util.OrDash(e.Error))
	}
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [proposal text]",
	Short: "Analyse a governance proposal",
	Long: `Analyse a governance proposal locally, or against a running service with --server.

The proposal comes from the arguments or from --file (use - for stdin). A JSON
file may be an analysis request or a Snapshot proposal.`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringP("file", "f", "", "Read the proposal from a file (- for stdin)")
	f.String("dao", "", "DAO identifier")
	f.String("id", "", "Proposal identifier")
	f.StringP("output", "o", "", "Output format (json|yaml)")
	f.String("server", "", "Analyse against a running service at this URL (COPILOT_SERVICE_URL)")
	f.String("payment", "", "Base64 X-PAYMENT header to send with --server")
	f.String("rag-url", "", "Local retrieval server for similar proposals (LOCAL_RAG_URL)")
	f.Duration("delay", 0, "Simulated analysis latency (ANALYSIS_DELAY)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	dao, _ := cmd.Flags().GetString("dao")
	id, _ := cmd.Flags().GetString("id")
	output, _ := cmd.Flags().GetString("output")
	pay, _ := cmd.Flags().GetString("payment")

	var analyzer ProposalAnalyzer
	if cmd.Flags().Changed("server") {
		analyzer = remoteAnalyzer{
			baseURL: cfg.ServiceURL,
			payment: pay,
			client:  &http.Client{Timeout: 30 * time.Second},
		}
	} else {
		analyzer = analysis.New(
			analysis.WithRetriever(rag.NewClient(cfg.LocalRAGURL, nil)),
			analysis.WithDelay(cfg.AnalysisDelay),
			analysis.WithLogger(logger),
		)
	}

	c := AnalyzeCmd{analyzer: analyzer, stdin: os.Stdin}
	return c.Analyze(cmd.Context(), AnalyzeInput{
		Text:       strings.Join(args, " "),
		File:       file,
		DaoID:      dao,
		ProposalID: id,
		Output:     output,
	})
}
