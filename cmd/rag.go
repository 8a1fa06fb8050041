package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/daocopilot/cli/internal/rag"
	"github.com/daocopilot/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// RagService is the subset of the retrieval client the rag commands use.
type RagService interface {
	BaseURL() string
	Available(ctx context.Context) bool
	Search(ctx context.Context, daoID, text string, topK int) ([]rag.SearchResult, error)
	AddDocument(ctx context.Context, doc rag.Document) error
}

// RagCmd handles retrieval store operations independent of cobra.
type RagCmd struct {
	rag RagService
}

type RagStatusInput struct {
	Output string
}

type RagSearchInput struct {
	DaoID  string
	Query  string
	TopK   int
	Output string
}

type RagAddInput struct {
	ID      string
	DaoID   string
	Title   string
	Text    string
	File    string
	Outcome string
	Type    string
}

func (r RagCmd) Status(ctx context.Context, in RagStatusInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	ok := r.rag.Available(ctx)
	if in.Output == "json" {
		return util.PrintPrettyJSON(map[string]any{"url": r.rag.BaseURL(), "available": ok})
	}
	if ok {
		pterm.Success.Printf("Retrieval server at %s is available\n", r.rag.BaseURL())
		return nil
	}
	pterm.Warning.Printf("Retrieval server at %s is not reachable; analyses use default similar proposals\n", r.rag.BaseURL())
	return nil
}

func (r RagCmd) Search(ctx context.Context, in RagSearchInput) error {
	if err := util.ValidateOutput(in.Output); err != nil {
		return err
	}
	if strings.TrimSpace(in.Query) == "" {
		return fmt.Errorf("a search query is required")
	}
	results, err := r.rag.Search(ctx, in.DaoID, in.Query, in.TopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if in.Output != "" {
		if results == nil {
			results = []rag.SearchResult{}
		}
		return util.PrintStructured(in.Output, results)
	}
	if len(results) == 0 {
		pterm.Info.Println("No matching proposals found")
		return nil
	}

	rows := pterm.TableData{{"ID", "Title", "Outcome", "Type", "Score"}}
	for _, res := range results {
		rows = append(rows, []string{
			res.ID,
			util.Truncate(util.OrDash(res.Title), 50),
			util.OrDash(res.Outcome),
			util.OrDash(res.Type),
			fmt.Sprintf("%.0f%%", res.Score*100),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func (r RagCmd) Add(ctx context.Context, in RagAddInput) error {
	text := in.Text
	if in.File != "" {
		data, err := os.ReadFile(in.File)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		text = string(data)
	}
	if in.ID == "" || in.DaoID == "" {
		return fmt.Errorf("--id and --dao are required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document text is required: use --text or --file")
	}

	doc := rag.Document{
		ID:      in.ID,
		DaoID:   in.DaoID,
		Title:   in.Title,
		Text:    text,
		Outcome: in.Outcome,
		Type:    in.Type,
	}
	if err := r.rag.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	pterm.Success.Printf("Added %s to %s\n", in.ID, in.DaoID)
	return nil
}

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Manage the local retrieval store of past proposals",
}

var ragStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the retrieval server is reachable",
	Args:  cobra.NoArgs,
	RunE:  runRagStatus,
}

var ragSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find stored proposals similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRagSearch,
}

var ragAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Index a proposal in the retrieval store",
	Args:  cobra.NoArgs,
	RunE:  runRagAdd,
}

func init() {
	ragCmd.PersistentFlags().String("rag-url", "", "Local retrieval server (LOCAL_RAG_URL)")

	ragStatusCmd.Flags().StringP("output", "o", "", "Output format (json)")

	ragSearchCmd.Flags().String("dao", "", "Restrict results to a DAO")
	ragSearchCmd.Flags().Int("top-k", 5, "Number of results")
	ragSearchCmd.Flags().StringP("output", "o", "", "Output format (json|yaml)")

	ragAddCmd.Flags().String("id", "", "Document identifier")
	ragAddCmd.Flags().String("dao", "", "DAO identifier")
	ragAddCmd.Flags().String("title", "", "Proposal title")
	ragAddCmd.Flags().String("text", "", "Proposal text")
	ragAddCmd.Flags().StringP("file", "f", "", "Read the proposal text from a file")
	ragAddCmd.Flags().String("outcome", "", "Vote outcome, e.g. passed or rejected")
	ragAddCmd.Flags().String("type", "", "Proposal type, e.g. treasury or governance")

	ragCmd.AddCommand(ragStatusCmd)
	ragCmd.AddCommand(ragSearchCmd)
	ragCmd.AddCommand(ragAddCmd)
}

func newRagCmd(cmd *cobra.Command) (RagCmd, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return RagCmd{}, err
	}
	return RagCmd{rag: rag.NewClient(cfg.LocalRAGURL, nil)}, nil
}

func runRagStatus(cmd *cobra.Command, args []string) error {
	r, err := newRagCmd(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return r.Status(cmd.Context(), RagStatusInput{Output: output})
}

func runRagSearch(cmd *cobra.Command, args []string) error {
	r, err := newRagCmd(cmd)
	if err != nil {
		return err
	}
	dao, _ := cmd.Flags().GetString("dao")
	topK, _ := cmd.Flags().GetInt("top-k")
	output, _ := cmd.Flags().GetString("output")
	return r.Search(cmd.Context(), RagSearchInput{
		DaoID:  dao,
		Query:  strings.Join(args, " "),
		TopK:   topK,
		Output: output,
	})
}

func runRagAdd(cmd *cobra.Command, args []string) error {
	r, err := newRagCmd(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	dao, _ := cmd.Flags().GetString("dao")
	title, _ := cmd.Flags().GetString("title")
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")
	outcome, _ := cmd.Flags().GetString("outcome")
	typ, _ := cmd.Flags().GetString("type")
	return r.Add(cmd.Context(), RagAddInput{
		ID:      id,
		DaoID:   dao,
		Title:   title,
		Text:    text,
		File:    file,
		Outcome: outcome,
		Type:    typ,
	})
}
