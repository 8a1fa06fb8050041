package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
)

// rule adds finding to the result when any keyword appears in the
// lower-cased proposal text.
type rule struct {
	keywords []string
	finding  string
}

var riskRules = []rule{
	{[]string{"treasury", "fund"}, "Financial risk: Involves treasury/funding allocation"},
	{[]string{"governance", "voting"}, "Governance risk: Changes to voting mechanisms or governance structure"},
	{[]string{"upgrade", "contract"}, "Technical risk: Smart contract changes or upgrades"},
}

var benefitRules = []rule{
	{[]string{"improve", "enhance"}, "Enhancement: Aims to improve existing systems"},
	{[]string{"community", "user"}, "Community benefit: Focuses on user/community value"},
	{[]string{"efficiency", "optimize"}, "Efficiency: Optimizes processes or reduces costs"},
}

const (
	lowRiskFinding        = "Low risk: No major concerns identified"
	generalBenefitFinding = "General improvement: Contributes to DAO operations"
)

// DefaultSimilarProposals is returned when no retriever is configured or the
// retriever has nothing for the DAO.
var DefaultSimilarProposals = []string{
	"Similar proposal from 3 months ago had 65% support",
	"Related governance change was approved with 72% votes",
	"Comparable treasury allocation passed with community consensus",
}

// Retriever looks up past proposals that resemble the one being analysed.
// An empty result with a nil error means "nothing found".
type Retriever interface {
	SimilarProposals(ctx context.Context, daoID, text string) ([]string, error)
}

// Analyzer produces ProposalAnalysis values. The zero value is not usable;
// construct one with New.
type Analyzer struct {
	retriever Retriever
	delay     time.Duration
	logger    *pterm.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRetriever sources similar proposals from r instead of the fixed list.
func WithRetriever(r Retriever) Option {
	return func(a *Analyzer) { a.retriever = r }
}

// WithDelay makes every analysis wait d before returning, simulating model
// latency for client development.
func WithDelay(d time.Duration) Option {
	return func(a *Analyzer) { a.delay = d }
}

// WithLogger sets the logger used for retriever failures.
func WithLogger(l *pterm.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New returns an Analyzer with the given options applied.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{logger: &pterm.DefaultLogger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores the proposal text and returns a recommendation. It only
// fails when ctx is done before the analysis completes.
func (a *Analyzer) Analyze(ctx context.Context, daoID, proposalID, text string) (*ProposalAnalysis, error) {
	if a.delay > 0 {
		t := time.NewTimer(a.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	lower := strings.ToLower(text)
	risks := matchRules(lower, riskRules, lowRiskFinding)
	benefits := matchRules(lower, benefitRules, generalBenefitFinding)
	recommendation, confidence, reasoning := decide(len(benefits), len(risks))

	return &ProposalAnalysis{
		Summary: fmt.Sprintf("This proposal for %s (ID: %s) presents %d key benefit(s) and %d risk factor(s). %s",
			daoID, proposalID, len(benefits), len(risks), reasoning),
		Benefits:         benefits,
		Risks:            risks,
		SimilarProposals: a.similar(ctx, daoID, text),
		Recommendation:   recommendation,
		Confidence:       confidence,
		Reasoning:        reasoning,
	}, nil
}

func (a *Analyzer) similar(ctx context.Context, daoID, text string) []string {
	if a.retriever == nil {
		return append([]string(nil), DefaultSimilarProposals...)
	}
	found, err := a.retriever.SimilarProposals(ctx, daoID, text)
	if err != nil {
		a.logger.Warn("similar proposal lookup failed, using defaults", a.logger.Args("dao", daoID, "error", err))
	}
	if len(found) == 0 {
		return append([]string(nil), DefaultSimilarProposals...)
	}
	return found
}

func matchRules(text string, rules []rule, fallback string) []string {
	findings := lo.FilterMap(rules, func(r rule, _ int) (string, bool) {
		return r.finding, lo.SomeBy(r.keywords, func(k string) bool {
			return strings.Contains(text, k)
		})
	})
	if len(findings) == 0 {
		return []string{fallback}
	}
	return findings
}

// decide maps benefit and risk counts onto a recommendation. The NO branch
// needs more risk rules than currently exist.
func decide(benefits, risks int) (Recommendation, int, string) {
	switch {
	case risks > 3:
		return RecommendationNo, 75, "High risk factors detected. Recommend voting NO due to significant concerns that need addressing."
	case benefits >= 2 && risks <= 2:
		return RecommendationYes, 80, "Clear benefits with manageable risks. Proposal aligns well with DAO objectives."
	default:
		return RecommendationAbstain, 60, "Mixed signals. More community discussion needed before taking a clear stance."
	}
}
