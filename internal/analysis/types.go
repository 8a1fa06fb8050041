// Package analysis scores DAO governance proposals against a fixed keyword
// vocabulary and produces a voting recommendation.
package analysis

// Recommendation is the suggested vote for a proposal.
type Recommendation string

const (
	RecommendationYes     Recommendation = "YES"
	RecommendationNo      Recommendation = "NO"
	RecommendationAbstain Recommendation = "ABSTAIN"
)

// ProposalAnalysis is the structured result returned to callers.
type ProposalAnalysis struct {
	Summary          string         `json:"summary" yaml:"summary"`
	Benefits         []string       `json:"benefits" yaml:"benefits"`
	Risks            []string       `json:"risks" yaml:"risks"`
	SimilarProposals []string       `json:"similarProposals" yaml:"similarProposals"`
	Recommendation   Recommendation `json:"recommendation" yaml:"recommendation"`
	Confidence       int            `json:"confidence" yaml:"confidence"`
	Reasoning        string         `json:"reasoning" yaml:"reasoning"`
}

// Request is the body accepted by the analyze-proposal endpoint.
type Request struct {
	DaoID        string `json:"daoId"`
	ProposalID   string `json:"proposalId"`
	ProposalText string `json:"proposalText"`
}

// Proposal mirrors a Snapshot proposal as exported by the hub API.
type Proposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	Created     int64     `json:"created"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	State       string    `json:"state"`
	Choices     []string  `json:"choices"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
}

// Text returns the analysable text of the proposal: its title followed by
// its body.
func (p Proposal) Text() string {
	if p.Title == "" {
		return p.Body
	}
	return p.Title + "\n\n" + p.Body
}
