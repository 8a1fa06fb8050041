// Package rag is a client for the local retrieval server that stores past
// proposals as embeddings and answers similarity queries.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is where the local retrieval server listens unless
// LOCAL_RAG_URL says otherwise.
const DefaultURL = "http://127.0.0.1:9000"

const (
	healthTimeout  = 2 * time.Second
	requestTimeout = 30 * time.Second
	defaultTopK    = 5
	similarTopK    = 3
)

// SearchResult is a stored document ranked against a query.
type SearchResult struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Text    string  `json:"text"`
	Outcome string  `json:"outcome"`
	Type    string  `json:"type"`
	Score   float64 `json:"score"`
}

// Document is a proposal to index.
type Document struct {
	ID      string `json:"id"`
	DaoID   string `json:"daoId"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Outcome string `json:"outcome,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Client talks to the retrieval server over JSON HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL. An empty baseURL means DefaultURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Available reports whether the server answers its health check within two
// seconds.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK && body.Status == "ok"
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.post(ctx, "/embed", map[string]string{"text": text}, &out); err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	return out.Embedding, nil
}

// Search returns up to topK stored documents for daoID ranked by similarity
// to text. topK <= 0 means five.
func (c *Client) Search(ctx context.Context, daoID, text string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	in := struct {
		DaoID string `json:"daoId"`
		Text  string `json:"text"`
		TopK  int    `json:"topK"`
	}{daoID, text, topK}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.post(ctx, "/search", in, &out); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return out.Results, nil
}

// Summarize returns an extractive summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", map[string]string{"text": text}, &out); err != nil {
		return "", fmt.Errorf("summarize failed: %w", err)
	}
	return out.Summary, nil
}

// AddDocument indexes doc.
func (c *Client) AddDocument(ctx context.Context, doc Document) error {
	if err := c.post(ctx, "/add_doc", doc, nil); err != nil {
		return fmt.Errorf("add document failed: %w", err)
	}
	return nil
}

// SimilarProposals lists the closest past proposals for daoID as one-line
// descriptions. It returns nothing when the server is not running.
func (c *Client) SimilarProposals(ctx context.Context, daoID, text string) ([]string, error) {
	if !c.Available(ctx) {
		return nil, nil
	}
	results, err := c.Search(ctx, daoID, text, similarTopK)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, FormatResult(r))
	}
	return lines, nil
}

// FormatResult renders a search hit as "<title> (<outcome>, <score>% match)".
func FormatResult(r SearchResult) string {
	title := r.Title
	if title == "" {
		title = r.ID
	}
	score := int(r.Score*100 + 0.5)
	if r.Outcome == "" {
		return fmt.Sprintf("%s (%d%% match)", title, score)
	}
	return fmt.Sprintf("%s (%s, %d%% match)", title, r.Outcome, score)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s", http.StatusText(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
