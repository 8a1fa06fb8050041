package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRAGServer(t *testing.T, healthy bool) (*httptest.Server, *[]Document) {
	t.Helper()
	var added []Document
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2}})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			DaoID string `json:"daoId"`
			TopK  int    `json:"topK"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		results := []SearchResult{
			{ID: "a", Title: "Fund grants", Outcome: "passed", Score: 0.874},
			{ID: "b", Score: 0.5},
		}
		if in.TopK < len(results) {
			results = results[:in.TopK]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	mux.HandleFunc("/summarize", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"summary": "short"})
	})
	mux.HandleFunc("/add_doc", func(w http.ResponseWriter, r *http.Request) {
		var doc Document
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		added = append(added, doc)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &added
}

func TestAvailable(t *testing.T) {
	srv, _ := newRAGServer(t, true)
	assert.True(t, NewClient(srv.URL, nil).Available(context.Background()))

	down, _ := newRAGServer(t, false)
	assert.False(t, NewClient(down.URL, nil).Available(context.Background()))

	assert.False(t, NewClient("http://127.0.0.1:1", nil).Available(context.Background()))
}

func TestClientOperations(t *testing.T) {
	srv, added := newRAGServer(t, true)
	c := NewClient(srv.URL+"/", nil)
	ctx := context.Background()

	emb, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, emb)

	results, err := c.Search(ctx, "uniswap", "grants", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	summary, err := c.Summarize(ctx, "long text")
	require.NoError(t, err)
	assert.Equal(t, "short", summary)

	require.NoError(t, c.AddDocument(ctx, Document{ID: "x", DaoID: "uniswap", Text: "body"}))
	require.Len(t, *added, 1)
	assert.Equal(t, "uniswap", (*added)[0].DaoID)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Search(context.Background(), "dao", "text", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed: Internal Server Error")
}

func TestSimilarProposals(t *testing.T) {
	srv, _ := newRAGServer(t, true)
	lines, err := NewClient(srv.URL, nil).SimilarProposals(context.Background(), "uniswap", "grants")
	require.NoError(t, err)
	assert.Equal(t, []string{"Fund grants (passed, 87% match)", "b (50% match)"}, lines)

	down, _ := newRAGServer(t, false)
	lines, err = NewClient(down.URL, nil).SimilarProposals(context.Background(), "uniswap", "grants")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestNewClient_DefaultURL(t *testing.T) {
	assert.Equal(t, DefaultURL, NewClient("  ", nil).BaseURL())
}
