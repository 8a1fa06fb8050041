package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daocopilot/cli/internal/analysis"
	"github.com/daocopilot/cli/internal/payment"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(serviceURL string) *Relay {
	return New(Config{
		ServiceURL: serviceURL,
		Logger:     pterm.DefaultLogger.WithWriter(&bytes.Buffer{}),
	})
}

func dispatch(t *testing.T, r *Relay, typ string, data any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	resp := r.Dispatch(context.Background(), Message{Type: typ, Data: raw})

	// Round-trip so assertions see what the extension sees.
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(encoded, &out))
	return out
}

func TestBackgroundFetch_JSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Payment-Required", "true")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"x402Version":1}`))
	}))
	defer upstream.Close()

	body := `{"q":1}`
	out := dispatch(t, newTestRelay(""), TypeBackgroundFetch, FetchRequest{
		URL:     upstream.URL,
		Method:  "post",
		Headers: map[string]string{"Authorization": "secret"},
		Body:    &body,
	})

	assert.Equal(t, false, out["ok"])
	assert.Equal(t, float64(402), out["status"])
	assert.Equal(t, "Payment Required", out["statusText"])
	assert.Equal(t, map[string]any{"x402Version": float64(1)}, out["data"])
	headers := out["headers"].(map[string]any)
	assert.Equal(t, "true", headers["x-payment-required"])
}

func TestBackgroundFetch_Text(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>hi</p>"))
	}))
	defer upstream.Close()

	out := dispatch(t, newTestRelay(""), TypeBackgroundFetch, FetchRequest{URL: upstream.URL})
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "<p>hi</p>", out["data"])
}

func TestBackgroundFetch_Failure(t *testing.T) {
	out := dispatch(t, newTestRelay(""), TypeBackgroundFetch, FetchRequest{URL: "http://127.0.0.1:1/nope"})
	assert.Contains(t, out["error"], "Fetch failed:")
	assert.Equal(t, float64(500), out["status"])
}

func TestAnalyzeProposal(t *testing.T) {
	var gotPayment string
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze-proposal", r.URL.Path)
		gotPayment = r.Header.Get(payment.HeaderPayment)
		var req analysis.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if gotPayment == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(payment.RequiredResponse{
				X402Version: 1,
				Error:       "X-PAYMENT header is required",
				Accepts:     []payment.Requirements{{Scheme: "exact", Network: "base-sepolia"}},
			})
			return
		}
		res, _ := analysis.New().Analyze(r.Context(), req.DaoID, req.ProposalID, req.ProposalText)
		w.Header().Set(payment.HeaderPaymentResponse, "c2V0dGxlZA==")
		_ = json.NewEncoder(w).Encode(res)
	}))
	defer service.Close()
	r := newTestRelay(service.URL + "/")

	t.Run("payment required", func(t *testing.T) {
		out := dispatch(t, r, TypeAnalyzeProposal, map[string]string{"daoId": "uniswap", "proposalText": "Improve community"})
		assert.Equal(t, false, out["success"])
		required := out["paymentRequired"].(map[string]any)
		assert.Equal(t, "X-PAYMENT header is required", required["error"])
	})

	t.Run("paid", func(t *testing.T) {
		out := dispatch(t, r, TypeAnalyzeProposal, map[string]string{
			"daoId": "uniswap", "proposalText": "Improve community", "payment": "header-value",
		})
		assert.Equal(t, "header-value", gotPayment)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, "YES", out["analysis"].(map[string]any)["recommendation"])
		assert.Equal(t, "c2V0dGxlZA==", out["paymentResponse"])
	})

	t.Run("missing text", func(t *testing.T) {
		out := dispatch(t, r, TypeAnalyzeProposal, map[string]string{"daoId": "uniswap"})
		assert.Equal(t, "proposalText is required", out["error"])
	})
}

func TestAnalyzeProposal_ServiceError(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"proposalText is required"}`))
	}))
	defer service.Close()

	out := dispatch(t, newTestRelay(service.URL), TypeAnalyzeProposal, map[string]string{"proposalText": "x"})
	assert.Equal(t, "analysis service returned 400: proposalText is required", out["error"])
}

func TestPaymentRequired(t *testing.T) {
	out := dispatch(t, newTestRelay(""), TypePaymentRequired, payment.RequiredResponse{
		X402Version: 1,
		Accepts: []payment.Requirements{
			{Scheme: "upto", Network: "base-sepolia"},
			{Scheme: "exact", Network: "solana"},
			{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "1000"},
		},
	})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "1000", out["requirement"].(map[string]any)["maxAmountRequired"])

	out = dispatch(t, newTestRelay(""), TypePaymentRequired, payment.RequiredResponse{X402Version: 1})
	assert.Equal(t, "no supported payment requirement offered", out["error"])
}

func TestDispatch_UnknownTypeEchoesID(t *testing.T) {
	r := newTestRelay("")
	resp := r.Dispatch(context.Background(), Message{Type: "NOPE", ID: json.RawMessage(`7`)})
	assert.Equal(t, "unknown message type: NOPE", resp["error"])
	assert.Equal(t, json.RawMessage(`7`), resp["id"])
}

func TestServe(t *testing.T) {
	r := newTestRelay("")
	r.Handle("ECHO", func(ctx context.Context, data json.RawMessage) (any, error) {
		return map[string]any{"echo": string(data)}, nil
	})

	var in bytes.Buffer
	require.NoError(t, WriteMessage(&in, map[string]any{"type": "ECHO", "data": "a", "id": 1}))
	require.NoError(t, WriteMessage(&in, map[string]any{"type": "ECHO", "data": "b", "id": 2}))
	require.NoError(t, WriteMessage(&in, map[string]any{"type": "NOPE", "id": 3}))

	var out bytes.Buffer
	require.NoError(t, r.Serve(context.Background(), &in, &out))

	var ids []float64
	for {
		raw, err := ReadMessage(&out)
		if err != nil {
			break
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		ids = append(ids, m["id"].(float64))
	}
	sort.Float64s(ids)
	assert.Equal(t, []float64{1, 2, 3}, ids)
}

func TestServe_MalformedMessage(t *testing.T) {
	in := bytes.NewBuffer([]byte{8, 0, 0, 0})
	in.WriteString("not json")

	var out bytes.Buffer
	require.NoError(t, newTestRelay("").Serve(context.Background(), in, &out))

	raw, err := ReadMessage(&out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "invalid message")
}

func TestServe_BoundsConcurrency(t *testing.T) {
	r := New(Config{
		Logger:      pterm.DefaultLogger.WithWriter(&bytes.Buffer{}),
		Concurrency: 2,
	})

	var active, peak atomic.Int32
	r.Handle("SLOW", func(ctx context.Context, data json.RawMessage) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return map[string]any{"ok": true}, nil
	})

	var in bytes.Buffer
	for i := 0; i < 6; i++ {
		require.NoError(t, WriteMessage(&in, map[string]any{"type": "SLOW", "id": i}))
	}

	var out bytes.Buffer
	require.NoError(t, r.Serve(context.Background(), &in, &out))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())

	count := 0
	for {
		if _, err := ReadMessage(&out); err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 6, count)
}

func TestServe_OversizedResponseBecomesError(t *testing.T) {
	r := newTestRelay("")
	r.Handle("BIG", func(ctx context.Context, data json.RawMessage) (any, error) {
		return map[string]any{"blob": strings.Repeat("x", MaxOutgoing)}, nil
	})

	var in bytes.Buffer
	require.NoError(t, WriteMessage(&in, map[string]any{"type": "BIG", "id": "big"}))

	var out bytes.Buffer
	require.NoError(t, r.Serve(context.Background(), &in, &out))

	raw, err := ReadMessage(&out)
	require.NoError(t, err)
	assert.Less(t, len(raw), MaxOutgoing)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m["error"], "too large")
	assert.Equal(t, "big", m["id"])
	assert.NotContains(t, m, "blob")
}
