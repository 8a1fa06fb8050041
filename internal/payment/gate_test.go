package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayTo = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type FakeFacilitator struct {
	VerifyFunc func(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error)
	SettleFunc func(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error)

	settled int
}

func (f *FakeFacilitator) Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, p, req)
	}
	return &VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (f *FakeFacilitator) Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error) {
	f.settled++
	if f.SettleFunc != nil {
		return f.SettleFunc(ctx, p, req)
	}
	return &SettleResponse{Success: true, Transaction: "0xtx", Network: req.Network, Payer: "0xpayer"}, nil
}

func newTestGate(t *testing.T, f Facilitator) *Gate {
	t.Helper()
	g, err := NewGate(Config{
		PayTo: testPayTo,
		Routes: map[string]RouteConfig{
			"POST /api/analyze-proposal": {Price: "$0.001", Network: "base-sepolia", Description: "Proposal analysis"},
		},
		Facilitator: f,
	})
	require.NoError(t, err)
	return g
}

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"recommendation":"YES"}`))
	})
}

func paymentHeader(t *testing.T, scheme, network string) string {
	t.Helper()
	h, err := EncodePayload(Payload{
		X402Version: 1,
		Scheme:      scheme,
		Network:     network,
		Payload:     json.RawMessage(`{"signature":"0xsig"}`),
	})
	require.NoError(t, err)
	return h
}

func decodeRequired(t *testing.T, rec *httptest.ResponseRecorder) RequiredResponse {
	t.Helper()
	var body RequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGate_UnpricedRoutesPassThrough(t *testing.T) {
	g := newTestGate(t, &FakeFacilitator{})
	rec := httptest.NewRecorder()
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyze-proposal", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_MissingHeader(t *testing.T) {
	g := newTestGate(t, &FakeFacilitator{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://copilot.local/api/analyze-proposal", strings.NewReader("{}"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeRequired(t, rec)
	assert.Equal(t, 1, body.X402Version)
	assert.Equal(t, "X-PAYMENT header is required", body.Error)
	require.Len(t, body.Accepts, 1)

	acc := body.Accepts[0]
	assert.Equal(t, "exact", acc.Scheme)
	assert.Equal(t, "base-sepolia", acc.Network)
	assert.Equal(t, "1000", acc.MaxAmountRequired)
	assert.Equal(t, "http://copilot.local/api/analyze-proposal", acc.Resource)
	assert.Equal(t, testPayTo, acc.PayTo)
	assert.Equal(t, 60, acc.MaxTimeoutSeconds)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", acc.Asset)
	assert.Equal(t, "USDC", acc.Extra["name"])
}

func TestGate_MalformedHeader(t *testing.T) {
	g := newTestGate(t, &FakeFacilitator{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, "!!!not-base64")
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, decodeRequired(t, rec).Error, "invalid payment header encoding")
}

func TestGate_NetworkMismatch(t *testing.T) {
	g := newTestGate(t, &FakeFacilitator{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, decodeRequired(t, rec).Error, "no matching payment requirements")
}

func TestGate_InvalidPayment(t *testing.T) {
	f := &FakeFacilitator{
		VerifyFunc: func(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
			return &VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds", Payer: "0xpoor"}, nil
		},
	}
	g := newTestGate(t, f)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base-sepolia"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeRequired(t, rec)
	assert.Equal(t, "insufficient_funds", body.Error)
	assert.Equal(t, "0xpoor", body.Payer)
	assert.Zero(t, f.settled)
}

func TestGate_VerifyError(t *testing.T) {
	f := &FakeFacilitator{
		VerifyFunc: func(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
			return nil, errors.New("verify: connection refused")
		},
	}
	g := newTestGate(t, f)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base-sepolia"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "verify: connection refused", decodeRequired(t, rec).Error)
}

func TestGate_SettlesSuccessfulResponses(t *testing.T) {
	f := &FakeFacilitator{}
	g := newTestGate(t, f)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal/", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base-sepolia"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recommendation":"YES"}`, rec.Body.String())
	assert.Equal(t, 1, f.settled)

	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get(HeaderPaymentResponse))
	require.NoError(t, err)
	var settled SettleResponse
	require.NoError(t, json.Unmarshal(raw, &settled))
	assert.True(t, settled.Success)
	assert.Equal(t, "0xtx", settled.Transaction)
	assert.Equal(t, "base-sepolia", settled.Network)
}

func TestGate_HandlerErrorSkipsSettlement(t *testing.T) {
	f := &FakeFacilitator{}
	g := newTestGate(t, f)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base-sepolia"))
	g.Middleware(okHandler(http.StatusBadRequest)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.settled)
	assert.Empty(t, rec.Header().Get(HeaderPaymentResponse))
}

func TestGate_SettlementFailure(t *testing.T) {
	f := &FakeFacilitator{
		SettleFunc: func(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error) {
			return &SettleResponse{Success: false, ErrorReason: "invalid_transaction_state"}, nil
		},
	}
	g := newTestGate(t, f)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-proposal", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "exact", "base-sepolia"))
	g.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "invalid_transaction_state", decodeRequired(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "recommendation")
}

func TestNewGate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		errMsg string
	}{
		{
			name:   "bad address",
			cfg:    Config{PayTo: "0x123", Facilitator: &FakeFacilitator{}},
			errMsg: "pay-to address",
		},
		{
			name:   "missing facilitator",
			cfg:    Config{PayTo: testPayTo},
			errMsg: "facilitator is required",
		},
		{
			name: "bad route key",
			cfg: Config{PayTo: testPayTo, Facilitator: &FakeFacilitator{},
				Routes: map[string]RouteConfig{"/api": {Price: "$1", Network: "base"}}},
			errMsg: "expected \"METHOD /path\"",
		},
		{
			name: "bad price",
			cfg: Config{PayTo: testPayTo, Facilitator: &FakeFacilitator{},
				Routes: map[string]RouteConfig{"POST /api": {Price: "free", Network: "base"}}},
			errMsg: "invalid price",
		},
		{
			name: "unknown network",
			cfg: Config{PayTo: testPayTo, Facilitator: &FakeFacilitator{},
				Routes: map[string]RouteConfig{"POST /api": {Price: "$1", Network: "mainnet"}}},
			errMsg: "unknown network",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(tt.cfg)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestDecodePayload_URLAlphabet(t *testing.T) {
	raw := `{"x402Version":1,"scheme":"exact","network":"base","payload":{"a":"?>"}}`
	p, err := DecodePayload(base64.URLEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	assert.Equal(t, "base", p.Network)
}
