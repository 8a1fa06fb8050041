package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/daocopilot/cli/internal/analysis"
	"github.com/daocopilot/cli/internal/payment"
)

// FetchRequest is the data of a BACKGROUND_FETCH message.
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body,omitempty"`
}

// FetchResponse mirrors the parts of a fetch Response the extension reads.
type FetchResponse struct {
	OK         bool              `json:"ok"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       any               `json:"data"`
}

// fetchError marks failures that are reported with a 500 status alongside
// the error text.
type fetchError struct{ err error }

func (e *fetchError) Error() string { return "Fetch failed: " + e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

type fetcher struct {
	client *http.Client
}

func (f *fetcher) handle(ctx context.Context, data json.RawMessage) (any, error) {
	var in FetchRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, &fetchError{fmt.Errorf("invalid request: %w", err)}
	}
	if in.URL == "" {
		return nil, &fetchError{errors.New("url is required")}
	}
	resp, err := f.fetch(ctx, in)
	if err != nil {
		return nil, &fetchError{err}
	}
	return resp, nil
}

func (f *fetcher) fetch(ctx context.Context, in FetchRequest) (*FetchResponse, error) {
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if in.Body != nil {
		body = strings.NewReader(*in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(resp.Header.Values(k), ", ")
	}

	out := &FetchResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Data:       string(raw),
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON response: %w", err)
		}
		out.Data = parsed
	}
	return out, nil
}

// AnalyzeRequest is the data of an ANALYZE_PROPOSAL message.
type AnalyzeRequest struct {
	analysis.Request
	// Payment is a ready X-PAYMENT header value produced by the wallet.
	Payment string `json:"payment,omitempty"`
}

type serviceForwarder struct {
	client     *http.Client
	serviceURL string
}

func (s *serviceForwarder) handle(ctx context.Context, data json.RawMessage) (any, error) {
	var in AnalyzeRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if strings.TrimSpace(in.ProposalText) == "" {
		return nil, errors.New("proposalText is required")
	}
	if s.serviceURL == "" {
		return nil, errors.New("service URL is not configured")
	}

	body, err := json.Marshal(in.Request)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.serviceURL, "/")+"/api/analyze-proposal", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if in.Payment != "" {
		req.Header.Set(payment.HeaderPayment, in.Payment)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result analysis.ProposalAnalysis
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("invalid analysis response: %w", err)
		}
		out := map[string]any{"success": true, "analysis": result}
		if settled := resp.Header.Get(payment.HeaderPaymentResponse); settled != "" {
			out["paymentResponse"] = settled
		}
		return out, nil
	case http.StatusPaymentRequired:
		var required payment.RequiredResponse
		if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
			return nil, fmt.Errorf("invalid payment-required response: %w", err)
		}
		return map[string]any{"success": false, "paymentRequired": required}, nil
	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, e.Error)
	}
}

// handlePaymentRequired picks the requirement the extension's wallet should
// sign from a 402 body.
func handlePaymentRequired(ctx context.Context, data json.RawMessage) (any, error) {
	var in payment.RequiredResponse
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("invalid payment requirements: %w", err)
	}
	if in.X402Version != 0 && in.X402Version != payment.X402Version {
		return nil, fmt.Errorf("unsupported x402 version %d", in.X402Version)
	}
	for _, req := range in.Accepts {
		if req.Scheme != payment.SchemeExact {
			continue
		}
		if _, err := payment.LookupNetwork(req.Network); err != nil {
			continue
		}
		return map[string]any{"success": true, "requirement": req}, nil
	}
	return nil, errors.New("no supported payment requirement offered")
}
