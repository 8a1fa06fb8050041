package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultFacilitatorURL is used when FACILITATOR_URL is unset.
const DefaultFacilitatorURL = "https://facilitator.x402.org"

const (
	facilitatorTimeout    = 10 * time.Second
	facilitatorMaxElapsed = 15 * time.Second
)

// Facilitator verifies and settles payments on the gate's behalf.
type Facilitator interface {
	Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error)
	Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error)
}

// FacilitatorClient is a Facilitator reached over HTTP.
type FacilitatorClient struct {
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(f *FacilitatorClient) { f.httpClient = c }
}

// WithBackOff sets the retry policy for transient failures. newBackOff is
// called once per request since BackOff values are stateful.
func WithBackOff(newBackOff func() backoff.BackOff) FacilitatorOption {
	return func(f *FacilitatorClient) { f.newBackOff = newBackOff }
}

// NewFacilitatorClient returns a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) *FacilitatorClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultFacilitatorURL
	}
	f := &FacilitatorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: facilitatorTimeout},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = facilitatorMaxElapsed
			return bo
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Verify asks the facilitator whether p satisfies req without moving funds.
func (f *FacilitatorClient) Verify(ctx context.Context, p *Payload, req Requirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := f.call(ctx, "/verify", p, req, &out); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return &out, nil
}

// Settle submits p on chain.
func (f *FacilitatorClient) Settle(ctx context.Context, p *Payload, req Requirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := f.call(ctx, "/settle", p, req, &out); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	return &out, nil
}

// statusError is a non-2xx facilitator reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("facilitator returned %d %s", e.code, http.StatusText(e.code))
	}
	return fmt.Sprintf("facilitator returned %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func (f *FacilitatorClient) call(ctx context.Context, path string, p *Payload, req Requirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      p,
		PaymentRequirements: req,
	})
	if err != nil {
		return err
	}

	op := func() error {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Content-Type", "application/json")

		resp, err := f.httpClient.Do(r)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
			if serr.retryable() {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid facilitator response: %w", err))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(f.newBackOff(), ctx))
}
