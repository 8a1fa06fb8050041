package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version this gate speaks.
const X402Version = 1

// SchemeExact is the only payment scheme the gate offers.
const SchemeExact = "exact"

const (
	// HeaderPayment carries the client's base64 PaymentPayload.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64 SettleResponse after success.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// Requirements tells a client how to pay for a resource.
type Requirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             map[string]any  `json:"extra,omitempty"`
}

// RequiredResponse is the body of a 402 reply.
type RequiredResponse struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error"`
	Accepts     []Requirements `json:"accepts"`
	Payer       string         `json:"payer,omitempty"`
}

// Payload is the decoded X-PAYMENT header. The scheme-specific part is
// passed through to the facilitator untouched.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// DecodePayload parses a base64 (standard or URL alphabet) X-PAYMENT header.
func DecodePayload(header string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(header)
		if err != nil {
			return nil, fmt.Errorf("invalid payment header encoding: %w", err)
		}
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid payment header JSON: %w", err)
	}
	return &p, nil
}

// EncodePayload is the inverse of DecodePayload, used by clients and tests.
func EncodePayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// facilitatorRequest is the body of both /verify and /settle.
type facilitatorRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentPayload      *Payload     `json:"paymentPayload"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

// DecodeSettleResponse parses an X-PAYMENT-RESPONSE header.
func DecodeSettleResponse(header string) (*SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment response encoding: %w", err)
	}
	var s SettleResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid payment response JSON: %w", err)
	}
	return &s, nil
}
