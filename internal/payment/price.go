// Package payment gates HTTP routes behind x402 micropayments settled through
// a remote facilitator.
package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimal places of the USDC token.
const USDCDecimals = 6

var (
	ErrInvalidPrice   = errors.New("invalid price")
	ErrUnknownNetwork = errors.New("unknown network")
	ErrInvalidAddress = errors.New("invalid address")
)

// Network describes where payments settle and in which asset.
type Network struct {
	Name      string
	Asset     string
	AssetName string
	Version   string
}

var networks = map[string]Network{
	"base-sepolia": {Name: "base-sepolia", Asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", AssetName: "USDC", Version: "2"},
	"base":         {Name: "base", Asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", AssetName: "USDC", Version: "2"},
}

// LookupNetwork returns the USDC settlement details for name.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return n, nil
}

// ParsePrice converts a dollar amount such as "$0.001" into USDC atomic
// units ("1000"). The dollar sign is optional.
func ParsePrice(price string) (string, error) {
	s := strings.TrimPrefix(strings.TrimSpace(price), "$")
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPrice)
	}

	// Plain decimal notation only.
	if strings.ContainsAny(s, "eE") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: %q must be greater than zero", ErrInvalidPrice, price)
	}

	atomic := d.Shift(USDCDecimals)
	if !atomic.IsInteger() {
		return "", fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidPrice, price, USDCDecimals)
	}
	return atomic.BigInt().String(), nil
}
