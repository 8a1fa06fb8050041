package payment

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/daocopilot/cli/internal/telemetry"
	"github.com/pterm/pterm"
)

const maxTimeoutSeconds = 60

// RouteConfig prices a single route.
type RouteConfig struct {
	Price       string // dollar amount, e.g. "$0.001"
	Network     string // e.g. "base-sepolia"
	Description string
}

// Config holds configuration for the payment gate.
type Config struct {
	PayTo       string
	Routes      map[string]RouteConfig // keyed by "METHOD /path"
	Facilitator Facilitator
	Logger      *pterm.Logger
	Metrics     *telemetry.Instruments
}

type route struct {
	method      string
	path        string
	amount      string
	network     Network
	description string
}

// Gate is HTTP middleware that demands an x402 payment for priced routes.
type Gate struct {
	payTo       string
	routes      []route
	facilitator Facilitator
	logger      *pterm.Logger
	metrics     *telemetry.Instruments
}

// NewGate validates cfg and returns a Gate.
func NewGate(cfg Config) (*Gate, error) {
	if err := ValidateAddress(cfg.PayTo); err != nil {
		return nil, fmt.Errorf("pay-to address: %w", err)
	}
	if cfg.Facilitator == nil {
		return nil, fmt.Errorf("facilitator is required")
	}
	g := &Gate{
		payTo:       cfg.PayTo,
		facilitator: cfg.Facilitator,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if g.logger == nil {
		g.logger = &pterm.DefaultLogger
	}
	for key, rc := range cfg.Routes {
		method, path, ok := strings.Cut(strings.TrimSpace(key), " ")
		if !ok || method == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("route %q: expected \"METHOD /path\"", key)
		}
		amount, err := ParsePrice(rc.Price)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", key, err)
		}
		network, err := LookupNetwork(rc.Network)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", key, err)
		}
		g.routes = append(g.routes, route{
			method:      strings.ToUpper(method),
			path:        normalizePath(path),
			amount:      amount,
			network:     network,
			description: rc.Description,
		})
	}
	return g, nil
}

func normalizePath(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	return p
}

func (g *Gate) match(r *http.Request) (route, bool) {
	path := normalizePath(r.URL.Path)
	for _, rt := range g.routes {
		if rt.method == r.Method && rt.path == path {
			return rt, true
		}
	}
	return route{}, false
}

// Requirements builds the payment requirements for a priced request.
func (g *Gate) requirements(rt route, r *http.Request) Requirements {
	return Requirements{
		Scheme:            SchemeExact,
		Network:           rt.network.Name,
		MaxAmountRequired: rt.amount,
		Resource:          resourceURL(r),
		Description:       rt.description,
		MimeType:          "application/json",
		PayTo:             g.payTo,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Asset:             rt.network.Asset,
		Extra: map[string]any{
			"name":    rt.network.AssetName,
			"version": rt.network.Version,
		},
	}
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// Middleware wraps next so that priced routes are only served after the
// facilitator has verified the payment, and are settled before the response
// leaves the server.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := g.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		req := g.requirements(rt, r)

		header := r.Header.Get(HeaderPayment)
		if header == "" {
			g.metrics.RecordPayment(ctx, "required")
			g.paymentRequired(w, req, "X-PAYMENT header is required", "")
			return
		}

		payload, err := DecodePayload(header)
		if err != nil {
			g.metrics.RecordPayment(ctx, "malformed")
			g.paymentRequired(w, req, err.Error(), "")
			return
		}
		if payload.X402Version != X402Version {
			g.metrics.RecordPayment(ctx, "mismatch")
			g.paymentRequired(w, req, fmt.Sprintf("unsupported x402 version %d", payload.X402Version), "")
			return
		}
		if payload.Scheme != req.Scheme || payload.Network != req.Network {
			g.metrics.RecordPayment(ctx, "mismatch")
			g.paymentRequired(w, req, fmt.Sprintf("no matching payment requirements for scheme %q on network %q",
				payload.Scheme, payload.Network), "")
			return
		}

		verified, err := g.facilitator.Verify(ctx, payload, req)
		if err != nil {
			g.logger.Error("payment verification failed", g.logger.Args("path", r.URL.Path, "error", err))
			g.metrics.RecordPayment(ctx, "verify_error")
			g.paymentRequired(w, req, err.Error(), "")
			return
		}
		if !verified.IsValid {
			g.logger.Info("payment rejected", g.logger.Args("path", r.URL.Path, "reason", verified.InvalidReason, "payer", verified.Payer))
			g.metrics.RecordPayment(ctx, "invalid")
			g.paymentRequired(w, req, orDefault(verified.InvalidReason, "payment is invalid"), verified.Payer)
			return
		}

		buf := newBufferedWriter()
		next.ServeHTTP(buf, r)
		if buf.status >= http.StatusBadRequest {
			g.metrics.RecordPayment(ctx, "handler_error")
			buf.flush(w)
			return
		}

		settled, err := g.facilitator.Settle(ctx, payload, req)
		if err != nil {
			g.logger.Error("payment settlement failed", g.logger.Args("path", r.URL.Path, "error", err))
			g.metrics.RecordPayment(ctx, "settle_error")
			g.paymentRequired(w, req, err.Error(), verified.Payer)
			return
		}
		if !settled.Success {
			g.logger.Info("payment settlement rejected", g.logger.Args("path", r.URL.Path, "reason", settled.ErrorReason))
			g.metrics.RecordPayment(ctx, "settle_failed")
			g.paymentRequired(w, req, orDefault(settled.ErrorReason, "settlement failed"), settled.Payer)
			return
		}

		encoded, err := json.Marshal(settled)
		if err == nil {
			buf.Header().Set(HeaderPaymentResponse, base64.StdEncoding.EncodeToString(encoded))
		}
		g.logger.Info("payment settled", g.logger.Args("path", r.URL.Path, "transaction", settled.Transaction, "payer", settled.Payer, "network", settled.Network))
		g.metrics.RecordPayment(ctx, "settled")
		buf.flush(w)
	})
}

func (g *Gate) paymentRequired(w http.ResponseWriter, req Requirements, msg, payer string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(RequiredResponse{
		X402Version: X402Version,
		Error:       msg,
		Accepts:     []Requirements{req},
		Payer:       payer,
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// bufferedWriter holds a handler's response until the payment settles.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body.Bytes())
}
