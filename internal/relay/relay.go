// Package relay is the native messaging host behind the browser extension.
// The extension's background worker forwards fetches and analysis requests
// here so they run outside the page and its content blockers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// Message types understood by the relay.
const (
	TypeBackgroundFetch = "BACKGROUND_FETCH"
	TypeAnalyzeProposal = "ANALYZE_PROPOSAL"
	TypePaymentRequired = "PAYMENT_REQUIRED"
)

const defaultConcurrency = 8

// Message is one request from the extension.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// Handler answers one message type. The returned value is marshalled as the
// response; an error becomes {"error": ...}.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Relay dispatches native messages to handlers.
type Relay struct {
	handlers    map[string]Handler
	logger      *pterm.Logger
	concurrency int

	writeMu sync.Mutex
}

// Config holds configuration for the relay.
type Config struct {
	// ServiceURL is the base URL of the analysis service.
	ServiceURL  string
	HTTPClient  *http.Client
	Logger      *pterm.Logger
	Concurrency int
}

// New returns a relay with the standard handlers registered.
func New(cfg Config) *Relay {
	r := &Relay{
		handlers:    make(map[string]Handler),
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
	if r.logger == nil {
		r.logger = &pterm.DefaultLogger
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	fetcher := &fetcher{client: client}
	analyzer := &serviceForwarder{client: client, serviceURL: cfg.ServiceURL}

	r.Handle(TypeBackgroundFetch, fetcher.handle)
	r.Handle(TypeAnalyzeProposal, analyzer.handle)
	r.Handle(TypePaymentRequired, handlePaymentRequired)
	return r
}

// Handle registers h for messages of type t, replacing any existing handler.
func (r *Relay) Handle(t string, h Handler) {
	r.handlers[t] = h
}

// Dispatch runs the handler for msg and returns the response envelope.
func (r *Relay) Dispatch(ctx context.Context, msg Message) map[string]any {
	r.logger.Info("received message", r.logger.Args("type", msg.Type))

	var resp map[string]any
	h, ok := r.handlers[msg.Type]
	if !ok {
		resp = map[string]any{"error": fmt.Sprintf("unknown message type: %s", msg.Type)}
	} else {
		out, err := h(ctx, msg.Data)
		resp = toEnvelope(out, err)
		if err != nil {
			r.logger.Error("message failed", r.logger.Args("type", msg.Type, "error", err))
		}
	}
	if len(msg.ID) > 0 {
		resp["id"] = msg.ID
	}
	return resp
}

// toEnvelope flattens a handler result into a JSON object.
func toEnvelope(out any, err error) map[string]any {
	if err != nil {
		var fe *fetchError
		if errors.As(err, &fe) {
			return map[string]any{"error": fe.Error(), "status": http.StatusInternalServerError}
		}
		return map[string]any{"error": err.Error()}
	}
	if m, ok := out.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"result": out}
	}
	return m
}

// Serve reads messages from in until EOF or ctx is done and writes
// responses to out. Messages are handled concurrently; responses may be
// written out of order and carry the request's id.
func (r *Relay) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var readErr error
	for {
		if gctx.Err() != nil {
			break
		}
		raw, err := ReadMessage(in)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("dropping malformed message", r.logger.Args("error", err))
			if werr := r.write(out, map[string]any{"error": fmt.Sprintf("invalid message: %v", err)}); werr != nil {
				readErr = werr
				break
			}
			continue
		}

		g.Go(func() error {
			return r.write(out, r.Dispatch(gctx, msg))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

func (r *Relay) write(out io.Writer, v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	err := WriteMessage(out, v)
	if errors.Is(err, ErrMessageTooLarge) {
		r.logger.Warn("response exceeds native messaging limit", r.logger.Args("error", err))
		resp := map[string]any{"error": err.Error()}
		if m, ok := v.(map[string]any); ok && m["id"] != nil {
			resp["id"] = m["id"]
		}
		return WriteMessage(out, resp)
	}
	return err
}
