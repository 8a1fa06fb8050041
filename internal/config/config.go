// Package config resolves copilot settings from the environment, an
// optional .env file, and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultPort           = "4000"
	DefaultFacilitatorURL = "https://facilitator.x402.org"
	DefaultNetwork        = "base-sepolia"
	DefaultPrice          = "$0.001"
	DefaultLocalRAGURL    = "http://127.0.0.1:9000"
	DefaultServiceURL     = "http://localhost:4000"
)

// Config is the resolved configuration shared by all commands.
type Config struct {
	Port           string
	PayTo          string
	FacilitatorURL string
	Network        string
	Price          string
	LocalRAGURL    string
	ServiceURL     string
	AnalysisDelay  time.Duration
}

// LoadEnvFiles loads each existing file into the process environment
// without overriding variables that are already set. Missing files are
// skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from getenv (os.Getenv in production).
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	c := &Config{
		Port:           get("PORT", DefaultPort),
		PayTo:          get("PAY_TO_ADDRESS", ""),
		FacilitatorURL: get("FACILITATOR_URL", DefaultFacilitatorURL),
		Network:        get("PAYMENT_NETWORK", DefaultNetwork),
		Price:          get("PAYMENT_PRICE", DefaultPrice),
		LocalRAGURL:    get("LOCAL_RAG_URL", ""),
		ServiceURL:     get("COPILOT_SERVICE_URL", DefaultServiceURL),
	}

	if raw := get("ANALYSIS_DELAY", ""); raw != "" {
		d, err := parseDelay(raw)
		if err != nil {
			return nil, fmt.Errorf("ANALYSIS_DELAY: %w", err)
		}
		c.AnalysisDelay = d
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("PORT: %q is not a number", c.Port)
	}
	return c, nil
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	return FromEnv(os.Getenv)
}

// parseDelay accepts Go durations ("500ms") or bare milliseconds ("500").
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// flagBindings maps flag names onto Config fields.
func (c *Config) flagBindings() map[string]*string {
	return map[string]*string{
		"port":            &c.Port,
		"pay-to":          &c.PayTo,
		"facilitator-url": &c.FacilitatorURL,
		"network":         &c.Network,
		"price":           &c.Price,
		"rag-url":         &c.LocalRAGURL,
		"service-url":     &c.ServiceURL,
		"server":          &c.ServiceURL,
	}
}

// ApplyFlags overrides fields with flags the user set explicitly. Flags
// left at their defaults never shadow the environment.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) error {
	bindings := c.flagBindings()
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if f.Name == "delay" {
			var d time.Duration
			d, err = parseDelay(f.Value.String())
			if err == nil {
				c.AnalysisDelay = d
			}
			return
		}
		if dst, ok := bindings[f.Name]; ok {
			*dst = f.Value.String()
		}
	})
	return err
}

// Addr is the listen address for the service.
func (c *Config) Addr() string {
	return ":" + c.Port
}
