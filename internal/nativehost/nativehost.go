// Package nativehost installs the Chrome native messaging manifest that lets
// the browser extension launch `copilot relay`.
package nativehost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const (
	// HostName is the native messaging host name the extension connects to.
	HostName = "com.daocopilot.relay"

	// LauncherName is the script Chrome executes. Chrome passes the caller
	// origin as an argument, so the manifest cannot point at `copilot relay`
	// directly.
	LauncherName = "copilot-relay"

	hostDescription = "DAO Governance Co-Pilot relay"
)

var extensionIDPattern = regexp.MustCompile(`^[a-p]{32}$`)

// ErrUnsupportedOS is returned where manifests need registry entries or the
// browser layout is unknown.
var ErrUnsupportedOS = errors.New("native messaging install is not supported on this OS")

// Manifest is the JSON document Chrome reads from NativeMessagingHosts.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NewManifest builds a stdio manifest for the launcher, allowing each
// extension ID.
func NewManifest(launcherPath string, extensionIDs []string) (Manifest, error) {
	if !filepath.IsAbs(launcherPath) {
		return Manifest{}, fmt.Errorf("launcher path must be absolute: %s", launcherPath)
	}
	if len(extensionIDs) == 0 {
		return Manifest{}, errors.New("at least one extension ID is required")
	}
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		id = strings.TrimSpace(id)
		if !extensionIDPattern.MatchString(id) {
			return Manifest{}, fmt.Errorf("invalid extension ID %q", id)
		}
		origins = append(origins, "chrome-extension://"+id+"/")
	}
	return Manifest{
		Name:           HostName,
		Description:    hostDescription,
		Path:           launcherPath,
		Type:           "stdio",
		AllowedOrigins: origins,
	}, nil
}

// ManifestDir returns the per-user NativeMessagingHosts directory for
// browser ("chrome" or "chromium").
func ManifestDir(browser string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	var base string
	switch runtime.GOOS {
	case "darwin":
		switch browser {
		case "chrome", "":
			base = filepath.Join(homeDir, "Library", "Application Support", "Google", "Chrome")
		case "chromium":
			base = filepath.Join(homeDir, "Library", "Application Support", "Chromium")
		default:
			return "", fmt.Errorf("unsupported browser %q", browser)
		}
	case "linux":
		switch browser {
		case "chrome", "":
			base = filepath.Join(homeDir, ".config", "google-chrome")
		case "chromium":
			base = filepath.Join(homeDir, ".config", "chromium")
		default:
			return "", fmt.Errorf("unsupported browser %q", browser)
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOS, runtime.GOOS)
	}
	return filepath.Join(base, "NativeMessagingHosts"), nil
}

// Installation records what Install wrote.
type Installation struct {
	ManifestPath string
	LauncherPath string
	Manifest     Manifest
}

// Install writes the launcher script and manifest into dir. exe is the
// copilot binary the launcher runs.
func Install(dir, exe string, extensionIDs []string) (*Installation, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	launcher := filepath.Join(absDir, LauncherName)
	m, err := NewManifest(launcher, extensionIDs)
	if err != nil {
		return nil, err
	}

	script := fmt.Sprintf("#!/bin/sh\nexec %s relay \"$@\"\n", shellQuote(exe))
	if err := os.WriteFile(launcher, []byte(script), 0o755); err != nil {
		return nil, fmt.Errorf("failed to write launcher: %w", err)
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(absDir, HostName+".json")
	if err := os.WriteFile(manifestPath, append(raw, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return &Installation{ManifestPath: manifestPath, LauncherPath: launcher, Manifest: m}, nil
}

// Uninstall removes the manifest and launcher from dir. Missing files are
// not an error.
func Uninstall(dir string) error {
	for _, name := range []string{HostName + ".json", LauncherName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
