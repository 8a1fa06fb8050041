// Package update checks GitHub for newer copilot releases and works out how
// the running binary was installed.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ReleasesURL is the GitHub API endpoint for the latest release.
var ReleasesURL = "https://api.github.com/repos/daocopilot/cli/releases/latest"

// InstallMethod is how the binary on disk got there.
type InstallMethod string

const (
	InstallMethodBrew    InstallMethod = "brew"
	InstallMethodGo      InstallMethod = "go"
	InstallMethodUnknown InstallMethod = "unknown"
)

type installRule struct {
	method InstallMethod
	check  func(path string) bool
}

func installMethodRules() []installRule {
	return []installRule{
		{InstallMethodGo, pathMatchesGoInstall},
		{InstallMethodBrew, pathMatchesHomebrew},
	}
}

func pathMatchesGoInstall(path string) bool {
	p := filepath.ToSlash(path)
	if gobin := os.Getenv("GOBIN"); gobin != "" && strings.HasPrefix(p, filepath.ToSlash(gobin)+"/") {
		return true
	}
	return strings.Contains(p, "/go/bin/")
}

func pathMatchesHomebrew(path string) bool {
	p := filepath.ToSlash(path)
	return strings.HasPrefix(p, "/opt/homebrew/") ||
		strings.Contains(p, "/Cellar/") ||
		strings.Contains(p, "/.linuxbrew/")
}

// DetectInstallMethod inspects the resolved executable path.
func DetectInstallMethod() (InstallMethod, string) {
	exe, err := os.Executable()
	if err != nil {
		return InstallMethodUnknown, ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	for _, r := range installMethodRules() {
		if r.check(exe) {
			return r.method, exe
		}
	}
	return InstallMethodUnknown, exe
}

// UpgradeCommand is the shell command that upgrades an installation.
func UpgradeCommand(method InstallMethod) []string {
	switch method {
	case InstallMethodBrew:
		return []string{"brew", "upgrade", "daocopilot/tap/copilot"}
	case InstallMethodGo:
		return []string{"go", "install", "github.com/daocopilot/cli@latest"}
	default:
		return nil
	}
}

// SuggestUpgradeCommand is the command shown to users; unknown
// installs get the Homebrew suggestion.
func SuggestUpgradeCommand(method InstallMethod) string {
	if cmd := UpgradeCommand(method); cmd != nil {
		return strings.Join(cmd, " ")
	}
	return strings.Join(UpgradeCommand(InstallMethodBrew), " ")
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// FetchLatest returns the latest release tag and its release page URL.
func FetchLatest(ctx context.Context) (tag, url string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("release lookup failed: %s", resp.Status)
	}
	var r release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", "", fmt.Errorf("invalid release response: %w", err)
	}
	if r.TagName == "" {
		return "", "", fmt.Errorf("release response has no tag")
	}
	return r.TagName, r.HTMLURL, nil
}

// IsNewerVersion reports whether latest is a higher semver than current.
func IsNewerVersion(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid current version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, fmt.Errorf("invalid latest version %q: %w", latest, err)
	}
	return lat.GreaterThan(cur), nil
}
