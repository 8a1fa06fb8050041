package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "6000")
	t.Setenv("PAYMENT_NETWORK", "base")

	c := &cobra.Command{}
	c.Flags().String("port", "4000", "")
	c.Flags().String("network", "base-sepolia", "")

	cfg, err := loadConfig(c)
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.Port)
	assert.Equal(t, "base", cfg.Network)

	require.NoError(t, c.Flags().Set("port", "5000"))
	cfg, err = loadConfig(c)
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "base", cfg.Network)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, true, "json")
	l.Debug("hello", l.Args("k", "v"))
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), `"k"`)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestGenCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, genCompletion(Root(), shell, &buf, true))
			assert.Contains(t, buf.String(), "copilot")
		})
	}

	var buf bytes.Buffer
	err := genCompletion(Root(), "tcsh", &buf, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bash fish powershell zsh")
}

func TestCompletionShells(t *testing.T) {
	assert.Equal(t, []string{"bash", "fish", "powershell", "zsh"}, completionShells())
	assert.Equal(t, completionShells(), completionCmd.ValidArgs)
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Root().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "analyze", "health", "relay", "rag", "upgrade", "completion"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestVersionInfo(t *testing.T) {
	origVersion, origDate := Version, Date
	t.Cleanup(func() { Version, Date = origVersion, origDate })

	Version, Date = "1.2.0", "unknown"
	assert.Equal(t, "1.2.0", VersionInfo())

	Date = "2026-10-01T12:00:00Z"
	assert.Equal(t, "1.2.0 (built 2026-10-01T12:00:00Z)", VersionInfo())
}
