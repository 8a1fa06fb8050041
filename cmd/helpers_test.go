package cmd

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"
)

// outBuf collects everything pterm printed during a test.
var outBuf bytes.Buffer

var stdoutFile *os.File

// setupStdoutCapture redirects pterm output, including the prefix printers
// and tables, and os.Stdout for the test and silences the structured logger.
func setupStdoutCapture(t *testing.T) {
	t.Helper()
	outBuf.Reset()

	f, err := os.CreateTemp(t.TempDir(), "stdout")
	require.NoError(t, err)

	origStdout := os.Stdout
	origLogger := logger
	os.Stdout = f
	stdoutFile = f
	logger = newLogger(io.Discard, false, "text")
	pterm.SetDefaultOutput(&outBuf)
	pterm.DisableStyling()

	printers := []*pterm.PrefixPrinter{&pterm.Info, &pterm.Success, &pterm.Warning, &pterm.Error}
	origWriters := make([]io.Writer, len(printers))
	for i, p := range printers {
		origWriters[i] = p.Writer
		p.Writer = &outBuf
	}
	origTableWriter := pterm.DefaultTable.Writer
	pterm.DefaultTable.Writer = &outBuf

	t.Cleanup(func() {
		os.Stdout = origStdout
		logger = origLogger
		pterm.SetDefaultOutput(origStdout)
		for i, p := range printers {
			p.Writer = origWriters[i]
		}
		pterm.DefaultTable.Writer = origTableWriter
		pterm.EnableStyling()
		_ = f.Close()
	})
}

// capturedOutput returns pterm output followed by anything written to
// os.Stdout directly.
func capturedOutput(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(stdoutFile.Name())
	require.NoError(t, err)
	return outBuf.String() + string(raw)
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
