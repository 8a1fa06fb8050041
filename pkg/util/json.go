package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PrintPrettyJSON prints v to stdout as indented JSON.
func PrintPrettyJSON(v any) error {
	return WritePrettyJSON(os.Stdout, v)
}

// WritePrettyJSON writes v to w as indented JSON followed by a newline.
func WritePrettyJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintYAML prints v to stdout as YAML.
func PrintYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// PrintStructured prints v in the named output format. An empty format is
// not handled here; callers render their own table output for it.
func PrintStructured(format string, v any) error {
	switch format {
	case "json":
		return PrintPrettyJSON(v)
	case "yaml":
		return PrintYAML(v)
	default:
		return fmt.Errorf("unsupported --output value %q: use 'json' or 'yaml'", format)
	}
}

// ValidateOutput rejects output formats other than "", json and yaml.
func ValidateOutput(format string) error {
	switch format {
	case "", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported --output value %q: use 'json' or 'yaml'", format)
}
