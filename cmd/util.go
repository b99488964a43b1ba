// Package cmd provides CLI commands for the mailroute tool.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/pkg/extraction"
	"github.com/mailroute/mailroute/pkg/logging"
)

// Output format names accepted by the --output flag.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// buildRelay constructs the extraction relay with the configured call
// timeout applied.
func buildRelay(cfg config.ExtractionConfig, logger logging.Logger) *extraction.Relay {
	opts := []extraction.Option{extraction.WithLogger(logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, extraction.WithTimeout(cfg.Timeout))
	}
	return extraction.NewRelay(cfg.ServiceURL, opts...)
}

// printFormatted renders v as JSON or YAML. Text rendering is per command.
func printFormatted(format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling yaml: %w", err)
		}
		fmt.Print(string(data))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %q (must be text, json, or yaml)", format)
	}
}
