// Package formatting renders engine snapshots for the console and the
// command line in one of several output formats (table, JSON, YAML).
package formatting

import (
	"fmt"

	"axdispatch/internal/dispatcher"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"
	"axdispatch/internal/session"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseFormat converts a format name into an OutputFormat. The empty string
// selects the table format.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Color  bool // Enable colored output
}

// Formatter renders the views exposed by a session.
type Formatter interface {
	FormatStatus(st session.Status) string
	FormatMetrics(s dispatcher.Summary) string
	FormatHandlers(infos []registry.Info) string
	FormatNodes(nodes []nodecache.Info) string
	FormatPresentations(items []handlers.Presentation) string
}

// New creates the formatter for options.Format.
func New(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	default:
		return NewTableFormatter(options)
	}
}
