package formatting

import (
	"axdispatch/internal/dispatcher"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"
	"axdispatch/internal/session"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) Formatter {
	return &JSONFormatter{
		options: options,
	}
}

// FormatStatus formats a session status as JSON
func (f *JSONFormatter) FormatStatus(st session.Status) string {
	return PrettyJSON(st)
}

// FormatMetrics formats the dispatcher metrics as JSON
func (f *JSONFormatter) FormatMetrics(s dispatcher.Summary) string {
	return PrettyJSON(s)
}

// FormatHandlers formats the registered handlers as JSON
func (f *JSONFormatter) FormatHandlers(infos []registry.Info) string {
	return PrettyJSON(map[string]interface{}{"handlers": nonNil(infos), "count": len(infos)})
}

// FormatNodes formats cached nodes as JSON
func (f *JSONFormatter) FormatNodes(nodes []nodecache.Info) string {
	return PrettyJSON(map[string]interface{}{"nodes": nonNil(nodes), "count": len(nodes)})
}

// FormatPresentations formats the presenter history as JSON
func (f *JSONFormatter) FormatPresentations(items []handlers.Presentation) string {
	return PrettyJSON(map[string]interface{}{"presentations": nonNil(items), "count": len(items)})
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
