package formatting

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"axdispatch/internal/dispatcher"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"
	"axdispatch/internal/session"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) Formatter {
	return &YAMLFormatter{
		options: options,
	}
}

// FormatStatus formats a session status as YAML
func (f *YAMLFormatter) FormatStatus(st session.Status) string {
	return f.marshal(st)
}

// FormatMetrics formats the dispatcher metrics as YAML
func (f *YAMLFormatter) FormatMetrics(s dispatcher.Summary) string {
	return f.marshal(s)
}

// FormatHandlers formats the registered handlers as YAML
func (f *YAMLFormatter) FormatHandlers(infos []registry.Info) string {
	return f.marshal(map[string]interface{}{"handlers": nonNil(infos), "count": len(infos)})
}

// FormatNodes formats cached nodes as YAML
func (f *YAMLFormatter) FormatNodes(nodes []nodecache.Info) string {
	return f.marshal(map[string]interface{}{"nodes": nonNil(nodes), "count": len(nodes)})
}

// FormatPresentations formats the presenter history as YAML
func (f *YAMLFormatter) FormatPresentations(items []handlers.Presentation) string {
	return f.marshal(map[string]interface{}{"presentations": nonNil(items), "count": len(items)})
}

func (f *YAMLFormatter) marshal(v interface{}) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %q\n", err.Error())
	}
	return string(out)
}
