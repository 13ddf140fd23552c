package formatting

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"axdispatch/internal/api"
	"axdispatch/internal/dispatcher"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"
	"axdispatch/internal/session"
	textutil "axdispatch/pkg/strings"
)

const maxCellWidth = textutil.DefaultMaxLen

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) Formatter {
	return &TableFormatter{
		options: options,
	}
}

// FormatStatus renders the session status as key-value pairs
func (f *TableFormatter) FormatStatus(st session.Status) string {
	t := f.createTable("KEY", "VALUE")

	state := f.paint(text.FgRed, "stopped")
	if st.Running {
		state = f.paint(text.FgGreen, "running")
	}
	active := st.Active.State
	if st.Active.Handler != "" {
		active = fmt.Sprintf("%s (%s, %s)", st.Active.Handler, st.Active.App, st.Active.Reason)
	}

	rows := [][2]interface{}{
		{"Session", st.ID},
		{"State", state},
		{"Mode", st.Mode},
		{"Uptime", uptime(st.StartedAt)},
		{"Handlers", st.Handlers},
		{"Active", active},
		{"Handler switches", st.Active.Switches},
		{"Queue", fmt.Sprintf("%d queued, high water %d", st.Queue.Len, st.Queue.HighWater)},
		{"Enqueued", st.Queue.Enqueued},
		{"Processed", st.Queue.Processed},
		{"Filtered", st.Queue.Filtered},
		{"Overflowed", st.Queue.Overflowed},
		{"Cached nodes", st.Cache.Nodes},
		{"Cache hits/misses", fmt.Sprintf("%d/%d", st.Cache.Hits, st.Cache.Misses)},
		{"Remote failures", st.Cache.Failures},
	}
	for _, r := range rows {
		t.AppendRow(table.Row{f.paint(text.FgHiCyan, fmt.Sprint(r[0])), r[1]})
	}
	return t.Render() + "\n"
}

// FormatMetrics renders the totals followed by one row per event type
func (f *TableFormatter) FormatMetrics(s dispatcher.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s dispatched %d, delivered %d, succeeded %d, retried %d, exhausted %d, failed %d (failure rate %.1f%%)\n",
		f.paint(text.FgHiBlue, "Totals:"),
		s.TotalDispatched, s.TotalDelivered, s.TotalSucceeded, s.TotalRetried,
		s.TotalExhausted, s.TotalFailed, s.FailureRate*100)
	fmt.Fprintf(&b, "%s run %d, failed %d\n", f.paint(text.FgHiBlue, "Tasks:"), s.TasksRun, s.TasksFailed)

	if len(s.PerEventType) == 0 {
		b.WriteString(f.formatEmptyMessage("No events dispatched yet"))
		return b.String()
	}

	t := f.createTable("EVENT TYPE", "DISPATCHED", "DELIVERED", "OK", "RETRIED", "EXHAUSTED", "FAILED", "FILTERED", "SKIPPED")
	for _, v := range s.PerEventType {
		failed := fmt.Sprint(v.Failed)
		if v.Failed > 0 {
			failed = f.paint(text.FgRed, failed)
		}
		t.AppendRow(table.Row{
			v.EventType, v.Dispatched, v.Delivered, v.Succeeded, v.Retried,
			v.Exhausted, failed, v.Filtered, v.Skipped,
		})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// FormatHandlers renders one row per live handler, fallback last
func (f *TableFormatter) FormatHandlers(infos []registry.Info) string {
	if len(infos) == 0 {
		return f.formatEmptyMessage("No handlers")
	}
	t := f.createTable("APPLICATION", "HANDLER", "INTERESTS")
	for _, info := range infos {
		app := info.App.String()
		if info.Fallback {
			app = f.paint(text.FgHiBlack, "(fallback)")
		}
		t.AppendRow(table.Row{app, info.Handler, textutil.Truncate(strings.Join(info.Interests, " "), maxCellWidth)})
	}
	t.AppendFooter(table.Row{"", "Total", len(infos)})
	return t.Render() + "\n"
}

// FormatNodes renders the cached nodes with their resolved fields
func (f *TableFormatter) FormatNodes(nodes []nodecache.Info) string {
	if len(nodes) == 0 {
		return f.formatEmptyMessage("No cached nodes")
	}
	t := f.createTable("REF", "NAME", "ROLE", "STATES", "CHILDREN", "RESOLVED")
	for _, n := range nodes {
		ref := n.Ref.String()
		if !n.Valid {
			ref = f.paint(text.FgHiBlack, ref+" (invalid)")
		}
		t.AppendRow(table.Row{
			ref,
			textutil.Truncate(n.Name, maxCellWidth/2),
			n.Role,
			textutil.Truncate(joinStates(n.States), maxCellWidth/2),
			n.ChildCount,
			joinFields(n.Resolved),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(nodes)})
	return t.Render() + "\n"
}

// FormatPresentations renders the presenter history, oldest first
func (f *TableFormatter) FormatPresentations(items []handlers.Presentation) string {
	if len(items) == 0 {
		return f.formatEmptyMessage("Nothing presented yet")
	}
	t := f.createTable("TIME", "KIND", "ROLE", "LABEL", "OBJECT")
	for _, p := range items {
		t.AppendRow(table.Row{
			p.At.Format("15:04:05.000"),
			f.paint(text.FgHiGreen, p.Kind),
			p.Role,
			textutil.Truncate(p.Label, maxCellWidth),
			p.Ref,
		})
	}
	return t.Render() + "\n"
}

// Helper methods

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable(headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = f.paint(text.FgHiCyan, h)
	}
	t.AppendHeader(row)
	return t
}

// paint colors s when color output is enabled
func (f *TableFormatter) paint(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(message string) string {
	return f.paint(text.FgYellow, message) + "\n"
}

func joinStates(states []api.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func joinFields(fields []api.Field) string {
	parts := make([]string, len(fields))
	for i, fl := range fields {
		parts[i] = fl.String()
	}
	return strings.Join(parts, ",")
}

func uptime(started time.Time) string {
	if started.IsZero() {
		return "-"
	}
	return time.Since(started).Truncate(time.Second).String()
}
