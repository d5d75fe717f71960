package scrape

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputMode selects how records are serialized.
type OutputMode string

// Supported output modes.
const (
	ModeTabular       OutputMode = "csv"
	ModeLineDelimited OutputMode = "jsonl"
)

// ParseOutputMode maps a --format value onto an OutputMode.
func ParseOutputMode(raw string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return ModeTabular, nil
	case "jsonl", "ndjson":
		return ModeLineDelimited, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected csv or jsonl)", raw)
	}
}

// Header is the column list of an enrichment report, shared by all its rows.
type Header struct {
	names []string
	pos   map[string]int
}

// NewHeader indexes the given column names. Duplicate names resolve to the
// first occurrence.
func NewHeader(names []string) *Header {
	pos := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := pos[name]; !ok {
			pos[name] = i
		}
	}
	return &Header{names: append([]string(nil), names...), pos: pos}
}

// Names returns the column names in file order.
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.names...)
}

// Index returns the position of a column.
func (h *Header) Index(name string) (int, bool) {
	if h == nil {
		return 0, false
	}
	i, ok := h.pos[name]
	return i, ok
}

// Row is one enrichment record. Values are looked up by column on demand.
type Row struct {
	header *Header
	values []string
}

// NewRow binds values to a header. The slice is retained.
func NewRow(header *Header, values []string) *Row {
	return &Row{header: header, values: values}
}

// Get returns the value of a column. Short rows read as empty.
func (r *Row) Get(column string) (string, bool) {
	if r == nil {
		return "", false
	}
	i, ok := r.header.Index(column)
	if !ok {
		return "", false
	}
	if i >= len(r.values) {
		return "", true
	}
	return r.values[i], true
}

// Header exposes the shared header.
func (r *Row) Header() *Header {
	if r == nil {
		return nil
	}
	return r.header
}

// Values returns a copy of the raw values.
func (r *Row) Values() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.values...)
}

// WorkItem is a unit of work handed to a worker. It is produced once by a
// source and never mutated afterwards.
type WorkItem struct {
	Index           int
	Row             *Row
	Path            string
	Content         *string
	URL             string
	Encoding        string
	Mode            OutputMode
	PluralSeparator string
}

// Label names the item in logs and reports.
func (w WorkItem) Label() string {
	if w.Path != "" {
		return w.Path
	}
	if w.URL != "" {
		return w.URL
	}
	return fmt.Sprintf("item#%d", w.Index)
}

// EvalContext is what a compiled scraper sees about the item being scraped.
type EvalContext struct {
	Row      *Row
	Path     string
	Basename string
	URL      string
}

// NewEvalContext derives the evaluation context of an item.
func NewEvalContext(item WorkItem) EvalContext {
	ec := EvalContext{Row: item.Row, Path: item.Path, URL: item.URL}
	if item.Path != "" {
		ec.Basename = filepath.Base(item.Path)
	}
	return ec
}

// Outcome is the result of processing one WorkItem. When Err is set, Records
// is always empty.
type Outcome struct {
	Item    WorkItem
	Err     error
	Records []Record
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool { return o.Err != nil }
