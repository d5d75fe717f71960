// Package sink writes scrape outcomes to the output stream and keeps the
// progress counters in step with them.
package sink

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Serializer writes records in one output format. It is owned by the
// consuming goroutine. row is the enrichment row of the originating item and
// may be nil.
type Serializer interface {
	Write(row *scrape.Row, rec scrape.Record) error
	Flush() error
}

// NewSerializer selects the serializer for mode. Tabular output needs a
// non-empty field list and writes the header row immediately; echo names the
// report columns repeated ahead of the fields. Line-delimited output ignores
// echo.
func NewSerializer(mode scrape.OutputMode, w io.Writer, fields, echo []string) (Serializer, error) {
	switch mode {
	case scrape.ModeTabular:
		return NewTabularWriter(w, fields, echo)
	case scrape.ModeLineDelimited:
		return NewLineWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
}

// TabularWriter writes CSV rows against a fixed header: the echoed report
// columns, then the scraper fields.
type TabularWriter struct {
	w      *csv.Writer
	echo   []string
	fields []string
	index  map[string]int
	row    []string
}

// NewTabularWriter writes the header row for echo followed by fields.
func NewTabularWriter(w io.Writer, fields, echo []string) (*TabularWriter, error) {
	if len(fields) == 0 {
		return nil, scrape.ErrNotTabular
	}
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f] = len(echo) + i
	}
	tw := &TabularWriter{
		w:      csv.NewWriter(w),
		echo:   append([]string(nil), echo...),
		fields: append([]string(nil), fields...),
		index:  index,
		row:    make([]string, len(echo)+len(fields)),
	}
	header := append(append([]string(nil), tw.echo...), tw.fields...)
	if err := tw.w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return tw, nil
}

// Write emits one row. The record's keys must be exactly the header fields.
// Echoed columns missing from row are left empty.
func (t *TabularWriter) Write(row *scrape.Row, rec scrape.Record) error {
	keys := rec.Keys()
	if len(keys) != len(t.fields) {
		return fmt.Errorf("%w: got keys %v, want %v", scrape.ErrSchemaMismatch, keys, t.fields)
	}
	clear(t.row)
	for i, column := range t.echo {
		t.row[i], _ = row.Get(column)
	}
	for _, key := range keys {
		i, ok := t.index[key]
		if !ok {
			return fmt.Errorf("%w: unexpected key %q", scrape.ErrSchemaMismatch, key)
		}
		v, _ := rec.Get(key)
		t.row[i] = cell(v)
	}
	if err := t.w.Write(t.row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (t *TabularWriter) Flush() error {
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// LineWriter writes one JSON object per line.
type LineWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &LineWriter{buf: buf, enc: enc}
}

// Write encodes rec on its own line, keys in record order.
func (l *LineWriter) Write(_ *scrape.Row, rec scrape.Record) error {
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to the underlying writer.
func (l *LineWriter) Flush() error {
	if err := l.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return nil
}
