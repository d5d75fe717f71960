package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// ReportOptions configures how a CSV report maps onto work items.
type ReportOptions struct {
	Defaults
	// Select restricts the echoed columns; empty keeps them all.
	Select         []string
	PathColumn     string
	ContentColumn  string
	EncodingColumn string
	URLColumn      string
	InputDir       string
}

// Report reads work items from a CSV report, one row per call to Next.
// Rows are read on a background goroutine so that Next honours
// cancellation even while the underlying reader blocks, as a pipe or
// standard input can.
type Report struct {
	opts    ReportOptions
	reader  *csv.Reader
	closer  io.Closer
	header  *scrape.Header
	echo    []string
	pathIdx int
	bodyIdx int
	encIdx  int
	urlIdx  int
	index   int

	rows      chan reportRow
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type reportRow struct {
	values []string
	err    error
}

var _ scrape.Source = (*Report)(nil)

// OpenReport opens the report at path ("-" reads standard input).
func OpenReport(path string, opts ReportOptions) (*Report, error) {
	if err := checkInputDir(opts.InputDir); err != nil {
		return nil, err
	}
	if path == "-" {
		return NewReport(os.Stdin, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	r, err := NewReport(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReport reads the header row of r and resolves the configured columns.
func NewReport(r io.Reader, opts ReportOptions) (*Report, error) {
	if err := checkInputDir(opts.InputDir); err != nil {
		return nil, err
	}
	if opts.PathColumn == "" {
		opts.PathColumn = "filename"
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	names, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("report is empty")
		}
		return nil, fmt.Errorf("read report header: %w", err)
	}
	header := scrape.NewHeader(names)
	rep := &Report{
		opts:    opts,
		reader:  cr,
		header:  header,
		pathIdx: -1,
		bodyIdx: -1,
		encIdx:  -1,
		urlIdx:  -1,
		rows:    make(chan reportRow),
		stop:    make(chan struct{}),
	}

	if i, ok := header.Index(opts.PathColumn); ok {
		rep.pathIdx = i
	}
	if opts.ContentColumn != "" {
		i, ok := header.Index(opts.ContentColumn)
		if !ok {
			return nil, fmt.Errorf("report has no %q column", opts.ContentColumn)
		}
		rep.bodyIdx = i
	} else if rep.pathIdx < 0 {
		return nil, fmt.Errorf("report has no %q column", opts.PathColumn)
	}
	if i, ok := header.Index(opts.EncodingColumn); ok && opts.EncodingColumn != "" {
		rep.encIdx = i
	}
	if i, ok := header.Index(opts.URLColumn); ok && opts.URLColumn != "" {
		rep.urlIdx = i
	}
	rep.echo = names
	if len(opts.Select) > 0 {
		for _, column := range opts.Select {
			if _, ok := header.Index(column); !ok {
				return nil, fmt.Errorf("report has no %q column to select", column)
			}
		}
		rep.echo = append([]string(nil), opts.Select...)
	}
	return rep, nil
}

// EchoColumns names the report columns repeated in tabular output.
func (r *Report) EchoColumns() []string {
	return append([]string(nil), r.echo...)
}

func checkInputDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%q: %w", dir, scrape.ErrInputDirNotFound)
		}
		return fmt.Errorf("stat input dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory: %w", dir, scrape.ErrInputDirNotFound)
	}
	return nil
}

// pump reads rows until EOF, the first error, or Close.
func (r *Report) pump() {
	defer close(r.rows)
	for {
		values, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case r.rows <- reportRow{values: values, err: err}:
		case <-r.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next reads the next row. A row with neither a path nor inline content is
// still returned; reading it fails later with scrape.ErrContentUnavailable.
func (r *Report) Next(ctx context.Context) (scrape.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return scrape.WorkItem{}, err
	}
	r.startOnce.Do(func() { go r.pump() })

	var values []string
	select {
	case <-ctx.Done():
		return scrape.WorkItem{}, ctx.Err()
	case next, ok := <-r.rows:
		if !ok {
			return scrape.WorkItem{}, io.EOF
		}
		if next.err != nil {
			return scrape.WorkItem{}, fmt.Errorf("read report row %d: %w", r.index+1, next.err)
		}
		values = next.values
	}
	row := scrape.NewRow(r.header, values)
	item := scrape.WorkItem{
		Index:           r.index,
		Row:             row,
		Encoding:        r.opts.Encoding,
		Mode:            r.opts.Mode,
		PluralSeparator: r.opts.PluralSeparator,
	}
	r.index++

	if body := cell(values, r.bodyIdx); body != "" {
		item.Content = &body
	}
	if path := cell(values, r.pathIdx); path != "" {
		if r.opts.InputDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(r.opts.InputDir, path)
		}
		item.Path = path
	}
	if enc := cell(values, r.encIdx); enc != "" {
		item.Encoding = enc
	}
	item.URL = cell(values, r.urlIdx)
	return item, nil
}

func cell(values []string, idx int) string {
	if idx < 0 || idx >= len(values) {
		return ""
	}
	return values[idx]
}

// Total is only known when supplied by the caller.
func (r *Report) Total() (int, bool) {
	return r.opts.Total, r.opts.Total > 0
}

// Close stops the row reader and releases the underlying file, if any. A
// read still blocked on a reader that Close does not own is abandoned.
func (r *Report) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
