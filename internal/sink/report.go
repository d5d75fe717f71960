package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

var errorReportHeader = []string{"index", "path", "url", "error", "message"}

// ErrorReport is a CSV side report listing failed items.
type ErrorReport struct {
	w *csv.Writer
}

// NewErrorReport writes the report header to w.
func NewErrorReport(w io.Writer) (*ErrorReport, error) {
	r := &ErrorReport{w: csv.NewWriter(w)}
	if err := r.w.Write(errorReportHeader); err != nil {
		return nil, fmt.Errorf("write error report header: %w", err)
	}
	return r, nil
}

// Add records one failed outcome.
func (r *ErrorReport) Add(out scrape.Outcome) error {
	row := []string{
		strconv.Itoa(out.Item.Index),
		out.Item.Path,
		out.Item.URL,
		scrape.Slug(out.Err),
		out.Err.Error(),
	}
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("write error report: %w", err)
	}
	r.w.Flush()
	return r.w.Error()
}
