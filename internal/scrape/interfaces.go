package scrape

import (
	"context"
	"iter"
	"time"
)

// Scraper is a compiled definition. Implementations are not safe for
// concurrent use; each worker compiles its own.
type Scraper interface {
	// Records lazily yields the records found in content. Cancelling ctx
	// halts any running script and yields an error wrapping ErrInterrupted.
	Records(ctx context.Context, content string, ec EvalContext) iter.Seq2[Record, error]
	// TabularRows yields records flattened to strings and aligned on
	// Fieldnames, joining lists with separator.
	TabularRows(ctx context.Context, content string, ec EvalContext, separator string) iter.Seq2[Record, error]
	// Fieldnames returns the tabular header, or nil if the scraper has none.
	Fieldnames() []string
}

// CompileFunc builds a fresh Scraper.
type CompileFunc func() (Scraper, error)

// Source produces work items lazily. Next returns io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (WorkItem, error)
	// Total returns the number of items when it is known up front.
	Total() (int, bool)
	Close() error
}

// ContentReader loads and decodes a document from disk.
type ContentReader interface {
	Read(path, encoding string) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
