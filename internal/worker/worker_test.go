package worker

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/content"
	"github.com/JakeFAU/docscrape/internal/definition"
	"github.com/JakeFAU/docscrape/internal/engine"
	"github.com/JakeFAU/docscrape/internal/queue/memory"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// TestNewCompilesOnce verifies a runtime compiles its scraper exactly once.
func TestNewCompilesOnce(t *testing.T) {
	t.Parallel()

	var compiles atomic.Int32
	compile := func() (scrape.Scraper, error) {
		compiles.Add(1)
		return &fakeScraper{records: []scrape.Record{scrape.NewRecord("k", "v")}}, nil
	}
	rt, err := New(1, compile, &fakeReader{body: "<p/>"}, nil, zap.NewNop())
	require.NoError(t, err)

	for i := range 5 {
		out := rt.Process(context.Background(), scrape.WorkItem{Index: i, Path: "x.html", Mode: scrape.ModeLineDelimited})
		require.NoError(t, out.Err)
		require.Len(t, out.Records, 1)
	}
	require.EqualValues(t, 1, compiles.Load())
}

// TestNewPropagatesCompileFailure surfaces compile errors.
func TestNewPropagatesCompileFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := New(1, func() (scrape.Scraper, error) { return nil, boom }, &fakeReader{}, nil, nil)
	require.ErrorIs(t, err, boom)

	_, err = New(1, nil, &fakeReader{}, nil, nil)
	require.Error(t, err)
}

// TestProcessInlineContentSkipsReader ensures inline bodies are not read from disk.
func TestProcessInlineContentSkipsReader(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{err: errors.New("should not be called")}
	scraper := &fakeScraper{records: []scrape.Record{scrape.NewRecord("a", 1)}}
	rt, err := New(1, staticCompile(scraper), reader, nil, nil)
	require.NoError(t, err)

	body := "<html>inline</html>"
	out := rt.Process(context.Background(), scrape.WorkItem{Content: &body, Mode: scrape.ModeLineDelimited})
	require.NoError(t, out.Err)
	require.Zero(t, reader.calls.Load())
	require.Equal(t, body, scraper.lastContent)
}

// TestProcessReaderFailure short-circuits to an error outcome.
func TestProcessReaderFailure(t *testing.T) {
	t.Parallel()

	readErr := scrape.NewItemError(scrape.ErrContentUnavailable, "gone.html", os.ErrNotExist)
	rt, err := New(1, staticCompile(&fakeScraper{}), &fakeReader{err: readErr}, nil, nil)
	require.NoError(t, err)

	out := rt.Process(context.Background(), scrape.WorkItem{Path: "gone.html"})
	require.ErrorIs(t, out.Err, scrape.ErrContentUnavailable)
	require.Empty(t, out.Records)
	require.Equal(t, "gone.html", out.Item.Path)
}

// TestProcessDiscardsPartialRecords drops records yielded before a failure.
func TestProcessDiscardsPartialRecords(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{
		records: []scrape.Record{scrape.NewRecord("n", 1), scrape.NewRecord("n", 2)},
		failAt:  2,
		failErr: scrape.NewItemError(scrape.ErrEval, "p.html", errors.New("ReferenceError")),
	}
	rt, err := New(1, staticCompile(scraper), &fakeReader{body: "x"}, nil, nil)
	require.NoError(t, err)

	out := rt.Process(context.Background(), scrape.WorkItem{Path: "p.html", Mode: scrape.ModeLineDelimited})
	require.ErrorIs(t, out.Err, scrape.ErrEval)
	require.Nil(t, out.Records)
}

// TestProcessTabularUsesSeparator routes tabular items through TabularRows.
func TestProcessTabularUsesSeparator(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{records: []scrape.Record{scrape.NewRecord("a", "x")}}
	rt, err := New(1, staticCompile(scraper), &fakeReader{body: "x"}, nil, nil)
	require.NoError(t, err)

	out := rt.Process(context.Background(), scrape.WorkItem{Path: "p.html", Mode: scrape.ModeTabular, PluralSeparator: ";"})
	require.NoError(t, out.Err)
	require.True(t, scraper.tabular)
	require.Equal(t, ";", scraper.separator)
}

// TestProcessWithEngine runs a real compiled definition against a file.
func TestProcessWithEngine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<ul><li>a</li><li>b</li></ul>`), 0o600))

	def, err := definition.Parse([]byte("iterator: li\nfields:\n  item: {}\n  file:\n    eval: basename"), definition.FormatYAML)
	require.NoError(t, err)
	compile := func() (scrape.Scraper, error) { return engine.Compile(def, "") }

	rt, err := New(1, compile, content.NewReader("", 0), fixedClock{}, zap.NewNop())
	require.NoError(t, err)

	out := rt.Process(context.Background(), scrape.WorkItem{Path: path, Mode: scrape.ModeTabular, PluralSeparator: "|"})
	require.NoError(t, out.Err)
	require.Len(t, out.Records, 2)
	v, _ := out.Records[1].Get("item")
	require.Equal(t, "b", v)
	v, _ = out.Records[1].Get("file")
	require.Equal(t, "page.html", v)
}

// TestRunDrainsQueue processes every queued item and exits on close.
func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	rt, err := New(1, staticCompile(&fakeScraper{}), &fakeReader{body: "x"}, nil, nil)
	require.NoError(t, err)

	q := memory.NewQueue(3)
	for i := range 3 {
		require.NoError(t, q.Enqueue(context.Background(), scrape.WorkItem{Index: i}))
	}
	q.Close()

	out := make(chan scrape.Outcome, 3)
	require.NoError(t, rt.Run(context.Background(), context.Background(), q, out))
	close(out)

	var seen []int
	for o := range out {
		seen = append(seen, o.Item.Index)
	}
	require.Equal(t, []int{0, 1, 2}, seen)
}

// TestRunRecoversPanic reports a crash instead of taking the process down.
func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	rt, err := New(3, staticCompile(&fakeScraper{panics: true}), &fakeReader{body: "x"}, nil, nil)
	require.NoError(t, err)

	q := memory.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), scrape.WorkItem{}))
	q.Close()

	err = rt.Run(context.Background(), context.Background(), q, make(chan scrape.Outcome, 1))
	require.ErrorIs(t, err, scrape.ErrWorkerCrashed)
	require.Contains(t, err.Error(), "worker 3")
}

// TestRunStopsOnCancel returns promptly once the context ends.
func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	rt, err := New(1, staticCompile(&fakeScraper{}), &fakeReader{body: "x"}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, ctx, memory.NewQueue(1), make(chan scrape.Outcome)) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

// TestRunDeliversFinishedOutcomeAfterPoolAbort keeps an outcome that was
// completed while a sibling tore the pool down.
func TestRunDeliversFinishedOutcomeAfterPoolAbort(t *testing.T) {
	t.Parallel()

	pool, abort := context.WithCancel(context.Background())
	reader := &fakeReader{body: "x", hook: abort}
	rt, err := New(1, staticCompile(&fakeScraper{records: []scrape.Record{scrape.NewRecord("k", "v")}}), reader, nil, nil)
	require.NoError(t, err)

	q := memory.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), scrape.WorkItem{Index: 7, Path: "p.html"}))

	out := make(chan scrape.Outcome)
	done := make(chan error, 1)
	go func() { done <- rt.Run(pool, context.Background(), q, out) }()

	select {
	case o := <-out:
		require.Equal(t, 7, o.Item.Index)
		require.NoError(t, o.Err)
		require.Len(t, o.Records, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("finished outcome was dropped")
	}
	require.NoError(t, <-done)
}

// TestRunDropsOutcomeOnInterrupt abandons pending outcomes when the run
// itself is cancelled.
func TestRunDropsOutcomeOnInterrupt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := New(1, staticCompile(&fakeScraper{}), &fakeReader{body: "x", hook: cancel}, nil, nil)
	require.NoError(t, err)

	q := memory.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), scrape.WorkItem{Path: "p.html"}))

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, ctx, q, make(chan scrape.Outcome)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker blocked on an interrupted run")
	}
}

func staticCompile(s scrape.Scraper) scrape.CompileFunc {
	return func() (scrape.Scraper, error) { return s, nil }
}

type fakeReader struct {
	body  string
	err   error
	hook  func()
	calls atomic.Int32
}

func (f *fakeReader) Read(string, string) (string, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

type fakeScraper struct {
	records     []scrape.Record
	failAt      int
	failErr     error
	panics      bool
	tabular     bool
	separator   string
	lastContent string
}

func (f *fakeScraper) Records(_ context.Context, content string, _ scrape.EvalContext) iter.Seq2[scrape.Record, error] {
	f.lastContent = content
	return func(yield func(scrape.Record, error) bool) {
		if f.panics {
			panic("scraper exploded")
		}
		for i, rec := range f.records {
			if f.failErr != nil && i+1 == f.failAt {
				if !yield(rec, nil) {
					return
				}
				yield(scrape.Record{}, f.failErr)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (f *fakeScraper) TabularRows(ctx context.Context, content string, ec scrape.EvalContext, sep string) iter.Seq2[scrape.Record, error] {
	f.tabular = true
	f.separator = sep
	return f.Records(ctx, content, ec)
}

func (f *fakeScraper) Fieldnames() []string { return nil }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }
