package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docscrape/internal/config"
	memorypublisher "github.com/JakeFAU/docscrape/internal/publisher/memory"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

const pairDefinition = `
fields:
  a: h1
  b: p
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Logging.Level = "error"
	cfg.Progress.Disabled = true
	cfg.Scrape.Workers = 2
	cfg.Output.Path = filepath.Join(t.TempDir(), "out", "records.csv")
	return cfg
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

// TestRunGlobSkipsUnreadableFile covers a glob over three documents where
// one cannot be decompressed.
func TestRunGlobSkipsUnreadableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.yml"), pairDefinition)
	pages := filepath.Join(dir, "pages")
	writeFile(t, filepath.Join(pages, "one.html"), "<h1>A1</h1><p>B1</p>")
	writeFile(t, filepath.Join(pages, "two.html"), "<h1>A2</h1><p>B2</p>")
	writeFile(t, filepath.Join(pages, "three.html.gz"), "not gzip at all")

	cfg := testConfig(t)
	cfg.Scrape.Glob = filepath.ToSlash(pages) + "/*"
	cfg.Output.ErrorsReport = filepath.Join(dir, "errors.csv")

	var stderr bytes.Buffer
	err := Run(context.Background(), cfg, Options{Definition: def, Stderr: &stderr})
	require.NoError(t, err)

	rows := readCSV(t, cfg.Output.Path)
	require.Equal(t, []string{"a", "b"}, rows[0])
	require.ElementsMatch(t, [][]string{{"A1", "B1"}, {"A2", "B2"}}, rows[1:])

	report := readCSV(t, cfg.Output.ErrorsReport)
	require.Len(t, report, 2)
	require.Equal(t, "decoding-error", report[1][3])
	require.True(t, strings.HasSuffix(report[1][1], "three.html.gz"))
}

// TestRunEmptyReport verifies a header-only report produces a header-only output.
func TestRunEmptyReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.yml"), pairDefinition)
	report := writeFile(t, filepath.Join(dir, "report.csv"), "filename\n")

	cfg := testConfig(t)
	err := Run(context.Background(), cfg, Options{Definition: def, Report: report, Stderr: io.Discard})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"filename", "a", "b"}}, readCSV(t, cfg.Output.Path))
}

// TestRunReportEchoesColumns keeps each output row joinable to its report
// row whatever the completion order.
func TestRunReportEchoesColumns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.yml"), pairDefinition)
	writeFile(t, filepath.Join(dir, "one.html"), "<h1>A1</h1><p>B1</p>")
	writeFile(t, filepath.Join(dir, "two.html"), "<h1>A2</h1><p>B2</p>")
	report := writeFile(t, filepath.Join(dir, "report.csv"), "filename,id\none.html,1\ntwo.html,2\n")

	tests := []struct {
		name    string
		columns []string
		header  []string
		rows    [][]string
	}{
		{
			name:   "all columns",
			header: []string{"filename", "id", "a", "b"},
			rows:   [][]string{{"one.html", "1", "A1", "B1"}, {"two.html", "2", "A2", "B2"}},
		},
		{
			name:    "selected",
			columns: []string{"id"},
			header:  []string{"id", "a", "b"},
			rows:    [][]string{{"1", "A1", "B1"}, {"2", "A2", "B2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.Report.InputDir = dir
			cfg.Report.Select = tt.columns
			err := Run(context.Background(), cfg, Options{Definition: def, Report: report, Stderr: io.Discard})
			require.NoError(t, err)

			rows := readCSV(t, cfg.Output.Path)
			require.Equal(t, tt.header, rows[0])
			require.ElementsMatch(t, tt.rows, rows[1:])
		})
	}
}

func TestRunReportUnknownSelectColumn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.yml"), pairDefinition)
	report := writeFile(t, filepath.Join(dir, "report.csv"), "filename,id\none.html,1\n")

	cfg := testConfig(t)
	cfg.Report.Select = []string{"nope"}
	err := Run(context.Background(), cfg, Options{Definition: def, Report: report, Stderr: io.Discard})

	var startup *StartupError
	require.ErrorAs(t, err, &startup)
	require.Contains(t, startup.Lines[0], `"nope"`)
}

func TestRunValidateOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.json"), `{"fields": {"a": "h1"}}`)

	cfg := testConfig(t)
	var stdout bytes.Buffer
	err := Run(context.Background(), cfg, Options{Definition: def, Validate: true, Stdout: &stdout})
	require.NoError(t, err)
	require.Equal(t, "Your scraper is valid.\n", stdout.String())

	_, err = os.Stat(cfg.Output.Path)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRunStartupFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	noFields := writeFile(t, filepath.Join(dir, "title.yml"), "sel: h1\n")
	unknown := writeFile(t, filepath.Join(dir, "scraper.txt"), "sel: h1\n")
	invalid := writeFile(t, filepath.Join(dir, "invalid.yml"), "fields:\n  a:\n    sel: h1\n    extract: nope\n")
	valid := writeFile(t, filepath.Join(dir, "valid.yml"), pairDefinition)
	report := writeFile(t, filepath.Join(dir, "report.csv"), "filename\na.html\n")

	tests := []struct {
		name      string
		def       string
		mutate    func(*config.Config)
		wantErr   error
		wantFirst string
	}{
		{
			name:      "missing definition",
			def:       filepath.Join(dir, "absent.yml"),
			wantErr:   scrape.ErrDefinitionNotFound,
			wantFirst: "Could not find scraper file!",
		},
		{
			name:      "unknown format",
			def:       unknown,
			wantErr:   scrape.ErrDefinitionInvalidFormat,
			wantFirst: "Unknown scraper format! It should be a JSON or YAML file.",
		},
		{
			name:      "invalid definition",
			def:       invalid,
			wantErr:   scrape.ErrDefinitionInvalid,
			wantFirst: "Your scraper is invalid! You need to fix the following errors:",
		},
		{
			name:      "not tabular",
			def:       noFields,
			wantErr:   scrape.ErrNotTabular,
			wantFirst: `Your scraper does not yield tabular data. Try changing it or setting --format to "jsonl".`,
		},
		{
			name:      "strain too complex",
			def:       valid,
			mutate:    func(c *config.Config) { c.Scrape.Strain = "div > p" },
			wantErr:   scrape.ErrStrainTooComplex,
			wantFirst: "The given --strain selector is too complex!",
		},
		{
			name:      "missing input dir",
			def:       valid,
			mutate:    func(c *config.Config) { c.Report.InputDir = filepath.Join(dir, "nowhere") },
			wantErr:   scrape.ErrInputDirNotFound,
			wantFirst: "Could not find the -I/--input-dir directory!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := Run(context.Background(), cfg, Options{Definition: tt.def, Report: report, Stderr: io.Discard})
			require.ErrorIs(t, err, tt.wantErr)

			var startup *StartupError
			require.ErrorAs(t, err, &startup)
			require.Equal(t, tt.wantFirst, startup.Lines[0])

			_, statErr := os.Stat(cfg.Output.Path)
			require.ErrorIs(t, statErr, fs.ErrNotExist)
		})
	}
}

func TestRunBuiltinScraperLineDelimited(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := writeFile(t, filepath.Join(dir, "page.html"), "<html><head><title> Hello </title></head></html>")
	report := writeFile(t, filepath.Join(dir, "report.csv"), "filename\n"+filepath.Base(page)+"\n")

	cfg := testConfig(t)
	cfg.Output.Format = "jsonl"
	cfg.Output.Path = filepath.Join(dir, "out.jsonl")
	cfg.Report.InputDir = dir

	err := Run(context.Background(), cfg, Options{Definition: "title", Report: report, Stderr: io.Discard})
	require.NoError(t, err)

	out, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	require.Equal(t, `{"title":"Hello"}`+"\n", string(out))
}

// TestRunInterrupted cancels the run once two of ten items have been written.
func TestRunInterrupted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := writeFile(t, filepath.Join(dir, "scraper.yml"), pairDefinition)
	var paths []string
	for i := range 10 {
		name := filepath.Join(dir, "pages", string(rune('a'+i))+".html")
		paths = append(paths, writeFile(t, name, "<h1>A</h1><p>B</p>"))
	}

	cfg := testConfig(t)
	cfg.Scrape.Total = 10
	cfg.Scrape.Glob = filepath.ToSlash(filepath.Join(dir, "pages")) + "/*.html"

	scraper, err := resolveScraper(def, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, cfg, Options{Definition: def, Stderr: io.Discard}, scraper, zap.NewNop())
	require.NoError(t, err)
	a.source = &interruptingSource{
		paths: paths,
		after: 2,
		done: func() bool {
			return a.tracker.Snapshot().Processed >= 2
		},
		cancel: cancel,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after interruption")
	}
	require.ErrorIs(t, err, scrape.ErrInterrupted)

	rows := readCSV(t, cfg.Output.Path)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"a", "b"}, rows[0])
	require.Equal(t, int64(2), a.tracker.Snapshot().Processed)

	pub, ok := a.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	payload, ok := pub.Last(SummaryTopic)
	require.True(t, ok)
	summary, ok := payload.(RunSummary)
	require.True(t, ok)
	require.Equal(t, "interrupted", summary.Status)
	require.EqualValues(t, 2, summary.Processed)
	require.EqualValues(t, 2, summary.Records)
}

// interruptingSource yields its first items, then waits for them to be
// handled and cancels the run.
type interruptingSource struct {
	mu     sync.Mutex
	paths  []string
	next   int
	after  int
	done   func() bool
	cancel context.CancelFunc
}

func (s *interruptingSource) Next(ctx context.Context) (scrape.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < s.after {
		item := scrape.WorkItem{
			Index:           s.next,
			Path:            s.paths[s.next],
			Mode:            scrape.ModeTabular,
			PluralSeparator: "|",
		}
		s.next++
		return item, nil
	}
	for !s.done() {
		select {
		case <-ctx.Done():
			return scrape.WorkItem{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.cancel()
	<-ctx.Done()
	return scrape.WorkItem{}, ctx.Err()
}

func (s *interruptingSource) Total() (int, bool) { return len(s.paths), true }

func (s *interruptingSource) Close() error { return nil }
