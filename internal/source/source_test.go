package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

func drain(t *testing.T, src scrape.Source) []scrape.WorkItem {
	t.Helper()
	var items []scrape.WorkItem
	for {
		item, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return items
		}
		require.NoError(t, err)
		items = append(items, item)
	}
}

func touch(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o600))
	}
}

// TestGlobMatchesRecursively verifies "**" spans zero or more directories.
func TestGlobMatchesRecursively(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.html", "b.txt", "sub/c.html", "sub/deep/d.html", "other/e.htm")

	src, err := NewGlob(filepath.Join(root, "**", "*.html"), Defaults{Mode: scrape.ModeTabular, PluralSeparator: "|"})
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	items := drain(t, src)
	var rel []string
	for i, item := range items {
		require.Equal(t, i, item.Index)
		require.Equal(t, scrape.ModeTabular, item.Mode)
		require.Equal(t, "|", item.PluralSeparator)
		r, err := filepath.Rel(root, item.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	require.Equal(t, []string{"a.html", "sub/c.html", "sub/deep/d.html"}, rel)

	total, known := src.Total()
	require.False(t, known)
	require.Zero(t, total)
}

// TestGlobSingleLevelStar does not cross directories.
func TestGlobSingleLevelStar(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.html", "sub/c.html")

	src, err := NewGlob(filepath.Join(root, "*.html"), Defaults{Total: 5})
	require.NoError(t, err)
	items := drain(t, src)
	require.NoError(t, src.Close())
	require.Len(t, items, 1)

	total, known := src.Total()
	require.True(t, known)
	require.Equal(t, 5, total)
}

// TestGlobCloseStopsWalker lets Close return while results are pending.
func TestGlobCloseStopsWalker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.html", "b.html", "c.html")
	src, err := NewGlob(filepath.Join(root, "*.html"), Defaults{})
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, src.Close())
}

// TestGlobMissingBaseYieldsNothing treats an absent root as empty.
func TestGlobMissingBaseYieldsNothing(t *testing.T) {
	t.Parallel()

	src, err := NewGlob(filepath.Join(t.TempDir(), "missing", "*.html"), Defaults{})
	require.NoError(t, err)
	require.Empty(t, drain(t, src))
	require.NoError(t, src.Close())
}

// TestStaticBase splits the walk root from the pattern.
func TestStaticBase(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".", staticBase("*.html"))
	require.Equal(t, filepath.FromSlash("data/pages"), staticBase("data/pages/**/*.html"))
	require.Equal(t, "/", staticBase("/*.html"))
}

// TestReportResolvesColumns covers input-dir joins, inline content, and enrichment.
func TestReportResolvesColumns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	report := strings.Join([]string{
		"filename,body,url,enc,lang",
		"a.html,,https://a.test,latin1,fr",
		",<p>inline</p>,,,en",
		"/abs/b.html,,,,de",
		",,,,xx",
	}, "\n")
	rep, err := NewReport(strings.NewReader(report), ReportOptions{
		Defaults:       Defaults{Encoding: "utf-8", Mode: scrape.ModeLineDelimited},
		ContentColumn:  "body",
		EncodingColumn: "enc",
		URLColumn:      "url",
		InputDir:       dir,
	})
	require.NoError(t, err)

	items := drain(t, rep)
	require.Len(t, items, 4)

	require.Equal(t, filepath.Join(dir, "a.html"), items[0].Path)
	require.Nil(t, items[0].Content)
	require.Equal(t, "https://a.test", items[0].URL)
	require.Equal(t, "latin1", items[0].Encoding)
	lang, ok := items[0].Row.Get("lang")
	require.True(t, ok)
	require.Equal(t, "fr", lang)

	require.Empty(t, items[1].Path)
	require.NotNil(t, items[1].Content)
	require.Equal(t, "<p>inline</p>", *items[1].Content)
	require.Equal(t, "utf-8", items[1].Encoding)

	require.Equal(t, "/abs/b.html", items[2].Path)

	require.Empty(t, items[3].Path)
	require.Nil(t, items[3].Content)
	require.Equal(t, 3, items[3].Index)
	require.Equal(t, scrape.ModeLineDelimited, items[3].Mode)
}

// TestReportStartupFailures covers missing dirs and columns.
func TestReportStartupFailures(t *testing.T) {
	t.Parallel()

	_, err := NewReport(strings.NewReader("filename\na.html\n"), ReportOptions{
		InputDir: filepath.Join(t.TempDir(), "nope"),
	})
	require.ErrorIs(t, err, scrape.ErrInputDirNotFound)

	_, err = NewReport(strings.NewReader("path\na.html\n"), ReportOptions{})
	require.ErrorContains(t, err, `"filename"`)

	_, err = NewReport(strings.NewReader("filename\na.html\n"), ReportOptions{ContentColumn: "html"})
	require.ErrorContains(t, err, `"html"`)

	_, err = NewReport(strings.NewReader(""), ReportOptions{})
	require.Error(t, err)

	_, err = NewReport(strings.NewReader("filename,id\na.html,1\n"), ReportOptions{Select: []string{"id", "lang"}})
	require.ErrorContains(t, err, `"lang"`)
}

func TestReportEchoColumns(t *testing.T) {
	t.Parallel()

	rep, err := NewReport(strings.NewReader("filename,id,lang\n"), ReportOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"filename", "id", "lang"}, rep.EchoColumns())

	rep, err = NewReport(strings.NewReader("filename,id,lang\n"), ReportOptions{Select: []string{"lang", "filename"}})
	require.NoError(t, err)
	require.Equal(t, []string{"lang", "filename"}, rep.EchoColumns())
}

// TestOpenReportClosesFile reads a report from disk.
func TestOpenReportClosesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("filename\na.html\nb.html\n"), 0o600))

	rep, err := OpenReport(path, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, drain(t, rep), 2)
	require.NoError(t, rep.Close())
	require.NoError(t, rep.Close())
}

// TestReportNextHonoursCancelWhileBlocked returns once ctx ends even though
// the report stream has not produced another row.
func TestReportNextHonoursCancelWhileBlocked(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	go func() { _, _ = io.WriteString(pw, "filename\n") }()

	rep, err := NewReport(pr, ReportOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := rep.Next(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Next stayed blocked on the report stream")
	}
	require.NoError(t, rep.Close())
}

// TestReportStreamsRowsFromPipe yields rows as they arrive and ends on EOF.
func TestReportStreamsRowsFromPipe(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	go func() {
		_, _ = io.WriteString(pw, "filename\na.html\n")
		_, _ = io.WriteString(pw, "b.html\n")
		_ = pw.Close()
	}()

	rep, err := NewReport(pr, ReportOptions{})
	require.NoError(t, err)
	defer func() { _ = rep.Close() }()

	items := drain(t, rep)
	require.Len(t, items, 2)
	require.Equal(t, "b.html", items[1].Path)
}
