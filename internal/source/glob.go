package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Defaults are copied onto every produced item.
type Defaults struct {
	Encoding        string
	Mode            scrape.OutputMode
	PluralSeparator string
	// Total is the expected number of items, when the caller knows it.
	Total int
}

// Glob walks the filesystem and yields the files matching a pattern.
type Glob struct {
	defaults Defaults
	paths    chan string
	errc     chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	index    int
}

var _ scrape.Source = (*Glob)(nil)

// NewGlob starts walking the static prefix of pattern in the background.
// "**" matches across directories, "*" within one.
func NewGlob(pattern string, defaults Defaults) (*Glob, error) {
	pattern = filepath.ToSlash(filepath.Clean(strings.TrimSpace(pattern)))
	if pattern == "" || pattern == "." {
		return nil, errors.New("glob pattern is empty")
	}
	matchers := make([]glob.Glob, 0, 2)
	variants := []string{pattern}
	if collapsed := strings.ReplaceAll(pattern, "**/", ""); collapsed != pattern {
		variants = append(variants, collapsed)
	}
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Glob{
		defaults: defaults,
		paths:    make(chan string),
		errc:     make(chan error, 1),
		cancel:   cancel,
	}
	g.wg.Add(1)
	go g.walk(ctx, staticBase(pattern), matchers)
	return g, nil
}

// staticBase returns the longest leading directory without glob syntax.
func staticBase(pattern string) string {
	parts := strings.Split(pattern, "/")
	static := make([]string, 0, len(parts))
	for _, p := range parts[:len(parts)-1] {
		if strings.ContainsAny(p, "*?[{") {
			break
		}
		static = append(static, p)
	}
	base := strings.Join(static, "/")
	switch {
	case base == "" && strings.HasPrefix(pattern, "/"):
		return "/"
	case base == "":
		return "."
	default:
		return filepath.FromSlash(base)
	}
}

func (g *Glob) walk(ctx context.Context, base string, matchers []glob.Glob) {
	defer g.wg.Done()
	defer close(g.paths)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		candidate := filepath.ToSlash(path)
		if base == "." {
			candidate = strings.TrimPrefix(candidate, "./")
		}
		for _, m := range matchers {
			if m.Match(candidate) {
				select {
				case g.paths <- path:
				case <-ctx.Done():
					return ctx.Err()
				}
				break
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		g.errc <- fmt.Errorf("walk %s: %w", base, err)
	}
}

// Next returns the next matching file, or io.EOF.
func (g *Glob) Next(ctx context.Context) (scrape.WorkItem, error) {
	select {
	case <-ctx.Done():
		return scrape.WorkItem{}, ctx.Err()
	case path, ok := <-g.paths:
		if !ok {
			select {
			case err := <-g.errc:
				return scrape.WorkItem{}, err
			default:
				return scrape.WorkItem{}, io.EOF
			}
		}
		item := scrape.WorkItem{
			Index:           g.index,
			Path:            path,
			Encoding:        g.defaults.Encoding,
			Mode:            g.defaults.Mode,
			PluralSeparator: g.defaults.PluralSeparator,
		}
		g.index++
		return item, nil
	}
}

// Total is only known when supplied by the caller.
func (g *Glob) Total() (int, bool) {
	return g.defaults.Total, g.defaults.Total > 0
}

// Close stops the walker and waits for it to exit.
func (g *Glob) Close() error {
	g.cancel()
	g.wg.Wait()
	return nil
}
