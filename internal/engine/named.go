package engine

import (
	"context"
	"iter"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// extractFunc pulls records out of a parsed document.
type extractFunc func(doc *goquery.Document, ec scrape.EvalContext) []scrape.Record

// builtin is a scraper implemented in Go rather than declared in a file.
type builtin struct {
	name    string
	fields  []string
	plural  bool
	extract extractFunc
}

var registry = map[string]builtin{}

func register(b builtin) {
	registry[strings.ToLower(b.name)] = b
}

// Named returns a compile function for a built-in scraper.
func Named(name, strain string) (scrape.CompileFunc, bool) {
	b, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return func() (scrape.Scraper, error) {
		sel, err := CompileStrain(strain)
		if err != nil {
			return nil, err
		}
		return &namedScraper{builtin: b, strain: sel}, nil
	}, true
}

// Names lists the built-in scrapers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type namedScraper struct {
	builtin
	strain cascadia.Selector
}

func (s *namedScraper) Fieldnames() []string { return append([]string(nil), s.fields...) }

func (s *namedScraper) Records(ctx context.Context, content string, ec scrape.EvalContext) iter.Seq2[scrape.Record, error] {
	return func(yield func(scrape.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(scrape.Record{}, interrupted(ec, err))
			return
		}
		doc, err := (&Scraper{strain: s.strain}).parse(content)
		if err != nil {
			yield(scrape.Record{}, scrape.NewItemError(scrape.ErrDecoding, ec.Path, err))
			return
		}
		records := s.extract(doc, ec)
		if len(records) == 0 && !s.plural {
			var empty scrape.Record
			for _, f := range s.fields {
				empty.Set(f, nil)
			}
			records = []scrape.Record{empty}
		}
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *namedScraper) TabularRows(ctx context.Context, content string, ec scrape.EvalContext, separator string) iter.Seq2[scrape.Record, error] {
	return func(yield func(scrape.Record, error) bool) {
		for rec, err := range s.Records(ctx, content, ec) {
			if err != nil {
				yield(scrape.Record{}, err)
				return
			}
			if !yield(flattenRecord(rec, s.fields, separator), nil) {
				return
			}
		}
	}
}

// resolve makes href absolute against the item URL when one is known.
func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == "" {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func attrRecords(doc *goquery.Document, ec scrape.EvalContext, sel, attr, field string) []scrape.Record {
	var out []scrape.Record
	seen := map[string]struct{}{}
	doc.Find(sel).Each(func(_ int, n *goquery.Selection) {
		v, ok := n.Attr(attr)
		if !ok {
			return
		}
		v = resolve(ec.URL, v)
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, scrape.NewRecord(field, v))
	})
	return out
}

func init() {
	register(builtin{
		name:   "title",
		fields: []string{"title"},
		extract: func(doc *goquery.Document, _ scrape.EvalContext) []scrape.Record {
			title := doc.Find("title").First()
			if title.Length() == 0 {
				return nil
			}
			return []scrape.Record{scrape.NewRecord("title", collapse(title.Text()))}
		},
	})
	register(builtin{
		name:   "canonical",
		fields: []string{"canonical_url"},
		extract: func(doc *goquery.Document, ec scrape.EvalContext) []scrape.Record {
			href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return nil
			}
			return []scrape.Record{scrape.NewRecord("canonical_url", resolve(ec.URL, href))}
		},
	})
	register(builtin{
		name:   "urls",
		fields: []string{"url"},
		plural: true,
		extract: func(doc *goquery.Document, ec scrape.EvalContext) []scrape.Record {
			return attrRecords(doc, ec, "a[href]", "href", "url")
		},
	})
	register(builtin{
		name:   "images",
		fields: []string{"src"},
		plural: true,
		extract: func(doc *goquery.Document, ec scrape.EvalContext) []scrape.Record {
			return attrRecords(doc, ec, "img[src]", "src", "src")
		},
	})
	register(builtin{
		name:   "rss",
		fields: []string{"url"},
		plural: true,
		extract: func(doc *goquery.Document, ec scrape.EvalContext) []scrape.Record {
			return attrRecords(doc, ec,
				`link[type="application/rss+xml"], link[type="application/atom+xml"]`, "href", "url")
		},
	})
	metaFields := []string{"name", "property", "http-equiv", "itemprop", "charset", "content"}
	register(builtin{
		name:   "metas",
		fields: metaFields,
		plural: true,
		extract: func(doc *goquery.Document, _ scrape.EvalContext) []scrape.Record {
			var out []scrape.Record
			doc.Find("meta").Each(func(_ int, m *goquery.Selection) {
				var rec scrape.Record
				for _, f := range metaFields {
					if v, ok := m.Attr(f); ok {
						rec.Set(f, strings.TrimSpace(v))
					} else {
						rec.Set(f, nil)
					}
				}
				out = append(out, rec)
			})
			return out
		},
	})
}
