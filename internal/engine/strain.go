package engine

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// CompileStrain compiles a prefilter selector. Only simple selectors (and
// comma-separated groups of them) are accepted; any relation between
// elements makes the strain too complex.
func CompileStrain(sel string) (cascadia.Selector, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, nil
	}
	if hasCombinator(sel) {
		return nil, fmt.Errorf("%q: %w", sel, scrape.ErrStrainTooComplex)
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %v", sel, scrape.ErrStrainTooComplex, err)
	}
	return compiled, nil
}

// hasCombinator scans the top level of a selector (outside brackets,
// parentheses, and quotes) for descendant, child, or sibling combinators.
func hasCombinator(sel string) bool {
	depth := 0
	var quote rune
	pendingSpace := false
	afterComma := true
	for _, r := range sel {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		}
		if depth > 0 || r == ']' || r == ')' || r == '"' || r == '\'' {
			if pendingSpace {
				return true
			}
			afterComma = false
			continue
		}
		switch r {
		case '>', '+', '~':
			return true
		case ',':
			pendingSpace = false
			afterComma = true
		case ' ', '\t', '\n', '\r', '\f':
			if !afterComma {
				pendingSpace = true
			}
		default:
			if pendingSpace {
				return true
			}
			afterComma = false
		}
	}
	return false
}

// applyStrain returns a new document holding only the outermost nodes
// matched by strain. Matched nodes are moved out of the original tree.
func applyStrain(root *html.Node, strain cascadia.Selector) *html.Node {
	var matched []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strain.Match(c) {
				matched = append(matched, c)
				continue
			}
			walk(c)
		}
	}
	walk(root)

	doc := &html.Node{Type: html.DocumentNode}
	for _, n := range matched {
		n.Parent.RemoveChild(n)
		doc.AppendChild(n)
	}
	return doc
}
