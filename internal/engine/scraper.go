package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/robertkrimen/otto"
	"golang.org/x/net/html"

	"github.com/JakeFAU/docscrape/internal/definition"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// ValueKey holds the result of definitions without fields.
const ValueKey = "value"

// Scraper is a compiled definition.
type Scraper struct {
	root    *node
	strain  cascadia.Selector
	headers []string
	vm      *otto.Otto
	current scrape.EvalContext
}

type node struct {
	name     string
	def      *definition.Definition
	iterator cascadia.Selector
	sel      cascadia.Selector
	script   *otto.Script
	fields   []*node
}

var _ scrape.Scraper = (*Scraper)(nil)

// Compile validates def and prepares it for execution. strain may be empty.
func Compile(def *definition.Definition, strain string) (*Scraper, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	strainSel, err := CompileStrain(strain)
	if err != nil {
		return nil, err
	}
	s := &Scraper{
		strain:  strainSel,
		headers: def.Headers(),
		vm:      otto.New(),
	}
	s.vm.Interrupt = make(chan func(), 1)
	if err := s.installRow(); err != nil {
		return nil, fmt.Errorf("prepare script runtime: %w", err)
	}
	root, err := s.compileNode("$", def)
	if err != nil {
		return nil, err
	}
	s.root = root
	return s, nil
}

func (s *Scraper) compileNode(name string, def *definition.Definition) (*node, error) {
	n := &node{name: name, def: def}
	var err error
	if def.Iterator != "" {
		if n.iterator, err = cascadia.Compile(def.Iterator); err != nil {
			return nil, fmt.Errorf("compile iterator for %s: %w", name, err)
		}
	}
	if def.Sel != "" {
		if n.sel, err = cascadia.Compile(def.Sel); err != nil {
			return nil, fmt.Errorf("compile selector for %s: %w", name, err)
		}
	}
	if code := strings.TrimSpace(def.Eval); code != "" {
		if n.script, err = s.vm.Compile(name, code); err != nil {
			return nil, fmt.Errorf("compile eval for %s: %w", name, err)
		}
	}
	for _, f := range def.Fields {
		child, err := s.compileNode(f.Name, f.Def)
		if err != nil {
			return nil, err
		}
		n.fields = append(n.fields, child)
	}
	return n, nil
}

// installRow exposes the current enrichment row to scripts as row.get(name).
func (s *Scraper) installRow() error {
	row, err := s.vm.Object("({})")
	if err != nil {
		return err
	}
	get := func(call otto.FunctionCall) otto.Value {
		column, err := call.Argument(0).ToString()
		if err != nil {
			return otto.NullValue()
		}
		value, ok := s.current.Row.Get(column)
		if !ok {
			return otto.NullValue()
		}
		v, err := s.vm.ToValue(value)
		if err != nil {
			return otto.NullValue()
		}
		return v
	}
	if err := row.Set("get", get); err != nil {
		return err
	}
	return s.vm.Set("row", row)
}

// Fieldnames returns the tabular header, or nil.
func (s *Scraper) Fieldnames() []string {
	return append([]string(nil), s.headers...)
}

// Records yields one record per iterator match, or a single record for
// singular definitions.
func (s *Scraper) Records(ctx context.Context, content string, ec scrape.EvalContext) iter.Seq2[scrape.Record, error] {
	return func(yield func(scrape.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(scrape.Record{}, interrupted(ec, err))
			return
		}
		doc, err := s.parse(content)
		if err != nil {
			yield(scrape.Record{}, scrape.NewItemError(scrape.ErrDecoding, ec.Path, err))
			return
		}
		s.current = ec
		defer func() { s.current = scrape.EvalContext{} }()
		defer s.watch(ctx)()

		scopes := []*goquery.Selection{doc.Selection}
		if s.root.iterator != nil {
			matches := doc.FindMatcher(s.root.iterator)
			scopes = make([]*goquery.Selection, 0, matches.Length())
			matches.Each(func(_ int, m *goquery.Selection) {
				scopes = append(scopes, m)
			})
		}
		for i, scope := range scopes {
			if err := ctx.Err(); err != nil {
				yield(scrape.Record{}, interrupted(ec, err))
				return
			}
			rec, err := s.record(scope, ec, i)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// TabularRows flattens Records onto the header.
func (s *Scraper) TabularRows(ctx context.Context, content string, ec scrape.EvalContext, separator string) iter.Seq2[scrape.Record, error] {
	return func(yield func(scrape.Record, error) bool) {
		for rec, err := range s.Records(ctx, content, ec) {
			if err != nil {
				yield(scrape.Record{}, err)
				return
			}
			if !yield(flattenRecord(rec, s.headers, separator), nil) {
				return
			}
		}
	}
}

func flattenRecord(rec scrape.Record, headers []string, separator string) scrape.Record {
	keys := headers
	if len(keys) == 0 {
		keys = rec.Keys()
	}
	var out scrape.Record
	for _, k := range keys {
		v, _ := rec.Get(k)
		out.Set(k, flatten(v, separator))
	}
	return out
}

func (s *Scraper) parse(content string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if s.strain != nil {
		root = applyStrain(root, s.strain)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func (s *Scraper) record(scope *goquery.Selection, ec scrape.EvalContext, index int) (scrape.Record, error) {
	var rec scrape.Record
	if len(s.root.fields) == 0 {
		v, err := s.leaf(s.root, scope, ec, index)
		if err != nil {
			return scrape.Record{}, err
		}
		rec.Set(ValueKey, v)
		return rec, nil
	}
	if s.root.sel != nil {
		scope = scope.FindMatcher(s.root.sel).First()
	}
	for _, f := range s.root.fields {
		v, err := s.field(f, scope, ec, index)
		if err != nil {
			return scrape.Record{}, err
		}
		rec.Set(f.name, v)
	}
	return rec, nil
}

// field evaluates a column. A field with its own iterator produces a list.
func (s *Scraper) field(n *node, scope *goquery.Selection, ec scrape.EvalContext, index int) (any, error) {
	if n.iterator == nil {
		return s.leaf(n, scope, ec, index)
	}
	var (
		items   []any
		evalErr error
	)
	scope.FindMatcher(n.iterator).EachWithBreak(func(i int, m *goquery.Selection) bool {
		v, err := s.extract(n, m)
		if err == nil && n.script != nil {
			v, err = s.eval(n, v, ec, i)
		}
		if err != nil {
			evalErr = err
			return false
		}
		if v != nil {
			items = append(items, v)
		}
		return true
	})
	if evalErr != nil {
		return nil, evalErr
	}
	var v any
	if len(items) > 0 {
		v = items
	}
	return s.finish(n, v, ec)
}

func (s *Scraper) leaf(n *node, scope *goquery.Selection, ec scrape.EvalContext, index int) (any, error) {
	v, err := s.extract(n, scope)
	if err != nil {
		return nil, err
	}
	if n.script != nil {
		if v, err = s.eval(n, v, ec, index); err != nil {
			return nil, err
		}
	}
	return s.finish(n, v, ec)
}

func (s *Scraper) finish(n *node, v any, ec scrape.EvalContext) (any, error) {
	if v == nil && n.def.Default != nil {
		return normalize(n.def.Default)
	}
	if v == nil && n.def.Required {
		return nil, scrape.NewItemError(scrape.ErrEvalValueMissing, ec.Path, fmt.Errorf("field %s", n.name))
	}
	return v, nil
}

// extract reads the selected node's text, markup, or attribute. A selector
// that matches nothing yields nil.
func (s *Scraper) extract(n *node, scope *goquery.Selection) (any, error) {
	target := scope
	if n.sel != nil {
		target = scope.FindMatcher(n.sel).First()
	}
	if target.Length() == 0 {
		return nil, nil
	}
	if n.def.Attr != "" {
		v, ok := target.Attr(n.def.Attr)
		if !ok {
			return nil, nil
		}
		return strings.TrimSpace(v), nil
	}
	switch n.def.ExtractMode() {
	case definition.ExtractHTML, definition.ExtractInnerHTML:
		markup, err := target.Html()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", n.name, err)
		}
		return strings.TrimSpace(markup), nil
	case definition.ExtractOuterHTML:
		markup, err := goquery.OuterHtml(target)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", n.name, err)
		}
		return strings.TrimSpace(markup), nil
	default:
		return collapse(target.Text()), nil
	}
}

var (
	errNotPrimitive = errors.New("script returned an object or function")
	errHalted       = errors.New("script halted")
)

// watch arms the VM interrupt for the lifetime of one Records call. The
// returned func disarms it and discards an interrupt that was never taken.
func (s *Scraper) watch(ctx context.Context) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		select {
		case s.vm.Interrupt <- func() { panic(errHalted) }:
		default:
		}
	})
	return func() {
		if !stop() {
			<-fired
		}
		select {
		case <-s.vm.Interrupt:
		default:
		}
	}
}

func interrupted(ec scrape.EvalContext, cause error) error {
	return scrape.NewItemError(scrape.ErrInterrupted, ec.Path, cause)
}

// run executes a compiled script, turning an interrupt into errHalted.
func (s *Scraper) run(script *otto.Script) (result otto.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == errHalted {
				err = errHalted
				return
			}
			panic(rec)
		}
	}()
	return s.vm.Run(script)
}

func (s *Scraper) eval(n *node, value any, ec scrape.EvalContext, index int) (any, error) {
	bindings := []struct {
		name  string
		value any
	}{
		{"value", value},
		{"path", ec.Path},
		{"basename", ec.Basename},
		{"url", ec.URL},
		{"index", index},
	}
	for _, b := range bindings {
		v := b.value
		if v == nil {
			v = otto.NullValue()
		}
		if err := s.vm.Set(b.name, v); err != nil {
			return nil, scrape.NewItemError(scrape.ErrEval, ec.Path, err)
		}
	}
	result, err := s.run(n.script)
	if errors.Is(err, errHalted) {
		return nil, interrupted(ec, fmt.Errorf("field %s: %w", n.name, err))
	}
	if err != nil {
		return nil, scrape.NewItemError(scrape.ErrEval, ec.Path, fmt.Errorf("field %s: %w", n.name, err))
	}
	if result.IsUndefined() || result.IsNull() {
		return nil, nil
	}
	if result.IsFunction() || (result.IsObject() && result.Class() != "Array") {
		return nil, scrape.NewItemError(scrape.ErrEvalType, ec.Path, fmt.Errorf("field %s: %w", n.name, errNotPrimitive))
	}
	exported, _ := result.Export()
	out, err := normalize(exported)
	if err != nil {
		return nil, scrape.NewItemError(scrape.ErrEvalType, ec.Path, fmt.Errorf("field %s: %w", n.name, err))
	}
	return out, nil
}
