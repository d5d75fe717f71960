package definition

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/robertkrimen/otto/parser"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Problem is one defect found in a definition.
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%d problem(s): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Unwrap lets callers match ErrDefinitionInvalid.
func (e *ValidationError) Unwrap() error { return scrape.ErrDefinitionInvalid }

// Validate checks selectors, scripts, extraction modes, and structure. It
// returns a *ValidationError when anything is wrong.
func (d *Definition) Validate() error {
	if d == nil {
		return &ValidationError{Problems: []Problem{{Path: "$", Message: "definition is empty"}}}
	}
	var problems []Problem
	d.validateNode("$", 0, &problems)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (d *Definition) validateNode(path string, depth int, problems *[]Problem) {
	add := func(format string, args ...any) {
		*problems = append(*problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	if d.Iterator != "" {
		if _, err := cascadia.Compile(d.Iterator); err != nil {
			add("invalid iterator selector %q: %v", d.Iterator, err)
		}
	}
	if d.Sel != "" {
		if _, err := cascadia.Compile(d.Sel); err != nil {
			add("invalid selector %q: %v", d.Sel, err)
		}
	}
	switch d.Extract {
	case "", ExtractText, ExtractHTML, ExtractInnerHTML, ExtractOuterHTML:
	default:
		add("unknown extract %q", d.Extract)
	}
	if d.Attr != "" && d.Extract != "" {
		add("attr and extract are mutually exclusive")
	}
	if strings.TrimSpace(d.Eval) != "" {
		if _, err := parser.ParseFile(nil, path, d.Eval, 0); err != nil {
			add("invalid eval: %v", err)
		}
	}
	if len(d.Fields) == 0 {
		return
	}
	if depth > 0 {
		add("nested fields are not supported")
		return
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		fieldPath := path + "." + f.Name
		if strings.TrimSpace(f.Name) == "" {
			*problems = append(*problems, Problem{Path: path, Message: "field name is empty"})
			continue
		}
		if _, dup := seen[f.Name]; dup {
			*problems = append(*problems, Problem{Path: fieldPath, Message: "duplicate field"})
			continue
		}
		seen[f.Name] = struct{}{}
		if f.Def == nil {
			*problems = append(*problems, Problem{Path: fieldPath, Message: "field has no definition"})
			continue
		}
		f.Def.validateNode(fieldPath, depth+1, problems)
	}
}
