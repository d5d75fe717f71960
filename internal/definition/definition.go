// Package definition loads and validates declarative scraper definitions
// written in JSON or YAML.
package definition

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extract names what is taken from a selected node.
type Extract string

// Supported extraction modes.
const (
	ExtractText      Extract = "text"
	ExtractHTML      Extract = "html"
	ExtractInnerHTML Extract = "inner_html"
	ExtractOuterHTML Extract = "outer_html"
)

// Definition is one node of a scraper definition. The root node describes
// the records; the nodes under Fields describe their columns.
type Definition struct {
	Iterator string  `yaml:"iterator"`
	Sel      string  `yaml:"sel"`
	Attr     string  `yaml:"attr"`
	Extract  Extract `yaml:"extract"`
	Eval     string  `yaml:"eval"`
	Default  any     `yaml:"default"`
	Required bool    `yaml:"required"`
	Fields   Fields  `yaml:"fields"`
}

// Field is a named column of a definition.
type Field struct {
	Name string
	Def  *Definition
}

// Fields keeps columns in declaration order.
type Fields []Field

var knownKeys = map[string]struct{}{
	"iterator": {}, "sel": {}, "attr": {}, "extract": {},
	"eval": {}, "default": {}, "required": {}, "fields": {},
}

// UnmarshalYAML accepts either a mapping or a bare selector string.
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*d = Definition{Sel: node.Value}
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: expected a mapping or a selector string", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if _, ok := knownKeys[key.Value]; !ok {
			return fmt.Errorf("line %d: unknown key %q", key.Line, key.Value)
		}
	}
	type plain Definition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = Definition(p)
	return nil
}

// UnmarshalYAML decodes a mapping while keeping key order.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		def := &Definition{}
		if err := node.Content[i+1].Decode(def); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Def: def})
	}
	*f = out
	return nil
}

// Headers returns the tabular column names, or nil when the definition
// declares no fields and therefore cannot produce tabular output.
func (d *Definition) Headers() []string {
	if d == nil || len(d.Fields) == 0 {
		return nil
	}
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Plural reports whether the definition yields one record per iterator match.
func (d *Definition) Plural() bool {
	return d != nil && strings.TrimSpace(d.Iterator) != ""
}

// ExtractMode returns the effective extraction mode.
func (d *Definition) ExtractMode() Extract {
	if d.Extract == "" {
		return ExtractText
	}
	return d.Extract
}
