// Package schema compiles a JSON Schema into a question flow that fills in
// a conforming JSON document one leaf at a time.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSchema wraps load and meta-validation failures.
var ErrInvalidSchema = errors.New("schema: invalid schema")

const resourceURL = "mem://steer/schema.json"

// Schema is a loaded JSON Schema. The document is kept as a YAML node tree
// so property declaration order survives.
type Schema struct {
	root     *yaml.Node
	compiled *jsonschema.Schema
}

// Parse loads a JSON Schema document.
func Parse(raw []byte) (*Schema, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(compact.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return load(&doc, compact.Bytes())
}

// FromYAML loads a schema written inline in a YAML document.
func FromYAML(n *yaml.Node) (*Schema, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return load(n, raw)
}

func load(n *yaml.Node, raw []byte) (*Schema, error) {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: root must be an object", ErrInvalidSchema)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return &Schema{root: n, compiled: compiled}, nil
}

// Validate checks a rendered document against the schema.
func (s *Schema) Validate(text string) error {
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return err
	}
	return s.compiled.Validate(v)
}

// Satisfiable reports whether the generator can produce a document for the
// root schema.
func (s *Schema) Satisfiable() bool { return s.satisfiable(s.root, 0) }

func (s *Schema) satisfiable(n *yaml.Node, depth int) bool {
	if n == nil || n.Kind != yaml.MappingNode || depth > maxDepth {
		return true
	}
	n = s.deref(n)
	if alts := union(n); len(alts) > 0 {
		for _, alt := range alts {
			if s.satisfiable(alt, depth+1) {
				return true
			}
		}
		return false
	}
	t := typeOf(n)
	if (t == "array" || t == "object") && get(n, "enum") != nil {
		return false
	}
	props := get(n, "properties")
	for _, name := range stringList(get(n, "required")) {
		if sub := get(props, name); sub != nil && !s.satisfiable(sub, depth+1) {
			return false
		}
	}
	return true
}

const maxDepth = 32

// deref resolves internal "#/..." references. Keywords next to $ref
// override the target's.
func (s *Schema) deref(n *yaml.Node) *yaml.Node {
	for range maxDepth {
		ref := get(n, "$ref")
		if ref == nil || !strings.HasPrefix(ref.Value, "#") {
			return n
		}
		target := s.pointer(ref.Value)
		if target == nil || target.Kind != yaml.MappingNode {
			return n
		}
		n = overlay(target, n)
	}
	return n
}

func (s *Schema) pointer(ref string) *yaml.Node {
	ptr := strings.TrimPrefix(ref, "#")
	if ptr == "" {
		return s.root
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil
	}
	cur := s.root
	for _, tok := range strings.Split(ptr[1:], "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch cur.Kind {
		case yaml.MappingNode:
			cur = get(cur, tok)
		case yaml.SequenceNode:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(cur.Content) {
				return nil
			}
			cur = cur.Content[i]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

func overlay(target, n *yaml.Node) *yaml.Node {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	out.Content = append(out.Content, target.Content...)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Value == "$ref" {
			continue
		}
		replaced := false
		for j := 0; j+1 < len(out.Content); j += 2 {
			if out.Content[j].Value == k.Value {
				out.Content[j+1] = v
				replaced = true
				break
			}
		}
		if !replaced {
			out.Content = append(out.Content, k, v)
		}
	}
	return out
}

// get returns the value of key in mapping n.
func get(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// pairs returns the keys and values of mapping n in document order.
func pairs(n *yaml.Node) (keys []string, vals []*yaml.Node) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		keys = append(keys, n.Content[i].Value)
		vals = append(vals, n.Content[i+1])
	}
	return keys, vals
}

// typeOf returns the schema type. A type list yields its first entry.
func typeOf(n *yaml.Node) string {
	t := get(n, "type")
	switch {
	case t == nil:
		if get(n, "properties") != nil {
			return "object"
		}
		if get(n, "items") != nil {
			return "array"
		}
		return ""
	case t.Kind == yaml.SequenceNode:
		for _, c := range t.Content {
			if c.Kind == yaml.ScalarNode {
				return c.Value
			}
		}
		return ""
	default:
		return t.Value
	}
}

func union(n *yaml.Node) []*yaml.Node {
	for _, key := range []string{"anyOf", "oneOf"} {
		if u := get(n, key); u != nil && u.Kind == yaml.SequenceNode && len(u.Content) > 0 {
			return u.Content
		}
	}
	return nil
}

func stringList(n *yaml.Node) []string {
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		if c.Kind == yaml.ScalarNode {
			out = append(out, c.Value)
		}
	}
	return out
}

func intOf(n *yaml.Node, key string) (int, bool) {
	v := get(n, key)
	if v == nil {
		return 0, false
	}
	i, err := strconv.Atoi(v.Value)
	return i, err == nil
}

func floatOf(n *yaml.Node, key string) (float64, bool) {
	v := get(n, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Value, 64)
	return f, err == nil
}

func boolOf(n *yaml.Node, key string) bool {
	v := get(n, key)
	return v != nil && v.Value == "true"
}

func stringOf(n *yaml.Node, key string) string {
	if v := get(n, key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value
	}
	return ""
}

// literalText renders an enum or const scalar the way it is generated.
func literalText(n *yaml.Node) string {
	if n.Tag == "!!null" {
		return "null"
	}
	return n.Value
}

func isNullType(n *yaml.Node) bool {
	return typeOf(n) == "null"
}
