package schema

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Object is a JSON object that keeps insertion order.
type Object struct {
	keys []string
	vals map[string]any
}

func NewObject() *Object { return &Object{vals: make(map[string]any)} }

// Set stores v under k. A new key goes last.
func (o *Object) Set(k string, v any) {
	if _, ok := o.vals[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.vals[k] = v
}

func (o *Object) Get(k string) (any, bool) {
	v, ok := o.vals[k]
	return v, ok
}

func (o *Object) Keys() []string { return slices.Clone(o.keys) }

func (o *Object) Len() int { return len(o.keys) }

// setPath stores v at path, creating intermediate objects. An intermediate
// value that is not an object is replaced.
func setPath(root *Object, path []string, v any) {
	if len(path) == 0 {
		return
	}
	cur := root
	for _, k := range path[:len(path)-1] {
		next, ok := cur.vals[k].(*Object)
		if !ok {
			next = NewObject()
			cur.Set(k, next)
		}
		cur = next
	}
	cur.Set(path[len(path)-1], v)
}

// Render serializes v with ", " and ": " separators and ASCII-only
// strings, so {"ok": true}.
func Render(v any) string {
	var sb strings.Builder
	render(&sb, v)
	return sb.String()
}

func render(sb *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case int:
		sb.WriteString(strconv.Itoa(v))
	case float64:
		sb.WriteString(formatFloat(v))
	case json.Number:
		if i, err := v.Int64(); err == nil {
			sb.WriteString(strconv.FormatInt(i, 10))
		} else if f, err := v.Float64(); err == nil {
			sb.WriteString(formatFloat(f))
		} else {
			sb.WriteString(v.String())
		}
	case string:
		quote(sb, v)
	case *Object:
		sb.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			quote(sb, k)
			sb.WriteString(": ")
			render(sb, v.vals[k])
		}
		sb.WriteByte('}')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			quote(sb, k)
			sb.WriteString(": ")
			render(sb, v[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			render(sb, e)
		}
		sb.WriteByte(']')
	default:
		quote(sb, fmt.Sprint(v))
	}
}

// formatFloat writes the shortest representation, keeping a fractional
// part on integral values and switching to an exponent outside [1e-4, 1e16).
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	exp := strconv.FormatFloat(f, 'e', -1, 64)
	e, _ := strconv.Atoi(exp[strings.IndexByte(exp, 'e')+1:])
	if e < -4 || e >= 16 {
		return exp
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

const hex = "0123456789abcdef"

func quote(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r < 0x10000):
				writeU(sb, r)
			case r >= 0x10000:
				hi, lo := utf16.EncodeRune(r)
				writeU(sb, hi)
				writeU(sb, lo)
			default:
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

func writeU(sb *strings.Builder, r rune) {
	sb.WriteString(`\u`)
	for shift := 12; shift >= 0; shift -= 4 {
		sb.WriteByte(hex[(r>>shift)&0xf])
	}
}

// dedupe removes repeated elements from arrays whose schema sets
// uniqueItems, keeping first occurrences.
func dedupe(s *Schema, n *yaml.Node, v any, depth int) any {
	if n == nil || depth > maxDepth {
		return v
	}
	n = s.deref(n)
	switch v := v.(type) {
	case *Object:
		props := get(n, "properties")
		for _, k := range v.keys {
			if sub := get(props, k); sub != nil {
				v.vals[k] = dedupe(s, sub, v.vals[k], depth+1)
			}
		}
		return v
	case []any:
		items := get(n, "items")
		for i := range v {
			v[i] = dedupe(s, items, v[i], depth+1)
		}
		if !boolOf(n, "uniqueItems") {
			return v
		}
		seen := make(map[string]bool, len(v))
		out := v[:0]
		for _, e := range v {
			key := Render(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
		return out
	}
	return v
}
