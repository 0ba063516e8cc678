package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/steer/internal/flow"
)

const (
	dataResult   = "schema.result"
	dataWarnings = "schema.warnings"
	dataOutput   = "schema.output"

	numberStep = 1e-6
)

func resultOf(st *flow.State) *Object {
	if o, ok := st.Data[dataResult].(*Object); ok {
		return o
	}
	o := NewObject()
	st.Data[dataResult] = o
	return o
}

func warn(st *flow.State, msg string) {
	ws, _ := st.Data[dataWarnings].([]string)
	st.Data[dataWarnings] = append(ws, msg)
}

// assign parses answer according to n and stores it at path.
func (b *builder) assign(st *flow.State, path []string, n *yaml.Node, answer string) {
	v := parseValue(strings.TrimSpace(answer), n)
	for _, w := range check(v, n) {
		warn(st, fmt.Sprintf("%s: %s", displayPath(path), w))
	}
	setPath(resultOf(st), path, v)
}

// parseValue converts generated text to a value of the schema type. Text
// that does not parse is kept as a string.
func parseValue(text string, n *yaml.Node) any {
	if strings.EqualFold(text, "null") {
		return nil
	}
	if enum := get(n, "enum"); enum != nil && enum.Kind == yaml.SequenceNode {
		for _, c := range enum.Content {
			if literalText(c) == text {
				return scalarValue(c)
			}
		}
	}
	if c := get(n, "const"); c != nil && c.Kind == yaml.ScalarNode && literalText(c) == text {
		return scalarValue(c)
	}
	switch typeOf(n) {
	case "boolean":
		switch strings.ToLower(text) {
		case "true":
			return true
		case "false":
			return false
		}
	case "integer":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return text
		}
		return int64(math.Round(clamp(f, n, true)))
	case "number":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return text
		}
		return clamp(f, n, false)
	case "string":
		if maxLen, ok := intOf(n, "maxLength"); ok && utf8.RuneCountInString(text) > maxLen {
			return string([]rune(text)[:maxLen])
		}
		return text
	case "object", "array":
		if v, ok := decodeJSON(text); ok {
			return v
		}
	}
	return text
}

// clamp bounds f by minimum and maximum. Exclusive bounds step inward by 1
// for integers and by multipleOf (or 1e-6) for numbers. The result is then
// snapped to multipleOf.
func clamp(f float64, n *yaml.Node, integer bool) float64 {
	mult, hasMult := floatOf(n, "multipleOf")
	step := 1.0
	if !integer {
		step = numberStep
		if hasMult && mult != 0 {
			step = math.Abs(mult)
		}
	}
	if lo, ok := floatOf(n, "minimum"); ok {
		if boolOf(n, "exclusiveMinimum") {
			lo += step
		}
		f = math.Max(f, lo)
	}
	if lo, ok := floatOf(n, "exclusiveMinimum"); ok && f <= lo {
		f = lo + step
	}
	if hi, ok := floatOf(n, "maximum"); ok {
		if boolOf(n, "exclusiveMaximum") {
			hi -= step
		}
		f = math.Min(f, hi)
	}
	if hi, ok := floatOf(n, "exclusiveMaximum"); ok && f >= hi {
		f = hi - step
	}
	if hasMult && mult != 0 {
		m := math.Abs(mult)
		f = math.Round(f/m) * m
	}
	return f
}

func scalarValue(c *yaml.Node) any {
	switch c.Tag {
	case "!!null":
		return nil
	case "!!bool":
		return c.Value == "true"
	case "!!int":
		if i, err := strconv.ParseInt(c.Value, 10, 64); err == nil {
			return i
		}
	case "!!float":
		if f, err := strconv.ParseFloat(c.Value, 64); err == nil {
			return f
		}
	}
	return c.Value
}

func decodeJSON(text string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

var emailRe = regexp2.MustCompile(formatPatterns["email"], regexp2.ECMAScript)

// check returns soft warnings for a string value: pattern mismatches and
// invalid formats.
func check(v any, n *yaml.Node) []string {
	s, ok := v.(string)
	if !ok || typeOf(n) != "string" {
		return nil
	}
	var out []string
	if p := stringOf(n, "pattern"); p != "" {
		re, err := regexp2.Compile(p, regexp2.ECMAScript)
		if err != nil {
			out = append(out, fmt.Sprintf("pattern %q does not compile: %v", p, err))
		} else if m, err := re.MatchString(s); err != nil || !m {
			out = append(out, fmt.Sprintf("%q does not match pattern %q", s, p))
		}
	}
	switch f := stringOf(n, "format"); f {
	case "date":
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			out = append(out, fmt.Sprintf("%q is not a valid date", s))
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			out = append(out, fmt.Sprintf("%q is not a valid date-time", s))
		}
	case "email":
		if m, err := emailRe.MatchString(s); err != nil || !m {
			out = append(out, fmt.Sprintf("%q is not a valid email", s))
		}
	}
	return out
}
