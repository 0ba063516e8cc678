package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/steer/internal/flow"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/selfprompt"
	"github.com/samcharles93/steer/internal/strategy"
)

// UnsatisfiableMessage is the error emitted when the root schema has a
// required field the generator cannot produce.
const UnsatisfiableMessage = "JSON schema has unsatisfiable required fields; generation aborted."

const entryID = "entry"

var formatPatterns = map[string]string{
	"date":      `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`,
	"date-time": `^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}Z$`,
	"email":     `^[^@\s]+@[^@\s]+\.[^@\s]+$`,
}

type builder struct {
	s   *Schema
	qs  []*flow.Question
	seq int
}

// Graph compiles s into a question graph. The graph's final route renders
// the collected document and ends the request with it.
func Graph(name string, s *Schema) (*flow.Graph, error) {
	b := &builder{s: s}
	start := flow.Tool(b.abort)
	if s.Satisfiable() {
		start = b.object(nil, s.root, flow.Tool(b.finish), 0)
	}
	entry := b.auto(entryID, "go", nil).Then(start)
	g := flow.NewGraph(name, entry, b.qs...)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *builder) id(path []string, kind string) string {
	b.seq++
	return fmt.Sprintf("q%d:%s:%s", b.seq, displayPath(path), kind)
}

func (b *builder) add(q *flow.Question) flow.Route {
	b.qs = append(b.qs, q)
	return flow.ToQuestion(q.ID)
}

// auto returns a question answered with answer without generating.
func (b *builder) auto(id, answer string, assign flow.AssignFunc) *flow.Question {
	q := flow.Ask(id, "", strategy.ChoicesSpec{Choices: []string{answer}}).
		WithAutoAnswer(func(*flow.State) (string, bool) { return answer, true })
	if assign != nil {
		q.Assigns(assign)
	}
	return q
}

// object chains the properties of n, required ones first, then the rest in
// declaration order. Unsatisfiable optional properties are skipped.
func (b *builder) object(path []string, n *yaml.Node, next flow.Route, depth int) flow.Route {
	n = b.s.deref(n)
	props := get(n, "properties")
	keys, vals := pairs(props)
	required := make(map[string]bool)
	var order []string
	for _, name := range stringList(get(n, "required")) {
		if get(props, name) != nil && !required[name] {
			required[name] = true
			order = append(order, name)
		}
	}
	for _, k := range keys {
		if !required[k] {
			order = append(order, k)
		}
	}
	byName := make(map[string]*yaml.Node, len(keys))
	for i, k := range keys {
		byName[k] = vals[i]
	}

	r := next
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		r = b.field(appendPath(path, name), byName[name], required[name], r, depth+1)
	}
	return r
}

func (b *builder) field(path []string, n *yaml.Node, required bool, next flow.Route, depth int) flow.Route {
	n = b.s.deref(n)
	if !required && !b.s.satisfiable(n, depth) {
		return next
	}
	body := b.value(path, n, next, depth)
	if required || b.hasNullBranch(n) || isNullType(n) {
		return body
	}
	gate := flow.Ask(b.id(path, "gate"),
		fmt.Sprintf(" Should I provide a value for '%s' or set it to null? ", displayPath(path)),
		strategy.ChoicesSpec{Choices: []string{"provide", "null"}}).
		WithCompletion("").
		WithErase(selfprompt.EraseAll).
		On("provide", body).
		On("null", next).
		Assigns(func(st *flow.State, answer string) {
			if strings.EqualFold(answer, "null") {
				setPath(resultOf(st), path, nil)
			}
		})
	return b.add(gate)
}

func (b *builder) hasNullBranch(n *yaml.Node) bool {
	for _, alt := range union(n) {
		if isNullType(b.s.deref(alt)) {
			return true
		}
	}
	return false
}

func (b *builder) value(path []string, n *yaml.Node, next flow.Route, depth int) flow.Route {
	n = b.s.deref(n)
	if depth > maxDepth {
		return b.leaf(path, n, next)
	}
	if alts := union(n); len(alts) > 0 {
		return b.union(path, alts, next, depth)
	}
	if isNullType(n) && get(n, "enum") == nil && get(n, "const") == nil {
		q := b.auto(b.id(path, "null"), "null", func(st *flow.State, _ string) {
			setPath(resultOf(st), path, nil)
		}).Then(next)
		return b.add(q)
	}
	if typeOf(n) == "object" && get(n, "enum") == nil {
		if get(n, "properties") != nil {
			return b.object(path, n, next, depth)
		}
		if ap := get(n, "additionalProperties"); ap != nil && ap.Value == "false" {
			q := b.auto(b.id(path, "empty"), "ok", func(st *flow.State, _ string) {
				setPath(resultOf(st), path, NewObject())
			}).Then(next)
			return b.add(q)
		}
	}
	return b.leaf(path, n, next)
}

// union asks which branch to generate. A null branch assigns null.
func (b *builder) union(path []string, alts []*yaml.Node, next flow.Route, depth int) flow.Route {
	type branch struct {
		label string
		n     *yaml.Node
	}
	var branches []branch
	seen := make(map[string]bool)
	for i, alt := range alts {
		alt = b.s.deref(alt)
		if !b.s.satisfiable(alt, depth) {
			continue
		}
		label := stringOf(alt, "title")
		if label == "" {
			label = typeOf(alt)
		}
		if label == "" {
			label = fmt.Sprintf("option%d", i+1)
		}
		if seen[strings.ToLower(label)] {
			label = fmt.Sprintf("%s%d", label, i+1)
		}
		seen[strings.ToLower(label)] = true
		branches = append(branches, branch{label: label, n: alt})
	}
	switch len(branches) {
	case 0:
		return b.leaf(path, alts[0], next)
	case 1:
		return b.value(path, branches[0].n, next, depth+1)
	}

	labels := make([]string, len(branches))
	nullLabels := make(map[string]bool)
	for i, br := range branches {
		labels[i] = br.label
		if isNullType(br.n) {
			nullLabels[strings.ToLower(br.label)] = true
		}
	}
	q := flow.Ask(b.id(path, "anyOf"),
		fmt.Sprintf(" Choose the kind of value for '%s' from: %s. ", displayPath(path), strings.Join(labels, ", ")),
		strategy.ChoicesSpec{Choices: labels}).
		WithCompletion("").
		WithErase(selfprompt.EraseAll).
		Assigns(func(st *flow.State, answer string) {
			if nullLabels[strings.ToLower(answer)] {
				setPath(resultOf(st), path, nil)
			}
		})
	for _, br := range branches {
		if isNullType(br.n) {
			q.On(br.label, next)
			continue
		}
		q.On(br.label, b.value(path, br.n, next, depth+1))
	}
	return b.add(q)
}

func (b *builder) leaf(path []string, n *yaml.Node, next flow.Route) flow.Route {
	q := flow.Ask(b.id(path, "value"), b.prompt(path, n), b.leafSpec(n)).
		WithCompletion("").
		WithErase(selfprompt.EraseAll).
		Assigns(func(st *flow.State, answer string) { b.assign(st, path, n, answer) }).
		Then(next)
	return b.add(q)
}

func (b *builder) leafSpec(n *yaml.Node) strategy.Spec {
	if enum := get(n, "enum"); enum != nil && enum.Kind == yaml.SequenceNode && len(enum.Content) > 0 {
		choices := make([]string, 0, len(enum.Content))
		for _, c := range enum.Content {
			choices = append(choices, literalText(c))
		}
		return strategy.ChoicesSpec{Choices: choices}
	}
	if c := get(n, "const"); c != nil && c.Kind == yaml.ScalarNode {
		return strategy.ChoicesSpec{Choices: []string{literalText(c)}}
	}
	minLen, _ := intOf(n, "minLength")
	switch typeOf(n) {
	case "boolean":
		return strategy.ChoicesSpec{Choices: []string{"true", "false"}}
	case "integer":
		return strategy.CharsSpec{Mode: strategy.Numeric, Stop: "\n", Min: 1}
	case "number":
		return strategy.CharsSpec{Mode: strategy.JSFloat, Stop: "\n", Min: 1}
	case "string":
		if p := stringPattern(n); p != "" {
			return strategy.PatternSpec{Pattern: p, Stop: `"`, Min: minLen}
		}
		return strategy.CharsSpec{Mode: strategy.String, Stop: `"`, Min: minLen}
	case "array":
		items := b.s.deref(get(n, "items"))
		if items != nil && typeOf(items) == "string" {
			itemMin, _ := intOf(items, "minLength")
			sep := ", "
			spec := strategy.ListSpec{
				Open:    "[",
				Close:   "]",
				Wrap:    `"`,
				Sep:     &sep,
				EndWith: "\n",
				Element: strategy.CharsSpec{Mode: strategy.String, Stop: `"`, Min: itemMin},
			}
			spec.Min, _ = intOf(n, "minItems")
			if maxItems, ok := intOf(n, "maxItems"); ok {
				spec.Max = &maxItems
			}
			return spec
		}
		return strategy.CharsSpec{Mode: strategy.String, Stop: "\n", Min: 1}
	}
	return strategy.CharsSpec{Mode: strategy.String, Stop: "\n", Min: 1}
}

// stringPattern is the schema pattern, or one synthesized from a known
// format.
func stringPattern(n *yaml.Node) string {
	if p := stringOf(n, "pattern"); p != "" {
		return p
	}
	return formatPatterns[stringOf(n, "format")]
}

func (b *builder) prompt(path []string, n *yaml.Node) string {
	p := displayPath(path)
	var sb strings.Builder
	enum := get(n, "enum")
	switch t := typeOf(n); {
	case enum != nil && enum.Kind == yaml.SequenceNode:
		texts := make([]string, 0, len(enum.Content))
		for _, c := range enum.Content {
			texts = append(texts, literalText(c))
		}
		fmt.Fprintf(&sb, " Choose a value for '%s' from: %s.", p, strings.Join(texts, ", "))
	case get(n, "const") != nil:
		fmt.Fprintf(&sb, " The value for '%s' must be exactly %s.", p, literalText(get(n, "const")))
	case t == "boolean":
		fmt.Fprintf(&sb, " Generate a boolean value for '%s'. It must be exactly one of: true, false.", p)
	case t == "integer" || t == "number":
		kind := "an integer"
		if t == "number" {
			kind = "a number"
		}
		fmt.Fprintf(&sb, " Generate %s for '%s'.", kind, p)
		writeBounds(&sb, n)
		fmt.Fprintf(&sb, " End the value with a newline. %s: ", p)
		return b.describe(sb.String(), n)
	case t == "string":
		fmt.Fprintf(&sb, " Generate a string for '%s'.", p)
		if v, ok := intOf(n, "minLength"); ok {
			fmt.Fprintf(&sb, " It must be at least %d characters long.", v)
		}
		if v, ok := intOf(n, "maxLength"); ok {
			fmt.Fprintf(&sb, " It must be at most %d characters long.", v)
		}
		if f := stringOf(n, "format"); f != "" {
			fmt.Fprintf(&sb, " It must be a valid %s.", f)
		} else if pat := stringOf(n, "pattern"); pat != "" {
			fmt.Fprintf(&sb, " It must match the pattern %s.", pat)
		}
		fmt.Fprintf(&sb, " End with a double quote. %s: \"", p)
		return b.describe(sb.String(), n)
	case t == "array":
		items := b.s.deref(get(n, "items"))
		if items != nil && typeOf(items) == "string" {
			fmt.Fprintf(&sb, " Generate a JSON array of strings for '%s'.", p)
			if v, ok := intOf(n, "minItems"); ok {
				fmt.Fprintf(&sb, " It must have at least %d items.", v)
			}
			if v, ok := intOf(n, "maxItems"); ok {
				fmt.Fprintf(&sb, " It must have at most %d items.", v)
			}
			sb.WriteString(" Use double quotes around each element and separate with ', '. Close the list with ']' and then emit a newline. ")
			return b.describe(sb.String(), n)
		}
		fmt.Fprintf(&sb, " Generate a JSON array for '%s' on one line. End the value with a newline. %s: ", p, p)
		return b.describe(sb.String(), n)
	case t == "object":
		fmt.Fprintf(&sb, " Generate a JSON object for '%s' on one line.", p)
		if keys := stringList(get(n, "required")); len(keys) > 0 {
			fmt.Fprintf(&sb, " It must contain the keys: %s.", strings.Join(keys, ", "))
		}
		fmt.Fprintf(&sb, " End the value with a newline. %s: ", p)
		return b.describe(sb.String(), n)
	default:
		fmt.Fprintf(&sb, " Generate a value for '%s'. End the value with a newline. %s: ", p, p)
		return b.describe(sb.String(), n)
	}
	sb.WriteString(" ")
	return b.describe(sb.String(), n)
}

func writeBounds(sb *strings.Builder, n *yaml.Node) {
	exclusiveFlagMin := boolOf(n, "exclusiveMinimum")
	exclusiveFlagMax := boolOf(n, "exclusiveMaximum")
	if v := get(n, "minimum"); v != nil {
		op := ">="
		if exclusiveFlagMin {
			op = ">"
		}
		fmt.Fprintf(sb, " It must be %s %s.", op, v.Value)
	}
	if v := get(n, "exclusiveMinimum"); v != nil && v.Tag != "!!bool" {
		fmt.Fprintf(sb, " It must be > %s.", v.Value)
	}
	if v := get(n, "maximum"); v != nil {
		op := "<="
		if exclusiveFlagMax {
			op = "<"
		}
		fmt.Fprintf(sb, " It must be %s %s.", op, v.Value)
	}
	if v := get(n, "exclusiveMaximum"); v != nil && v.Tag != "!!bool" {
		fmt.Fprintf(sb, " It must be < %s.", v.Value)
	}
	if v := get(n, "multipleOf"); v != nil {
		fmt.Fprintf(sb, " It must be a multiple of %s.", v.Value)
	}
}

// describe prefixes the schema description, when there is one.
func (b *builder) describe(prompt string, n *yaml.Node) string {
	if d := stringOf(n, "description"); d != "" {
		return fmt.Sprintf(" (description: %s)%s", d, prompt)
	}
	return prompt
}

func (b *builder) abort(*mod.Context, *flow.State) mod.Action {
	return mod.EmitError{Message: UnsatisfiableMessage}
}

// finish renders the document and ends the request with it.
func (b *builder) finish(rc *mod.Context, st *flow.State) mod.Action {
	doc := resultOf(st)
	dedupe(b.s, b.s.root, doc, 0)
	text := Render(doc)
	st.Data[dataOutput] = text
	if err := b.s.Validate(text); err != nil {
		warn(st, fmt.Sprintf("document does not validate: %v", err))
		rc.Log.Warn("schema output does not validate", "error", err)
	}
	ids, err := rc.Encode(text)
	if err != nil {
		return mod.EmitError{Message: fmt.Sprintf("schema: encode output: %v", err)}
	}
	return mod.ForceOutput{Tokens: ids}
}

func appendPath(path []string, name string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, name)
}

func displayPath(path []string) string {
	if len(path) == 0 {
		return "value"
	}
	return strings.Join(path, ".")
}
