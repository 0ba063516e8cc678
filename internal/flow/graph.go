// Package flow chains self-prompted questions into a graph. Each answer
// selects a route: another question, a forced message, a final output or a
// callback producing an arbitrary action.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/selfprompt"
	"github.com/samcharles93/steer/internal/strategy"
)

var (
	// ErrDanglingRoute is reported by Validate for a route naming a
	// question that is not part of the graph.
	ErrDanglingRoute = errors.New("flow: route targets unknown question")
	// ErrInvalidGraph wraps every other Validate failure.
	ErrInvalidGraph = errors.New("flow: invalid graph")
)

// RouteKind selects what happens after a question is answered.
type RouteKind uint8

const (
	RouteNoop RouteKind = iota
	RouteQuestion
	RouteMessage
	RouteSummary
	RouteOutput
	RouteTool
)

func (k RouteKind) String() string {
	switch k {
	case RouteQuestion:
		return "question"
	case RouteMessage:
		return "message"
	case RouteSummary:
		return "summary"
	case RouteOutput:
		return "output"
	case RouteTool:
		return "tool"
	default:
		return "noop"
	}
}

// ToolFunc computes the action of a tool route.
type ToolFunc func(rc *mod.Context, st *State) mod.Action

// Route is one edge of the graph.
type Route struct {
	Kind RouteKind
	// Target is the question id of a question route.
	Target string
	// Text is the message, summary or output text.
	Text string
	Tool ToolFunc
}

// ToQuestion routes to the question with id.
func ToQuestion(id string) Route { return Route{Kind: RouteQuestion, Target: id} }

// Message forces text followed by end-of-sequence and ends the flow.
func Message(text string) Route { return Route{Kind: RouteMessage, Text: text} }

// Summary forces the graph summary (or text when the graph has none),
// then end-of-sequence.
func Summary(text string) Route { return Route{Kind: RouteSummary, Text: text} }

// Output ends the request with text as its output.
func Output(text string) Route { return Route{Kind: RouteOutput, Text: text} }

// Tool runs fn and returns its action.
func Tool(fn ToolFunc) Route { return Route{Kind: RouteTool, Tool: fn} }

// Noop ends the flow without acting.
func Noop() Route { return Route{} }

// BranchFunc picks a route from the flow state. ok false defers to the next
// branch.
type BranchFunc func(st *State) (r Route, ok bool)

// AssignFunc stores an answer into the flow state.
type AssignFunc func(st *State, answer string)

// AutoAnswerFunc answers a question without generating. ok false asks the
// question normally.
type AutoAnswerFunc func(st *State) (answer string, ok bool)

// Question is one node of a Graph.
type Question struct {
	ID     string
	Prompt string
	// Strategy constrains the answer.
	Strategy strategy.Spec
	// Completion is the literal forced after the answer. Nil means "\n".
	Completion *string
	Erase      selfprompt.EraseMode

	// Transitions are keyed by lower-cased answer.
	Transitions map[string]Route
	Default     *Route
	Branches    []BranchFunc
	Assign      []AssignFunc
	AutoAnswer  AutoAnswerFunc
}

// Ask returns a question with id, prompt and answer strategy.
func Ask(id, prompt string, spec strategy.Spec) *Question {
	return &Question{ID: id, Prompt: prompt, Strategy: spec, Transitions: make(map[string]Route)}
}

// On routes answer (case-insensitive) to r.
func (q *Question) On(answer string, r Route) *Question {
	if q.Transitions == nil {
		q.Transitions = make(map[string]Route)
	}
	q.Transitions[strings.ToLower(answer)] = r
	return q
}

// Then sets the route taken when no transition matches.
func (q *Question) Then(r Route) *Question {
	q.Default = &r
	return q
}

// Branch adds a resolver consulted when neither a transition nor the
// default matched.
func (q *Question) Branch(fn BranchFunc) *Question {
	q.Branches = append(q.Branches, fn)
	return q
}

// Assigns adds fn to the answer assignments.
func (q *Question) Assigns(fn AssignFunc) *Question {
	q.Assign = append(q.Assign, fn)
	return q
}

// WithAutoAnswer makes the question skippable.
func (q *Question) WithAutoAnswer(fn AutoAnswerFunc) *Question {
	q.AutoAnswer = fn
	return q
}

// WithCompletion sets the completion suffix.
func (q *Question) WithCompletion(suffix string) *Question {
	q.Completion = &suffix
	return q
}

// WithErase sets the erase mode.
func (q *Question) WithErase(m selfprompt.EraseMode) *Question {
	q.Erase = m
	return q
}

// resolve picks the route for answer: transitions, then default, then
// branches.
func (q *Question) resolve(st *State, answer string, answered bool) (Route, bool) {
	if answered {
		if r, ok := q.Transitions[strings.ToLower(answer)]; ok {
			return r, true
		}
	}
	if q.Default != nil {
		return *q.Default, true
	}
	for _, fn := range q.Branches {
		if r, ok := fn(st); ok {
			return r, true
		}
	}
	return Route{}, false
}

func (q *Question) selfPromptConfig() selfprompt.Config {
	suffix := "\n"
	if q.Completion != nil {
		suffix = *q.Completion
	}
	return selfprompt.Config{
		Prompt:     selfprompt.Prompt{Text: q.Prompt},
		Strategy:   strategy.Config{Spec: q.Strategy},
		Completion: &selfprompt.Completion{Suffix: &suffix},
		Erase:      q.Erase,
	}
}

// SummaryFunc renders the text of a summary route.
type SummaryFunc func(st *State) string

// Graph is an arena of questions addressed by id.
type Graph struct {
	Name    string
	Entry   string
	Summary SummaryFunc

	questions map[string]*Question
	order     []string
	dups      []string
}

// NewGraph returns a graph entered at entry. The entry question is added
// along with more.
func NewGraph(name string, entry *Question, more ...*Question) *Graph {
	g := &Graph{Name: name, questions: make(map[string]*Question)}
	if entry != nil {
		g.Entry = entry.ID
		g.Add(entry)
	}
	g.Add(more...)
	return g
}

// Add adds questions. Duplicate ids are reported by Validate.
func (g *Graph) Add(qs ...*Question) *Graph {
	for _, q := range qs {
		if _, dup := g.questions[q.ID]; dup {
			g.dups = append(g.dups, q.ID)
			continue
		}
		g.questions[q.ID] = q
		g.order = append(g.order, q.ID)
	}
	return g
}

// Question returns the question with id.
func (g *Graph) Question(id string) (*Question, bool) {
	q, ok := g.questions[id]
	return q, ok
}

// Questions returns all questions in insertion order.
func (g *Graph) Questions() []*Question {
	out := make([]*Question, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.questions[id])
	}
	return out
}

// Validate checks that the entry and every static question route exist and
// that every question has a strategy.
func (g *Graph) Validate() error {
	var errs []error
	if _, ok := g.questions[g.Entry]; !ok {
		errs = append(errs, fmt.Errorf("%w: entry %q not found", ErrInvalidGraph, g.Entry))
	}
	for _, id := range g.dups {
		errs = append(errs, fmt.Errorf("%w: duplicate question %q", ErrInvalidGraph, id))
	}
	for _, q := range g.Questions() {
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("%w: question without id", ErrInvalidGraph))
		}
		if q.Strategy == nil {
			errs = append(errs, fmt.Errorf("%w: question %q has no strategy", ErrInvalidGraph, q.ID))
		}
		check := func(where string, r Route) {
			switch r.Kind {
			case RouteQuestion:
				if _, ok := g.questions[r.Target]; !ok {
					errs = append(errs, fmt.Errorf("%w: %s of %q -> %q", ErrDanglingRoute, where, q.ID, r.Target))
				}
			case RouteTool:
				if r.Tool == nil {
					errs = append(errs, fmt.Errorf("%w: %s of %q is a tool route without a callback", ErrInvalidGraph, where, q.ID))
				}
			}
		}
		for answer, r := range q.Transitions {
			check(fmt.Sprintf("transition %q", answer), r)
		}
		if q.Default != nil {
			check("default", *q.Default)
		}
	}
	return errors.Join(errs...)
}
