package flow

import (
	"fmt"

	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/selfprompt"
)

const defaultSummary = "Flow complete."

// State is the per-request progress through a graph.
type State struct {
	RequestID string
	// Current is the id of the active question, "" once the flow ended.
	Current string
	Answers map[string]string
	// Data is free-form storage for assignments and tools.
	Data map[string]any

	pending *Route
	// deferred holds an action resolved at Prefilled that is only legal
	// from the first forward pass on.
	deferred mod.Action
}

// Engine is a mod.Mod running one Graph.
type Engine struct {
	name  string
	graph *Graph
	sps   map[string]*selfprompt.SelfPrompt
}

// New validates g and returns an Engine named name.
func New(name string, g *Graph) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{name: name, graph: g, sps: make(map[string]*selfprompt.SelfPrompt)}
	for _, q := range g.Questions() {
		sp, err := selfprompt.New(name+"."+q.ID, q.selfPromptConfig())
		if err != nil {
			return nil, fmt.Errorf("flow: question %q: %w", q.ID, err)
		}
		e.sps[q.ID] = sp
	}
	return e, nil
}

// Name returns the mod name.
func (e *Engine) Name() string { return e.name }

// Graph returns the graph e runs.
func (e *Engine) Graph() *Graph { return e.graph }

type stateKey struct{ e *Engine }

// State returns the flow state of rc, creating it if needed.
func (e *Engine) State(rc *mod.Context) *State {
	if st, ok := rc.Value(stateKey{e}).(*State); ok {
		return st
	}
	st := &State{
		RequestID: rc.RequestID,
		Answers:   make(map[string]string),
		Data:      make(map[string]any),
	}
	rc.SetValue(stateKey{e}, st)
	return st
}

// Handle implements mod.Mod.
func (e *Engine) Handle(rc *mod.Context, ev mod.Event) mod.Action {
	st := e.State(rc)
	switch ev := ev.(type) {
	case *mod.Prefilled:
		st.pending, st.deferred = nil, nil
		st.Current = ""
		act := e.enter(rc, ev, st, e.graph.Entry)
		if !mod.Allowed(mod.KindPrefilled, act.Kind()) {
			st.deferred = act
			return mod.Noop{}
		}
		return act
	case *mod.ForwardPass:
		if st.deferred != nil {
			act := st.deferred
			st.deferred = nil
			return act
		}
		if st.pending != nil {
			r := *st.pending
			st.pending = nil
			return e.perform(rc, ev, st, r)
		}
		if st.Current == "" {
			return mod.Noop{}
		}
		act := e.sps[st.Current].ForwardPass(rc, ev)
		return e.advance(rc, ev, st, act)
	case *mod.Added:
		if st.Current == "" {
			return mod.Noop{}
		}
		act := e.sps[st.Current].Added(rc, ev)
		return e.advance(rc, ev, st, act)
	}
	return mod.Noop{}
}

// enter makes id the active question, unless its auto-answer resolves a
// route, in which case that route is performed instead.
func (e *Engine) enter(rc *mod.Context, ev mod.Event, st *State, id string) mod.Action {
	q := e.graph.questions[id]
	if q.AutoAnswer != nil {
		if answer, ok := q.AutoAnswer(st); ok && answer != "" {
			rc.Log.Debug("flow auto answer", "mod", e.name, "question", id, "answer", answer)
			e.record(st, q, answer)
			if r, ok := q.resolve(st, answer, true); ok {
				return e.perform(rc, ev, st, r)
			}
		}
	}
	st.Current = id
	e.sps[id].Release(rc)
	rc.Log.Debug("flow question", "mod", e.name, "question", id)
	if fp, ok := ev.(*mod.ForwardPass); ok {
		return e.sps[id].ForwardPass(rc, fp)
	}
	return mod.Noop{}
}

func (e *Engine) record(st *State, q *Question, answer string) {
	st.Answers[q.ID] = answer
	for _, fn := range q.Assign {
		fn(st, answer)
	}
}

// advance resolves the route of the active question once its answer is
// complete. A route found on a completion that erased the exchange is
// deferred to the next forward pass.
func (e *Engine) advance(rc *mod.Context, ev mod.Event, st *State, last mod.Action) mod.Action {
	q := e.graph.questions[st.Current]
	sp := e.sps[q.ID]
	if !sp.Completed(rc) {
		return last
	}
	answer, _, _ := sp.Answer(rc)
	if answer != "" {
		e.record(st, q, answer)
	}
	rc.Log.Info("flow answer", "mod", e.name, "question", q.ID, "answer", answer)

	r, ok := q.resolve(st, answer, answer != "")
	if !ok {
		st.Current = ""
		return last
	}
	if last.Kind() == mod.KindBacktrack {
		st.Current = ""
		st.pending = &r
		return last
	}
	st.Current = ""
	return e.perform(rc, ev, st, r)
}

func (e *Engine) perform(rc *mod.Context, ev mod.Event, st *State, r Route) mod.Action {
	switch r.Kind {
	case RouteQuestion:
		return e.enter(rc, ev, st, r.Target)
	case RouteMessage:
		return e.forceText(rc, st, r.Text)
	case RouteSummary:
		text := r.Text
		if e.graph.Summary != nil {
			text = e.graph.Summary(st)
		}
		if text == "" {
			text = defaultSummary
		}
		return e.forceText(rc, st, text)
	case RouteOutput:
		ids, err := rc.Encode(r.Text)
		if err != nil {
			return mod.EmitError{Message: fmt.Sprintf("flow: encode output: %v", err)}
		}
		st.Current = ""
		return mod.ForceOutput{Tokens: ids}
	case RouteTool:
		st.Current = ""
		if a := r.Tool(rc, st); a != nil {
			return a
		}
	}
	st.Current = ""
	return mod.Noop{}
}

func (e *Engine) forceText(rc *mod.Context, st *State, text string) mod.Action {
	ids, err := rc.Encode(text)
	if err != nil {
		return mod.EmitError{Message: fmt.Sprintf("flow: encode message: %v", err)}
	}
	if eos, ok := rc.Tokens.EOS(); ok {
		ids = append(ids, eos)
	}
	st.Current = ""
	return mod.ForceTokens{Tokens: ids}
}
