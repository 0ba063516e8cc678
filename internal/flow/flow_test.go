package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/selfprompt"
	"github.com/samcharles93/steer/internal/strategy"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

var tab = tokenizer.NewTable(tokenizer.Default())

func yesNo() strategy.Spec { return strategy.ChoicesSpec{Choices: []string{"yes", "no"}} }

func run(t *testing.T, script string, e *Engine) generate.Result {
	t.Helper()
	ids, err := tab.Encode(script)
	require.NoError(t, err)
	r := generate.New(toy.New(tab, toy.Options{Script: ids}), tab, generate.Config{
		MaxTokens: 64,
		Mods:      []mod.Mod{e},
	})
	res, err := r.Run(context.Background(), []generate.Request{{ID: "f"}})
	require.NoError(t, err)
	return res[0]
}

func TestMessageRoute(t *testing.T) {
	t.Parallel()
	q := Ask("ok", "Ok? ", yesNo()).
		On("yes", Message("Great")).
		On("no", Message("Sorry"))
	e, err := New("flow", NewGraph("g", q))
	require.NoError(t, err)

	res := run(t, "yes", e)
	assert.Equal(t, "Ok? yes\nGreat", res.Text)
}

func TestQuestionRouteAfterErase(t *testing.T) {
	t.Parallel()
	first := Ask("first", "Ok? ", yesNo()).
		WithErase(selfprompt.EraseAll).
		On("no", ToQuestion("second"))
	second := Ask("second", "Why? ", strategy.ChoicesSpec{Choices: []string{"a", "b"}}).
		Then(Tool(func(rc *mod.Context, st *State) mod.Action {
			ids, _ := rc.Encode(st.Answers["first"] + "/" + st.Answers["second"])
			return mod.ForceOutput{Tokens: ids}
		}))
	e, err := New("flow", NewGraph("g", first, second))
	require.NoError(t, err)

	res := run(t, "nob", e)
	assert.Equal(t, "no/b", res.Text)
	require.NotNil(t, res.Terminal)
	assert.Equal(t, mod.KindForceOutput, res.Terminal.Kind)
	assert.Equal(t, "flow", res.Terminal.Source)
}

func TestAutoAnswerSkipsQuestion(t *testing.T) {
	t.Parallel()
	var assigned string
	q := Ask("skip", "Skip? ", yesNo()).
		WithAutoAnswer(func(*State) (string, bool) { return "Yes", true }).
		Assigns(func(_ *State, answer string) { assigned = answer }).
		On("yes", Output("auto"))
	e, err := New("flow", NewGraph("g", q))
	require.NoError(t, err)

	res := run(t, "no", e)
	assert.Equal(t, "auto", res.Text)
	assert.Equal(t, 0, res.Steps)
	assert.Equal(t, "Yes", assigned)
}

func TestAutoAnswerMessageAtStart(t *testing.T) {
	t.Parallel()
	q := Ask("skip", "Skip? ", yesNo()).
		WithAutoAnswer(func(*State) (string, bool) { return "yes", true }).
		On("yes", Message("Great"))
	e, err := New("flow", NewGraph("g", q))
	require.NoError(t, err)

	res := run(t, "no", e)
	assert.Equal(t, "Great", res.Text)
	assert.Nil(t, res.Terminal)
}

func TestAutoAnswerDefersForcedTokens(t *testing.T) {
	t.Parallel()
	q := Ask("skip", "Skip? ", yesNo()).
		WithAutoAnswer(func(*State) (string, bool) { return "yes", true }).
		Then(Summary("done"))
	e, err := New("flow", NewGraph("g", q))
	require.NoError(t, err)

	rc := mod.NewContext("f", tab, nil)
	assert.Equal(t, mod.Noop{}, e.Handle(rc, &mod.Prefilled{}))

	act := e.Handle(rc, &mod.ForwardPass{})
	ft, ok := act.(mod.ForceTokens)
	require.True(t, ok, "got %T", act)
	want, err := tab.Encode("done")
	require.NoError(t, err)
	assert.Equal(t, want, ft.Tokens[:len(want)])

	assert.Equal(t, mod.Noop{}, e.Handle(rc, &mod.ForwardPass{}))
}

func TestSummaryRoute(t *testing.T) {
	t.Parallel()
	q := Ask("ok", "Ok? ", yesNo()).Then(Summary(""))
	g := NewGraph("g", q)
	g.Summary = func(st *State) string { return " answered " + st.Answers["ok"] }
	e, err := New("flow", g)
	require.NoError(t, err)

	res := run(t, "no", e)
	assert.Equal(t, "Ok? no\n answered no", res.Text)
}

func TestResolveOrder(t *testing.T) {
	t.Parallel()
	st := &State{Answers: map[string]string{}}
	q := Ask("q", "", yesNo()).
		On("YES", Message("t")).
		Branch(func(*State) (Route, bool) { return Message("b"), true })

	r, ok := q.resolve(st, "Yes", true)
	require.True(t, ok)
	assert.Equal(t, "t", r.Text)

	r, ok = q.resolve(st, "no", true)
	require.True(t, ok)
	assert.Equal(t, "b", r.Text)

	q.Then(Message("d"))
	r, _ = q.resolve(st, "no", true)
	assert.Equal(t, "d", r.Text)

	skip := Ask("s", "", yesNo()).Branch(func(*State) (Route, bool) { return Route{}, false })
	_, ok = skip.resolve(st, "x", true)
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		graph *Graph
		is    error
	}{
		{
			name:  "dangling",
			graph: NewGraph("g", Ask("a", "", yesNo()).On("yes", ToQuestion("missing"))),
			is:    ErrDanglingRoute,
		},
		{
			name:  "dangling default",
			graph: NewGraph("g", Ask("a", "", yesNo()).Then(ToQuestion("missing"))),
			is:    ErrDanglingRoute,
		},
		{
			name:  "duplicate",
			graph: NewGraph("g", Ask("a", "", yesNo()), Ask("a", "", yesNo())),
			is:    ErrInvalidGraph,
		},
		{
			name:  "no strategy",
			graph: NewGraph("g", Ask("a", "", nil)),
			is:    ErrInvalidGraph,
		},
		{
			name:  "no entry",
			graph: NewGraph("g", nil, Ask("a", "", yesNo())),
			is:    ErrInvalidGraph,
		},
		{
			name:  "tool without callback",
			graph: NewGraph("g", Ask("a", "", yesNo()).Then(Route{Kind: RouteTool})),
			is:    ErrInvalidGraph,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.graph.Validate()
			assert.ErrorIs(t, err, tt.is)
			_, err = New("flow", tt.graph)
			assert.Error(t, err)
		})
	}

	ok := NewGraph("g", Ask("a", "", yesNo()).On("yes", ToQuestion("b")), Ask("b", "", yesNo()))
	assert.NoError(t, ok.Validate())
	assert.Len(t, ok.Questions(), 2)
}

func TestStatePerRequest(t *testing.T) {
	t.Parallel()
	e, err := New("flow", NewGraph("g", Ask("a", "A? ", yesNo())))
	require.NoError(t, err)
	a := mod.NewContext("a", tab, nil)
	b := mod.NewContext("b", tab, nil)

	assert.Equal(t, mod.Noop{}, e.Handle(a, &mod.Prefilled{}))
	assert.Equal(t, "a", e.State(a).Current)
	assert.Equal(t, "", e.State(b).Current)
	assert.Equal(t, "b", e.State(b).RequestID)
	assert.Equal(t, "noop", RouteNoop.String())
}
