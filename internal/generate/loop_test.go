package generate

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/selfprompt"
	"github.com/samcharles93/steer/internal/strategy"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

var reader = sdkmetric.NewManualReader()

func TestMain(m *testing.M) {
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	os.Exit(m.Run())
}

var tab = tokenizer.NewTable(tokenizer.Default())

func enc(t *testing.T, s string) []int {
	t.Helper()
	ids, err := tab.Encode(s)
	require.NoError(t, err)
	return ids
}

func eos() int {
	id, _ := tab.EOS()
	return id
}

func newRunner(t *testing.T, script string, cfg Config) *Runner {
	t.Helper()
	b := toy.New(tab, toy.Options{Seed: 3, Script: enc(t, script)})
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 32
	}
	return New(b, tab, cfg)
}

func runOne(t *testing.T, r *Runner, req Request) Result {
	t.Helper()
	if req.ID == "" {
		req.ID = "r1"
	}
	res, err := r.Run(context.Background(), []Request{req})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

type onceKey string

// once wraps fn so it fires at most once per request. Mods are told apart
// by name.
func once(name string, fn func(rc *mod.Context, ev mod.Event) mod.Action) mod.Mod {
	key := onceKey(name)
	return mod.Func(name, func(rc *mod.Context, ev mod.Event) mod.Action {
		if rc.Value(key) != nil {
			return nil
		}
		a := fn(rc, ev)
		if a != nil && a.Kind() != mod.KindNoop {
			rc.SetValue(key, true)
		}
		return a
	})
}

// rewindCounter records every rewind the loop asks the backend for.
type rewindCounter struct {
	*toy.Backend
	calls []int
}

func (b *rewindCounter) RewindKVCache(ctx context.Context, id string, n int) error {
	b.calls = append(b.calls, n)
	return b.Backend.RewindKVCache(ctx, id, n)
}

func TestRunScript(t *testing.T) {
	t.Parallel()
	res := runOne(t, newRunner(t, "hi", Config{}), Request{})

	assert.Equal(t, "hi", res.Text)
	assert.Equal(t, enc(t, "hi"), res.Output)
	assert.Equal(t, append(enc(t, "hi"), eos()), res.Visible)
	assert.Nil(t, res.Terminal)
	assert.Equal(t, 3, res.Steps)
	assert.Empty(t, res.ForcedReasons)
}

func TestRunMaxTokens(t *testing.T) {
	t.Parallel()
	res := runOne(t, newRunner(t, "abcdef", Config{MaxTokens: 3}), Request{})
	assert.Equal(t, "abc", res.Text)
	assert.Equal(t, 3, res.Steps)

	res = runOne(t, newRunner(t, "abcdef", Config{MaxTokens: 10}), Request{MaxTokens: 2})
	assert.Equal(t, "ab", res.Text)
}

func TestRunStopToken(t *testing.T) {
	t.Parallel()
	stop := enc(t, "c")
	res := runOne(t, newRunner(t, "abcdef", Config{StopTokens: stop}), Request{})
	assert.Equal(t, "abc", res.Text)
}

func TestRunGeneratesRequestID(t *testing.T) {
	t.Parallel()
	r := newRunner(t, "a", Config{})
	res, err := r.Run(context.Background(), []Request{{}})
	require.NoError(t, err)
	_, err = uuid.Parse(res[0].RequestID)
	assert.NoError(t, err)
}

func TestPrefillForceTokensIsRejected(t *testing.T) {
	t.Parallel()
	force := mod.Func("force", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindPrefilled {
			ids, _ := rc.Encode("ok")
			return mod.ForceTokens{Tokens: ids}
		}
		return nil
	})
	_, err := newRunner(t, "!", Config{Mods: []mod.Mod{force}}).Run(context.Background(), []Request{{ID: "p"}})
	require.ErrorIs(t, err, mod.ErrInvalidAction)
}

func TestForwardPassForceTokens(t *testing.T) {
	t.Parallel()
	force := once("force", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindForwardPass {
			ids, _ := rc.Encode("ok")
			return mod.ForceTokens{Tokens: ids}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "!", Config{Mods: []mod.Mod{force}}), Request{})

	assert.Equal(t, "ok!", res.Text)
	assert.Equal(t, []string{"ForwardPass:force", "ForwardPass:force"}, res.ForcedReasons)
}

func TestAddedForceTokensFollowSampledToken(t *testing.T) {
	t.Parallel()
	b := enc(t, "b")[0]
	force := once("force", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.Added); ok && !e.Forced && e.Tokens[0] == b {
			ids, _ := rc.Encode("XY")
			return mod.ForceTokens{Tokens: ids}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "ab", Config{Mods: []mod.Mod{force}}), Request{})

	assert.Equal(t, "abXY", res.Text)
	assert.Equal(t, append(enc(t, "abXY"), eos()), res.Visible)
	assert.Equal(t, []string{"Added:force", "Added:force"}, res.ForcedReasons)
}

func TestSampledBacktrackRewindsExactlyN(t *testing.T) {
	t.Parallel()
	c := enc(t, "c")[0]
	fix := once("fix", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.Sampled); ok && e.Token == c {
			ids, _ := rc.Encode("X")
			return mod.Backtrack{N: 2, Tokens: ids}
		}
		return nil
	})
	backend := &rewindCounter{Backend: toy.New(tab, toy.Options{Seed: 3, Script: enc(t, "abc")})}
	res := runOne(t, New(backend, tab, Config{MaxTokens: 32, Mods: []mod.Mod{fix}}), Request{})

	// The sampled "c" was never added: the pending slot and "b" go.
	assert.Equal(t, []int{2}, backend.calls)
	assert.Equal(t, "aXc", res.Text)
	assert.Equal(t, append(enc(t, "aXc"), eos()), res.Visible)
	assert.Equal(t, []string{"Sampled:fix"}, res.ForcedReasons)
}

func TestAdjustedPrefill(t *testing.T) {
	t.Parallel()
	var seen []int
	m := mod.Func("reprompt", func(rc *mod.Context, ev mod.Event) mod.Action {
		switch e := ev.(type) {
		case *mod.Prefilled:
			ids, _ := rc.Encode("new")
			return mod.AdjustedPrefill{Tokens: ids, MaxSteps: 2}
		case *mod.ForwardPass:
			if seen == nil {
				seen = e.InputIDs
			}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abcdef", Config{}), Request{Prompt: enc(t, "old"), Mods: []mod.Mod{m}})

	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, enc(t, "new"), seen)
}

func TestAddedBacktrackReplacesToken(t *testing.T) {
	t.Parallel()
	b := enc(t, "b")[0]
	fix := once("fix", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.Added); ok && !e.Forced && e.Tokens[0] == b {
			ids, _ := rc.Encode("X")
			return mod.Backtrack{N: 2, Tokens: ids}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{fix}}), Request{})

	assert.Equal(t, "aXc", res.Text)
	assert.Equal(t, append(enc(t, "aXc"), eos()), res.Visible)
	assert.Equal(t, []string{"Added:fix"}, res.ForcedReasons)
}

func TestForwardPassBacktrackSkipsStep(t *testing.T) {
	t.Parallel()
	undo := once("undo", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.ForwardPass); ok && len(e.InputIDs) == 2 {
			return mod.Backtrack{N: 1}
		}
		return nil
	})
	r := newRunner(t, "abc", Config{Mods: []mod.Mod{undo}})
	res, err := r.Run(context.Background(), []Request{{ID: "a"}})
	require.NoError(t, err)

	assert.Equal(t, "ac", res[0].Text)
	assert.Equal(t, append(enc(t, "ac"), eos()), res[0].Visible)
}

func TestBacktrackBeatsAdjustedLogits(t *testing.T) {
	t.Parallel()
	z := enc(t, "z")[0]
	adjust := once("adjust", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.ForwardPass); ok && len(e.InputIDs) == 1 {
			lg := make([]float32, len(e.Logits))
			lg[z] = 1e6
			return mod.AdjustedLogits{Logits: lg}
		}
		return nil
	})
	undo := once("undo", func(rc *mod.Context, ev mod.Event) mod.Action {
		if e, ok := ev.(*mod.ForwardPass); ok && len(e.InputIDs) == 1 {
			return mod.Backtrack{N: 1}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{adjust, undo}}), Request{})

	// "a" is rewound and the script moves on; the adjusted logits never
	// reach the sampler.
	assert.Equal(t, "bc", res.Text)
}

func TestTerminalToolCalls(t *testing.T) {
	t.Parallel()
	call := mod.Func("tools", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindSampled {
			return mod.ToolCalls{Payload: map[string]any{"name": "f"}}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{call}}), Request{ID: "t1"})

	want := `<tool_call_t1>{"name":"f"}</tool_call_t1>`
	assert.Equal(t, want, res.Text)
	assert.Equal(t, enc(t, want), res.Output)
	require.NotNil(t, res.Terminal)
	assert.Equal(t, mod.KindToolCalls, res.Terminal.Kind)
	assert.Equal(t, "tools", res.Terminal.Source)
	assert.Equal(t, 1, res.Steps)
}

func TestTerminalToolCallsStringPayload(t *testing.T) {
	t.Parallel()
	call := mod.Func("tools", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindAdded {
			return mod.ToolCalls{Payload: "raw"}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{call}}), Request{ID: "t2"})
	assert.Equal(t, "<tool_call_t2>raw</tool_call_t2>", res.Text)
}

func TestTerminalEmitError(t *testing.T) {
	t.Parallel()
	fail := mod.Func("fail", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindPrefilled {
			return mod.EmitError{Message: "bad schema"}
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{fail}}), Request{})

	assert.Equal(t, append([]int{ErrorSentinel}, enc(t, "bad schema")...), res.Output)
	assert.Equal(t, "bad schema", res.Text)
	assert.Equal(t, 0, res.Steps)
	require.NotNil(t, res.Terminal)
	assert.Equal(t, mod.KindEmitError, res.Terminal.Kind)
}

func TestTerminalForceOutputStopsDispatch(t *testing.T) {
	t.Parallel()
	after := 0
	out := mod.Func("out", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindForwardPass {
			ids, _ := rc.Encode("done")
			return mod.ForceOutput{Tokens: ids}
		}
		return nil
	})
	count := mod.Func("count", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() != mod.KindPrefilled {
			after++
		}
		return nil
	})
	res := runOne(t, newRunner(t, "abc", Config{Mods: []mod.Mod{out, count}}), Request{})

	assert.Equal(t, "done", res.Text)
	assert.Zero(t, after)
}

func TestInvalidActionFailsRun(t *testing.T) {
	t.Parallel()
	bad := mod.Func("bad", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindForwardPass {
			return mod.AdjustedPrefill{}
		}
		return nil
	})
	r := newRunner(t, "abc", Config{Mods: []mod.Mod{bad}})
	_, err := r.Run(context.Background(), []Request{{ID: "x"}})

	require.ErrorIs(t, err, mod.ErrInvalidAction)
	var iae *mod.InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, "bad", iae.Mod)
}

func TestPanickingModIsNoop(t *testing.T) {
	t.Parallel()
	boom := mod.Func("boom", func(rc *mod.Context, ev mod.Event) mod.Action {
		panic("boom")
	})
	res := runOne(t, newRunner(t, "ab", Config{Mods: []mod.Mod{boom}}), Request{})
	assert.Equal(t, "ab", res.Text)
}

func TestBatchPlaceholderGrid(t *testing.T) {
	t.Parallel()
	r := newRunner(t, "abc", Config{MaxTokens: 3})
	res, err := r.Run(context.Background(), []Request{
		{ID: "short", MaxTokens: 1},
		{ID: "long"},
	})
	require.NoError(t, err)

	abc := enc(t, "abc")
	want := [][]int{
		{abc[0], Placeholder, Placeholder},
		abc,
	}
	if diff := cmp.Diff(want, Padded(res)); diff != "" {
		t.Fatalf("grid mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a", res[0].Text)
	assert.Equal(t, "abc", res[1].Text)
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxTokens: 12, Params: logits.Params{Temperature: 0.9, TopP: 0.95}}
	run := func() []int {
		b := toy.New(tab, toy.Options{Seed: 7, Sampler: logits.SamplerConfig{Seed: 42}})
		res, err := New(b, tab, cfg).Run(context.Background(), []Request{{ID: "d", Prompt: enc(t, "Q")}})
		require.NoError(t, err)
		return res[0].Output
	}
	first := run()
	if diff := cmp.Diff(first, run()); diff != "" {
		t.Fatalf("replay differs (-first +second):\n%s", diff)
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, "abc", Config{}).Run(ctx, []Request{{ID: "c"}})
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	events  []mod.EventKind
	actions []mod.ActionKind
}

func (o *recordingObserver) OnEvent(ev mod.Event) { o.events = append(o.events, ev.Kind()) }

func (o *recordingObserver) OnAction(_ mod.Event, r mod.Result) {
	o.actions = append(o.actions, r.Action.Kind())
}

func yesNo(t *testing.T, erase selfprompt.EraseMode) *selfprompt.SelfPrompt {
	t.Helper()
	sp, err := selfprompt.New("ask", selfprompt.Config{
		Prompt:   selfprompt.Prompt{Text: "Ok? "},
		Strategy: strategy.Config{Spec: strategy.ChoicesSpec{Choices: []string{"yes", "no"}}},
		Erase:    erase,
	})
	require.NoError(t, err)
	return sp
}

func TestSelfPromptEraseNone(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	sp := yesNo(t, selfprompt.EraseNone)
	res := runOne(t, newRunner(t, "yes", Config{Mods: []mod.Mod{sp}, Observer: obs}), Request{})

	assert.Equal(t, "Ok? yes\n", res.Text)
	assert.Contains(t, obs.actions, mod.KindAdjustedLogits)
	assert.Equal(t, mod.KindPrefilled, obs.events[0])
}

func TestSelfPromptEraseAll(t *testing.T) {
	t.Parallel()
	sp := yesNo(t, selfprompt.EraseAll)
	res := runOne(t, newRunner(t, "yes", Config{Mods: []mod.Mod{sp}}), Request{})

	assert.Empty(t, res.Output)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, []int{eos()}, res.Visible)
}

func TestSelfPromptErasePromptKeepsAnswer(t *testing.T) {
	t.Parallel()
	sp := yesNo(t, selfprompt.ErasePrompt)
	res := runOne(t, newRunner(t, "yes", Config{Mods: []mod.Mod{sp}}), Request{})

	assert.Equal(t, "yes", res.Text)
}

func TestMetricsRecorded(t *testing.T) {
	runOne(t, newRunner(t, "ab", Config{}), Request{})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Positive(t, sums["steer.generate.steps"])
}
