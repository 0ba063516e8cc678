package mod

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/steer/internal/tokenizer"
)

func testContext() *Context {
	return NewContext("req-1", tokenizer.NewTable(tokenizer.Default()), nil)
}

func fixed(name string, a Action) Mod {
	return Func(name, func(*Context, Event) Action { return a })
}

func TestLegalityTable(t *testing.T) {
	t.Parallel()

	all := []ActionKind{
		KindNoop, KindForceTokens, KindForceOutput, KindAdjustedLogits,
		KindAdjustedPrefill, KindBacktrack, KindToolCalls, KindEmitError,
	}
	want := map[EventKind][]ActionKind{
		KindPrefilled:   {KindNoop, KindForceOutput, KindToolCalls, KindAdjustedPrefill, KindEmitError},
		KindForwardPass: {KindNoop, KindForceTokens, KindBacktrack, KindForceOutput, KindToolCalls, KindAdjustedLogits, KindEmitError},
		KindSampled:     {KindNoop, KindForceTokens, KindBacktrack, KindForceOutput, KindToolCalls, KindEmitError},
		KindAdded:       {KindNoop, KindForceTokens, KindBacktrack, KindForceOutput, KindToolCalls, KindEmitError},
	}
	for ev, ok := range want {
		for _, a := range all {
			assert.Equal(t, contains(ok, a), Allowed(ev, a), "%s / %s", ev, a)
		}
	}
}

func contains(ks []ActionKind, k ActionKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

func TestDispatchOrderAndTerminal(t *testing.T) {
	t.Parallel()

	var calls []string
	record := func(name string, a Action) Mod {
		return Func(name, func(*Context, Event) Action {
			calls = append(calls, name)
			return a
		})
	}
	m := NewManager(nil,
		record("quiet", nil),
		record("forcer", ForceTokens{Tokens: []int{1}}),
		record("ender", ForceOutput{Tokens: []int{2}}),
		record("late", EmitError{Message: "never"}),
	)

	results, err := m.Dispatch(testContext(), &ForwardPass{})
	require.NoError(t, err)
	assert.Equal(t, []string{"quiet", "forcer", "ender"}, calls)
	assert.Equal(t, []Result{
		{Source: "forcer", Action: ForceTokens{Tokens: []int{1}}},
		{Source: "ender", Action: ForceOutput{Tokens: []int{2}}},
	}, results)
}

func TestDispatchRejectsIllegalAction(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, fixed("bad", AdjustedLogits{}))
	_, err := m.Dispatch(testContext(), &Sampled{Token: 3})
	require.ErrorIs(t, err, ErrInvalidAction)

	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, "bad", iae.Mod)
	assert.Equal(t, KindSampled, iae.Event)
	assert.Equal(t, KindAdjustedLogits, iae.Action)
}

func TestDispatchRecoversPanic(t *testing.T) {
	t.Parallel()

	m := NewManager(nil,
		Func("boom", func(*Context, Event) Action { panic("kaboom") }),
		fixed("after", Backtrack{N: 1}),
	)
	results, err := m.Dispatch(testContext(), &Added{Tokens: []int{5}})
	require.NoError(t, err)
	assert.Equal(t, []Result{{Source: "after", Action: Backtrack{N: 1}}}, results)
}

func TestContextValues(t *testing.T) {
	t.Parallel()

	type key struct{}
	rc := testContext()
	assert.Nil(t, rc.Value(key{}))
	rc.SetValue(key{}, 7)
	assert.Equal(t, 7, rc.Value(key{}))
	rc.Delete(key{})
	assert.Nil(t, rc.Value(key{}))

	ids, err := rc.Encode("yes")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestEventsArePointers(t *testing.T) {
	t.Parallel()
	event := reflect.TypeFor[Event]()
	for _, v := range []any{Prefilled{}, ForwardPass{}, Sampled{}, Added{}} {
		typ := reflect.TypeOf(v)
		assert.False(t, typ.Implements(event), "%s", typ)
		assert.True(t, reflect.PointerTo(typ).Implements(event), "*%s", typ)
	}
}
