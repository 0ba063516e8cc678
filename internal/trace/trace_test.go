package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

func TestRecorderCapturesRun(t *testing.T) {
	t.Parallel()
	tab := tokenizer.NewTable(tokenizer.Default())
	script, err := tab.Encode("ab")
	require.NoError(t, err)

	force := mod.Func("force", func(rc *mod.Context, ev mod.Event) mod.Action {
		if ev.Kind() == mod.KindForwardPass && ev.Meta().Step == 1 {
			ids, _ := rc.Encode("x")
			return mod.ForceTokens{Tokens: ids}
		}
		return nil
	})
	rec := NewRecorder(tab)
	r := generate.New(toy.New(tab, toy.Options{Script: script}), tab, generate.Config{
		MaxTokens: 8,
		Mods:      []mod.Mod{force},
		Observer:  rec,
	})
	_, err = r.Run(context.Background(), []generate.Request{{ID: "t"}})
	require.NoError(t, err)

	recs := rec.ForRequest("t")
	require.NotEmpty(t, recs)
	assert.Equal(t, "Prefilled", recs[0].Event)
	x, _ := tab.Encode("x")
	assert.Equal(t, Record{RequestID: "t", Event: "ForwardPass", Step: 1}, recs[1])
	assert.Equal(t, Record{RequestID: "t", Event: "ForwardPass", Step: 1, Action: "ForceTokens", Source: "force", Tokens: x, Text: "x"}, recs[2])

	var added []string
	for _, r := range recs {
		if r.Event == "Added" && r.Action == "" {
			added = append(added, r.Text)
		}
	}
	assert.Equal(t, []string{"x", "a", "b", ""}, added)
	assert.Empty(t, rec.ForRequest("other"))
}

func TestRecorderActionsOnly(t *testing.T) {
	t.Parallel()
	rec := &Recorder{ActionsOnly: true}
	rec.OnEvent(&mod.Sampled{Token: 1})
	rec.OnAction(&mod.Added{EventMeta: mod.EventMeta{RequestID: "r", Step: 2}}, mod.Result{
		Source: "s",
		Action: mod.Backtrack{N: 3},
	})
	assert.Equal(t, []Record{{RequestID: "r", Event: "Added", Step: 2, Action: "Backtrack", Source: "s", N: 3}}, rec.Records())

	rec.Reset()
	assert.Empty(t, rec.Records())
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()
	recs := []Record{
		{RequestID: "a", Event: "Added", Step: 1, Tokens: []int{4}, Text: "x", Forced: true},
		{RequestID: "a", Event: "ForwardPass", Step: 2, Action: "Backtrack", Source: "m", N: 2},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteAll(recs))
	require.NoError(t, w.Flush())

	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), `"request_id":"a"`)

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAllRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := ReadAll(strings.NewReader("{\"event\":\"Added\"}\nnot json\n"))
	assert.Error(t, err)
}
