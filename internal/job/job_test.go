package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

const jobYAML = `
sampling:
  max_tokens: 256
  seed: 7
requests:
  - id: ask
    prompt: "Q"
    self_prompt:
      prompt: {text: " Ok? "}
      strategy: {type: choices, choices: ["yes", "no"]}
  - id: doc
    schema:
      type: object
      properties:
        ok: {type: boolean}
      required: [ok]
`

func writeJob(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndRun(t *testing.T) {
	t.Parallel()
	j, err := Load(writeJob(t, jobYAML))
	require.NoError(t, err)
	require.Len(t, j.Requests, 2)

	cfg, seed := j.Sampling.Apply(generate.Config{MaxTokens: 8}, 0)
	assert.Equal(t, 256, cfg.MaxTokens)
	assert.Equal(t, int64(7), seed)

	tab := tokenizer.NewTable(tokenizer.Default())
	var reqs []generate.Request
	for _, r := range j.Requests {
		req, err := r.Build(tab)
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	require.Len(t, reqs[0].Mods, 1)
	assert.Equal(t, SelfPromptMod, reqs[0].Mods[0].Name())
	assert.Equal(t, SchemaMod, reqs[1].Mods[0].Name())

	res, err := generate.New(toy.New(tab, toy.Options{Seed: seed}), tab, cfg).Run(context.Background(), reqs)
	require.NoError(t, err)

	ask := NewOutcome(res[0])
	assert.Equal(t, "ask", ask.ID)
	assert.True(t, strings.HasPrefix(ask.Text, " Ok? yes\n") || strings.HasPrefix(ask.Text, " Ok? no\n"), ask.Text)

	doc := NewOutcome(res[1])
	assert.Contains(t, []string{`{"ok": true}`, `{"ok": false}`}, doc.Text)
	require.NotNil(t, doc.Terminal)
	assert.Equal(t, Terminal{Kind: mod.KindForceOutput.String(), Source: SchemaMod}, *doc.Terminal)
	assert.False(t, doc.Failed())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeJob(t, "requests: []\n"))
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = Load(writeJob(t, "requests:\n  - schema: {type: 5}\n"))
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestRequestJSON(t *testing.T) {
	t.Parallel()
	var r Request
	require.NoError(t, json.Unmarshal([]byte(`{"prompt":"x","schema":{"type":"object"},"self_prompt":{"prompt":{"text":"a"},"strategy":{"type":"chars","mode":"numeric","max":2},"erase":"all"}}`), &r))
	require.NotNil(t, r.Schema)
	assert.True(t, r.Schema.Satisfiable())
	require.NotNil(t, r.SelfPrompt)

	tab := tokenizer.NewTable(tokenizer.Default())
	req, err := r.Build(tab)
	require.NoError(t, err)
	assert.Len(t, req.Mods, 2)

	bad := Request{Prompt: "é"}
	_, err = bad.Build(tab)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestOutcomeEmitError(t *testing.T) {
	t.Parallel()
	o := NewOutcome(generate.Result{
		RequestID: "r",
		Text:      "boom",
		Output:    []int{generate.ErrorSentinel},
		Terminal:  &generate.Terminal{Kind: mod.KindEmitError, Source: "m"},
	})
	assert.True(t, o.Failed())
	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"terminal":{"kind":"EmitError","source":"m"}`)
	assert.Equal(t, []int{}, NewOutcome(generate.Result{}).Output)
}
