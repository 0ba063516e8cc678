package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/steer/internal/job"
	"github.com/samcharles93/steer/internal/trace"
)

func loadJob(t *testing.T, body string) *job.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	j, err := job.Load(path)
	require.NoError(t, err)
	return j
}

func decodeOutcomes(t *testing.T, out string) []job.Outcome {
	t.Helper()
	var got []job.Outcome
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var o job.Outcome
		require.NoError(t, json.Unmarshal([]byte(line), &o), line)
		got = append(got, o)
	}
	return got
}

func TestRunJob(t *testing.T) {
	j := loadJob(t, `
sampling: {max_tokens: 256, seed: 3}
requests:
  - id: pick
    prompt: "Q"
    self_prompt:
      prompt: {text: " Color? "}
      strategy: {type: choices, choices: ["red", "blue"]}
  - id: doc
    schema:
      type: object
      properties:
        done: {type: boolean}
      required: [done]
`)
	var out, tr bytes.Buffer
	require.NoError(t, runJob(context.Background(), j, &out, runOptions{Trace: &tr}))

	got := decodeOutcomes(t, out.String())
	require.Len(t, got, 2)
	assert.Equal(t, "pick", got[0].ID)
	assert.True(t, strings.HasPrefix(got[0].Text, " Color? red") || strings.HasPrefix(got[0].Text, " Color? blue"), got[0].Text)
	assert.Equal(t, "doc", got[1].ID)
	assert.Contains(t, []string{`{"done": true}`, `{"done": false}`}, got[1].Text)

	recs, err := trace.ReadAll(&tr)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	ids := map[string]bool{}
	for _, r := range recs {
		ids[r.RequestID] = true
	}
	assert.True(t, ids["pick"] && ids["doc"])
}

func TestRunJobReportsFailures(t *testing.T) {
	j := loadJob(t, `
sampling: {max_tokens: 64}
requests:
  - id: bad
    schema:
      properties:
        a: {type: array, enum: [["x"]]}
      required: [a]
`)
	var out bytes.Buffer
	err := runJob(context.Background(), j, &out, runOptions{})
	require.ErrorIs(t, err, errRequestsFailed)

	got := decodeOutcomes(t, out.String())
	require.Len(t, got, 1)
	assert.True(t, got[0].Failed())
}

func TestRunJobRejectsBadRequest(t *testing.T) {
	j := loadJob(t, "sampling: {max_tokens: 8}\nrequests:\n  - prompt: \"é\"\n")
	err := runJob(context.Background(), j, &bytes.Buffer{}, runOptions{})
	assert.ErrorIs(t, err, job.ErrInvalidJob)
}
