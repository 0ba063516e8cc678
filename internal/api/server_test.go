package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

func newTestEcho(limiter *rate.Limiter) *echo.Echo {
	tab := tokenizer.NewTable(tokenizer.Default())
	backend := func(seed int64) generate.Backend {
		return toy.New(tab, toy.Options{Seed: seed, Sampler: logits.SamplerConfig{Seed: seed}})
	}
	service := NewGenerationService(tab, backend, generate.Config{MaxTokens: 16}, 1)
	server := NewServer(NewGenerationStore(8), service, limiter, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeGeneration(t *testing.T, rec *httptest.ResponseRecorder) Generation {
	t.Helper()
	var g Generation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g), rec.Body.String())
	return g
}

func TestGenerationLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEcho(nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"prompt":"hi","max_tokens":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeGeneration(t, rec)
	assert.True(t, strings.HasPrefix(created.ID, "gen_"))
	assert.Equal(t, "generation", created.Object)
	assert.NotEmpty(t, created.RequestID)
	assert.LessOrEqual(t, len(created.Output), 4)

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeGeneration(t, rec)
	assert.Equal(t, created.Text, got.Text)
	assert.Equal(t, created.RequestID, got.RequestID)

	rec = doJSON(t, e, http.MethodDelete, "/v1/generations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":true`)

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, e, http.MethodDelete, "/v1/generations/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerationWithSchema(t *testing.T) {
	t.Parallel()
	e := newTestEcho(nil)
	body := `{"max_tokens":256,"schema":{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}}`
	rec := doJSON(t, e, http.MethodPost, "/v1/generations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	g := decodeGeneration(t, rec)
	assert.Contains(t, []string{`{"ok": true}`, `{"ok": false}`}, g.Text)
	require.NotNil(t, g.Terminal)
	assert.Equal(t, "ForceOutput", g.Terminal.Kind)
	assert.Equal(t, "schema", g.Terminal.Source)
}

func TestGenerationValidationErrors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"prompt":`, ""},
		{"empty", `{}`, "one of prompt, self_prompt or schema is required"},
		{"bad schema", `{"schema":{"type":5}}`, "invalid schema"},
		{"unknown text", `{"prompt":"é"}`, "encode prompt"},
		{"negative top_k", `{"prompt":"x","top_k":-1}`, "top_k"},
		{"bad strategy", `{"prompt":"x","self_prompt":{"strategy":{"type":"bogus"}}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/generations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestGenerationRateLimited(t *testing.T) {
	t.Parallel()
	e := newTestEcho(rate.NewLimiter(0, 1))
	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"prompt":"a","max_tokens":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, e, http.MethodPost, "/v1/generations", `{"prompt":"a","max_tokens":1}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_error")

	rec = doJSON(t, e, http.MethodGet, "/v1/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
	assert.Contains(t, rec.Body.String(), `"name":"steer"`)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Server"), "steer/"))
}

func TestGenerationStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewGenerationStore(2)
	for _, id := range []string{"a", "b", "c"} {
		s.Save(Generation{ID: id})
	}
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
	assert.True(t, s.Delete("b"))
	assert.False(t, s.Delete("b"))
	assert.Equal(t, 1, s.Len())
}
