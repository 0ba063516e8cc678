// Package job describes batches of generation requests as they appear in
// job files and HTTP bodies, and turns them into generate requests.
package job

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/schema"
	"github.com/samcharles93/steer/internal/selfprompt"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// ErrInvalidJob is wrapped by every Load and Build failure.
var ErrInvalidJob = errors.New("job: invalid job")

// Mod names of the per-request mods.
const (
	SelfPromptMod = "self_prompt"
	SchemaMod     = "schema"
)

// Sampling holds generation settings. Nil fields fall back to the caller's
// defaults.
type Sampling struct {
	MaxTokens   *int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float32 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	TopK        *int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	Seed        *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Apply overrides cfg and seed with the fields set in s.
func (s Sampling) Apply(cfg generate.Config, seed int64) (generate.Config, int64) {
	if s.MaxTokens != nil {
		cfg.MaxTokens = *s.MaxTokens
	}
	if s.Temperature != nil {
		cfg.Params.Temperature = *s.Temperature
	}
	if s.TopP != nil {
		cfg.Params.TopP = *s.TopP
	}
	if s.TopK != nil {
		cfg.Params.TopK = *s.TopK
	}
	if s.Seed != nil {
		seed = *s.Seed
	}
	return cfg, seed
}

// Request is one prompt with its optional constraints.
type Request struct {
	ID         string             `yaml:"id,omitempty" json:"id,omitempty"`
	Prompt     string             `yaml:"prompt" json:"prompt"`
	MaxTokens  int                `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	SelfPrompt *selfprompt.Config `yaml:"self_prompt,omitempty" json:"self_prompt,omitempty"`
	Schema     *Schema            `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Job is a batch of requests sharing sampling settings.
type Job struct {
	Sampling Sampling  `yaml:"sampling,omitempty"`
	Requests []Request `yaml:"requests"`
}

// Load reads a YAML job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidJob, path, err)
	}
	if len(j.Requests) == 0 {
		return nil, fmt.Errorf("%w: %s: no requests", ErrInvalidJob, path)
	}
	return &j, nil
}

// Build encodes the prompt and creates the request's mods.
func (r Request) Build(tab *tokenizer.Table) (generate.Request, error) {
	prompt, err := tab.Encode(r.Prompt)
	if err != nil {
		return generate.Request{}, fmt.Errorf("%w: encode prompt: %w", ErrInvalidJob, err)
	}
	out := generate.Request{ID: r.ID, Prompt: prompt, MaxTokens: r.MaxTokens}
	if r.SelfPrompt != nil {
		sp, err := selfprompt.New(SelfPromptMod, *r.SelfPrompt)
		if err != nil {
			return generate.Request{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
		out.Mods = append(out.Mods, sp)
	}
	if r.Schema != nil && r.Schema.Schema != nil {
		m, err := schema.New(SchemaMod, r.Schema.Schema)
		if err != nil {
			return generate.Request{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
		out.Mods = append(out.Mods, m)
	}
	return out, nil
}

// Schema is a JSON Schema given inline, as a YAML mapping or a JSON
// object.
type Schema struct {
	*schema.Schema
}

func (s *Schema) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := schema.FromYAML(n)
	if err != nil {
		return err
	}
	s.Schema = parsed
	return nil
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	parsed, err := schema.Parse(b)
	if err != nil {
		return err
	}
	s.Schema = parsed
	return nil
}

// Outcome is the serialized form of a generate.Result.
type Outcome struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Output        []int     `json:"output"`
	Terminal      *Terminal `json:"terminal,omitempty"`
	Steps         int       `json:"steps"`
	DurationMS    int64     `json:"duration_ms"`
	Warnings      []string  `json:"warnings,omitempty"`
	ForcedReasons []string  `json:"forced_reasons,omitempty"`
}

// Terminal names the action that ended a request and the mod behind it.
type Terminal struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

// NewOutcome converts res.
func NewOutcome(res generate.Result) Outcome {
	o := Outcome{
		ID:            res.RequestID,
		Text:          res.Text,
		Output:        res.Output,
		Steps:         res.Steps,
		DurationMS:    res.Duration.Milliseconds(),
		Warnings:      res.Warnings,
		ForcedReasons: res.ForcedReasons,
	}
	if o.Output == nil {
		o.Output = []int{}
	}
	if res.Terminal != nil {
		o.Terminal = &Terminal{Kind: res.Terminal.Kind.String(), Source: res.Terminal.Source}
	}
	return o
}

// Failed reports whether the request ended with an EmitError.
func (o Outcome) Failed() bool {
	return o.Terminal != nil && o.Terminal.Kind == mod.KindEmitError.String()
}
