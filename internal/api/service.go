package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/job"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// BackendFactory returns the backend for one generation call.
type BackendFactory func(seed int64) generate.Backend

type GenerationService struct {
	tab      *tokenizer.Table
	backend  BackendFactory
	defaults generate.Config
	seed     int64
	clock    func() time.Time
}

// NewGenerationService runs requests against backends from backend.
// defaults and seed apply when a request leaves them unset.
func NewGenerationService(tab *tokenizer.Table, backend BackendFactory, defaults generate.Config, seed int64) *GenerationService {
	return &GenerationService{
		tab:      tab,
		backend:  backend,
		defaults: defaults,
		seed:     seed,
		clock:    time.Now,
	}
}

func (s *GenerationService) Generate(ctx context.Context, req *GenerationRequest) (*Generation, error) {
	if req.Prompt == "" && req.SelfPrompt == nil && req.Schema == nil {
		return nil, newInvalidRequest("prompt", "one of prompt, self_prompt or schema is required")
	}
	cfg, seed := req.sampling().Apply(s.defaults, s.seed)
	if cfg.MaxTokens <= 0 {
		return nil, newInvalidRequest("max_tokens", "must be positive")
	}
	if cfg.Params.TopK < 0 {
		return nil, newInvalidRequest("top_k", "must not be negative")
	}

	greq, err := req.Build(s.tab)
	if err != nil {
		if errors.Is(err, job.ErrInvalidJob) {
			return nil, newInvalidRequest("", err.Error())
		}
		return nil, err
	}
	created := s.clock()
	res, err := generate.New(s.backend(seed), s.tab, cfg).Run(ctx, []generate.Request{greq})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	out := job.NewOutcome(res[0])
	return &Generation{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: created.Unix(),
		RequestID: out.ID,
		Outcome:   out,
	}, nil
}
