// Package toy provides an in-process model backend for tests, demos and the
// CLI. Its logits come from a tiny seeded LM, optionally biased towards a
// scripted completion so runs are predictable.
package toy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// ErrUnknownRequest is returned for calls naming a request that was never
// prefilled.
var ErrUnknownRequest = errors.New("toy: unknown request")

// Options configures a Backend.
type Options struct {
	Seed   int64
	Hidden int
	// Script, when non-empty, is what the model prefers to sample. After i
	// sampled tokens, Script[i] gets ScriptBoost added; past the end of the
	// script EOS is boosted. Forced tokens and rewinds do not move the
	// script position.
	Script      []int
	ScriptBoost float32
	Sampler     logits.SamplerConfig
}

type sequence struct {
	prompt     []int
	completion []int
	// pending marks a forward pass whose token has not been added yet.
	pending bool
	sampled int
	sampler *logits.Sampler
}

// Backend keeps one sequence per request id. It is safe for concurrent use.
type Backend struct {
	tab  *tokenizer.Table
	lm   *LM
	opts Options

	mu   sync.Mutex
	seqs map[string]*sequence
}

// New returns a Backend over the vocabulary of tab.
func New(tab *tokenizer.Table, opts Options) *Backend {
	if opts.ScriptBoost == 0 {
		opts.ScriptBoost = 50
	}
	return &Backend{
		tab:  tab,
		lm:   NewLM(tab.Size(), opts.Hidden, opts.Seed),
		opts: opts,
		seqs: make(map[string]*sequence),
	}
}

// Tokens returns the vocabulary table.
func (b *Backend) Tokens() *tokenizer.Table { return b.tab }

func (b *Backend) seq(id string) (*sequence, error) {
	s, ok := b.seqs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, id)
	}
	return s, nil
}

func (b *Backend) Prefill(ctx context.Context, id string, inputIDs []int, maxSteps int) (*mod.Prefilled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, t := range inputIDs {
		if t < 0 || t >= b.tab.Size() {
			return nil, fmt.Errorf("toy: prompt token %d out of range", t)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[id] = &sequence{
		prompt:  append([]int(nil), inputIDs...),
		sampler: logits.NewSampler(b.opts.Sampler),
	}
	return &mod.Prefilled{
		EventMeta: mod.EventMeta{RequestID: id},
		MaxSteps:  maxSteps,
		InputIDs:  append([]int(nil), inputIDs...),
	}, nil
}

func (b *Backend) ForwardPass(ctx context.Context, id string) (*mod.ForwardPass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.seq(id)
	if err != nil {
		return nil, err
	}
	last := -1
	switch {
	case len(s.completion) > 0:
		last = s.completion[len(s.completion)-1]
	case len(s.prompt) > 0:
		last = s.prompt[len(s.prompt)-1]
	}
	var out []float32
	if last >= 0 {
		out = b.lm.Forward(last)
	} else {
		out = make([]float32, b.tab.Size())
	}
	if len(b.opts.Script) > 0 {
		if pos := s.sampled; pos < len(b.opts.Script) {
			out[b.opts.Script[pos]] += b.opts.ScriptBoost
		} else if eos, ok := b.tab.EOS(); ok {
			out[eos] += b.opts.ScriptBoost
		}
	}
	s.pending = true
	input := make([]int, 0, len(s.prompt)+len(s.completion))
	input = append(append(input, s.prompt...), s.completion...)
	return &mod.ForwardPass{
		EventMeta: mod.EventMeta{RequestID: id},
		Logits:    out,
		InputIDs:  input,
	}, nil
}

func (b *Backend) Sample(ctx context.Context, id string, lg []float32, p logits.Params) (*mod.Sampled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.seq(id)
	if err != nil {
		return nil, err
	}
	tok := s.sampler.Sample(lg, p, s.completion)
	return &mod.Sampled{EventMeta: mod.EventMeta{RequestID: id}, Token: tok}, nil
}

func (b *Backend) AddTokens(ctx context.Context, id string, tokens []int, forced bool) (*mod.Added, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.seq(id)
	if err != nil {
		return nil, err
	}
	s.completion = append(s.completion, tokens...)
	s.pending = false
	if !forced {
		s.sampled += len(tokens)
	}
	return &mod.Added{
		EventMeta: mod.EventMeta{RequestID: id},
		Tokens:    append([]int(nil), tokens...),
		Forced:    forced,
	}, nil
}

// RewindKVCache drops n positions. A pending forward pass is dropped first;
// the prompt is never touched.
func (b *Backend) RewindKVCache(ctx context.Context, id string, n int) error {
	if n < 0 {
		return fmt.Errorf("toy: negative rewind %d", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.seq(id)
	if err != nil {
		return err
	}
	if n > 0 && s.pending {
		s.pending = false
		n--
	}
	n = min(n, len(s.completion))
	s.completion = s.completion[:len(s.completion)-n]
	return nil
}

func (b *Backend) CompletionIDs(id string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.seqs[id]
	if !ok {
		return nil
	}
	return append([]int(nil), s.completion...)
}

func (b *Backend) Decode(ids []int) (string, error) { return b.tab.Decode(ids) }

func (b *Backend) EOSTokenID() (int, bool) { return b.tab.EOS() }

// Release forgets the sequence of id.
func (b *Backend) Release(id string) {
	b.mu.Lock()
	delete(b.seqs, id)
	b.mu.Unlock()
}
