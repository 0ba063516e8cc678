// Package selfprompt drives one strategy through a generation: it forces a
// prompt, masks logits until the strategy completes, forces a completion
// suffix, and optionally erases the whole exchange with a backtrack.
package selfprompt

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/strategy"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// maxStrategyRepairs caps strategy-requested backtrack and force outcomes
// per request.
const maxStrategyRepairs = 3

// ErrNoStrategy is returned by New for a config without a strategy.
var ErrNoStrategy = errors.New("selfprompt: strategy is required")

// SelfPrompt is a mod.Mod. One value serves any number of requests; all
// progress is kept in the request's mod.Context.
type SelfPrompt struct {
	name      string
	cfg       Config
	maskValue float32

	mu       sync.Mutex
	compiled map[*tokenizer.Table]strategy.Strategy
}

// New validates cfg and returns a SelfPrompt named name.
func New(name string, cfg Config) (*SelfPrompt, error) {
	if cfg.Strategy.Spec == nil {
		return nil, ErrNoStrategy
	}
	if cfg.Erase > EraseAll {
		return nil, fmt.Errorf("selfprompt: invalid erase mode %d", cfg.Erase)
	}
	mv := logits.DefaultMaskValue
	if cfg.MaskValue != nil {
		mv = *cfg.MaskValue
	}
	return &SelfPrompt{
		name:      name,
		cfg:       cfg,
		maskValue: mv,
		compiled:  make(map[*tokenizer.Table]strategy.Strategy),
	}, nil
}

// Name returns the mod name.
func (sp *SelfPrompt) Name() string { return sp.name }

// Config returns the configuration sp was built from.
func (sp *SelfPrompt) Config() Config { return sp.cfg }

type stateKey struct{ sp *SelfPrompt }

type requestState struct {
	strat strategy.Strategy
	st    strategy.State
	err   error

	override strategy.Spec

	promptIDs    []int
	promptForced bool
	outstanding  int

	// answerIDs are the untrimmed tokens produced under the strategy.
	answerIDs []int
	suffixIDs []int
	suffixDue bool

	completed bool
	answer    string
	repairs   int
}

func (sp *SelfPrompt) strategyFor(tab *tokenizer.Table, override strategy.Spec) (strategy.Strategy, error) {
	if override != nil {
		return strategy.Compile(override, tab)
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if s, ok := sp.compiled[tab]; ok {
		return s, nil
	}
	s, err := strategy.Compile(sp.cfg.Strategy.Spec, tab)
	if err != nil {
		return nil, err
	}
	sp.compiled[tab] = s
	return s, nil
}

// state returns the request state, creating and compiling it on first use.
func (sp *SelfPrompt) state(rc *mod.Context) *requestState {
	if v, ok := rc.Value(stateKey{sp}).(*requestState); ok {
		return v
	}
	rs := &requestState{}
	sp.init(rc, rs)
	rc.SetValue(stateKey{sp}, rs)
	return rs
}

func (sp *SelfPrompt) init(rc *mod.Context, rs *requestState) {
	strat, err := sp.strategyFor(rc.Tokens, rs.override)
	if err != nil {
		rs.err = err
		return
	}
	rs.strat = strat
	rs.st = strat.Start()
	if len(sp.cfg.Prompt.Tokens) > 0 {
		rs.promptIDs = slices.Clone(sp.cfg.Prompt.Tokens)
		return
	}
	ids, err := rc.Encode(sp.cfg.Prompt.Text)
	if err != nil {
		rs.err = fmt.Errorf("selfprompt: encode prompt: %w", err)
		return
	}
	rs.promptIDs = ids
}

// Handle implements mod.Mod.
func (sp *SelfPrompt) Handle(rc *mod.Context, ev mod.Event) mod.Action {
	switch e := ev.(type) {
	case *mod.Prefilled:
		if rs := sp.state(rc); rs.err != nil {
			return mod.EmitError{Message: rs.err.Error()}
		}
		return mod.Noop{}
	case *mod.ForwardPass:
		return sp.ForwardPass(rc, e)
	case *mod.Added:
		return sp.Added(rc, e)
	}
	return mod.Noop{}
}

// ForwardPass answers a forward pass for rc.
func (sp *SelfPrompt) ForwardPass(rc *mod.Context, ev *mod.ForwardPass) mod.Action {
	rs := sp.state(rc)
	if rs.err != nil {
		return mod.EmitError{Message: rs.err.Error()}
	}
	if !rs.promptForced {
		rs.promptForced = true
		if len(rs.promptIDs) > 0 {
			rs.outstanding = len(rs.promptIDs)
			return mod.ForceTokens{Tokens: slices.Clone(rs.promptIDs)}
		}
	}
	if rs.outstanding > 0 {
		return mod.Noop{}
	}
	if rs.suffixDue {
		rs.suffixDue = false
		if len(rs.suffixIDs) > 0 {
			rs.outstanding = len(rs.suffixIDs)
			return mod.ForceTokens{Tokens: slices.Clone(rs.suffixIDs)}
		}
	}
	if rs.strat.Complete(rs.st) {
		if rs.completed {
			return mod.Noop{}
		}
		return sp.finish(rc, rs)
	}

	allowed := rs.strat.Allowed(rs.st)
	disallowed := rs.strat.Disallowed(rs.st)
	if len(allowed) == 0 && len(disallowed) == 0 {
		return mod.Noop{}
	}
	var masked []float32
	if len(allowed) == 0 {
		masked = logits.MaskDisallowed(ev.Logits, disallowed, sp.maskValue)
	} else {
		masked = logits.Mask(ev.Logits, allowed, disallowed, sp.maskValue)
	}
	a := mod.AdjustedLogits{Logits: masked}
	if sp.cfg.ArgmaxSampling {
		a.TokenTemp = mod.Temp(0)
	}
	return a
}

// finish records the trimmed answer and emits the erase backtrack, if any.
func (sp *SelfPrompt) finish(rc *mod.Context, rs *requestState) mod.Action {
	rs.completed = true
	raw, err := rc.Tokens.Decode(rs.answerIDs)
	if err != nil {
		rc.Log.Warn("decode self-prompt answer", "mod", sp.name, "error", err)
	}
	rs.answer = rs.strat.TrimAnswer(raw)
	if sp.cfg.Erase == EraseNone {
		return mod.Noop{}
	}
	n := len(rs.promptIDs) + len(rs.answerIDs) + len(rs.suffixIDs)
	var reinject []int
	if sp.cfg.Erase == ErasePrompt {
		reinject = slices.Clone(rs.answerIDs)
	}
	rc.Log.Debug("self-prompt erase", "mod", sp.name, "erase", sp.cfg.Erase.String(), "n", n)
	return mod.Backtrack{N: n, Tokens: reinject}
}

// Added feeds appended tokens to the strategy.
func (sp *SelfPrompt) Added(rc *mod.Context, ev *mod.Added) mod.Action {
	rs := sp.state(rc)
	if rs.err != nil {
		return mod.Noop{}
	}
	if ev.Forced && rs.outstanding > 0 {
		rs.outstanding = max(0, rs.outstanding-len(ev.Tokens))
		return mod.Noop{}
	}
	if rs.completed || rs.strat.Complete(rs.st) {
		return mod.Noop{}
	}

	var (
		rewind int
		extra  []int
		repair bool
	)
	for _, tok := range ev.Tokens {
		if rs.strat.Complete(rs.st) {
			break
		}
		out := rs.strat.Step(rs.st, tok)
		if !ev.Forced {
			rs.answerIDs = append(rs.answerIDs, tok)
		}
		switch out.Kind {
		case strategy.KindBacktrack:
			repair = true
			rewind += out.N
			extra = append(extra, out.Tokens...)
		case strategy.KindForce:
			repair = true
			extra = append(extra, out.Tokens...)
		}
	}

	if rs.strat.Complete(rs.st) {
		sp.scheduleSuffix(rc, rs)
	}

	if !repair {
		return mod.Noop{}
	}
	rs.repairs++
	if rs.repairs > maxStrategyRepairs {
		rc.Log.Warn("strategy repair limit reached", "mod", sp.name, "attempts", rs.repairs)
		return mod.Noop{}
	}
	if rewind > 0 {
		return mod.Backtrack{N: rewind, Tokens: extra}
	}
	if len(extra) > 0 {
		return mod.ForceTokens{Tokens: extra}
	}
	return mod.Noop{}
}

func (sp *SelfPrompt) scheduleSuffix(rc *mod.Context, rs *requestState) {
	if strategy.EndsWithLiteral(sp.activeSpec(rs)) || !sp.cfg.forceSuffix() || sp.cfg.Erase == EraseAll {
		return
	}
	text, ids := sp.cfg.suffix()
	if len(ids) == 0 && text != "" {
		var err error
		ids, err = rc.Encode(text)
		if err != nil {
			rc.Log.Warn("encode completion suffix", "mod", sp.name, "error", err)
			return
		}
	}
	if len(ids) > 0 {
		rs.suffixIDs = slices.Clone(ids)
		rs.suffixDue = true
	}
}

func (sp *SelfPrompt) activeSpec(rs *requestState) strategy.Spec {
	if rs.override != nil {
		return rs.override
	}
	return sp.cfg.Strategy.Spec
}

// Completed reports whether the answer has been captured for rc.
func (sp *SelfPrompt) Completed(rc *mod.Context) bool {
	rs, ok := rc.Value(stateKey{sp}).(*requestState)
	return ok && rs.completed
}

// Answer returns the trimmed answer and its tokens once Completed.
func (sp *SelfPrompt) Answer(rc *mod.Context) (text string, ids []int, ok bool) {
	rs, found := rc.Value(stateKey{sp}).(*requestState)
	if !found || !rs.completed {
		return "", nil, false
	}
	ids, err := rc.Encode(rs.answer)
	if err != nil {
		rc.Log.Warn("encode self-prompt answer", "mod", sp.name, "error", err)
	}
	return rs.answer, ids, true
}

// Release drops the state kept for rc.
func (sp *SelfPrompt) Release(rc *mod.Context) { rc.Delete(stateKey{sp}) }

// RefreshChoices replaces the candidates of a choices strategy for rc only.
// For a list with a fixed sequence, index selects the element to replace.
// The request state is reset so the next event starts over. It reports
// whether anything was replaced.
func (sp *SelfPrompt) RefreshChoices(rc *mod.Context, choices []string, index int) bool {
	var next strategy.Spec
	switch s := sp.cfg.Strategy.Spec.(type) {
	case strategy.ChoicesSpec:
		next = strategy.ChoicesSpec{Choices: slices.Clone(choices)}
	case strategy.ListSpec:
		if index < 0 || index >= len(s.Sequence) {
			return false
		}
		if _, ok := s.Sequence[index].(strategy.ChoicesSpec); !ok {
			return false
		}
		s.Sequence = slices.Clone(s.Sequence)
		s.Sequence[index] = strategy.ChoicesSpec{Choices: slices.Clone(choices)}
		next = s
	default:
		return false
	}
	rs := &requestState{override: next}
	sp.init(rc, rs)
	rc.SetValue(stateKey{sp}, rs)
	return true
}
