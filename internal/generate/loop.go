package generate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// Runner drives batches against one Backend.
type Runner struct {
	backend Backend
	tab     *tokenizer.Table
	cfg     Config
	log     logger.Logger
}

// New returns a Runner. tab must describe the backend's vocabulary.
func New(b Backend, tab *tokenizer.Table, cfg Config) *Runner {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{backend: b, tab: tab, cfg: cfg, log: log}
}

type requestState struct {
	row      int
	req      Request
	rc       *mod.Context
	mods     *mod.Manager
	modList  []mod.Mod
	maxSteps int
	limit    int

	forced  []int
	reasons []string
	emitted []string

	steps    int
	advanced bool
	terminal *mod.Result
	ended    bool
	start    time.Time
	finished time.Duration
}

func (rs *requestState) enqueue(tokens []int, reason string) {
	for range tokens {
		rs.reasons = append(rs.reasons, reason)
	}
	rs.forced = append(rs.forced, tokens...)
}

func (rs *requestState) replaceQueue(tokens []int, reason string) {
	rs.forced = rs.forced[:0]
	rs.reasons = rs.reasons[:0]
	rs.enqueue(tokens, reason)
}

func (rs *requestState) pop() (int, string) {
	tok, why := rs.forced[0], rs.reasons[0]
	rs.forced, rs.reasons = rs.forced[1:], rs.reasons[1:]
	return tok, why
}

func (rs *requestState) done() bool {
	return rs.ended || rs.terminal != nil
}

// Run generates every request of the batch and returns one Result per
// request, in order. Backend failures and invalid mod actions abort the
// whole call.
func (r *Runner) Run(ctx context.Context, reqs []Request) ([]Result, error) {
	ctx, span := startRunSpan(ctx, len(reqs))
	defer span.End()

	states := make([]*requestState, len(reqs))
	g := newGrid(len(reqs))
	for i, req := range reqs {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		maxTokens := r.cfg.MaxTokens
		if req.MaxTokens > 0 {
			maxTokens = req.MaxTokens
		}
		mods := append(slices.Clone(r.cfg.Mods), req.Mods...)
		states[i] = &requestState{
			row:      i,
			req:      req,
			rc:       mod.NewContext(req.ID, r.tab, r.log),
			mods:     mod.NewManager(r.log, mods...),
			modList:  mods,
			maxSteps: maxTokens,
			limit:    r.cfg.stepLimit(maxTokens),
			start:    time.Now(),
		}
	}

	for _, rs := range states {
		if err := r.prefill(ctx, rs); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !slices.ContainsFunc(states, func(rs *requestState) bool { return !rs.done() }) {
			break
		}
		for _, rs := range states {
			rs.advanced = false
			if !rs.done() {
				if err := r.step(ctx, rs, g); err != nil {
					span.RecordError(err)
					return nil, err
				}
			}
			if !rs.advanced {
				g.skip(rs.row)
			}
		}
	}

	results := make([]Result, len(states))
	for i, rs := range states {
		res, err := r.finalize(rs, g)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

func (r *Runner) dispatch(ctx context.Context, rs *requestState, ev mod.Event) ([]mod.Result, error) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.OnEvent(ev)
	}
	results, err := rs.mods.Dispatch(rs.rc, ev)
	if err != nil {
		rs.rc.Log.Error("invalid mod action", "event", ev.Kind().String(), "error", err)
		return nil, fmt.Errorf("generate: request %s: %w", rs.req.ID, err)
	}
	for _, res := range results {
		recordAction(ctx, res.Action.Kind().String())
		if r.cfg.Observer != nil {
			r.cfg.Observer.OnAction(ev, res)
		}
	}
	return results, nil
}

func (r *Runner) terminate(ctx context.Context, rs *requestState, res mod.Result) {
	rs.terminal = &res
	rs.finished = time.Since(rs.start)
	recordTerminal(ctx, res.Action.Kind().String())
	rs.rc.Log.Info("terminal action", "kind", res.Action.Kind().String(), "mod", res.Source)
}

func (r *Runner) prefill(ctx context.Context, rs *requestState) error {
	id := rs.req.ID
	pf, err := r.backend.Prefill(ctx, id, rs.req.Prompt, rs.maxSteps)
	if err != nil {
		return fmt.Errorf("generate: request %s: prefill: %w", id, err)
	}
	pf.RequestID = id
	results, err := r.dispatch(ctx, rs, pf)
	if err != nil {
		return err
	}
	for _, res := range results {
		switch a := res.Action.(type) {
		case mod.AdjustedPrefill:
			steps := a.MaxSteps
			if steps <= 0 {
				steps = r.cfg.MaxTokens
			}
			pf, err = r.backend.Prefill(ctx, id, a.Tokens, steps)
			if err != nil {
				return fmt.Errorf("generate: request %s: re-prefill: %w", id, err)
			}
			if pf.MaxSteps > 0 {
				rs.maxSteps = pf.MaxSteps
			} else {
				rs.maxSteps = steps
			}
			rs.limit = r.cfg.stepLimit(rs.maxSteps)
		default:
			if a.Kind().Terminal() {
				r.terminate(ctx, rs, res)
				return nil
			}
		}
	}
	return nil
}

func reason(ev mod.EventKind, source string) string {
	return ev.String() + ":" + source
}

// rewind drops n positions and erases the tokens that disappeared from the
// completion in the grid.
func (r *Runner) rewind(ctx context.Context, rs *requestState, g *grid, n int) error {
	before := len(r.backend.CompletionIDs(rs.req.ID))
	if err := r.backend.RewindKVCache(ctx, rs.req.ID, n); err != nil {
		return fmt.Errorf("generate: request %s: rewind %d: %w", rs.req.ID, n, err)
	}
	after := len(r.backend.CompletionIDs(rs.req.ID))
	if removed := before - after; removed > 0 {
		g.rewind(rs.row, removed)
	}
	recordBacktrack(ctx)
	rs.rc.Log.Debug("backtrack", "n", n, "removed", before-after)
	return nil
}

func (r *Runner) step(ctx context.Context, rs *requestState, g *grid) error {
	id := rs.req.ID
	rs.steps++
	recordStep(ctx)

	fp, err := r.backend.ForwardPass(ctx, id)
	if err != nil {
		return fmt.Errorf("generate: request %s: forward pass: %w", id, err)
	}
	fp.RequestID, fp.Step = id, rs.steps
	results, err := r.dispatch(ctx, rs, fp)
	if err != nil {
		return err
	}

	stepLogits := fp.Logits
	params := r.cfg.Params
	forcedThisStep := false
	for _, res := range results {
		switch a := res.Action.(type) {
		case mod.AdjustedLogits:
			stepLogits = a.Logits
			if a.TokenTemp != nil {
				params.Temperature = *a.TokenTemp
			}
		case mod.ForceTokens:
			if !forcedThisStep {
				forcedThisStep = true
				rs.enqueue(a.Tokens, reason(mod.KindForwardPass, res.Source))
			}
		case mod.Backtrack:
			rs.enqueue(a.Tokens, reason(mod.KindForwardPass, res.Source))
			if a.N > 0 {
				// The forward pass position has no token yet.
				return r.rewind(ctx, rs, g, a.N+1)
			}
		default:
			if a.Kind().Terminal() {
				r.terminate(ctx, rs, res)
				return nil
			}
		}
		if res.Action.Kind() == mod.KindBacktrack {
			break
		}
	}

	var (
		tok    int
		forced bool
	)
	if len(rs.forced) > 0 {
		var why string
		tok, why = rs.pop()
		forced = true
		rs.emitted = append(rs.emitted, why)
	} else {
		sampled, err := r.backend.Sample(ctx, id, slices.Clone(stepLogits), params)
		if err != nil {
			return fmt.Errorf("generate: request %s: sample: %w", id, err)
		}
		sampled.RequestID, sampled.Step = id, rs.steps
		tok = sampled.Token
		results, err := r.dispatch(ctx, rs, sampled)
		if err != nil {
			return err
		}
		for _, res := range results {
			switch a := res.Action.(type) {
			case mod.ForceTokens:
				rs.enqueue(a.Tokens, reason(mod.KindSampled, res.Source))
			case mod.Backtrack:
				rs.enqueue(a.Tokens, reason(mod.KindSampled, res.Source))
				if a.N > 0 {
					return r.rewind(ctx, rs, g, a.N)
				}
			default:
				if a.Kind().Terminal() {
					r.terminate(ctx, rs, res)
					return nil
				}
			}
			if res.Action.Kind() == mod.KindBacktrack {
				break
			}
		}
	}

	added, err := r.backend.AddTokens(ctx, id, []int{tok}, forced)
	if err != nil {
		return fmt.Errorf("generate: request %s: add tokens: %w", id, err)
	}
	added.RequestID, added.Step = id, rs.steps
	g.write(rs.row, tok)
	rs.advanced = true

	results, err = r.dispatch(ctx, rs, added)
	if err != nil {
		return err
	}
	for _, res := range results {
		switch a := res.Action.(type) {
		case mod.ForceTokens:
			// The added token is already committed to the backend.
			rs.replaceQueue(a.Tokens, reason(mod.KindAdded, res.Source))
		case mod.Backtrack:
			rs.enqueue(a.Tokens, reason(mod.KindAdded, res.Source))
			// The triggering token is already part of the sequence.
			if n := a.N - 1; n > 0 {
				return r.rewind(ctx, rs, g, n)
			}
		default:
			if a.Kind().Terminal() {
				r.terminate(ctx, rs, res)
				return nil
			}
		}
		if res.Action.Kind() == mod.KindBacktrack {
			break
		}
	}

	r.checkStop(rs, tok)
	return nil
}

func (r *Runner) checkStop(rs *requestState, tok int) {
	switch {
	case slices.Contains(r.cfg.StopTokens, tok):
		rs.ended = true
	case r.isEOS(tok):
		rs.ended = true
	case len(rs.forced) == 0 && len(r.backend.CompletionIDs(rs.req.ID)) >= rs.maxSteps:
		rs.ended = true
	case rs.steps >= rs.limit:
		rs.rc.Log.Warn("step limit reached", "steps", rs.steps)
		rs.ended = true
	}
	if rs.ended {
		rs.finished = time.Since(rs.start)
	}
}

func (r *Runner) isEOS(tok int) bool {
	eos, ok := r.backend.EOSTokenID()
	return ok && tok == eos
}
