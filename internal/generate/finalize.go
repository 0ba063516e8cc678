package generate

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/steer/internal/mod"
)

func (r *Runner) finalize(rs *requestState, g *grid) (Result, error) {
	id := rs.req.ID
	res := Result{
		RequestID:     id,
		Visible:       g.visible(rs.row),
		Steps:         rs.steps,
		Duration:      rs.finished,
		ForcedReasons: rs.emitted,
	}
	for _, m := range rs.modList {
		if w, ok := m.(Warner); ok {
			res.Warnings = append(res.Warnings, w.Warnings(rs.rc)...)
		}
	}
	if res.Duration == 0 {
		res.Duration = time.Since(rs.start)
	}

	if rs.terminal != nil {
		res.Terminal = &Terminal{Kind: rs.terminal.Action.Kind(), Source: rs.terminal.Source}
		switch a := rs.terminal.Action.(type) {
		case mod.ForceOutput:
			res.Output = append([]int(nil), a.Tokens...)
		case mod.ToolCalls:
			text, err := toolCallText(id, a.Payload)
			if err != nil {
				return Result{}, fmt.Errorf("generate: request %s: %w", id, err)
			}
			ids, err := r.tab.Encode(text)
			if err != nil {
				return Result{}, fmt.Errorf("generate: request %s: encode tool call: %w", id, err)
			}
			res.Output, res.Text = ids, text
			return res, nil
		case mod.EmitError:
			ids, err := r.tab.Encode(a.Message)
			if err != nil {
				rs.rc.Log.Warn("error message not encodable", "error", err)
				ids = nil
			}
			res.Output = append([]int{ErrorSentinel}, ids...)
			res.Text = a.Message
			return res, nil
		}
	}

	if res.Output == nil {
		res.Output = r.stripEOS(stripPlaceholders(r.backend.CompletionIDs(id)))
	}
	text, err := r.backend.Decode(r.stripEOS(res.Output))
	if err != nil {
		return Result{}, fmt.Errorf("generate: request %s: decode: %w", id, err)
	}
	res.Text = text
	return res, nil
}

func (r *Runner) stripEOS(ids []int) []int {
	eos, ok := r.backend.EOSTokenID()
	if !ok {
		return ids
	}
	out := ids[:0:0]
	for _, t := range ids {
		if t != eos {
			out = append(out, t)
		}
	}
	return out
}

func toolCallText(id string, payload any) (string, error) {
	body, ok := payload.(string)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode tool call payload: %w", err)
		}
		body = string(raw)
	}
	return "<tool_call_" + id + ">" + body + "</tool_call_" + id + ">", nil
}

// Padded returns the visible-token grid of results, one row per result,
// padded with Placeholder to equal width.
func Padded(results []Result) [][]int {
	g := newGrid(len(results))
	for i, r := range results {
		g.rows[i] = r.Visible
		g.cursors[i] = len(r.Visible)
	}
	return g.padded()
}
