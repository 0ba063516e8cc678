// Package trace records what happened during a generation call: every
// event the loop dispatched and every action a mod answered with.
package trace

import (
	"sync"

	"github.com/samcharles93/steer/internal/mod"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// Record is one line of a trace.
type Record struct {
	RequestID string `json:"request_id"`
	Event     string `json:"event"`
	Step      int    `json:"step"`
	Action    string `json:"action,omitempty"`
	Source    string `json:"source,omitempty"`
	Tokens    []int  `json:"tokens,omitempty"`
	Text      string `json:"text,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
	N         int    `json:"n,omitempty"`
}

// Recorder is a generate.Observer that keeps records in memory. It is safe
// for concurrent use.
type Recorder struct {
	tab *tokenizer.Table

	mu      sync.Mutex
	records []Record
	// Actions only skips event records.
	ActionsOnly bool
}

// NewRecorder returns a Recorder. tab, when non-nil, is used to render token
// text.
func NewRecorder(tab *tokenizer.Table) *Recorder {
	return &Recorder{tab: tab}
}

func (r *Recorder) text(ids []int) string {
	if r.tab == nil || len(ids) == 0 {
		return ""
	}
	s, err := r.tab.Decode(ids)
	if err != nil {
		return ""
	}
	return s
}

func (r *Recorder) add(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// OnEvent records ev unless ActionsOnly is set.
func (r *Recorder) OnEvent(ev mod.Event) {
	if r.ActionsOnly {
		return
	}
	m := ev.Meta()
	rec := Record{RequestID: m.RequestID, Event: ev.Kind().String(), Step: m.Step}
	switch e := ev.(type) {
	case *mod.Prefilled:
		rec.Tokens = e.InputIDs
		rec.N = e.MaxSteps
	case *mod.Sampled:
		rec.Tokens = []int{e.Token}
	case *mod.Added:
		rec.Tokens = e.Tokens
		rec.Forced = e.Forced
	}
	rec.Text = r.text(rec.Tokens)
	r.add(rec)
}

// OnAction records the action res taken for ev.
func (r *Recorder) OnAction(ev mod.Event, res mod.Result) {
	m := ev.Meta()
	rec := Record{
		RequestID: m.RequestID,
		Event:     ev.Kind().String(),
		Step:      m.Step,
		Action:    res.Action.Kind().String(),
		Source:    res.Source,
	}
	switch a := res.Action.(type) {
	case mod.ForceTokens:
		rec.Tokens = a.Tokens
		rec.Text = r.text(a.Tokens)
	case mod.ForceOutput:
		rec.Tokens = a.Tokens
		rec.Text = r.text(a.Tokens)
	case mod.Backtrack:
		rec.N = a.N
		rec.Tokens = a.Tokens
		rec.Text = r.text(a.Tokens)
	case mod.AdjustedPrefill:
		rec.N = a.MaxSteps
		rec.Tokens = a.Tokens
	case mod.EmitError:
		rec.Text = a.Message
	}
	r.add(rec)
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// ForRequest returns the records of one request.
func (r *Recorder) ForRequest(id string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.RequestID == id {
			out = append(out, rec)
		}
	}
	return out
}

// Reset drops all records.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}
