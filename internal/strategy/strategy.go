// Package strategy turns structural constraints into per-token allowed and
// disallowed sets.
//
// A Strategy is compiled once against a vocabulary and is immutable
// afterwards; it can be shared across requests and goroutines. All
// per-generation progress lives in the State returned by Start, which is
// owned by exactly one request.
package strategy

import (
	"errors"
	"slices"
)

// ErrCompile is wrapped by every error returned from Compile.
var ErrCompile = errors.New("strategy: compile")

// State is the opaque per-request progress of one Strategy. Only the
// Strategy that created a State may interpret it.
type State any

// Strategy computes the legal next tokens for a State.
type Strategy interface {
	// Start returns fresh progress for one generation.
	Start() State
	// Allowed returns the ids that may be produced next. An empty set
	// places no allow-list restriction. The returned set may be shared and
	// must not be modified.
	Allowed(st State) TokenSet
	// Disallowed returns ids that must not be produced next.
	Disallowed(st State) TokenSet
	// Step advances st by one produced token.
	Step(st State, token int) Outcome
	// Complete reports whether the constraint is satisfied and no longer
	// restricts decoding.
	Complete(st State) bool
	// TrimAnswer normalizes the text produced under this strategy.
	TrimAnswer(answer string) string
}

// TokenSet is a set of token ids.
type TokenSet map[int]struct{}

// NewTokenSet returns a set holding ids.
func NewTokenSet(ids ...int) TokenSet {
	s := make(TokenSet, len(ids))
	s.Add(ids...)
	return s
}

func (s TokenSet) Add(ids ...int) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s TokenSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Union adds every id of o to s.
func (s TokenSet) Union(o TokenSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// Sorted returns the ids in ascending order.
func (s TokenSet) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OutcomeKind discriminates the Outcome of a Step.
type OutcomeKind uint8

const (
	KindContinue OutcomeKind = iota
	KindBacktrack
	KindForce
)

func (k OutcomeKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindBacktrack:
		return "backtrack"
	case KindForce:
		return "force"
	default:
		return "unknown"
	}
}

// Outcome is what a Step asks of its caller. Continue is the zero value.
// A Backtrack rewinds N tokens and replays Tokens; a Force emits Tokens
// verbatim.
type Outcome struct {
	Kind   OutcomeKind
	N      int
	Tokens []int
}

// Continue is the outcome of an ordinary step.
var Continue = Outcome{}

// Rewind requests a backtrack of n tokens followed by tokens.
func Rewind(n int, tokens []int) Outcome {
	return Outcome{Kind: KindBacktrack, N: n, Tokens: tokens}
}

// Force requests tokens be emitted without sampling.
func Force(tokens []int) Outcome {
	return Outcome{Kind: KindForce, Tokens: tokens}
}

var emptySet = TokenSet{}
