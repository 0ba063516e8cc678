// Package generate runs a batch of requests in lock-step against a Backend,
// dispatching mod events and applying the actions they return.
package generate

import (
	"context"

	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/mod"
)

// Backend is the model side of the loop. Every call is addressed by request
// id; the backend keeps one sequence and key/value cache per id.
type Backend interface {
	// Prefill processes inputIDs as the prompt of id, replacing any prior
	// sequence.
	Prefill(ctx context.Context, id string, inputIDs []int, maxSteps int) (*mod.Prefilled, error)
	// ForwardPass computes logits for the next position of id.
	ForwardPass(ctx context.Context, id string) (*mod.ForwardPass, error)
	// Sample draws a token from logits.
	Sample(ctx context.Context, id string, logits []float32, p logits.Params) (*mod.Sampled, error)
	// AddTokens appends tokens to the sequence of id.
	AddTokens(ctx context.Context, id string, tokens []int, forced bool) (*mod.Added, error)
	// RewindKVCache drops the last n positions of id. A forward pass whose
	// token has not been added yet counts as one position. Rewinds never
	// cross into the prompt.
	RewindKVCache(ctx context.Context, id string, n int) error
	// CompletionIDs returns the tokens appended after the prompt.
	CompletionIDs(id string) []int
	Decode(ids []int) (string, error)
	EOSTokenID() (int, bool)
}
