package generate

import (
	"time"

	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/logits"
	"github.com/samcharles93/steer/internal/mod"
)

// ErrorSentinel is the first token of an EmitError output.
const ErrorSentinel = -999999999999

// Config holds per-call generation settings.
type Config struct {
	// MaxTokens bounds the visible completion of each request.
	MaxTokens int
	// Params are the default sampling parameters. A mod can override the
	// temperature for a single step.
	Params     logits.Params
	StopTokens []int
	// StepLimit bounds loop iterations per request, counting steps that
	// were later rewound. Zero means 8*MaxTokens+256.
	StepLimit int
	// Mods run for every request, before the request's own mods.
	Mods     []mod.Mod
	Observer Observer
	Log      logger.Logger
}

func (c Config) stepLimit(maxTokens int) int {
	if c.StepLimit > 0 {
		return c.StepLimit
	}
	return 8*maxTokens + 256
}

// Request is one prompt of a batch.
type Request struct {
	// ID is generated when empty.
	ID     string
	Prompt []int
	// MaxTokens overrides Config.MaxTokens when positive.
	MaxTokens int
	Mods      []mod.Mod
}

// Terminal describes the terminal action that ended a request.
type Terminal struct {
	Kind   mod.ActionKind
	Source string
}

// Result is the outcome of one request.
type Result struct {
	RequestID string
	Output    []int
	Text      string
	// Visible is the request's row of the placeholder grid with placeholders
	// removed.
	Visible  []int
	Terminal *Terminal
	Steps    int
	Duration time.Duration
	// ForcedReasons holds one entry per forced token, in emission order.
	ForcedReasons []string
	// Warnings collects the soft failures reported by Warner mods.
	Warnings []string
}

// Warner is implemented by mods that record soft, non-fatal failures for
// a request, such as a generated value not matching its pattern.
type Warner interface {
	Warnings(rc *mod.Context) []string
}

// Observer receives every dispatched event and the actions applied for it.
// It never influences decoding.
type Observer interface {
	OnEvent(ev mod.Event)
	OnAction(ev mod.Event, r mod.Result)
}
