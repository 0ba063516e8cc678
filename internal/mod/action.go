package mod

// ActionKind discriminates actions.
type ActionKind uint8

const (
	KindNoop ActionKind = iota
	KindForceTokens
	KindForceOutput
	KindAdjustedLogits
	KindAdjustedPrefill
	KindBacktrack
	KindToolCalls
	KindEmitError
)

var actionNames = [...]string{
	KindNoop:            "Noop",
	KindForceTokens:     "ForceTokens",
	KindForceOutput:     "ForceOutput",
	KindAdjustedLogits:  "AdjustedLogits",
	KindAdjustedPrefill: "AdjustedPrefill",
	KindBacktrack:       "Backtrack",
	KindToolCalls:       "ToolCalls",
	KindEmitError:       "EmitError",
}

func (k ActionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return "Unknown"
}

// Terminal reports whether the action ends the request.
func (k ActionKind) Terminal() bool {
	return k == KindForceOutput || k == KindToolCalls || k == KindEmitError
}

// Action is a mod's answer to an event.
type Action interface {
	Kind() ActionKind
	action()
}

// Noop leaves decoding untouched.
type Noop struct{}

// ForceTokens injects tokens before the next sampled position.
type ForceTokens struct {
	Tokens []int
}

// ForceOutput ends the request with Tokens as its final output.
type ForceOutput struct {
	Tokens []int
}

// AdjustedLogits replaces the logits of the current step. A non-nil
// TokenTemp overrides the sampling temperature for this step.
type AdjustedLogits struct {
	Logits    []float32
	TokenTemp *float32
}

// AdjustedPrefill replaces the prompt. MaxSteps of 0 keeps the configured
// limit.
type AdjustedPrefill struct {
	Tokens   []int
	MaxSteps int
}

// Backtrack removes the last N tokens and optionally re-injects Tokens.
type Backtrack struct {
	N      int
	Tokens []int
}

// ToolCalls ends the request with a tool call payload. A string payload is
// used verbatim; anything else is serialized as JSON.
type ToolCalls struct {
	Payload any
}

// EmitError ends the request with an error message.
type EmitError struct {
	Message string
}

func (Noop) Kind() ActionKind            { return KindNoop }
func (ForceTokens) Kind() ActionKind     { return KindForceTokens }
func (ForceOutput) Kind() ActionKind     { return KindForceOutput }
func (AdjustedLogits) Kind() ActionKind  { return KindAdjustedLogits }
func (AdjustedPrefill) Kind() ActionKind { return KindAdjustedPrefill }
func (Backtrack) Kind() ActionKind       { return KindBacktrack }
func (ToolCalls) Kind() ActionKind       { return KindToolCalls }
func (EmitError) Kind() ActionKind       { return KindEmitError }

func (Noop) action()            {}
func (ForceTokens) action()     {}
func (ForceOutput) action()     {}
func (AdjustedLogits) action()  {}
func (AdjustedPrefill) action() {}
func (Backtrack) action()       {}
func (ToolCalls) action()       {}
func (EmitError) action()       {}

// Temp returns a pointer to t, for AdjustedLogits.TokenTemp.
func Temp(t float32) *float32 { return &t }
