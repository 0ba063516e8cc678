// Package mod defines the event/action protocol between the generation loop
// and the per-request programs ("mods") that steer it.
//
// For every request the loop emits Prefilled once, then per step
// ForwardPass, Sampled (only when a token was sampled) and Added. Each
// event may be answered with one Action; which actions are legal depends on
// the event (see Validate).
package mod

// EventKind discriminates events.
type EventKind uint8

const (
	KindPrefilled EventKind = iota
	KindForwardPass
	KindSampled
	KindAdded
)

func (k EventKind) String() string {
	switch k {
	case KindPrefilled:
		return "Prefilled"
	case KindForwardPass:
		return "ForwardPass"
	case KindSampled:
		return "Sampled"
	case KindAdded:
		return "Added"
	default:
		return "Unknown"
	}
}

// Event is one of Prefilled, ForwardPass, Sampled or Added.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	event()
}

// EventMeta is common to every event.
type EventMeta struct {
	RequestID string
	Step      int
}

// Prefilled is emitted once after the prompt has been processed.
type Prefilled struct {
	EventMeta
	MaxSteps int
	InputIDs []int
}

// ForwardPass is emitted after the model produced logits for the next
// position.
type ForwardPass struct {
	EventMeta
	Logits       []float32
	HiddenStates []float32
	InputIDs     []int
}

// Sampled is emitted after a token was drawn from the logits.
type Sampled struct {
	EventMeta
	Token int
}

// Added is emitted after tokens were appended to the sequence. Forced
// reports whether they were injected rather than sampled.
type Added struct {
	EventMeta
	Tokens []int
	Forced bool
}

func (Prefilled) Kind() EventKind   { return KindPrefilled }
func (ForwardPass) Kind() EventKind { return KindForwardPass }
func (Sampled) Kind() EventKind     { return KindSampled }
func (Added) Kind() EventKind       { return KindAdded }

func (*Prefilled) event()   {}
func (*ForwardPass) event() {}
func (*Sampled) event()     {}
func (*Added) event()       {}

func (m EventMeta) Meta() EventMeta { return m }
