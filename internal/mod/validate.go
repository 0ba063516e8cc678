package mod

import (
	"errors"
	"fmt"
)

// ErrInvalidAction is wrapped by InvalidActionError.
var ErrInvalidAction = errors.New("mod: invalid action for event")

// InvalidActionError reports an action returned for an event that does not
// permit it.
type InvalidActionError struct {
	Mod    string
	Event  EventKind
	Action ActionKind
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("mod %q: action %s is not valid for event %s", e.Mod, e.Action, e.Event)
}

func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }

var legal = map[EventKind]map[ActionKind]bool{
	KindPrefilled: {
		KindNoop: true, KindForceOutput: true, KindToolCalls: true,
		KindAdjustedPrefill: true, KindEmitError: true,
	},
	KindForwardPass: {
		KindNoop: true, KindForceTokens: true, KindBacktrack: true, KindForceOutput: true,
		KindToolCalls: true, KindAdjustedLogits: true, KindEmitError: true,
	},
	KindSampled: {
		KindNoop: true, KindForceTokens: true, KindBacktrack: true, KindForceOutput: true,
		KindToolCalls: true, KindEmitError: true,
	},
	KindAdded: {
		KindNoop: true, KindForceTokens: true, KindBacktrack: true, KindForceOutput: true,
		KindToolCalls: true, KindEmitError: true,
	},
}

// Allowed reports whether action kind a may answer event kind e.
func Allowed(e EventKind, a ActionKind) bool {
	return legal[e][a]
}

// Validate checks a against ev. A nil action is treated as Noop.
func Validate(modName string, ev Event, a Action) error {
	if a == nil {
		return nil
	}
	if !Allowed(ev.Kind(), a.Kind()) {
		return &InvalidActionError{Mod: modName, Event: ev.Kind(), Action: a.Kind()}
	}
	return nil
}
