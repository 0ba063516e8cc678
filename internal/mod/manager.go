package mod

import (
	"fmt"
	"runtime/debug"

	"github.com/samcharles93/steer/internal/logger"
)

// Mod reacts to generation events for any number of requests.
type Mod interface {
	Name() string
	// Handle answers ev. A nil Action is treated as Noop.
	Handle(rc *Context, ev Event) Action
}

type funcMod struct {
	name string
	fn   func(*Context, Event) Action
}

// Func adapts fn to a Mod.
func Func(name string, fn func(rc *Context, ev Event) Action) Mod {
	return &funcMod{name: name, fn: fn}
}

func (f *funcMod) Name() string { return f.name }

func (f *funcMod) Handle(rc *Context, ev Event) Action { return f.fn(rc, ev) }

// Result is one non-Noop action together with the mod that chose it.
type Result struct {
	Source string
	Action Action
}

// Manager dispatches events to an ordered list of mods.
type Manager struct {
	mods []Mod
	log  logger.Logger
}

// NewManager returns a Manager over mods, in order.
func NewManager(log logger.Logger, mods ...Mod) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{mods: mods, log: log}
}

// Len is the number of registered mods.
func (m *Manager) Len() int { return len(m.mods) }

// Dispatch hands ev to every mod in order and collects their non-Noop
// actions. It stops after the first terminal action. A mod that panics is
// logged and treated as Noop. An action illegal for ev fails the dispatch
// with an *InvalidActionError.
func (m *Manager) Dispatch(rc *Context, ev Event) ([]Result, error) {
	var results []Result
	for _, md := range m.mods {
		a := m.invoke(md, rc, ev)
		if a == nil || a.Kind() == KindNoop {
			continue
		}
		if err := Validate(md.Name(), ev, a); err != nil {
			return results, err
		}
		results = append(results, Result{Source: md.Name(), Action: a})
		if a.Kind().Terminal() {
			break
		}
	}
	return results, nil
}

func (m *Manager) invoke(md Mod, rc *Context, ev Event) (a Action) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("mod panicked",
				"mod", md.Name(),
				"request_id", rc.RequestID,
				"event", ev.Kind().String(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			a = Noop{}
		}
	}()
	return md.Handle(rc, ev)
}
