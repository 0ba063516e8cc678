package strategy

import (
	"fmt"
	"strings"

	"github.com/samcharles93/steer/internal/tokenizer"
)

type listPhase uint8

const (
	phaseOpen listPhase = iota
	phaseAwaitElement
	phaseWrapOpen
	phaseElement
	phaseWrapClose
	phaseAwaitSep
	phaseSeparator
	phaseClose
	phaseEndWith
)

var listPhaseNames = [...]string{
	phaseOpen:         "in_open",
	phaseAwaitElement: "await_element",
	phaseWrapOpen:     "in_wrap_open",
	phaseElement:      "in_element",
	phaseWrapClose:    "in_wrap_close",
	phaseAwaitSep:     "await_sep",
	phaseSeparator:    "in_separator",
	phaseClose:        "in_close",
	phaseEndWith:      "in_end_with",
}

func (p listPhase) String() string { return listPhaseNames[p] }

// list composes an element strategy into a delimited list:
// open, then wrapped elements joined by sep, then close and end_with.
type list struct {
	open, close, wrap, sep, endWith []int
	min int
	// max < 0 means unbounded.
	max      int
	element  Strategy
	sequence []Strategy
	// straddle holds ids whose piece carries the wrap text along with
	// other text. Inside an element they would close the wrap unseen.
	straddle TokenSet
}

type listState struct {
	phase     listPhase
	openPos   int
	wrapPos   int
	sepPos    int
	closePos  int
	endPos    int
	completed int
	elem      State
	complete  bool
}

func compileList(spec ListSpec, tab *tokenizer.Table) (*list, error) {
	l := &list{min: spec.Min, max: -1, straddle: TokenSet{}}
	if spec.Max != nil {
		l.max = *spec.Max
	}
	sep := ", "
	if spec.Sep != nil {
		sep = *spec.Sep
	}
	for _, f := range []struct {
		dst  *[]int
		name string
		text string
	}{
		{&l.open, "open", spec.Open},
		{&l.close, "close", spec.Close},
		{&l.wrap, "wrap", spec.Wrap},
		{&l.sep, "sep", sep},
		{&l.endWith, "end_with", spec.EndWith},
	} {
		ids, err := tab.Encode(f.text)
		if err != nil {
			return nil, fmt.Errorf("%w: encode list %s %q: %w", ErrCompile, f.name, f.text, err)
		}
		*f.dst = ids
	}

	if spec.Wrap != "" {
		for id := 0; id < tab.Size(); id++ {
			if p := tab.Piece(id); p != spec.Wrap && strings.Contains(p, spec.Wrap) {
				l.straddle.Add(id)
			}
		}
	}

	switch {
	case len(spec.Sequence) > 0:
		for i, es := range spec.Sequence {
			s, err := Compile(es, tab)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			l.sequence = append(l.sequence, s)
		}
		l.min, l.max = len(l.sequence), len(l.sequence)
	case spec.Element != nil:
		s, err := Compile(spec.Element, tab)
		if err != nil {
			return nil, fmt.Errorf("list element: %w", err)
		}
		l.element = s
	default:
		return nil, fmt.Errorf("%w: list: element strategy is required", ErrCompile)
	}
	if l.min < 0 || (l.max >= 0 && l.max < l.min) {
		return nil, fmt.Errorf("%w: list: invalid bounds min=%d max=%d", ErrCompile, l.min, l.max)
	}
	return l, nil
}

func (l *list) elementAt(i int) Strategy {
	if l.sequence == nil {
		return l.element
	}
	if i < len(l.sequence) {
		return l.sequence[i]
	}
	return nil
}

func (l *list) underMax(s *listState) bool {
	if l.max >= 0 && s.completed >= l.max {
		return false
	}
	return l.elementAt(s.completed) != nil
}

func (l *list) Start() State {
	s := &listState{phase: phaseAwaitElement}
	if len(l.open) > 0 {
		s.phase = phaseOpen
	}
	return s
}

func (l *list) Allowed(st State) TokenSet {
	s := st.(*listState)
	if s.complete {
		return emptySet
	}
	allowed := make(TokenSet)
	switch s.phase {
	case phaseOpen:
		addAt(allowed, l.open, s.openPos)
	case phaseAwaitElement:
		if l.underMax(s) {
			if len(l.wrap) > 0 {
				allowed.Add(l.wrap[0])
			} else {
				elem := l.elementAt(s.completed)
				allowed.Union(elem.Allowed(elem.Start()))
			}
		}
		if s.completed >= l.min && len(l.close) > 0 {
			allowed.Add(l.close[0])
		}
	case phaseWrapOpen, phaseWrapClose:
		addAt(allowed, l.wrap, s.wrapPos)
	case phaseElement:
		elem := l.elementAt(s.completed)
		if len(l.wrap) > 0 && elem.Complete(s.elem) {
			allowed.Add(l.wrap[0])
			break
		}
		for id := range elem.Allowed(s.elem) {
			if !l.straddle.Has(id) {
				allowed.Add(id)
			}
		}
	case phaseAwaitSep:
		if len(l.sep) > 0 && l.underMax(s) {
			allowed.Add(l.sep[0])
		}
		if len(l.close) > 0 && s.completed >= l.min {
			allowed.Add(l.close[0])
		}
	case phaseSeparator:
		addAt(allowed, l.sep, s.sepPos)
	case phaseClose:
		addAt(allowed, l.close, s.closePos)
	case phaseEndWith:
		addAt(allowed, l.endWith, s.endPos)
	}
	return allowed
}

func addAt(set TokenSet, ids []int, pos int) {
	if pos < len(ids) {
		set.Add(ids[pos])
	}
}

func (l *list) Disallowed(st State) TokenSet {
	s := st.(*listState)
	if s.complete || s.phase != phaseElement {
		return emptySet
	}
	out := make(TokenSet)
	out.Union(l.elementAt(s.completed).Disallowed(s.elem))
	out.Union(l.straddle)
	return out
}

func (l *list) Step(st State, token int) Outcome {
	s := st.(*listState)
	if s.complete {
		return Continue
	}
	switch s.phase {
	case phaseOpen:
		if s.openPos < len(l.open) && token == l.open[s.openPos] {
			s.openPos++
			if s.openPos >= len(l.open) {
				s.phase = phaseAwaitElement
			}
		}
	case phaseAwaitElement:
		switch {
		case len(l.wrap) > 0 && token == l.wrap[0] && l.underMax(s):
			s.wrapPos = 1
			if s.wrapPos >= len(l.wrap) {
				l.enterElement(s)
			} else {
				s.phase = phaseWrapOpen
			}
		case len(l.close) > 0 && token == l.close[0] && s.completed >= l.min:
			s.closePos = 0
			l.stepClose(s, token)
		case len(l.wrap) == 0 && l.underMax(s):
			l.enterElement(s)
			l.stepElement(s, token)
		}
	case phaseWrapOpen:
		if s.wrapPos < len(l.wrap) && token == l.wrap[s.wrapPos] {
			s.wrapPos++
			if s.wrapPos >= len(l.wrap) {
				l.enterElement(s)
			}
		}
	case phaseElement:
		elem := l.elementAt(s.completed)
		if len(l.wrap) > 0 && token == l.wrap[0] && elem.Complete(s.elem) {
			l.beginWrapClose(s)
			return Continue
		}
		l.stepElement(s, token)
		// An element whose own terminator is the wrap token has just
		// consumed the closing wrap.
		if len(l.wrap) > 0 && token == l.wrap[0] && elem.Complete(s.elem) {
			l.beginWrapClose(s)
		}
	case phaseWrapClose:
		if s.wrapPos < len(l.wrap) && token == l.wrap[s.wrapPos] {
			s.wrapPos++
			if s.wrapPos >= len(l.wrap) {
				l.finishElement(s)
			}
		}
	case phaseAwaitSep:
		switch {
		case len(l.sep) > 0 && token == l.sep[0] && l.underMax(s):
			s.sepPos = 1
			s.phase = phaseSeparator
			if s.sepPos >= len(l.sep) {
				s.sepPos = 0
				s.phase = phaseAwaitElement
			}
		case len(l.close) > 0 && token == l.close[0] && s.completed >= l.min:
			s.closePos = 0
			l.stepClose(s, token)
		}
	case phaseSeparator:
		if s.sepPos < len(l.sep) && token == l.sep[s.sepPos] {
			s.sepPos++
		}
		if s.sepPos >= len(l.sep) {
			s.sepPos = 0
			s.phase = phaseAwaitElement
		}
	case phaseClose:
		l.stepClose(s, token)
	case phaseEndWith:
		if s.endPos < len(l.endWith) && token == l.endWith[s.endPos] {
			s.endPos++
			if s.endPos >= len(l.endWith) {
				s.complete = true
			}
		}
	}
	return Continue
}

func (l *list) enterElement(s *listState) {
	s.wrapPos = 0
	s.elem = l.elementAt(s.completed).Start()
	s.phase = phaseElement
}

func (l *list) stepElement(s *listState, token int) {
	elem := l.elementAt(s.completed)
	elem.Step(s.elem, token)
	if len(l.wrap) == 0 && elem.Complete(s.elem) {
		l.finishElement(s)
	}
}

func (l *list) beginWrapClose(s *listState) {
	s.wrapPos = 1
	if s.wrapPos >= len(l.wrap) {
		l.finishElement(s)
		return
	}
	s.phase = phaseWrapClose
}

func (l *list) finishElement(s *listState) {
	s.completed++
	s.wrapPos = 0
	s.elem = nil
	s.phase = phaseAwaitSep
	if len(l.close) == 0 && !l.underMax(s) {
		s.closePos = 0
		l.stepClose(s, -1)
	}
}

func (l *list) stepClose(s *listState, token int) {
	s.phase = phaseClose
	if s.closePos < len(l.close) && token == l.close[s.closePos] {
		s.closePos++
	}
	if s.closePos < len(l.close) {
		return
	}
	if len(l.endWith) > 0 {
		s.phase = phaseEndWith
		s.endPos = 0
		return
	}
	s.complete = true
}

func (l *list) Complete(st State) bool { return st.(*listState).complete }

func (l *list) TrimAnswer(answer string) string { return answer }
