package strategy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samcharles93/steer/internal/tokenizer"
)

// EndType selects how an Until strategy detects its end.
type EndType uint8

const (
	// EndTag ends once the end text appears in the generated text.
	EndTag EndType = iota
	// EndAnyChar ends once any rune of the end text is generated.
	EndAnyChar
)

func (e EndType) String() string {
	if e == EndAnyChar {
		return "anychar"
	}
	return "tag"
}

// ParseEndType maps "tag" or "anychar" to an EndType. Empty means EndTag.
func ParseEndType(s string) (EndType, error) {
	switch strings.ToLower(s) {
	case "", "tag":
		return EndTag, nil
	case "anychar", "any_char":
		return EndAnyChar, nil
	}
	return 0, fmt.Errorf("%w: unknown end type %q", ErrCompile, s)
}

// until forces an optional start tag, then lets anything through until the
// end condition is seen in the accumulated text.
type until struct {
	tab       *tokenizer.Table
	start     string
	startLen  int
	startIDs  []int
	endType   EndType
	end       string
	all       TokenSet
	forbidden TokenSet
}

type untilState struct {
	text strings.Builder
	done bool
}

func compileUntil(spec UntilSpec, tab *tokenizer.Table) (*until, error) {
	if spec.End == "" {
		return nil, fmt.Errorf("%w: until: end text is required", ErrCompile)
	}
	ids, err := tab.Encode(spec.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: encode start tag %q: %w", ErrCompile, spec.Start, err)
	}
	u := &until{
		tab:       tab,
		start:     spec.Start,
		startLen:  utf8.RuneCountInString(spec.Start),
		startIDs:  ids,
		endType:   spec.EndType,
		end:       spec.End,
		all:       make(TokenSet, tab.Size()),
		forbidden: TokenSet{},
	}
	for id := 0; id < tab.Size(); id++ {
		u.all.Add(id)
	}
	if eos, ok := tab.EOS(); ok && !spec.AllowEOS {
		u.forbidden.Add(eos)
	}
	return u, nil
}

func (u *until) Start() State { return &untilState{} }

func (u *until) Allowed(st State) TokenSet {
	s := st.(*untilState)
	if s.done {
		return emptySet
	}
	if u.start == "" {
		return u.all
	}
	text := s.text.String()
	if utf8.RuneCountInString(text) >= u.startLen {
		return u.all
	}
	accum, err := u.tab.Encode(text)
	if err != nil || len(accum) >= len(u.startIDs) {
		return u.all
	}
	return NewTokenSet(u.startIDs[len(accum)])
}

func (u *until) Disallowed(State) TokenSet { return u.forbidden }

func (u *until) Step(st State, token int) Outcome {
	s := st.(*untilState)
	if s.done {
		return Continue
	}
	s.text.WriteString(u.tab.Piece(token))
	text := s.text.String()
	switch u.endType {
	case EndAnyChar:
		s.done = strings.ContainsAny(text, u.end)
	default:
		s.done = strings.Contains(text, u.end)
	}
	return Continue
}

func (u *until) Complete(st State) bool { return st.(*untilState).done }

func (u *until) TrimAnswer(answer string) string { return answer }
