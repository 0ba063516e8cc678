package strategy

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samcharles93/steer/internal/tokenizer"
)

// CharsMode names the character class a Chars strategy accepts.
type CharsMode uint8

const (
	Alpha CharsMode = iota
	Alphanumeric
	String
	Numeric
	JSFloat
)

var charsModeNames = [...]string{
	Alpha:        "alpha",
	Alphanumeric: "alphanumeric",
	String:       "string",
	Numeric:      "numeric",
	JSFloat:      "js_float",
}

func (m CharsMode) String() string {
	if int(m) < len(charsModeNames) {
		return charsModeNames[m]
	}
	return fmt.Sprintf("CharsMode(%d)", m)
}

// ParseCharsMode maps a mode name to its CharsMode.
func ParseCharsMode(s string) (CharsMode, error) {
	for m, name := range charsModeNames {
		if strings.EqualFold(s, name) {
			return CharsMode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown chars mode %q", ErrCompile, s)
}

// matches reports whether every rune of s belongs to the mode. Empty text
// never matches.
func (m CharsMode) matches(s string) bool {
	if s == "" {
		return false
	}
	switch m {
	case Alpha:
		return allRunes(s, unicode.IsLetter)
	case Alphanumeric:
		return allRunes(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) })
	case Numeric:
		return allRunes(s, unicode.IsDigit)
	case String:
		return !hasUnescapedQuote(s)
	}
	return false
}

func allRunes(s string, fn func(rune) bool) bool {
	for _, r := range s {
		if !fn(r) {
			return false
		}
	}
	return true
}

func hasUnescapedQuote(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			return true
		}
	}
	return false
}

// chars accepts text of one character class, ended either by a literal
// stop or by reaching a maximum rune length.
type chars struct {
	mode        CharsMode
	min         int
	max         int
	stop        string
	stopToken   int
	includeStop bool
	eos         TokenSet

	// plain holds ids whose piece matches mode; withStop holds ids whose
	// piece contains stop after a valid (possibly empty) prefix.
	plain    []int
	withStop []int
	lens     []int
	pieces   []string

	digits  []int
	period  int
	minus   int
	exps    []int
	hasStop bool
}

type charsState struct {
	count int
	done  bool

	seenDecimal   bool
	seenExponent  bool
	afterExponent bool
	started       bool
	seenMinus     bool
}

func compileChars(spec CharsSpec, tab *tokenizer.Table) (*chars, error) {
	if (spec.Max > 0) == (spec.Stop != "") {
		return nil, fmt.Errorf("%w: chars: exactly one of max or stop must be set", ErrCompile)
	}
	if spec.Min < 0 {
		return nil, fmt.Errorf("%w: chars: negative min %d", ErrCompile, spec.Min)
	}
	c := &chars{
		mode:        spec.Mode,
		min:         spec.Min,
		max:         spec.Max,
		stop:        spec.Stop,
		stopToken:   -1,
		includeStop: spec.IncludeStop,
		eos:         TokenSet{},
		period:      -1,
		minus:       -1,
		lens:        make([]int, tab.Size()),
		pieces:      make([]string, tab.Size()),
	}
	if id, ok := tab.EOS(); ok {
		c.eos.Add(id)
	}
	if spec.Stop != "" {
		ids, err := tab.Encode(spec.Stop)
		if err != nil {
			return nil, fmt.Errorf("%w: encode stop %q: %w", ErrCompile, spec.Stop, err)
		}
		if len(ids) > 0 {
			c.stopToken, c.hasStop = ids[0], true
		}
	}
	for id := 0; id < tab.Size(); id++ {
		piece := tab.Piece(id)
		c.pieces[id] = piece
		c.lens[id] = tab.Len(id)
		if piece == "" {
			continue
		}
		if c.mode == JSFloat {
			switch {
			case allRunes(piece, isASCIIDigit):
				c.digits = append(c.digits, id)
			case piece == "." && c.period < 0:
				c.period = id
			case piece == "-" && c.minus < 0:
				c.minus = id
			case piece == "e" || piece == "E":
				c.exps = append(c.exps, id)
			}
			continue
		}
		if c.mode.matches(piece) {
			c.plain = append(c.plain, id)
		}
		if c.stop != "" {
			if i := strings.Index(piece, c.stop); i >= 0 && (i == 0 || c.mode.matches(piece[:i])) {
				c.withStop = append(c.withStop, id)
			}
		}
	}
	return c, nil
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

func (c *chars) Start() State { return &charsState{} }

func (c *chars) Allowed(st State) TokenSet {
	s := st.(*charsState)
	if s.done {
		return emptySet
	}
	if c.mode == JSFloat {
		return c.floatAllowed(s)
	}
	allowed := make(TokenSet)
	if c.max > 0 {
		remaining := c.max - s.count
		for _, id := range c.plain {
			if c.lens[id] <= remaining {
				allowed.Add(id)
			}
		}
	} else {
		allowed.Add(c.plain...)
	}
	if s.count >= c.min {
		allowed.Add(c.withStop...)
		if c.hasStop {
			allowed.Add(c.stopToken)
		}
	}
	return allowed
}

func (c *chars) floatAllowed(s *charsState) TokenSet {
	allowed := NewTokenSet(c.digits...)
	if c.period >= 0 && !s.seenDecimal && s.started {
		allowed.Add(c.period)
	}
	if !s.seenExponent && s.started {
		allowed.Add(c.exps...)
	}
	if c.minus >= 0 && ((!s.started && !s.seenMinus) || s.afterExponent) {
		allowed.Add(c.minus)
	}
	if c.hasStop && s.count >= c.min {
		allowed.Add(c.stopToken)
	}
	return allowed
}

// Disallowed always holds the EOS id so a stop literal is required to end.
func (c *chars) Disallowed(State) TokenSet { return c.eos }

func (c *chars) Step(st State, token int) Outcome {
	s := st.(*charsState)
	if s.done {
		return Continue
	}
	if c.hasStop && token == c.stopToken {
		s.done = true
		return Continue
	}
	piece := ""
	if token >= 0 && token < len(c.pieces) {
		piece = c.pieces[token]
	}
	if c.stop != "" && strings.Contains(piece, c.stop) {
		s.done = true
		return Continue
	}
	if c.mode == JSFloat {
		c.trackFloat(s, piece)
	}
	s.count += utf8.RuneCountInString(piece)
	if c.max > 0 && s.count >= c.max {
		s.done = true
		return Continue
	}
	if len(c.Allowed(s)) == 0 {
		s.done = true
	}
	return Continue
}

func (c *chars) trackFloat(s *charsState, piece string) {
	for _, r := range piece {
		switch {
		case isASCIIDigit(r):
			s.started = true
			s.afterExponent = false
		case r == '.':
			s.seenDecimal = true
		case r == 'e' || r == 'E':
			s.seenExponent = true
			s.afterExponent = true
			s.seenMinus = false
		case r == '-':
			s.afterExponent = false
			s.seenMinus = true
		}
	}
}

func (c *chars) Complete(st State) bool {
	s := st.(*charsState)
	return s.done || (c.max > 0 && s.count >= c.max)
}

// TrimAnswer cuts the answer at the first stop literal, keeping the stop
// when IncludeStop is set.
func (c *chars) TrimAnswer(answer string) string {
	if c.stop == "" {
		return answer
	}
	i := strings.Index(answer, c.stop)
	if i < 0 {
		return answer
	}
	if c.includeStop {
		return answer[:i+len(c.stop)]
	}
	return answer[:i]
}
