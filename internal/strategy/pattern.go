package strategy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/samcharles93/steer/internal/tokenizer"
)

// ErrUnsupportedPattern reports a regular expression that does not reduce to
// a fixed sequence of character classes.
var ErrUnsupportedPattern = errors.New("strategy: pattern is not fixed-length")

// maxFixedPositions bounds the positions a fixed pattern may expand to.
// Longer patterns are matched as free text.
const maxFixedPositions = 4096

type runeRange struct{ lo, hi rune }

// charClass matches one rune position. A nil ranges slice with any set
// matches every rune except newline.
type charClass struct {
	any    bool
	ranges []runeRange
}

func (c charClass) match(r rune) bool {
	if c.any {
		return r != '\n'
	}
	for _, rg := range c.ranges {
		if r >= rg.lo && r <= rg.hi {
			return true
		}
	}
	return false
}

func literal(r rune) charClass { return charClass{ranges: []runeRange{{r, r}}} }

var digitClass = charClass{ranges: []runeRange{{'0', '9'}}}

// parseFixedPattern reduces a pattern to one class per rune position.
// Supported: ^ and $ anchors at the ends, literals, '.', bracket classes
// with ranges and \d, the escapes \n \r \t \d \xHH and escaped
// punctuation, {n} repetition and one level of grouping repeated with {n}.
func parseFixedPattern(pattern string) ([]charClass, error) {
	p := strings.TrimPrefix(pattern, "^")
	if strings.HasSuffix(p, "$") && !strings.HasSuffix(p, `\$`) {
		p = strings.TrimSuffix(p, "$")
	}
	ps := &patternScanner{src: []rune(p)}
	out, err := ps.sequence(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnsupportedPattern, pattern, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q: empty pattern", ErrUnsupportedPattern, pattern)
	}
	return out, nil
}

type patternScanner struct {
	src []rune
	pos int
}

func (s *patternScanner) eof() bool { return s.pos >= len(s.src) }

func (s *patternScanner) peek() rune { return s.src[s.pos] }

func (s *patternScanner) sequence(inGroup bool) ([]charClass, error) {
	var out []charClass
	for !s.eof() {
		r := s.peek()
		var unit []charClass
		switch r {
		case '|':
			return nil, errors.New("alternation")
		case '*', '+', '?':
			return nil, fmt.Errorf("quantifier %q", r)
		case ')':
			if !inGroup {
				return nil, errors.New("unmatched ')'")
			}
			return out, nil
		case '(':
			if inGroup {
				return nil, errors.New("nested group")
			}
			s.pos++
			if s.pos+1 < len(s.src) && s.src[s.pos] == '?' && s.src[s.pos+1] == ':' {
				s.pos += 2
			}
			inner, err := s.sequence(true)
			if err != nil {
				return nil, err
			}
			if s.eof() || s.peek() != ')' {
				return nil, errors.New("unterminated group")
			}
			s.pos++
			unit = inner
		case '[':
			c, err := s.class()
			if err != nil {
				return nil, err
			}
			unit = []charClass{c}
		case '.':
			s.pos++
			unit = []charClass{{any: true}}
		case '\\':
			c, err := s.escape()
			if err != nil {
				return nil, err
			}
			unit = []charClass{c}
		case '^', '$':
			return nil, fmt.Errorf("anchor %q inside pattern", r)
		default:
			s.pos++
			unit = []charClass{literal(r)}
		}
		n, err := s.repeat()
		if err != nil {
			return nil, err
		}
		if len(unit) > 0 && n > (maxFixedPositions-len(out))/len(unit) {
			return nil, fmt.Errorf("expands past %d positions", maxFixedPositions)
		}
		for range n {
			out = append(out, unit...)
		}
	}
	if inGroup {
		return nil, errors.New("unterminated group")
	}
	return out, nil
}

// repeat consumes an optional {n} suffix.
func (s *patternScanner) repeat() (int, error) {
	if s.eof() {
		return 1, nil
	}
	switch s.peek() {
	case '*', '+', '?':
		return 0, fmt.Errorf("quantifier %q", s.peek())
	case '{':
	default:
		return 1, nil
	}
	end := s.pos + 1
	for end < len(s.src) && s.src[end] != '}' {
		end++
	}
	if end >= len(s.src) {
		return 0, errors.New("unterminated repetition")
	}
	body := string(s.src[s.pos+1 : end])
	if strings.Contains(body, ",") {
		return 0, fmt.Errorf("variable repetition {%s}", body)
	}
	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad repetition {%s}", body)
	}
	s.pos = end + 1
	return n, nil
}

func (s *patternScanner) class() (charClass, error) {
	s.pos++ // '['
	if !s.eof() && s.peek() == '^' {
		return charClass{}, errors.New("negated class")
	}
	var c charClass
	for {
		if s.eof() {
			return charClass{}, errors.New("unterminated class")
		}
		r := s.peek()
		if r == ']' {
			s.pos++
			break
		}
		var lo rune
		if r == '\\' {
			e, err := s.escape()
			if err != nil {
				return charClass{}, err
			}
			if len(e.ranges) != 1 || e.ranges[0].lo != e.ranges[0].hi {
				c.ranges = append(c.ranges, e.ranges...)
				continue
			}
			lo = e.ranges[0].lo
		} else {
			lo = r
			s.pos++
		}
		hi := lo
		if s.pos+1 < len(s.src) && s.peek() == '-' && s.src[s.pos+1] != ']' {
			s.pos++
			hi = s.peek()
			s.pos++
			if hi < lo {
				return charClass{}, fmt.Errorf("bad range %q-%q", lo, hi)
			}
		}
		c.ranges = append(c.ranges, runeRange{lo, hi})
	}
	if len(c.ranges) == 0 {
		return charClass{}, errors.New("empty class")
	}
	return c, nil
}

func (s *patternScanner) escape() (charClass, error) {
	s.pos++ // '\\'
	if s.eof() {
		return charClass{}, errors.New("trailing backslash")
	}
	r := s.peek()
	s.pos++
	switch r {
	case 'n':
		return literal('\n'), nil
	case 'r':
		return literal('\r'), nil
	case 't':
		return literal('\t'), nil
	case 'd':
		return digitClass, nil
	case 'x':
		if s.pos+2 > len(s.src) {
			return charClass{}, errors.New("short \\x escape")
		}
		v, err := strconv.ParseUint(string(s.src[s.pos:s.pos+2]), 16, 8)
		if err != nil {
			return charClass{}, fmt.Errorf("bad \\x escape: %w", err)
		}
		s.pos += 2
		return literal(rune(v)), nil
	}
	if r < utf8.RuneSelf && !isWordRune(r) {
		return literal(r), nil
	}
	return charClass{}, fmt.Errorf("unsupported escape \\%c", r)
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// fixedPattern allows only tokens whose runes fit the next positions of a
// fixed-length pattern.
type fixedPattern struct {
	positions []charClass
	// allowedAt[i] is the allowed set when i runes have been produced.
	allowedAt []TokenSet
	pieces    []string
}

type patternState struct {
	pos  int
	done bool
}

func compileFixedPattern(positions []charClass, tab *tokenizer.Table) *fixedPattern {
	p := &fixedPattern{
		positions: positions,
		allowedAt: make([]TokenSet, len(positions)),
		pieces:    make([]string, tab.Size()),
	}
	for i := range p.allowedAt {
		p.allowedAt[i] = make(TokenSet)
	}
	for id := 0; id < tab.Size(); id++ {
		piece := tab.Piece(id)
		p.pieces[id] = piece
		if piece == "" {
			continue
		}
		runes := []rune(piece)
		for start := 0; start+len(runes) <= len(positions); start++ {
			if p.fits(start, runes) {
				p.allowedAt[start].Add(id)
			}
		}
	}
	return p
}

func (p *fixedPattern) fits(start int, runes []rune) bool {
	for i, r := range runes {
		if !p.positions[start+i].match(r) {
			return false
		}
	}
	return true
}

func (p *fixedPattern) Start() State { return &patternState{} }

func (p *fixedPattern) Allowed(st State) TokenSet {
	s := st.(*patternState)
	if s.done || s.pos >= len(p.positions) {
		return emptySet
	}
	return p.allowedAt[s.pos]
}

func (p *fixedPattern) Disallowed(State) TokenSet { return emptySet }

func (p *fixedPattern) Step(st State, token int) Outcome {
	s := st.(*patternState)
	if s.done {
		return Continue
	}
	if token >= 0 && token < len(p.pieces) {
		s.pos += utf8.RuneCountInString(p.pieces[token])
	}
	if s.pos >= len(p.positions) {
		s.done = true
	}
	return Continue
}

func (p *fixedPattern) Complete(st State) bool {
	s := st.(*patternState)
	return s.done || s.pos >= len(p.positions)
}

// TrimAnswer cuts the answer to the pattern length.
func (p *fixedPattern) TrimAnswer(answer string) string {
	runes := []rune(answer)
	if len(runes) > len(p.positions) {
		return string(runes[:len(p.positions)])
	}
	return answer
}

// freePattern generates free text ended by a stop literal. The pattern is
// only checked after generation, through Validate.
type freePattern struct {
	*chars
	re *regexp2.Regexp
}

// Validator is implemented by strategies that can check a finished answer.
type Validator interface {
	Validate(answer string) (bool, error)
}

func (f *freePattern) Validate(answer string) (bool, error) {
	return f.re.MatchString(answer)
}

func (p *fixedPattern) Validate(answer string) (bool, error) {
	runes := []rune(answer)
	if len(runes) != len(p.positions) {
		return false, nil
	}
	return p.fits(0, runes), nil
}

func compilePattern(spec PatternSpec, tab *tokenizer.Table) (Strategy, error) {
	if spec.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern: empty expression", ErrCompile)
	}
	if positions, err := parseFixedPattern(spec.Pattern); err == nil {
		return compileFixedPattern(positions, tab), nil
	}
	re, err := regexp2.Compile(spec.Pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %w", ErrCompile, spec.Pattern, err)
	}
	stop := spec.Stop
	if stop == "" {
		stop = "\n"
	}
	c, err := compileChars(CharsSpec{Mode: String, Stop: stop, Min: spec.Min}, tab)
	if err != nil {
		return nil, err
	}
	return &freePattern{chars: c, re: re}, nil
}
