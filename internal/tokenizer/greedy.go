package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// ErrUnknownText is returned when Encode meets text no piece covers.
var ErrUnknownText = errors.New("tokenizer: no piece matches text")

// Greedy is a deterministic longest-match tokenizer over a fixed piece list.
// The id of a piece is its index. Special pieces (such as the EOS piece)
// are never produced by Encode and decode to "".
type Greedy struct {
	pieces   []string
	index    map[string]int
	special  map[int]bool
	maxRunes int
	eos      int
	hasEOS   bool
}

// GreedyConfig describes a Greedy vocabulary. It is also the on-disk format
// read by LoadGreedy.
type GreedyConfig struct {
	Pieces  []string `json:"pieces" yaml:"pieces"`
	EOS     string   `json:"eos,omitempty" yaml:"eos,omitempty"`
	Special []string `json:"special,omitempty" yaml:"special,omitempty"`
}

// NewGreedy builds a tokenizer from cfg. When cfg.EOS is set it is appended
// to the pieces if missing.
func NewGreedy(cfg GreedyConfig) (*Greedy, error) {
	g := &Greedy{
		index:   make(map[string]int, len(cfg.Pieces)+1),
		special: make(map[int]bool),
		eos:     -1,
	}
	for _, p := range cfg.Pieces {
		if p == "" {
			return nil, fmt.Errorf("tokenizer: empty piece at id %d", len(g.pieces))
		}
		if _, dup := g.index[p]; dup {
			return nil, fmt.Errorf("tokenizer: duplicate piece %q", p)
		}
		g.index[p] = len(g.pieces)
		g.pieces = append(g.pieces, p)
	}
	if cfg.EOS != "" {
		id, ok := g.index[cfg.EOS]
		if !ok {
			id = len(g.pieces)
			g.index[cfg.EOS] = id
			g.pieces = append(g.pieces, cfg.EOS)
		}
		g.eos, g.hasEOS = id, true
		g.special[id] = true
	}
	for _, s := range cfg.Special {
		id, ok := g.index[s]
		if !ok {
			return nil, fmt.Errorf("tokenizer: special piece %q not in vocabulary", s)
		}
		g.special[id] = true
	}
	for id, p := range g.pieces {
		if g.special[id] {
			continue
		}
		g.maxRunes = max(g.maxRunes, utf8.RuneCountInString(p))
	}
	return g, nil
}

// LoadGreedy reads a GreedyConfig JSON file.
func LoadGreedy(path string) (*Greedy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg GreedyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse vocabulary json: %w", err)
	}
	return NewGreedy(cfg)
}

// Encode splits text into the longest known pieces, left to right.
func (g *Greedy) Encode(text string) ([]int, error) {
	var ids []int
	for len(text) > 0 {
		id, size := g.longest(text)
		if size == 0 {
			r, _ := utf8.DecodeRuneInString(text)
			return nil, fmt.Errorf("%w: %q", ErrUnknownText, r)
		}
		ids = append(ids, id)
		text = text[size:]
	}
	return ids, nil
}

func (g *Greedy) longest(text string) (id, size int) {
	end := 0
	for n := 0; n < g.maxRunes && end < len(text); n++ {
		_, w := utf8.DecodeRuneInString(text[end:])
		end += w
		if cand, ok := g.index[text[:end]]; ok && !g.special[cand] {
			id, size = cand, end
		}
	}
	return id, size
}

// Decode concatenates pieces, skipping special ones.
func (g *Greedy) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(g.pieces) {
			return "", fmt.Errorf("tokenizer: id %d out of range [0,%d)", id, len(g.pieces))
		}
		if g.special[id] {
			continue
		}
		b.WriteString(g.pieces[id])
	}
	return b.String(), nil
}

func (g *Greedy) VocabSize() int { return len(g.pieces) }

func (g *Greedy) EOSTokenID() (int, bool) { return g.eos, g.hasEOS }

// TokenString returns the raw piece of id, including special pieces.
func (g *Greedy) TokenString(id int) string {
	if id < 0 || id >= len(g.pieces) {
		return ""
	}
	return g.pieces[id]
}

// DefaultConfig is a small vocabulary covering printable ASCII, newline and
// tab, a handful of common multi-character pieces, and "</s>" as EOS.
func DefaultConfig() GreedyConfig {
	pieces := make([]string, 0, 128)
	pieces = append(pieces, "\n", "\t")
	for c := byte(' '); c <= '~'; c++ {
		pieces = append(pieces, string(c))
	}
	pieces = append(pieces,
		", ", ": ", "true", "false", "null", "yes", "no", "provide",
		" the", " a", " is", " and", "Answer", "Question", "ing", "ed",
	)
	return GreedyConfig{Pieces: pieces, EOS: "</s>"}
}

// Default returns a Greedy over DefaultConfig.
func Default() *Greedy {
	g, err := NewGreedy(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return g
}
