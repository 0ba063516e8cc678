package strategy

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/steer/internal/tokenizer"
)

// Spec is a vocabulary-independent description of a strategy. Compile binds
// it to a vocabulary.
type Spec interface {
	// Kind is the discriminator used in serialized specs.
	Kind() string
	compile(tab *tokenizer.Table) (Strategy, error)
}

// ChoicesSpec constrains output to exactly one of the listed strings.
type ChoicesSpec struct {
	Choices []string
}

// CharsSpec constrains output to one character class. Exactly one of Max
// (a rune length) or Stop (a literal) ends it.
type CharsSpec struct {
	Mode        CharsMode
	Max         int
	Stop        string
	Min         int
	IncludeStop bool
}

// UntilSpec forces Start, then allows anything until End is seen. EOS is
// disallowed unless AllowEOS.
type UntilSpec struct {
	Start    string
	EndType  EndType
	End      string
	AllowEOS bool
}

// TokensSpec accepts exactly one token. Items must each encode to a single
// token; IDs are taken as-is.
type TokensSpec struct {
	Items []string
	IDs   []int
}

// ListSpec describes a delimited list. Sep defaults to ", " when nil and
// Max is unbounded when nil. A non-empty Sequence compiles one strategy per
// position and fixes the element count to its length.
type ListSpec struct {
	Open, Close, Wrap string
	Sep               *string
	Min               int
	Max               *int
	EndWith           string
	Element           Spec
	Sequence          []Spec
}

// PatternSpec constrains output to a regular expression. Only expressions
// of fixed length are enforced token by token; others generate free text up
// to Stop (default "\n") and are checked with Validate afterwards.
type PatternSpec struct {
	Pattern string
	Stop    string
	Min     int
}

func (ChoicesSpec) Kind() string { return "choices" }
func (CharsSpec) Kind() string   { return "chars" }
func (UntilSpec) Kind() string   { return "until" }
func (TokensSpec) Kind() string  { return "tokens" }
func (ListSpec) Kind() string    { return "list" }
func (PatternSpec) Kind() string { return "pattern" }

func (s ChoicesSpec) compile(tab *tokenizer.Table) (Strategy, error) { return compileChoices(s, tab) }
func (s CharsSpec) compile(tab *tokenizer.Table) (Strategy, error)   { return compileChars(s, tab) }
func (s UntilSpec) compile(tab *tokenizer.Table) (Strategy, error)   { return compileUntil(s, tab) }
func (s TokensSpec) compile(tab *tokenizer.Table) (Strategy, error)  { return compileTokens(s, tab) }
func (s ListSpec) compile(tab *tokenizer.Table) (Strategy, error)    { return compileList(s, tab) }
func (s PatternSpec) compile(tab *tokenizer.Table) (Strategy, error) { return compilePattern(s, tab) }

// Compile binds spec to the vocabulary of tab.
func Compile(spec Spec, tab *tokenizer.Table) (Strategy, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrCompile)
	}
	return spec.compile(tab)
}

// EndsWithLiteral reports whether spec emits its own trailing literal
// (a list with end_with), in which case no completion suffix is needed.
func EndsWithLiteral(spec Spec) bool {
	switch s := spec.(type) {
	case ListSpec:
		return s.EndWith != ""
	case *ListSpec:
		return s != nil && s.EndWith != ""
	}
	return false
}

// Config wraps a Spec for YAML and JSON decoding. The serialized form is a
// mapping with a "type" key naming the kind plus that kind's fields.
type Config struct {
	Spec Spec
}

type rawSpec struct {
	Type        string   `json:"type" yaml:"type"`
	Choices     []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	Mode        string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Stop        *string  `json:"stop,omitempty" yaml:"stop,omitempty"`
	Min         int      `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *int     `json:"max,omitempty" yaml:"max,omitempty"`
	IncludeStop bool     `json:"include_stop,omitempty" yaml:"include_stop,omitempty"`
	Start       string   `json:"start,omitempty" yaml:"start,omitempty"`
	End         string   `json:"end,omitempty" yaml:"end,omitempty"`
	EndType     string   `json:"end_type,omitempty" yaml:"end_type,omitempty"`
	AllowEOS    bool     `json:"allow_eos,omitempty" yaml:"allow_eos,omitempty"`
	Items       []string `json:"items,omitempty" yaml:"items,omitempty"`
	IDs         []int    `json:"ids,omitempty" yaml:"ids,omitempty"`
	Open        string   `json:"open,omitempty" yaml:"open,omitempty"`
	Close       string   `json:"close,omitempty" yaml:"close,omitempty"`
	Wrap        string   `json:"wrap,omitempty" yaml:"wrap,omitempty"`
	Sep         *string  `json:"sep,omitempty" yaml:"sep,omitempty"`
	EndWith     string   `json:"end_with,omitempty" yaml:"end_with,omitempty"`
	Element     *Config  `json:"element,omitempty" yaml:"element,omitempty"`
	Elements    []Config `json:"elements,omitempty" yaml:"elements,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

func (r rawSpec) spec() (Spec, error) {
	switch strings.ToLower(r.Type) {
	case "choices":
		return ChoicesSpec{Choices: r.Choices}, nil
	case "chars":
		mode, err := ParseCharsMode(r.Mode)
		if err != nil {
			return nil, err
		}
		s := CharsSpec{Mode: mode, Min: r.Min, IncludeStop: r.IncludeStop}
		if r.Max != nil {
			s.Max = *r.Max
		}
		if r.Stop != nil {
			s.Stop = *r.Stop
		}
		return s, nil
	case "until":
		et, err := ParseEndType(r.EndType)
		if err != nil {
			return nil, err
		}
		return UntilSpec{Start: r.Start, EndType: et, End: r.End, AllowEOS: r.AllowEOS}, nil
	case "tokens":
		return TokensSpec{Items: r.Items, IDs: r.IDs}, nil
	case "list":
		s := ListSpec{
			Open: r.Open, Close: r.Close, Wrap: r.Wrap, Sep: r.Sep,
			Min: r.Min, Max: r.Max, EndWith: r.EndWith,
		}
		if r.Element != nil {
			s.Element = r.Element.Spec
		}
		for _, e := range r.Elements {
			s.Sequence = append(s.Sequence, e.Spec)
		}
		return s, nil
	case "pattern":
		s := PatternSpec{Pattern: r.Pattern, Min: r.Min}
		if r.Stop != nil {
			s.Stop = *r.Stop
		}
		return s, nil
	case "":
		return nil, fmt.Errorf("%w: strategy type is required", ErrCompile)
	}
	return nil, fmt.Errorf("%w: unknown strategy type %q", ErrCompile, r.Type)
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var r rawSpec
	if err := node.Decode(&r); err != nil {
		return err
	}
	s, err := r.spec()
	if err != nil {
		return err
	}
	c.Spec = s
	return nil
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var r rawSpec
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	s, err := r.spec()
	if err != nil {
		return err
	}
	c.Spec = s
	return nil
}
