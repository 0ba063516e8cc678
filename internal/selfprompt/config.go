package selfprompt

import (
	"fmt"
	"strings"

	"github.com/samcharles93/steer/internal/strategy"
)

// EraseMode selects what is removed from the transcript once the answer is
// complete.
type EraseMode uint8

const (
	// EraseNone leaves prompt and answer visible.
	EraseNone EraseMode = iota
	// ErasePrompt removes prompt, answer and suffix, then re-injects the
	// answer tokens.
	ErasePrompt
	// EraseAll removes prompt and answer without re-injection.
	EraseAll
)

func (m EraseMode) String() string {
	switch m {
	case ErasePrompt:
		return "prompt"
	case EraseAll:
		return "all"
	default:
		return "none"
	}
}

func (m EraseMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *EraseMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "none":
		*m = EraseNone
	case "prompt":
		*m = ErasePrompt
	case "all":
		*m = EraseAll
	default:
		return fmt.Errorf("selfprompt: unknown erase mode %q", b)
	}
	return nil
}

// Prompt is the text forced before the constrained answer. Tokens win over
// Text when both are set.
type Prompt struct {
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Tokens []int  `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// Completion controls the literal forced after the answer. A nil
// Completion in Config means Suffix "\n" with Force on; a non-nil one with
// no suffix forces nothing.
type Completion struct {
	Suffix       *string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	SuffixTokens []int   `json:"suffix_tokens,omitempty" yaml:"suffix_tokens,omitempty"`
	// Force defaults to true.
	Force *bool `json:"force,omitempty" yaml:"force,omitempty"`
}

// Config describes one self-prompt.
type Config struct {
	Prompt         Prompt          `json:"prompt" yaml:"prompt"`
	Strategy       strategy.Config `json:"strategy" yaml:"strategy"`
	Completion     *Completion     `json:"completion,omitempty" yaml:"completion,omitempty"`
	Erase          EraseMode       `json:"erase,omitempty" yaml:"erase,omitempty"`
	MaskValue      *float32        `json:"mask_value,omitempty" yaml:"mask_value,omitempty"`
	ArgmaxSampling bool            `json:"argmax_sampling,omitempty" yaml:"argmax_sampling,omitempty"`
}

func (c Config) suffix() (text string, ids []int) {
	switch {
	case c.Completion == nil:
		return "\n", nil
	case len(c.Completion.SuffixTokens) > 0:
		return "", c.Completion.SuffixTokens
	case c.Completion.Suffix != nil:
		return *c.Completion.Suffix, nil
	}
	return "", nil
}

func (c Config) forceSuffix() bool {
	if c.Completion == nil || c.Completion.Force == nil {
		return true
	}
	return *c.Completion.Force
}
