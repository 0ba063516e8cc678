package strategy

import (
	"fmt"
	"slices"

	"github.com/samcharles93/steer/internal/tokenizer"
)

type trieNode struct {
	children map[int]*trieNode
	terminal bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[int]*trieNode)}
}

func (n *trieNode) insert(seq []int) {
	node := n
	for _, t := range seq {
		child, ok := node.children[t]
		if !ok {
			child = newTrieNode()
			node.children[t] = child
		}
		node = child
	}
	node.terminal = true
}

// choices matches one of a fixed set of token sequences.
type choices struct {
	root *trieNode
	// rootSet is the allowed set before the first step.
	rootSet TokenSet
}

type choicesState struct {
	active      []*trieNode
	started     bool
	hasTerminal bool
}

func compileChoices(spec ChoicesSpec, tab *tokenizer.Table) (*choices, error) {
	root := newTrieNode()
	var seen [][]int
	for _, text := range spec.Choices {
		ids, err := tab.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: encode choice %q: %w", ErrCompile, text, err)
		}
		if len(ids) == 0 {
			continue
		}
		if slices.ContainsFunc(seen, func(s []int) bool { return slices.Equal(s, ids) }) {
			continue
		}
		seen = append(seen, ids)
		root.insert(ids)
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: choices: no non-empty candidates", ErrCompile)
	}
	rootSet := make(TokenSet, len(root.children))
	for id := range root.children {
		rootSet.Add(id)
	}
	return &choices{root: root, rootSet: rootSet}, nil
}

func (c *choices) Start() State {
	return &choicesState{active: []*trieNode{c.root}}
}

func (c *choices) Allowed(st State) TokenSet {
	s := st.(*choicesState)
	if !s.started {
		return c.rootSet
	}
	allowed := make(TokenSet)
	for _, node := range s.active {
		for id := range node.children {
			allowed.Add(id)
		}
	}
	return allowed
}

func (c *choices) Disallowed(State) TokenSet { return emptySet }

func (c *choices) Step(st State, token int) Outcome {
	s := st.(*choicesState)
	s.started = true
	var next []*trieNode
	for _, node := range s.active {
		child, ok := node.children[token]
		if ok && !slices.Contains(next, child) {
			next = append(next, child)
		}
	}
	s.hasTerminal = false
	leaves := true
	for _, n := range next {
		if n.terminal {
			s.hasTerminal = true
		}
		if len(n.children) > 0 {
			leaves = false
		}
	}
	if leaves && s.hasTerminal {
		next = nil
	}
	s.active = next
	return Continue
}

// Complete is true once a step has been taken, no active node has outgoing
// edges and at least one matched node is terminal.
func (c *choices) Complete(st State) bool {
	s := st.(*choicesState)
	if !s.started || !s.hasTerminal {
		return false
	}
	for _, n := range s.active {
		if len(n.children) > 0 {
			return false
		}
	}
	return true
}

func (c *choices) TrimAnswer(answer string) string { return answer }

// tokens allows exactly one token out of a fixed set.
type tokens struct {
	ids TokenSet
}

type tokensState struct{ done bool }

func compileTokens(spec TokensSpec, tab *tokenizer.Table) (*tokens, error) {
	if len(spec.Items) == 0 && len(spec.IDs) == 0 {
		return nil, fmt.Errorf("%w: tokens: empty item set", ErrCompile)
	}
	ids := NewTokenSet(spec.IDs...)
	for _, item := range spec.Items {
		enc, err := tab.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("%w: encode token item %q: %w", ErrCompile, item, err)
		}
		if len(enc) != 1 {
			return nil, fmt.Errorf("%w: token item %q encodes to %d tokens, want 1", ErrCompile, item, len(enc))
		}
		ids.Add(enc[0])
	}
	return &tokens{ids: ids}, nil
}

func (t *tokens) Start() State { return &tokensState{} }

func (t *tokens) Allowed(st State) TokenSet {
	if st.(*tokensState).done {
		return emptySet
	}
	return t.ids
}

func (t *tokens) Disallowed(State) TokenSet { return emptySet }

func (t *tokens) Step(st State, _ int) Outcome {
	st.(*tokensState).done = true
	return Continue
}

func (t *tokens) Complete(st State) bool { return st.(*tokensState).done }

func (t *tokens) TrimAnswer(answer string) string { return answer }
