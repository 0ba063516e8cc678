package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreedyLongestMatch(t *testing.T) {
	t.Parallel()

	g, err := NewGreedy(GreedyConfig{Pieces: []string{"a", "b", "ab", "abc", ","}, EOS: "</s>"})
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want []int
	}{
		{name: "whole piece", text: "abc", want: []int{3}},
		{name: "prefix then single", text: "abb", want: []int{2, 1}},
		{name: "separator", text: "a,b", want: []int{0, 4, 1}},
		{name: "empty", text: "", want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := g.Encode(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGreedyUnknownText(t *testing.T) {
	t.Parallel()

	g, err := NewGreedy(GreedyConfig{Pieces: []string{"a"}})
	require.NoError(t, err)
	_, err = g.Encode("ax")
	assert.True(t, errors.Is(err, ErrUnknownText))
}

func TestGreedyEOSIsSpecial(t *testing.T) {
	t.Parallel()

	g := Default()
	eos, ok := g.EOSTokenID()
	require.True(t, ok)
	assert.Equal(t, "</s>", g.TokenString(eos))

	text, err := g.Decode([]int{eos})
	require.NoError(t, err)
	assert.Equal(t, "", text)

	ids, err := g.Encode("</s>")
	require.NoError(t, err)
	assert.NotContains(t, ids, eos)
}

func TestGreedyRoundTripDefault(t *testing.T) {
	t.Parallel()

	g := Default()
	const text = "Answer: true, the 2024-05-15 \"quoted\"\n"
	ids, err := g.Encode(text)
	require.NoError(t, err)
	got, err := g.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestNewGreedyRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewGreedy(GreedyConfig{Pieces: []string{"a", "a"}})
	assert.Error(t, err)
}

func TestLoadGreedy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pieces":["x","y","xy"],"eos":"<eos>"}`), 0o644))

	g, err := LoadGreedy(path)
	require.NoError(t, err)
	assert.Equal(t, 4, g.VocabSize())
	ids, err := g.Encode("xyx")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, ids)
}

func TestTableCachesPieces(t *testing.T) {
	t.Parallel()

	g, err := NewGreedy(GreedyConfig{Pieces: []string{"é", "ab"}, EOS: "</s>"})
	require.NoError(t, err)
	tab := NewTable(g)

	assert.Equal(t, 3, tab.Size())
	assert.Equal(t, "é", tab.Piece(0))
	assert.Equal(t, 1, tab.Len(0))
	assert.Equal(t, 2, tab.Len(1))
	assert.Equal(t, "", tab.Piece(2))
	assert.Equal(t, "", tab.Piece(99))

	eos, ok := tab.EOS()
	assert.True(t, ok)
	assert.Equal(t, 2, eos)
}
