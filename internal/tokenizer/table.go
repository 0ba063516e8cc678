package tokenizer

import "unicode/utf8"

// Table caches the decoded text of every id in a vocabulary. It is built
// once and is safe for concurrent reads.
type Table struct {
	vocab  Vocab
	pieces []string
	lens   []int
	eos    int
	hasEOS bool
}

// NewTable decodes every id of v.
func NewTable(v Vocab) *Table {
	n := v.VocabSize()
	t := &Table{
		vocab:  v,
		pieces: make([]string, n),
		lens:   make([]int, n),
	}
	for id := 0; id < n; id++ {
		s := DecodeToken(v, id)
		t.pieces[id] = s
		t.lens[id] = utf8.RuneCountInString(s)
	}
	t.eos, t.hasEOS = v.EOSTokenID()
	return t
}

// Vocab returns the vocabulary the table was built from.
func (t *Table) Vocab() Vocab { return t.vocab }

// Size is the number of ids in the table.
func (t *Table) Size() int { return len(t.pieces) }

// Piece returns the decoded text of id, or "" when id is out of range.
func (t *Table) Piece(id int) string {
	if id < 0 || id >= len(t.pieces) {
		return ""
	}
	return t.pieces[id]
}

// Len returns the rune length of Piece(id).
func (t *Table) Len(id int) int {
	if id < 0 || id >= len(t.lens) {
		return 0
	}
	return t.lens[id]
}

// EOS returns the end-of-sequence id, if any.
func (t *Table) EOS() (int, bool) { return t.eos, t.hasEOS }

// Encode encodes text with the underlying vocabulary. Empty text gives nil.
func (t *Table) Encode(text string) ([]int, error) {
	return EncodeText(t.vocab, text)
}

// Decode decodes ids with the underlying vocabulary.
func (t *Table) Decode(ids []int) (string, error) {
	return t.vocab.Decode(ids)
}
