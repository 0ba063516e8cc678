package toy

import (
	"math/rand"
)

// LM is a minimal language model: an embedding matrix, a projection back to
// vocabulary logits and a bias vector. Each call to Forward looks at a
// single token and returns a new slice of logits.
type LM struct {
	Vocab  int
	Hidden int

	emb  []float32 // [Vocab x Hidden]
	w    []float32 // [Hidden x Vocab]
	Bias []float32 // [Vocab]
}

// NewLM builds a model with weights drawn from seed. Biases start at zero.
func NewLM(vocab, hidden int, seed int64) *LM {
	if hidden <= 0 {
		hidden = 8
	}
	m := &LM{
		Vocab:  vocab,
		Hidden: hidden,
		emb:    make([]float32, vocab*hidden),
		w:      make([]float32, hidden*vocab),
		Bias:   make([]float32, vocab),
	}
	fillRand(m.emb, seed+11)
	fillRand(m.w, seed+23)
	return m
}

func fillRand(dst []float32, seed int64) {
	r := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = r.Float32()*2 - 1
	}
}

// Forward computes logits for the position after tok. Out-of-range tokens
// wrap modulo Vocab.
func (m *LM) Forward(tok int) []float32 {
	if m.Vocab == 0 {
		return nil
	}
	tok %= m.Vocab
	if tok < 0 {
		tok += m.Vocab
	}
	h := m.emb[tok*m.Hidden : (tok+1)*m.Hidden]
	out := make([]float32, m.Vocab)
	for j := range out {
		var sum float32
		for i, hv := range h {
			sum += hv * m.w[i*m.Vocab+j]
		}
		out[j] = sum + m.Bias[j]
	}
	return out
}
