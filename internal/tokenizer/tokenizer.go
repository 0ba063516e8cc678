package tokenizer

// Tokenizer defines the minimal encode/decode surface used across steer.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocab is a Tokenizer whose id space can be enumerated. Valid ids are
// 0..VocabSize()-1. A vocabulary has at most one end-of-sequence id.
type Vocab interface {
	Tokenizer
	VocabSize() int
	EOSTokenID() (int, bool)
}

// EncodeText encodes text, returning nil for the empty string.
func EncodeText(tok Tokenizer, text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	return tok.Encode(text)
}

// DecodeToken decodes a single id. Decoding failures yield "".
func DecodeToken(tok Tokenizer, id int) string {
	s, err := tok.Decode([]int{id})
	if err != nil {
		return ""
	}
	return s
}

// TokenIDs enumerates every valid id of v.
func TokenIDs(v Vocab) []int {
	n := v.VocabSize()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}
