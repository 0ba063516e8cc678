package main

import (
	"fmt"

	"github.com/samcharles93/steer/internal/api"
	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/tokenizer"
	"github.com/samcharles93/steer/internal/toy"
)

// toyBackends returns a factory of seeded toy backends over tab.
func toyBackends(tab *tokenizer.Table) api.BackendFactory {
	return func(seed int64) generate.Backend {
		return toy.New(tab, toy.Options{Seed: seed, Sampler: samplerConfig(seed)})
	}
}

// loadTable builds the token table from --vocab, or the built-in vocabulary.
func loadTable() (*tokenizer.Table, error) {
	if vocabPath == "" {
		return tokenizer.NewTable(tokenizer.Default()), nil
	}
	g, err := tokenizer.LoadGreedy(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}
	return tokenizer.NewTable(g), nil
}
