package logits

import (
	"math"
	"math/rand"
)

// Params are the per-call sampling parameters. They may change every step,
// for example when a mod requests argmax decoding for one token.
type Params struct {
	// Temperature <= 0 selects the argmax.
	Temperature float32
	// TopP outside (0,1) disables nucleus filtering.
	TopP float32
	// TopK <= 0 keeps the whole vocabulary.
	TopK int
}

// Greedy reports whether p selects the argmax.
func (p Params) Greedy() bool { return p.Temperature <= 0 }

// SamplerConfig configures the stateful parts of a Sampler.
type SamplerConfig struct {
	Seed          int64
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws token ids from logits. A Sampler owns a seeded source, so
// one Sampler per request keeps replays deterministic.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	topIdx []int
	topVal []float32
	prob   []float64
	seen   map[int]struct{}
}

// NewSampler returns a sampler seeded from cfg.Seed.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng: rand.New(rand.NewSource(cfg.Seed)),
		cfg: cfg,
	}
}

// Sample picks an index from logits:
//
//  1. Apply the repetition penalty over the last RepeatLastN ids of recent.
//  2. With a non-positive temperature return the argmax.
//  3. Keep the TopK largest values scaled by 1/Temperature.
//  4. Softmax the shortlist, drop entries under MinP * max, renormalize.
//  5. Truncate at cumulative TopP and draw.
//
// logits is modified in place by the repetition penalty only.
func (s *Sampler) Sample(logits []float32, p Params, recent []int) int {
	if len(logits) == 0 {
		return 0
	}
	s.penalize(logits, recent)

	if p.Greedy() {
		return Argmax(logits)
	}

	k := p.TopK
	if k <= 0 || k > len(logits) {
		k = len(logits)
	}
	topIdx, topVal := s.topK(logits, k, 1/p.Temperature)
	if len(topVal) == 0 {
		return Argmax(logits)
	}

	prob := s.softmax(topVal)
	if prob == nil {
		return topIdx[0]
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		n := 0
		var sum float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[n] = prob[i]
				topIdx[n] = topIdx[i]
				sum += prob[i]
				n++
			}
		}
		prob = prob[:n]
		topIdx = topIdx[:n]
		if sum > 0 {
			for i := range prob {
				prob[i] /= sum
			}
		}
	}

	cut := len(prob)
	if p.TopP > 0 && p.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= p.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

func (s *Sampler) penalize(logits []float32, recent []int) {
	if s.cfg.RepeatPenalty <= 1.0 || len(recent) == 0 {
		return
	}
	start := max(len(recent)-s.cfg.RepeatLastN, 0)
	if s.seen == nil {
		s.seen = make(map[int]struct{})
	}
	clear(s.seen)
	for _, id := range recent[start:] {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// softmax normalizes vals (sorted descending) into s.prob. It returns nil
// when the distribution degenerates.
func (s *Sampler) softmax(vals []float32) []float64 {
	if cap(s.prob) < len(vals) {
		s.prob = make([]float64, len(vals))
	}
	prob := s.prob[:len(vals)]
	maxv := vals[0]
	var sum float64
	for i, v := range vals {
		e := math.Exp(float64(v - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return nil
	}
	for i := range prob {
		prob[i] /= sum
	}
	return prob
}

// topK returns the indices and scaled values of the k largest logits,
// ordered from largest to smallest. Insertion keeps this O(V*K).
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, l := range logits {
		v := l * invTemp
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v
		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index. It panics on an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
