package logits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func set(ids ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestMask(t *testing.T) {
	t.Parallel()

	const v = DefaultMaskValue
	tests := []struct {
		name       string
		allowed    map[int]struct{}
		disallowed map[int]struct{}
		want       []float32
	}{
		{
			name:    "allowed only",
			allowed: set(1, 3),
			want:    []float32{v, 1, v, 3},
		},
		{
			name:       "allowed takes precedence and disallowed still masked",
			allowed:    set(0, 1),
			disallowed: set(1),
			want:       []float32{0, v, v, v},
		},
		{
			name:       "disallowed only",
			disallowed: set(2),
			want:       []float32{0, 1, v, 3},
		},
		{
			name: "nothing",
			want: []float32{0, 1, 2, 3},
		},
		{
			name:    "out of range ignored",
			allowed: set(10),
			want:    []float32{0, 1, 2, 3},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := []float32{0, 1, 2, 3}
			got := Mask(in, tc.allowed, tc.disallowed, v)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, []float32{0, 1, 2, 3}, in, "input must not be modified")
		})
	}
}
