package generate

// Placeholder fills grid cells of requests that did not advance.
const Placeholder = -1

// grid holds one row of visible token columns per request. Rows grow in
// lock-step: every step each row receives either a token or a placeholder.
type grid struct {
	rows    [][]int
	cursors []int
}

func newGrid(n int) *grid {
	return &grid{rows: make([][]int, n), cursors: make([]int, n)}
}

func (g *grid) put(row, v int) {
	c := g.cursors[row]
	if c < len(g.rows[row]) {
		g.rows[row][c] = v
	} else {
		g.rows[row] = append(g.rows[row], v)
	}
	g.cursors[row] = c + 1
}

// write records a token for row.
func (g *grid) write(row, tok int) { g.put(row, tok) }

// skip records that row did not advance this step.
func (g *grid) skip(row int) { g.put(row, Placeholder) }

// rewind erases the last k tokens of row, moving the cursor back to the
// earliest erased cell.
func (g *grid) rewind(row, k int) {
	r := g.rows[row]
	c := g.cursors[row]
	for c > 0 && k > 0 {
		c--
		if r[c] != Placeholder {
			k--
		}
		r[c] = Placeholder
	}
	g.cursors[row] = c
}

// padded returns all rows padded with placeholders to equal width.
func (g *grid) padded() [][]int {
	width := 0
	for _, r := range g.rows {
		width = max(width, len(r))
	}
	out := make([][]int, len(g.rows))
	for i, r := range g.rows {
		row := make([]int, width)
		copy(row, r)
		for j := len(r); j < width; j++ {
			row[j] = Placeholder
		}
		out[i] = row
	}
	return out
}

// visible returns row without placeholders.
func (g *grid) visible(row int) []int {
	return stripPlaceholders(g.rows[row][:g.cursors[row]])
}

func stripPlaceholders(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != Placeholder {
			out = append(out, id)
		}
	}
	return out
}
