package fluid

// Faces holds the openness of the four faces of a cell: 1 for a face shared
// with another cell, 0 for a face lying on the domain edge.
type Faces struct {
	Left, Right, Top, Bottom float64
}

// Open returns the number of open faces.
func (f Faces) Open() float64 {
	return f.Left + f.Right + f.Top + f.Bottom
}

// FacesOf reports which faces of c are open. Domain edges act as solid walls.
func (g *StaggeredGrid) FacesOf(c Cell) Faces {
	f := Faces{Left: 1, Right: 1, Top: 1, Bottom: 1}
	if c.Col == 0 {
		f.Left = 0
	}
	if c.Col+1 == g.cols {
		f.Right = 0
	}
	if c.Row == 0 {
		f.Top = 0
	}
	if c.Row+1 == g.rows {
		f.Bottom = 0
	}
	return f
}

// Divergence returns the net outflow through the faces of c.
func (g *StaggeredGrid) Divergence(c Cell) float64 {
	dx := g.X.At(c.Row, c.Col+1) - g.X.At(c.Row, c.Col)
	dy := g.Y.At(c.Row+1, c.Col) - g.Y.At(c.Row, c.Col)
	return dx + dy
}

// Project runs a single corrective pass over the occupied cells and returns
// the corrected velocities in a new grid. Each correction reads only the
// receiver, so neighbouring cells never see each other's updates. A face
// shared by two occupied cells keeps the value written by the later cell in
// row-major order. Closed faces are never written and stay zero.
func (g *StaggeredGrid) Project(occupied CellSet) *StaggeredGrid {
	out := NewStaggeredGrid(g.rows, g.cols)

	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			c := Cell{Col: col, Row: row}
			if !occupied.Contains(c) {
				continue
			}

			f := g.FacesOf(c)
			n := f.Open()
			if n == 0 {
				// A single-cell domain has nowhere to push the flux.
				continue
			}
			share := g.Divergence(c) / n

			if f.Left != 0 {
				out.X.Set(row, col, g.X.At(row, col)+f.Left*share)
			}
			if f.Right != 0 {
				out.X.Set(row, col+1, g.X.At(row, col+1)-f.Right*share)
			}
			if f.Top != 0 {
				out.Y.Set(row, col, g.Y.At(row, col)+f.Top*share)
			}
			if f.Bottom != 0 {
				out.Y.Set(row+1, col, g.Y.At(row+1, col)-f.Bottom*share)
			}
		}
	}
	return out
}
