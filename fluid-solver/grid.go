package fluid

import (
	"bytes"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Cell is an integer grid coordinate.
type Cell struct {
	Col, Row int
}

// CellSet is the set of cells touched by at least one particle during a step.
type CellSet map[Cell]struct{}

// Add inserts c into the set.
func (s CellSet) Add(c Cell) {
	s[c] = struct{}{}
}

// Contains reports whether c is in the set.
func (s CellSet) Contains(c Cell) bool {
	_, ok := s[c]
	return ok
}

// Clear removes every cell while keeping the allocated storage.
func (s CellSet) Clear() {
	for c := range s {
		delete(s, c)
	}
}

// Occupancy holds the number of particles per cell, indexed [row][col].
type Occupancy [][]uint8

// NewOccupancy allocates a zeroed rows x cols occupancy grid.
func NewOccupancy(rows, cols int) Occupancy {
	data := make([]uint8, rows*cols)
	grid := make(Occupancy, rows)
	for r := range grid {
		grid[r] = data[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return grid
}

// inc increments a cell counter, saturating at the byte limit.
func (o Occupancy) inc(c Cell) {
	if o[c.Row][c.Col] < math.MaxUint8 {
		o[c.Row][c.Col]++
	}
}

// Total returns the sum of all cell counts.
func (o Occupancy) Total() int {
	var n int
	for _, row := range o {
		for _, v := range row {
			n += int(v)
		}
	}
	return n
}

// MarshalJSON encodes the grid as nested arrays of numbers.
// The default encoding of a byte slice would be a base64 string.
func (o Occupancy) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range o {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for c, v := range row {
			if c > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(int(v)))
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// StaggeredGrid is a MAC grid: X holds horizontal velocities on the vertical
// cell faces (rows x cols+1), Y holds vertical velocities on the horizontal
// cell faces (rows+1 x cols).
type StaggeredGrid struct {
	rows, cols int

	X *mat.Dense
	Y *mat.Dense
}

// NewStaggeredGrid allocates a zeroed staggered grid for a rows x cols domain.
func NewStaggeredGrid(rows, cols int) *StaggeredGrid {
	return &StaggeredGrid{
		rows: rows,
		cols: cols,
		X:    mat.NewDense(rows, cols+1, nil),
		Y:    mat.NewDense(rows+1, cols, nil),
	}
}

// Dims returns the domain size in cells.
func (g *StaggeredGrid) Dims() (rows, cols int) {
	return g.rows, g.cols
}

// weights locates a position inside its cell and computes the face weights
// used by both transfer directions.
type weights struct {
	cell               Cell
	wx0, wx1, wy0, wy1 float64
}

func (g *StaggeredGrid) weightsAt(x, y float64) weights {
	xCell := int(math.Floor(x))
	yCell := int(math.Floor(y))
	xOffset := x - float64(xCell)
	yOffset := y - float64(yCell)

	w := weights{
		cell: Cell{Col: xCell, Row: yCell},
		wx0:  xOffset,
		wx1:  1 - xOffset,
		wy0:  yOffset,
		wy1:  1 - yOffset,
	}
	// Faces outside the domain receive no contribution.
	if xCell <= 0 {
		w.wx0 = 0
	}
	if xCell >= g.cols {
		w.wx1 = 0
	}
	if yCell <= 0 {
		w.wy0 = 0
	}
	if yCell >= g.rows {
		w.wy1 = 0
	}
	return w
}

// Splat accumulates the particle velocity onto the faces of its cell.
// Contributions are summed, not normalized by the accumulated weight.
func (g *StaggeredGrid) Splat(p Particle) Cell {
	w := g.weightsAt(p.X, p.Y)
	c := w.cell

	g.add(g.X, c.Row, c.Col, p.Vx*w.wx0)
	g.add(g.X, c.Row, c.Col+1, p.Vx*w.wx1)
	g.add(g.Y, c.Row, c.Col, p.Vy*w.wy0)
	g.add(g.Y, c.Row+1, c.Col, p.Vy*w.wy1)

	return c
}

func (g *StaggeredGrid) add(m *mat.Dense, i, j int, v float64) {
	m.Set(i, j, m.At(i, j)+v)
}

// Sample interpolates the face velocities back at the particle position.
func (g *StaggeredGrid) Sample(p Particle) (vx, vy float64) {
	w := g.weightsAt(p.X, p.Y)
	c := w.cell

	vx = g.X.At(c.Row, c.Col)*w.wx0 + g.X.At(c.Row, c.Col+1)*w.wx1
	vy = g.Y.At(c.Row, c.Col)*w.wy0 + g.Y.At(c.Row+1, c.Col)*w.wy1
	return vx, vy
}
