package fluid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// MaxCells bounds rows*cols of a simulation grid.
const MaxCells = 1 << 20

var (
	// ErrInvalidSize is returned when a simulation is created with a non-positive dimension.
	ErrInvalidSize = errors.New("fluid: rows and cols must be positive")
	// ErrTooLarge is returned when rows*cols exceeds MaxCells.
	ErrTooLarge = errors.New("fluid: grid too large")
)

// StepStats describes the outcome of the last simulation step.
type StepStats struct {
	Particles        int
	OccupiedCells    int
	PeakOccupancy    int
	KineticEnergy    float64
	DivergenceBefore float64 // max |divergence| over occupied cells after the splat
	DivergenceAfter  float64 // max |divergence| over occupied cells after projection
}

// Simulation is a particle-in-cell fluid on a fixed rows x cols grid.
type Simulation struct {
	rows, cols int
	gravity    float64

	particles  []Particle
	fluidCells CellSet

	stats StepStats
}

// Option customizes a Simulation.
type Option func(*Simulation)

// WithGravity overrides the downward acceleration.
func WithGravity(g float64) Option {
	return func(s *Simulation) {
		s.gravity = g
	}
}

// NewSimulation creates an empty simulation.
func NewSimulation(rows, cols int, opts ...Option) (*Simulation, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidSize, rows, cols)
	}
	if rows > MaxCells/cols {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d cells", ErrTooLarge, rows, cols, MaxCells)
	}
	s := &Simulation{
		rows:       rows,
		cols:       cols,
		gravity:    Gravity,
		fluidCells: make(CellSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewRandom creates a simulation seeded with count resting particles placed
// on uniformly random cell positions.
func NewRandom(rows, cols, count int, rng *rand.Rand, opts ...Option) (*Simulation, error) {
	if count < 0 {
		return nil, fmt.Errorf("fluid: negative particle count %d", count)
	}
	s, err := NewSimulation(rows, cols, opts...)
	if err != nil {
		return nil, err
	}
	s.particles = make([]Particle, 0, count)
	for i := 0; i < count; i++ {
		x := rng.Intn(cols)
		y := rng.Intn(rows)
		s.AddParticle(NewParticle(float64(x), float64(y)))
	}
	return s, nil
}

// AddParticle appends a particle to the simulation.
func (s *Simulation) AddParticle(p Particle) {
	s.particles = append(s.particles, p)
}

// Particles returns a copy of the particle state.
func (s *Simulation) Particles() []Particle {
	out := make([]Particle, len(s.particles))
	copy(out, s.particles)
	return out
}

// Rows returns the grid height in cells.
func (s *Simulation) Rows() int { return s.rows }

// Cols returns the grid width in cells.
func (s *Simulation) Cols() int { return s.cols }

// Stats returns the statistics of the last step.
func (s *Simulation) Stats() StepStats { return s.stats }

// Step advances the simulation by dt and returns the per-cell particle count.
func (s *Simulation) Step(dt float64) Occupancy {
	s.fluidCells.Clear()
	velocity := NewStaggeredGrid(s.rows, s.cols)
	grid := NewOccupancy(s.rows, s.cols)

	// Apply forces, then particle -> grid.
	for i := range s.particles {
		p := &s.particles[i]
		p.integrate(s.gravity, dt)
		p.ClampToBounds(s.rows, s.cols)

		c := velocity.Splat(*p)
		s.fluidCells.Add(c)
		grid.inc(c)
	}

	corrected := velocity.Project(s.fluidCells)

	// Grid -> particle.
	var energy float64
	for i := range s.particles {
		p := &s.particles[i]
		p.SetVelocity(corrected.Sample(*p))
		energy += 0.5 * (p.Vx*p.Vx + p.Vy*p.Vy)
	}

	s.stats = StepStats{
		Particles:        len(s.particles),
		OccupiedCells:    len(s.fluidCells),
		PeakOccupancy:    peak(grid),
		KineticEnergy:    energy,
		DivergenceBefore: s.maxDivergence(velocity),
		DivergenceAfter:  s.maxDivergence(corrected),
	}
	return grid
}

func (s *Simulation) maxDivergence(g *StaggeredGrid) float64 {
	var top float64
	for c := range s.fluidCells {
		if d := math.Abs(g.Divergence(c)); d > top {
			top = d
		}
	}
	return top
}

func peak(grid Occupancy) int {
	var top uint8
	for _, row := range grid {
		for _, v := range row {
			if v > top {
				top = v
			}
		}
	}
	return int(top)
}
