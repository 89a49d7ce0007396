package fluid

// Gravity is the downward acceleration applied to every particle, in cells per second squared.
const Gravity = 9.81

// WallEpsilon keeps a clamped particle strictly inside the upper domain edge.
const WallEpsilon = 0.01

// Particle defines a point mass carrying position and velocity in grid-cell units.
type Particle struct {
	X, Y   float64
	Vx, Vy float64
}

// NewParticle spawns a new particle at coordinates defined by {x, y} with zero velocity.
func NewParticle(x, y float64) Particle {
	return Particle{X: x, Y: y}
}

// SetVelocity overwrites the particle velocity.
func (p *Particle) SetVelocity(vx, vy float64) {
	p.Vx = vx
	p.Vy = vy
}

// AddVelocity adds {vx, vy} to the particle velocity.
func (p *Particle) AddVelocity(vx, vy float64) {
	p.Vx += vx
	p.Vy += vy
}

// ApplyVelocity advances the particle position by velocity*dt.
func (p *Particle) ApplyVelocity(dt float64) {
	p.X += p.Vx * dt
	p.Y += p.Vy * dt
}

// Integrate applies gravity to the vertical velocity, then moves the particle
// using the updated velocity (symplectic Euler).
func (p *Particle) Integrate(dt float64) {
	p.integrate(Gravity, dt)
}

func (p *Particle) integrate(gravity, dt float64) {
	p.AddVelocity(0, gravity*dt)
	p.ApplyVelocity(dt)
}

// ClampToBounds keeps the particle inside [0, cols) x [0, rows).
// Walls absorb: the velocity component along a clamped axis is lost.
func (p *Particle) ClampToBounds(rows, cols int) {
	if p.X < 0 {
		p.X = 0
		p.Vx = 0
	} else if p.X >= float64(cols) {
		p.X = float64(cols) - WallEpsilon
		p.Vx = 0
	}

	if p.Y < 0 {
		p.Y = 0
		p.Vy = 0
	} else if p.Y >= float64(rows) {
		p.Y = float64(rows) - WallEpsilon
		p.Vy = 0
	}
}
