// Package runner drives a fluid simulation on a background goroutine and
// hands every completed step to a Sink.
package runner

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	fluid "github.com/esimov/pic-fluid/fluid-solver"
)

var (
	// ErrAlreadyRunning is returned by Start while a step loop is active.
	ErrAlreadyRunning = errors.New("runner: simulation already running")
	// ErrNotStarted is returned by Wait before the first Start.
	ErrNotStarted = errors.New("runner: simulation not started")
)

// Frame is the output of one completed step.
type Frame struct {
	Step    uint64
	Rows    int
	Cols    int
	Grid    fluid.Occupancy
	Stats   fluid.StepStats
	Elapsed time.Duration
}

// Sink consumes frames in step order. An error ends the run.
type Sink interface {
	Emit(Frame) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Frame) error

// Emit calls f(fr).
func (f SinkFunc) Emit(fr Frame) error { return f(fr) }

// Sinks fans a frame out to every sink in order and stops at the first error.
type Sinks []Sink

// Emit delivers fr to each sink.
func (s Sinks) Emit(fr Frame) error {
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Emit(fr); err != nil {
			return err
		}
	}
	return nil
}

// Options configures the simulations started by a Runner.
type Options struct {
	Particles int
	FPS       int
	Gravity   float64
	Seed      int64 // 0 seeds from the clock
}

// DefaultOptions mirrors the defaults of the embedded configuration.
var DefaultOptions = Options{
	Particles: 50,
	FPS:       30,
	Gravity:   fluid.Gravity,
}

// run is the state of a single step loop.
type run struct {
	stop chan struct{}
	done chan struct{}
	err  error
}

// Runner owns the step loop. Start and Stop are safe for concurrent use.
type Runner struct {
	opts   Options
	sink   Sink
	logger *log.Logger

	running atomic.Bool

	mu  sync.Mutex
	cur *run
}

// New creates a Runner delivering frames to sink.
func New(opts Options, sink Sink, logger *log.Logger) *Runner {
	if opts.FPS <= 0 {
		opts.FPS = DefaultOptions.FPS
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		opts:   opts,
		sink:   sink,
		logger: logger,
	}
}

// Start seeds a new rows x cols simulation and begins stepping it.
// If a previous loop is still finishing its last step, Start waits for it
// so frames of consecutive runs never interleave.
func (r *Runner) Start(rows, cols int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return ErrAlreadyRunning
	}
	if r.cur != nil {
		<-r.cur.done
	}

	seed := r.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim, err := fluid.NewRandom(rows, cols, r.opts.Particles, rand.New(rand.NewSource(seed)),
		fluid.WithGravity(r.opts.Gravity))
	if err != nil {
		return fmt.Errorf("starting simulation: %w", err)
	}

	r.logger.Printf("starting fluid simulation with %d rows and %d cols", rows, cols)

	cur := &run{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.cur = cur
	r.running.Store(true)
	go r.loop(sim, cur)

	return nil
}

// Stop clears the run flag. The loop exits after the step in flight.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.logger.Println("stopping fluid simulation")
	close(r.cur.stop)
}

// Running reports whether the step loop is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Wait blocks until the current loop exits and returns the error that ended it, if any.
func (r *Runner) Wait() error {
	r.mu.Lock()
	cur := r.cur
	r.mu.Unlock()

	if cur == nil {
		return ErrNotStarted
	}
	<-cur.done
	return cur.err
}

func (r *Runner) loop(sim *fluid.Simulation, cur *run) {
	defer close(cur.done)

	interval := time.Second / time.Duration(r.opts.FPS)
	dt := 1 / float64(r.opts.FPS)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var step uint64
	for r.running.Load() {
		start := time.Now()
		grid := sim.Step(dt)
		step++

		fr := Frame{
			Step:    step,
			Rows:    sim.Rows(),
			Cols:    sim.Cols(),
			Grid:    grid,
			Stats:   sim.Stats(),
			Elapsed: time.Since(start),
		}
		if err := r.sink.Emit(fr); err != nil {
			cur.err = fmt.Errorf("emitting step %d: %w", step, err)
			r.logger.Printf("fluid simulation aborted: %v", cur.err)
			r.abort(cur)
			return
		}

		select {
		case <-ticker.C:
		case <-cur.stop:
		}
	}
}

// abort clears the run flag after a failed delivery, unless a Stop raced us.
// It must not take mu: Start holds it while waiting for this loop to finish.
func (r *Runner) abort(cur *run) {
	if r.running.CompareAndSwap(true, false) {
		close(cur.stop)
	}
}
