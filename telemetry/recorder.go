// Package telemetry records per-step simulation statistics.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/esimov/pic-fluid/runner"
)

// StepsFile is the name of the CSV file written into the output directory.
const StepsFile = "steps.csv"

// window is the number of recent steps kept for the summary.
const window = 1024

// StepRecord is one row of steps.csv.
type StepRecord struct {
	Step             uint64  `csv:"step"`
	Rows             int     `csv:"rows"`
	Cols             int     `csv:"cols"`
	Particles        int     `csv:"particles"`
	OccupiedCells    int     `csv:"occupied_cells"`
	PeakOccupancy    int     `csv:"peak_occupancy"`
	KineticEnergy    float64 `csv:"kinetic_energy"`
	DivergenceBefore float64 `csv:"divergence_before"`
	DivergenceAfter  float64 `csv:"divergence_after"`
	ElapsedMicros    int64   `csv:"elapsed_us"`
}

// NewStepRecord flattens a frame into a CSV row.
func NewStepRecord(f runner.Frame) StepRecord {
	return StepRecord{
		Step:             f.Step,
		Rows:             f.Rows,
		Cols:             f.Cols,
		Particles:        f.Stats.Particles,
		OccupiedCells:    f.Stats.OccupiedCells,
		PeakOccupancy:    f.Stats.PeakOccupancy,
		KineticEnergy:    f.Stats.KineticEnergy,
		DivergenceBefore: f.Stats.DivergenceBefore,
		DivergenceAfter:  f.Stats.DivergenceAfter,
		ElapsedMicros:    f.Elapsed.Microseconds(),
	}
}

// Summary aggregates the most recent steps.
type Summary struct {
	Steps             int
	MeanStepMicros    float64
	StdDevStepMicros  float64
	PeakDivergence    float64
	MeanKineticEnergy float64
}

// Recorder is a runner.Sink writing every frame to steps.csv.
// A nil Recorder is a valid no-op sink.
type Recorder struct {
	mu            sync.Mutex
	dir           string
	file          *os.File
	headerWritten bool

	elapsed    []float64
	divergence []float64
	energy     []float64
	next       int
	total      int
}

// NewRecorder creates the output directory and steps.csv.
// Returns nil if dir is empty (recording disabled).
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating telemetry directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, StepsFile))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", StepsFile, err)
	}
	return &Recorder{dir: dir, file: f}, nil
}

// Emit appends the frame statistics to steps.csv.
func (r *Recorder) Emit(f runner.Frame) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	records := []StepRecord{NewStepRecord(f)}
	if !r.headerWritten {
		if err := gocsv.Marshal(records, r.file); err != nil {
			return fmt.Errorf("writing telemetry: %w", err)
		}
		r.headerWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, r.file); err != nil {
			return fmt.Errorf("writing telemetry: %w", err)
		}
	}

	r.observe(float64(f.Elapsed.Microseconds()), f.Stats.DivergenceAfter, f.Stats.KineticEnergy)
	return nil
}

func (r *Recorder) observe(elapsed, divergence, energy float64) {
	if len(r.elapsed) < window {
		r.elapsed = append(r.elapsed, elapsed)
		r.divergence = append(r.divergence, divergence)
		r.energy = append(r.energy, energy)
	} else {
		r.elapsed[r.next] = elapsed
		r.divergence[r.next] = divergence
		r.energy[r.next] = energy
	}
	r.next = (r.next + 1) % window
	r.total++
}

// Summary returns statistics over the most recent steps.
func (r *Recorder) Summary() Summary {
	if r == nil {
		return Summary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.elapsed) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(r.elapsed, nil)
	return Summary{
		Steps:             r.total,
		MeanStepMicros:    mean,
		StdDevStepMicros:  std,
		PeakDivergence:    floats.Max(r.divergence),
		MeanKineticEnergy: stat.Mean(r.energy, nil),
	}
}

// Dir returns the output directory path.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Close closes steps.csv.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
