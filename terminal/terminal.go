package terminal

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"

	"github.com/esimov/pic-fluid/runner"
)

// ErrClosed is returned by Emit once the terminal has been closed.
var ErrClosed = errors.New("terminal: closed")

// Controller is the control surface driven by key presses.
type Controller interface {
	Start(rows, cols int) error
	Stop()
	Running() bool
}

// ramp maps a cell's particle count to a glyph.
var ramp = []rune{' ', '░', '▒', '▓', '█'}

// Glyph returns the glyph drawn for a cell holding n particles.
func Glyph(n uint8) rune {
	if int(n) >= len(ramp) {
		return ramp[len(ramp)-1]
	}
	return ramp[n]
}

const help = "s: start  x/space: stop  esc: quit"

// Terminal renders occupancy frames with termbox and turns key presses into
// start/stop commands.
type Terminal struct {
	ctrl       Controller
	rows, cols int
	logger     *log.Logger

	cmds   chan command
	frames chan runner.Frame
	drawn  chan struct{}
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once

	last   runner.Frame
	status string
}

// New creates a terminal that starts rows x cols simulations.
func New(ctrl Controller, rows, cols int, logger *log.Logger) *Terminal {
	if logger == nil {
		logger = log.Default()
	}
	return &Terminal{
		ctrl:   ctrl,
		rows:   rows,
		cols:   cols,
		logger: logger,
		cmds:   make(chan command, 8),
		frames: make(chan runner.Frame),
		drawn:  make(chan struct{}),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// Close makes Render return as if the user had quit.
func (t *Terminal) Close() {
	t.once.Do(func() { close(t.quit) })
}

// Emit hands a frame to the render loop and blocks until it has been drawn.
func (t *Terminal) Emit(f runner.Frame) error {
	select {
	case t.frames <- f:
	case <-t.done:
		return ErrClosed
	}
	select {
	case <-t.drawn:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Render takes over the terminal until the user quits.
func (t *Terminal) Render() error {
	stopCmds := make(chan struct{})
	cmdsDone := make(chan struct{})
	go func() {
		defer close(cmdsDone)
		t.dispatch(stopCmds)
	}()
	// done is closed first: a Start in flight may be waiting on Emit.
	defer func() {
		close(t.done)
		close(stopCmds)
		<-cmdsDone
	}()

	if err := termbox.Init(); err != nil {
		return fmt.Errorf("initializing termbox: %w", err)
	}
	defer termbox.Close()
	termbox.SetInputMode(termbox.InputEsc)

	// The poller always returns to PollEvent so that Interrupt, which blocks
	// until PollEvent receives it, can stop it on the way out.
	events := make(chan termbox.Event)
	stopPoll := make(chan struct{})
	go func() {
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			select {
			case events <- ev:
			case <-stopPoll:
			}
		}
	}()
	defer func() {
		close(stopPoll)
		termbox.Interrupt()
	}()

	t.redraw()

	for {
		select {
		case <-t.quit:
			return nil

		case ev := <-events:
			switch ev.Type {
			case termbox.EventKey:
				if ev.Key == termbox.KeyEsc || ev.Key == termbox.KeyCtrlC {
					return nil
				}
				t.handleKey(ev)
			case termbox.EventResize:
				t.redraw()
			case termbox.EventError:
				return fmt.Errorf("polling terminal events: %w", ev.Err)
			}

		case f := <-t.frames:
			t.last = f
			t.status = fmt.Sprintf("step %d  particles %d  cells %d  div %.3g -> %.3g",
				f.Step, f.Stats.Particles, f.Stats.OccupiedCells,
				f.Stats.DivergenceBefore, f.Stats.DivergenceAfter)
			t.redraw()
			t.drawn <- struct{}{}
		}
	}
}

type command int

const (
	cmdStart command = iota
	cmdStop
)

// handleKey queues control keys for dispatch. The render loop never calls
// the controller itself: Start may wait for the previous run, which may be
// waiting on Emit.
func (t *Terminal) handleKey(ev termbox.Event) {
	switch {
	case ev.Ch == 's':
		t.enqueue(cmdStart)
	case ev.Ch == 'x' || ev.Key == termbox.KeySpace:
		t.enqueue(cmdStop)
	}
}

func (t *Terminal) enqueue(c command) {
	select {
	case t.cmds <- c:
	default:
		t.logger.Println("terminal: command queue full, dropping key")
	}
}

// dispatch runs queued commands in key order until stop is closed.
func (t *Terminal) dispatch(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case c := <-t.cmds:
			switch c {
			case cmdStart:
				if err := t.ctrl.Start(t.rows, t.cols); err != nil {
					t.logger.Printf("start: %v", err)
				}
			case cmdStop:
				t.ctrl.Stop()
			}
		}
	}
}

func (t *Terminal) redraw() {
	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)

	for r, row := range t.last.Grid {
		x := 0
		for _, n := range row {
			g := Glyph(n)
			termbox.SetCell(x, r, g, termbox.ColorCyan, termbox.ColorDefault)
			x += runewidth.RuneWidth(g)
		}
	}

	status := t.status
	if !t.ctrl.Running() {
		status = "stopped  " + help
	}
	w, h := termbox.Size()
	drawString(0, h-1, w, status)
	termbox.Flush()
}

// drawString writes s at (x, y), clipped to width columns.
func drawString(x, y, width int, s string) {
	for _, r := range Clip(s, width) {
		termbox.SetCell(x, y, r, termbox.ColorWhite, termbox.ColorDefault)
		x += runewidth.RuneWidth(r)
	}
}

// Clip truncates s so that it occupies at most width terminal columns.
func Clip(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "")
}
