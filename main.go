package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/esimov/pic-fluid/config"
	"github.com/esimov/pic-fluid/runner"
	"github.com/esimov/pic-fluid/telemetry"
	"github.com/esimov/pic-fluid/terminal"
	"github.com/esimov/pic-fluid/websocket"
)

func main() {
	configPath := flag.String("c", "", "path to a YAML config file")
	addr := flag.String("a", "", "address to serve (host:port), overrides the config")
	headless := flag.Bool("headless", false, "run without the terminal and start stepping immediately")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if *headless {
		cfg.Terminal.Enabled = false
	}

	// termbox owns stdout, so logs go to the debug file instead.
	logger := log.Default()
	if cfg.Terminal.Enabled {
		f, err := os.OpenFile(cfg.Terminal.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalln(err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	rec, err := telemetry.NewRecorder(cfg.Telemetry.Dir)
	if err != nil {
		log.Fatalln(err)
	}
	if rec != nil {
		if err := cfg.WriteYAML(filepath.Join(rec.Dir(), "config.yaml")); err != nil {
			log.Fatalln(err)
		}
	}

	// A failed delivery ends the run and the process.
	var sinks runner.Sinks
	fatal := make(chan error, 1)
	sink := runner.SinkFunc(func(f runner.Frame) error {
		if err := sinks.Emit(f); err != nil {
			select {
			case fatal <- err:
			default:
			}
			return err
		}
		return nil
	})

	r := runner.New(runner.Options{
		Particles: cfg.Simulation.Particles,
		FPS:       cfg.Simulation.FPS,
		Gravity:   cfg.Simulation.Gravity,
		Seed:      cfg.Simulation.Seed,
	}, sink, logger)

	sinks = append(sinks, rec)

	var (
		hub *websocket.Hub
		srv *http.Server
	)
	if cfg.Server.Enabled {
		hub = websocket.NewHub(r, cfg.Server.SendBuffer, logger)
		sinks = append(sinks, hub)

		srv, err = websocket.NewServer(websocket.HttpParams{
			Address: cfg.Server.Address,
			Prefix:  cfg.Server.Prefix,
			Root:    cfg.Server.Root,
		}, hub, logger)
		if err != nil {
			log.Fatalln(err)
		}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				select {
				case fatal <- err:
				default:
				}
			}
		}()
	}

	var (
		term     *terminal.Terminal
		termDone = make(chan error, 1)
	)
	if cfg.Terminal.Enabled {
		term = terminal.New(r, cfg.Grid.Rows, cfg.Grid.Cols, logger)
		sinks = append(sinks, term)
		go func() { termDone <- term.Render() }()
	} else if *headless {
		if err := r.Start(cfg.Grid.Rows, cfg.Grid.Cols); err != nil {
			log.Fatalln(err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case <-stop:
	case exitErr = <-termDone:
		term = nil
	case exitErr = <-fatal:
	}

	// Shutdown: close every command source first so nothing restarts the
	// runner once it has been stopped.
	if term != nil {
		term.Close()
		<-termDone
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(ctx)
		cancel()
		hub.Close()
	}
	r.Stop()
	if err := r.Wait(); err != nil && exitErr == nil &&
		!errors.Is(err, runner.ErrNotStarted) && !errors.Is(err, terminal.ErrClosed) {
		exitErr = err
	}
	if rec != nil {
		s := rec.Summary()
		logger.Printf("recorded %d steps to %s: mean step %.1fµs (σ %.1f), peak divergence %.3g",
			s.Steps, rec.Dir(), s.MeanStepMicros, s.StdDevStepMicros, s.PeakDivergence)
		if err := rec.Close(); err != nil && exitErr == nil {
			exitErr = err
		}
	}

	if exitErr != nil {
		log.Fatalln(exitErr)
	}
}
