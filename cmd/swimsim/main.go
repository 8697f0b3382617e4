// Command swimsim runs the SWIM mobility simulation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/swim-mobility/internal/api"
	"github.com/talgya/swim-mobility/internal/config"
	"github.com/talgya/swim-mobility/internal/engine"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/occupancy"
	"github.com/talgya/swim-mobility/internal/persistence"
	"github.com/talgya/swim-mobility/internal/rng"
)

const (
	deltaBatchSize     = 256
	deltaFlushInterval = time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults built in)")
	verbose := flag.Bool("v", false, "log every node step")
	fresh := flag.Bool("fresh", false, "ignore saved run state and start over")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	setupLogging(level)

	slog.Info("SWIM mobility simulation")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"hosts", cfg.Hosts,
		"locations", cfg.NoOfLocations,
		"alpha", cfg.Alpha,
		"wait_time", cfg.WaitTime.Kind,
	)

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Database != "" {
		os.MkdirAll(filepath.Dir(cfg.Database), 0755)
		db, err = persistence.Open(cfg.Database)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Database)
	}

	// ── Load or create run state ──────────────────────────────────────
	resume := db != nil && !*fresh && db.HasRunState()

	seed := cfg.Seed
	if resume {
		if s, err := db.GetMeta(persistence.MetaSeed); err == nil && s != "" {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				seed = v
			}
		}
	}
	streams := rng.NewStreams(seed)

	var (
		model      *mobility.Model
		reg        *locations.Registry
		nodes      []*mobility.Node
		nextEvents []float64
		startTime  float64
		runID      string
	)

	if resume {
		slog.Info("found saved run state, loading...")

		locs, err := db.LoadLocations()
		if err != nil {
			slog.Error("failed to load locations", "error", err)
			os.Exit(1)
		}
		reg = locations.NewRegistry(locations.WithinArea(locs, cfg.MaxArea))

		snaps, next, err := db.LoadNodes()
		if err != nil {
			slog.Error("failed to load nodes", "error", err)
			os.Exit(1)
		}
		if len(snaps) != cfg.Hosts {
			slog.Warn("saved population differs from configured hosts, using saved", "saved", len(snaps), "hosts", cfg.Hosts)
		}
		model = buildModel(cfg, len(snaps))
		nodes = engine.NewSpawner(streams, model).Restore(snaps)
		nextEvents = next

		if startTime, err = db.LoadSimTime(); err != nil {
			slog.Warn("saved clock unreadable, starting at 0", "error", err)
		}
		runID, _ = db.GetMeta(persistence.MetaRunID)

		slog.Info("run state restored",
			"run_id", runID,
			"nodes", len(nodes),
			"locations", reg.Len(),
			"sim_time", engine.SimTime(startTime),
		)
	} else {
		model = buildModel(cfg, cfg.Hosts)
		reg = locations.LoadOrCreate(cfg.Locations.Path, cfg.GenConfig(), streams.Get("locations"))
		if reg.Len() == 0 {
			slog.Warn("no locations available, every move will fall back to the origin")
		}
		nodes = engine.NewSpawner(streams, model).Spawn(cfg.Hosts)

		if db != nil {
			if runID, err = db.SaveRun(streams.Seed(), cfg); err != nil {
				slog.Error("failed to record run", "error", err)
				os.Exit(1)
			}
		}
		slog.Info("new run", "run_id", runID, "seed", streams.Seed(), "nodes", len(nodes), "locations", reg.Len())
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim := engine.NewSimulation(model, reg, nodes, nextEvents)
	sim.RunID = runID
	sim.SetCurrentTime(startTime)

	if db != nil && !resume {
		if err := db.SaveSnapshot(sim); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	sched := engine.NewScheduler()
	sched.Realtime = cfg.Run.Realtime
	sched.ReportInterval = cfg.Run.ReportInterval
	sim.Attach(sched)
	sched.OnReport = func(now float64) {
		sim.Report(now)
		if db == nil {
			return
		}
		if err := db.SaveSnapshot(sim); err != nil {
			slog.Error("auto-save failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Delta log ─────────────────────────────────────────────────────
	logDone := make(chan struct{})
	if db != nil {
		subID, ch := sim.Broadcaster.Subscribe()
		go func() {
			defer sim.Broadcaster.Unsubscribe(subID)
			logDeltas(ctx, db, ch, logDone)
		}()
	} else {
		close(logDone)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.API.Port > 0 {
		if cfg.AdminKey == "" {
			slog.Warn(config.AdminKeyEnv + " not set, admin POST endpoints will be disabled")
		}
		apiServer := &api.Server{
			Sim:      sim,
			Sched:    sched,
			DB:       db,
			Port:     cfg.API.Port,
			AdminKey: cfg.AdminKey,
		}
		srv = apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Printf("\n%d nodes roaming %d locations across a %.0fx%.0f area.\n",
		sim.NodeCount(), reg.Len(), cfg.MaxArea.X, cfg.MaxArea.Y)
	if cfg.API.Port > 0 {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}
	if startTime > 0 {
		fmt.Printf("Resuming at %s\n", engine.SimTime(startTime))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	until := 0.0
	if cfg.Run.Duration > 0 {
		until = startTime + cfg.Run.Duration
	}
	start := time.Now()
	if err := sched.Run(ctx, until); err != nil {
		slog.Error("scheduler failed", "error", err)
	}
	cancel()
	<-logDone

	sim.Report(sim.CurrentTime())
	slog.Info("run complete",
		"events", humanize.Comma(int64(sched.Processed())),
		"wall_time", time.Since(start).Round(time.Millisecond),
		"dropped_notifications", sim.Broadcaster.Dropped(),
	)

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		stop()
	}

	// Final save on shutdown.
	if db != nil {
		slog.Info("final save...")
		if err := db.SaveSnapshot(sim); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	fmt.Println("Simulation stopped.")
}

// buildModel resolves the model for population nodes or exits.
func buildModel(cfg config.Config, population int) *mobility.Model {
	model, err := cfg.ModelFor(population)
	if err != nil {
		slog.Error("invalid model parameters", "error", err)
		os.Exit(1)
	}
	slog.Info("model ready", "population", population, "max_weight", model.Weights.MaxWeight())
	return model
}

// setupLogging uses the text handler on a terminal and JSON otherwise.
func setupLogging(level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// logDeltas appends every applied occupancy delta from ch to the database in
// batches until ctx is cancelled, then flushes what is left and closes done.
func logDeltas(ctx context.Context, db *persistence.DB, ch <-chan occupancy.Applied, done chan<- struct{}) {
	defer close(done)

	batch := make([]occupancy.Delta, 0, deltaBatchSize)
	flush := func() {
		if err := db.AppendDeltas(batch); err != nil {
			slog.Error("delta log write failed", "error", err, "lost", len(batch))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(deltaFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case a := <-ch:
			batch = append(batch, a.Delta)
			if len(batch) >= deltaBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case a := <-ch:
					batch = append(batch, a.Delta)
				default:
					flush()
					return
				}
			}
		}
	}
}
