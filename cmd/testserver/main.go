// testserver starts an ensemble API server backed by a stub driver for E2E
// testing. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/seantiz/ensemble/internal/api"
	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/queue"
	"github.com/seantiz/ensemble/internal/runpath"
	"github.com/seantiz/ensemble/internal/simulation"
	"github.com/seantiz/ensemble/internal/store"
	"github.com/seantiz/ensemble/internal/submit"
	"github.com/seantiz/ensemble/internal/tracker"
)

// stubDriver sleeps instead of running a forward model. Every failEvery-th
// realization fails.
type stubDriver struct {
	delay     time.Duration
	failEvery int
}

func (d *stubDriver) Name() string { return "stub" }

func (d *stubDriver) Run(ctx context.Context, spec queue.JobSpec) error {
	spec.Started()
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.failEvery > 0 && (spec.Iens+1)%d.failEvery == 0 {
		return errors.New("stub forward model failed")
	}
	return nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("ENSEMBLE_LISTEN_ADDR"); v != "" {
		addr = v
	}
	size := 10
	if v, err := strconv.Atoi(os.Getenv("ENSEMBLE_SIZE")); err == nil && v > 0 {
		size = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	runID := model.NewID()

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	root, err := os.MkdirTemp("", "ensemble-testserver-")
	if err != nil {
		log.Fatalf("failed to create run root: %v", err)
	}
	defer os.RemoveAll(root)

	drv := &stubDriver{delay: 500 * time.Millisecond, failEvery: 4}
	drivers := queue.NewRegistry()
	drivers.Register(drv)

	mgr := queue.NewManager(drv, queue.ManagerConfig{MaxRunning: 3}, logger)
	if err := mgr.Start(size, true); err != nil {
		log.Fatalf("failed to start queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := submit.NewPool(submit.Config{}, logger)
	pool.Start(ctx)

	sim, err := simulation.New(simulation.Config{
		RunID:         runID,
		EnsembleSize:  size,
		RunPathFormat: "realization-%d/iter-%d",
		Command:       []string{"stub"},
	}, mgr, pool,
		simulation.WithMaker(runpath.DirMaker{Root: root}),
		simulation.WithJournal(db),
		simulation.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to create simulation context: %v", err)
	}

	tr := tracker.New(size)
	broker := tracker.NewBroker()
	poller := tracker.NewPoller(tr, mgr, 200*time.Millisecond, logger,
		broker,
		store.SnapshotPublisher{Store: db, RunID: runID},
		tracker.PublisherFunc(func(ctx context.Context, _ tracker.Snapshot) error {
			return sim.Reconcile(ctx)
		}),
	)
	go poller.Run(ctx)

	srv := api.NewServer(addr, sim, tr, broker, db, drivers, logger)

	logger.Info("testserver: starting", "addr", addr, "size", size, "run_id", runID)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	mgr.Stop()
}
