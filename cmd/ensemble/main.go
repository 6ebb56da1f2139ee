package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/seantiz/ensemble/internal/alert"
	"github.com/seantiz/ensemble/internal/api"
	"github.com/seantiz/ensemble/internal/config"
	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/notify"
	"github.com/seantiz/ensemble/internal/queue"
	"github.com/seantiz/ensemble/internal/queue/batch"
	"github.com/seantiz/ensemble/internal/queue/local"
	"github.com/seantiz/ensemble/internal/runpath"
	"github.com/seantiz/ensemble/internal/simulation"
	"github.com/seantiz/ensemble/internal/store"
	"github.com/seantiz/ensemble/internal/submit"
	"github.com/seantiz/ensemble/internal/tracing"
	"github.com/seantiz/ensemble/internal/tracker"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	cfg := config.Load()
	runID := model.NewID()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel).With("run_id", runID)

	ens, err := config.LoadEnsembleFile(cfg.EnsembleFile)
	if err != nil {
		log.Fatalf("failed to load ensemble: %v", err)
	}

	maxRuntime := cfg.MaxRuntime
	if maxRuntime == 0 {
		maxRuntime = ens.MaxRuntime
	}

	logger.Info("ensemble: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"ensemble_file", cfg.EnsembleFile,
		"size", ens.Size,
		"driver", cfg.Driver,
		"max_runtime", maxRuntime.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := tracing.Setup(ctx, tracing.DefaultConfig("ensemble", cfg.OTLPEndpoint), logger)
		if err != nil {
			log.Fatalf("failed to set up tracing: %v", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	var reporter alert.Reporter = alert.LogReporter{Logger: logger}
	if cfg.SentryDSN != "" {
		sr, err := alert.NewSentryReporter(alert.SentryConfig{DSN: cfg.SentryDSN, RunID: runID})
		if err != nil {
			log.Fatalf("failed to initialise sentry: %v", err)
		}
		defer sr.Flush(sentryFlushTimeout)
		reporter = alert.Multi{reporter, sr}
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	drivers := queue.NewRegistry()
	drivers.Register(local.NewDriver(logger))
	drivers.Register(batch.NewDriver(ens.BatchConfig(), logger))
	drv, err := drivers.Resolve(cfg.Driver)
	if err != nil {
		log.Fatalf("failed to select driver: %v", err)
	}

	mgr := queue.NewManager(drv, queue.ManagerConfig{
		MaxRunning:     cfg.MaxRunning,
		MaxJobDuration: maxRuntime,
	}, logger)
	if err := mgr.Start(ens.Size, cfg.Verbose); err != nil {
		log.Fatalf("failed to start queue: %v", err)
	}

	pool := submit.NewPool(submit.Config{Workers: cfg.SubmitWorkers}, logger,
		submit.WithFailureHandler(func(t submit.Task, err error) {
			reporter.Report(t.Record.Iens, err, map[string]string{"stage": "submit"})
		}),
	)
	pool.Start(ctx)

	sim, err := simulation.New(simulation.Config{
		RunID:         runID,
		EnsembleSize:  ens.Size,
		RunPathFormat: ens.RunPath,
		Iteration:     ens.Iteration,
		JobName:       ens.JobName,
		Command:       ens.ForwardModel,
		Env:           ens.Env,
	}, mgr, pool,
		simulation.WithKeywords(runpath.StaticKeywords(ens.Keywords)),
		simulation.WithMaker(runpath.DirMaker{Root: ens.Root}),
		simulation.WithJournal(db),
		simulation.WithReporter(reporter),
		simulation.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to create simulation context: %v", err)
	}

	tr := tracker.New(ens.Size)
	broker := tracker.NewBroker()
	pubs := []tracker.Publisher{
		broker,
		store.SnapshotPublisher{Store: db, RunID: runID},
		tracker.PublisherFunc(func(ctx context.Context, _ tracker.Snapshot) error {
			return sim.Reconcile(ctx)
		}),
	}
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(notify.DefaultConnectionConfig(cfg.NATSURL), logger)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		pubs = append(pubs, notify.NewPublisher(nc, cfg.NATSSubject, runID))
	}
	poller := tracker.NewPoller(tr, mgr, cfg.PollInterval, logger, pubs...)

	var bg sync.WaitGroup
	bg.Go(func() {
		poller.Run(ctx)
	})
	bg.Go(func() {
		runEnsemble(ctx, sim, mgr, ens, logger)
		poller.PollOnce(ctx)
		broker.Close()
	})

	srv := api.NewServer(cfg.ListenAddr, sim, tr, broker, db, drivers, logger)
	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
	}

	mgr.Stop()
	cancel()
	bg.Wait()
}

// runEnsemble adds every realization of the ensemble, then waits for all
// submissions and jobs to finish.
func runEnsemble(ctx context.Context, sim *simulation.Context, mgr *queue.Manager, ens *config.Ensemble, logger *slog.Logger) {
	kw := runpath.StaticKeywords(ens.Keywords)
	for iens := 0; iens < ens.Size; iens++ {
		target := ""
		if ens.Target != "" {
			t, err := runpath.Format(ens.Target, iens, ens.Iteration, kw.Keywords(iens))
			if err != nil {
				logger.Error("format target", "iens", iens, "error", err)
				continue
			}
			target = t
		}
		if err := sim.AddSimulation(ctx, iens, target); err != nil {
			logger.Error("add realization", "iens", iens, "error", err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	sim.Wait()
	mgr.Wait()

	logger.Info("ensemble: finished",
		"success", sim.NumSuccess(),
		"failed", sim.NumFailed(),
		"stuck", len(sim.StuckRealizations(0)),
	)
}
