package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"plategate/internal/actuator"
	"plategate/internal/config"
	"plategate/internal/controller"
	"plategate/internal/db"
	"plategate/internal/httpapi"
	"plategate/internal/ledger"
	"plategate/internal/ledger/csvfile"
	"plategate/internal/ledger/memory"
	"plategate/internal/ledger/postgres"
	"plategate/internal/ledger/sqlite"
	"plategate/internal/metrics"
	"plategate/internal/payment"
	"plategate/internal/plate"
	"plategate/internal/station"
	"plategate/internal/vision"
	"plategate/internal/vote"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "plategate ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	m := metrics.New()

	store, audit, cleanup, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	gate := actuator.Connect(ctx, actuator.Config{
		Patterns:  cfg.SerialPatterns,
		BaudRate:  cfg.SerialBaud,
		AlertHold: cfg.AlertHold,
	}, m, logger)
	defer func() { _ = gate.Close() }()

	validator := plate.NewValidator(plate.Format{
		PrefixLen:      cfg.PlatePrefixLen,
		DigitsLen:      cfg.PlateDigitsLen,
		SuffixLen:      cfg.PlateSuffixLen,
		RequiredPrefix: cfg.PlatePrefix,
	})

	payments := payment.NewService(payment.Config{
		RatePerHourCents:   cfg.RatePerHourCents,
		MinimumChargeCents: cfg.MinimumChargeCents,
	}, store, mustCardStore(store), m, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTPAddr,
		Payments:  payments,
		Ledger:    store,
		Validator: validator,
		Metrics:   promhttp.Handler(),
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.EntryEnabled {
		g.Go(stationLoop(gctx, cfg, controller.StationEntry, store, audit, gate, validator, m, logger))
	}
	if cfg.ExitEnabled {
		g.Go(stationLoop(gctx, cfg, controller.StationExit, store, audit, gate, validator, m, logger))
	}

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("shut down cleanly")
	return nil
}

// stationLoop builds one direction's pipeline: recognizer client, vote
// window, controller, polling loop.
func stationLoop(ctx context.Context, cfg config.Config, dir controller.Station,
	store ledger.Store, audit ledger.DecisionLog, gate *actuator.Gateway,
	validator *plate.Validator, m *metrics.Metrics, logger *log.Logger) func() error {

	ctrl := controller.New(controller.Config{
		Station:  dir,
		Cooldown: cfg.Cooldown,
		GateHold: cfg.GateHold,
	}, store, audit, gate, m, logger)

	rec := vision.NewClient(cfg.VisionURL, string(dir), 0)

	st := station.New(station.Config{
		Name:     string(dir),
		Interval: cfg.ObserveInterval,
	}, rec, validator, vote.NewWindow(cfg.WindowSize), ctrl, m, logger)

	return func() error {
		err := st.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// openLedger builds the configured backend.  The returned cleanup releases
// whatever the backend holds open.
func openLedger(ctx context.Context, cfg config.Config, logger *log.Logger) (ledger.Store, ledger.DecisionLog, func(), error) {
	switch cfg.LedgerBackend {
	case "sqlite":
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Env == "dev" {
			if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{}); err != nil {
				logger.Printf("dev seed: %v", err)
			}
		}
		worker := db.NewWorker(sqlDB)
		st := sqlite.New(sqlDB, worker)
		logger.Printf("ledger: sqlite at %s", cfg.DBPath)
		return st, st, func() {
			worker.Close()
			_ = sqlDB.Close()
		}, nil

	case "postgres":
		st, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Printf("ledger: postgres")
		return st, st, st.Close, nil

	case "csvfile":
		st, err := csvfile.New(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Printf("ledger: csv files in %s", cfg.DataDir)
		return st, st, func() {}, nil

	default:
		st := memory.New()
		logger.Printf("ledger: in-memory (volatile)")
		return st, st, func() {}, nil
	}
}

// mustCardStore asserts the card surface out of the selected backend; every
// backend implements it.
func mustCardStore(store ledger.Store) ledger.CardStore {
	cs, ok := store.(ledger.CardStore)
	if !ok {
		panic("ledger backend does not hold cards")
	}
	return cs
}
