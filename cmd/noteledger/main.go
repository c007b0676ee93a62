package main

import (
	"NoteLedger/internal/config"
	"NoteLedger/internal/core"
	"NoteLedger/internal/ingestion"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"NoteLedger/internal/persistence"
	"NoteLedger/internal/query"
	"NoteLedger/internal/server"
	"NoteLedger/internal/token"
	"NoteLedger/migrations"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "noteledger",
		Short:         "Note funding and pro-rata yield ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "YAML config file (default $"+config.FileEnv+")")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "noteledger: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := componentLogger(cfg, "noteledger")
	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("payout", cfg.Payout.Mode).
		Bool("nats", cfg.NATS.Enabled).
		Msg("NoteLedger starting")

	deadlock.Opts.Disable = !cfg.Debug.DeadlockDetection
	deadlock.Opts.DeadlockTimeout = cfg.Debug.DeadlockTimeout

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Store ---
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	health.AddCheck("store", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := store.LatestSequence(checkCtx)
		return err
	})

	// --- NATS ---
	var (
		nc *nats.Conn
		js jetstream.JetStream
	)
	if cfg.NATS.Enabled {
		nc, js, err = ingestion.ConnectNATS(cfg.NATS.URL, componentLogger(cfg, "nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		health.AddCheck("nats", func() error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	}

	// --- Payout ---
	var payout ledger.TokenLedger
	switch cfg.Payout.Mode {
	case config.PayoutNATS:
		payout = token.NewNATSTransferer(nc, cfg.Payout.Subject, cfg.Payout.Timeout, componentLogger(cfg, "payout"))
	default:
		logger.Warn().Msg("payouts are simulated in memory")
		payout = token.NewMemoryLedger()
	}

	// --- Ledger + recovery ---
	persistChan := make(chan ledger.Entry, cfg.Persist.ChanSize)
	l := ledger.New(payout, ledger.WithSink(core.NewChannelSink(persistChan, metrics)))

	stats, err := core.Recover(ctx, l, store, metrics, componentLogger(cfg, "recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().
		Uint64("snapshot_sequence", stats.SnapshotSequence).
		Int("replayed", stats.EntriesApplied).
		Uint64("sequence", stats.LastSequence).
		Dur("took", stats.Took).
		Msg("recovery complete")

	idem := core.NewIdempotencyChecker(cfg.Ledger.LRUCapacity, store, metrics, logger)
	if cfg.Ledger.WarmRequests > 0 {
		ids, err := store.RecentRequestIDs(ctx, cfg.Ledger.WarmRequests)
		if err != nil {
			logger.Warn().Err(err).Msg("could not warm dedup cache")
		} else {
			idem.Warm(ids)
			logger.Info().Int("ids", len(ids)).Msg("dedup cache warmed")
		}
	}
	proc := core.NewProcessor(l, idem, metrics, componentLogger(cfg, "processor"))

	// --- Persistence ---
	var publishChan chan ledger.Entry
	if cfg.NATS.Enabled && cfg.NATS.PublishEvents {
		publishChan = make(chan ledger.Entry, cfg.Persist.PublishChan)
	}
	worker := persistence.NewWorker(store, persistChan, publishChan,
		cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics,
		componentLogger(cfg, "persistence"))
	worker.SetWatermark(stats.LastSequence)

	snapshots := persistence.NewSnapshotter(store, l, worker, cfg.Snapshot.Interval, metrics,
		componentLogger(cfg, "snapshot"))
	snapshots.SetLastSequence(stats.SnapshotSequence)

	// The worker and publisher outlive the front end so that everything
	// applied before shutdown reaches the store and the final snapshot.
	backCtx, backCancel := context.WithCancel(context.Background())
	defer backCancel()
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(backCtx) }()

	publisherDone := make(chan error, 1)
	if publishChan != nil {
		if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
			return err
		}
		publisher := ingestion.NewOutboundPublisher(js, publishChan, componentLogger(cfg, "publisher"))
		go func() { publisherDone <- publisher.Run(backCtx) }()
	} else {
		publisherDone <- nil
	}

	// --- Front end ---
	svc := server.NewService(server.ServiceDeps{
		Processor:     proc,
		Query:         query.NewQueryService(store, worker),
		Snapshots:     snapshots,
		Durable:       worker,
		Health:        health,
		TokenDecimals: cfg.Ledger.TokenDecimals,
	})
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, svc, health, metrics,
		componentLogger(cfg, "api"))

	g, gctx := errgroup.WithContext(ctx)

	var subscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return err
		}
		rawChan := make(chan ingestion.RawMessage, cfg.Ingest.BufferSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, componentLogger(cfg, "ingest"))
		if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
			return err
		}
		dispatcher := ingestion.NewDispatcher(proc, rawChan, cfg.Ingest.Shards, metrics,
			componentLogger(cfg, "dispatcher"))
		g.Go(func() error { return dispatcher.Run(gctx) })
	}

	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error { return ignoreCanceled(snapshots.Run(gctx)) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, logger) })

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Uint64("sequence", l.Sequence()).
		Uint64("notes", l.NoteCount()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("NoteLedger ready")

	runErr := g.Wait()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("shutting down after failure")
	} else {
		logger.Info().Msg("shutting down")
	}

	// --- Graceful shutdown ---
	health.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// Nothing sends on persistChan once the dispatcher and servers are down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := snapshots.Take(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	close(persistChan)
	if err := <-workerDone; err != nil {
		logger.Error().Err(err).Msg("persistence worker stopped with error")
	}
	if publishChan != nil {
		close(publishChan)
	}
	<-publisherDone

	logger.Info().Uint64("sequence", worker.Watermark()).Msg("NoteLedger shutdown complete")
	return runErr
}

func componentLogger(cfg *config.Config, component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, observability.ParseLogLevel(cfg.Log.Level))
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (persistence.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := persistence.OpenPostgres(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			m := newMigrator(pg, cfg.Store.MigrationsDir, componentLogger(cfg, "migrate"))
			if err := m.Up(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		logger.Info().Msg("Postgres connected")
		return pg, nil
	case config.DriverBolt:
		bs, err := persistence.OpenBoltStore(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Store.BoltPath).Msg("bolt store opened")
		return bs, nil
	default:
		logger.Warn().Msg("using in-memory store, nothing survives a restart")
		return persistence.NewMemoryStore(), nil
	}
}

func newMigrator(pg *persistence.PostgresStore, dir string, logger zerolog.Logger) *persistence.Migrator {
	if dir == "" {
		return persistence.NewMigratorFS(pg.DB(), migrations.FS, logger)
	}
	return persistence.NewMigrator(pg.DB(), dir, logger)
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
