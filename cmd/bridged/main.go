package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LiquidityBridge/internal/chain"
	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/evm"
	"LiquidityBridge/internal/jobs"
	"LiquidityBridge/internal/notify"
	"LiquidityBridge/internal/observability"
	"LiquidityBridge/internal/persistence"
	"LiquidityBridge/internal/server"
	"LiquidityBridge/internal/signer"
	"LiquidityBridge/migrations"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// bridgeSigner is what both the remote and the local signer provide.
type bridgeSigner interface {
	core.Signer
	core.AddressResolver
}

func main() {
	cfg := DefaultConfig()
	logger := observability.NewLoggerTo(os.Stdout, "bridged", observability.ParseLogLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("store", cfg.StoreBackend).Msg("LiquidityBridge starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	health := observability.NewHealthChecker(
		observability.CondStateLoaded,
		observability.CondAddressReady,
		observability.CondTransportReady,
	)
	metrics := observability.NewMetrics()

	// --- Chains ---
	registry, err := chain.NewRegistry(chain.DefaultChains()...)
	if err != nil {
		logger.Fatal().Err(err).Msg("chain registry")
	}
	registry, err = registry.WithRPCURLs(cfg.RPCURLs)
	if err != nil {
		logger.Fatal().Err(err).Msg("chain rpc urls")
	}

	// --- Store ---
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	// --- Chain transport ---
	evmClient, err := evm.Dial(ctx, registry, cfg.CallTimeout, logger.With().Str("component", "evm").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("dial chains")
	}
	defer evmClient.Close()
	health.Set(observability.CondTransportReady, true)

	// --- Signer ---
	sig, err := newSigner(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("signer")
	}

	// --- Event sinks ---
	sinks, closers, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event sinks")
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		Workers: cfg.NotifyWorkers,
		Metrics: metrics,
		Logger:  logger.With().Str("component", "notify").Logger(),
	}, sinks...)

	// --- Bridge ---
	bridge, err := core.NewBridge(core.Deps{
		Registry:       registry,
		Store:          store,
		Verifier:       evmClient,
		Params:         evmClient,
		Signer:         sig,
		Broadcaster:    evmClient,
		Resolver:       sig,
		Notifier:       dispatcher,
		Metrics:        metrics,
		Logger:         logger.With().Str("component", "core").Logger(),
		DerivationPath: cfg.DerivationPath(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge")
	}

	if err := bridge.Restore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("restore state")
	}
	health.Set(observability.CondStateLoaded, true)

	// The first resolution may fail if the signer is still starting; the
	// retry job picks it up.
	resolveAddress := jobs.ResolveAddressJob(bridge, health)
	if err := resolveAddress(ctx); err != nil {
		logger.Warn().Err(err).Msg("own address not resolved yet; operations answer NotInitialized")
	}
	bridge.RefreshGauges()

	// --- Servers ---
	srv, err := server.NewGRPCServer(server.ServerDeps{
		Bridge:    bridge,
		Auth:      server.NewAuthenticator([]byte(cfg.JWTSecret)),
		Admin:     server.NewAdminRouter(health, prometheus.DefaultGatherer),
		GRPCAddr:  cfg.GRPCAddr,
		HTTPAddr:  cfg.HTTPAddr,
		AdminAddr: cfg.AdminAddr,
		Logger:    logger.With().Str("component", "server").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("server")
	}
	srv.SetServing(health.IsReady())

	// --- Background jobs ---
	scheduler := jobs.NewScheduler(ctx, logger.With().Str("component", "jobs").Logger())
	scheduleErr := errors.Join(
		scheduler.Add("resolve-address", cfg.AddressRetrySpec, cfg.CallTimeout, func(ctx context.Context) error {
			err := resolveAddress(ctx)
			srv.SetServing(health.IsReady())
			return err
		}),
		scheduler.Add("refresh-gauges", cfg.GaugeSpec, 5*time.Second, jobs.RefreshGaugesJob(bridge)),
	)
	if scheduleErr != nil {
		logger.Fatal().Err(scheduleErr).Msg("schedule jobs")
	}
	scheduler.Start()

	// --- Start goroutines ---
	errChan := make(chan error, 3)
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTPGateway(ctx)
	}()
	go func() {
		errChan <- srv.StartAdmin(ctx)
	}()

	logger.Info().
		Strs("chains", registry.Names()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("admin", cfg.AdminAddr).
		Bool("ready", health.IsReady()).
		Msg("LiquidityBridge ready")

	// --- Wait for shutdown signal ---
	select {
	case s := <-sigChan:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server failed, shutting down")
	}

	// --- Graceful shutdown ---
	srv.SetServing(false)
	cancel()
	scheduler.Stop()
	dispatcher.Close()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close sink")
		}
	}

	logger.Info().Msg("LiquidityBridge shutdown complete")
}

func openStore(ctx context.Context, cfg Config, logger zerolog.Logger) (core.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := persistence.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		var source fs.FS = migrations.FS
		if cfg.MigrationsDir != "" {
			source = os.DirFS(cfg.MigrationsDir)
		}
		applied, err := persistence.NewMigrator(db, source, logger).Up(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations up to date")
		return persistence.NewPostgresStore(db), nil
	case "pebble":
		store, err := persistence.OpenPebble(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Warn().Msg("memory store: state is lost on restart")
		return persistence.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newSigner(cfg Config) (bridgeSigner, error) {
	if cfg.SignerEndpoint != "" {
		return signer.NewClient(cfg.SignerEndpoint, cfg.SignerAPIKey, cfg.DerivationPath(), cfg.CallTimeout), nil
	}
	local, err := signer.LocalSignerFromHex(cfg.SignerKeyHex, cfg.DerivationPath())
	if err != nil {
		return nil, err
	}
	return local, nil
}

// buildSinks connects every configured sink. Without any, events go to the log.
func buildSinks(ctx context.Context, cfg Config, logger zerolog.Logger) ([]notify.Sink, []io.Closer, error) {
	var (
		sinks   []notify.Sink
		closers []io.Closer
	)
	fail := func(err error) ([]notify.Sink, []io.Closer, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}

	if cfg.NATSURL != "" {
		nc, js, err := notify.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closerFunc(func() error { return nc.Drain() }))
		if err := notify.EnsureStream(ctx, js, logger); err != nil {
			return fail(err)
		}
		sinks = append(sinks, notify.NewJetStreamSink(js))
	}

	if cfg.RedisAddr != "" {
		rc, err := notify.NewRedisClient(ctx, cfg.RedisAddr, os.Getenv("BRIDGE_REDIS_PASSWORD"), 0)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rc)
		sinks = append(sinks, notify.NewRedisStreamSink(rc, cfg.RedisStream, notify.DefaultStreamMaxLen))
	}

	if len(cfg.KafkaBrokers) > 0 {
		ks := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, ks)
		sinks = append(sinks, ks)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, notify.LogSink{Logger: logger.With().Str("component", "events").Logger()})
	}
	return sinks, closers, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
