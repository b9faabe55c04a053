package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spendflow/transfer-ledger/internal/backoff"
	"github.com/spendflow/transfer-ledger/internal/config"
	"github.com/spendflow/transfer-ledger/internal/events/kafka"
	"github.com/spendflow/transfer-ledger/internal/httpapi"
	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/ledger"
	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/storage/memory"
	"github.com/spendflow/transfer-ledger/internal/storage/mongo"
	"github.com/spendflow/transfer-ledger/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := log.NewZap(cfg.Env, level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithFailedStatusRetry(backoff.Policy{
			Attempts: cfg.FailedStatusAttempts,
			Base:     50 * time.Millisecond,
			Max:      time.Second,
		}),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, logger.With(log.String("component", "kafka")))
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.Log(ctx, log.LevelInfo, "publishing transfer events", log.Any("brokers", cfg.KafkaBrokers))
	}
	l := ledger.NewLedger(store, opts...)

	var apiOpts []httpapi.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Log(ctx, log.LevelWarn, "redis unreachable, idempotency cache degraded", log.Err(err))
		}
		apiOpts = append(apiOpts, httpapi.WithIdempotencyCache(rdb, 24*time.Hour))
	}
	app := httpapi.New(l, logger.With(log.String("component", "http")), apiOpts...)

	go ledger.NewSweeper(l, cfg.SweepInterval, cfg.SweepPendingAge).Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Log(ctx, log.LevelInfo, "server starting",
			log.String("env", cfg.Env), log.String("port", cfg.Port), log.String("store", cfg.StoreBackend))
		serveErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Log(context.Background(), log.LevelInfo, "shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log(context.Background(), log.LevelError, "server shutdown failed", log.Err(err))
	}
	return nil
}

// openStore connects the configured backend and returns it with its closer.
func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (interfaces.LedgerStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Log(ctx, log.LevelInfo, "postgres store ready")
		return postgres.NewPostgresLedgerStore(db), func() { db.Close() }, nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store := mongo.NewMongoLedgerStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		logger.Log(ctx, log.LevelInfo, "mongo store ready", log.String("database", cfg.MongoDatabase))
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		logger.Log(ctx, log.LevelWarn, "using in-memory store, data is lost on restart")
		return memory.NewMemoryLedgerStore(), func() {}, nil
	}
}
