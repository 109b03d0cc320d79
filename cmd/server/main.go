package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"perimeter/internal/engine"
	"perimeter/internal/event"
	"perimeter/internal/fence"
	"perimeter/internal/fraud"
	"perimeter/internal/jwttoken"
	"perimeter/internal/ledger"
	"perimeter/internal/notifier"
	"perimeter/internal/platform/config"
	"perimeter/internal/platform/httpserver"
	"perimeter/internal/platform/logger"
	"perimeter/internal/platform/metrics"
	redisplatform "perimeter/internal/platform/redis"
	httpapi "perimeter/internal/transport/http"
)

// main wires high-level dependencies, starts the transition worker, and keeps
// the server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	notif := notifier.NewLogNotifier(log)

	fenceStore := fence.NewPostgresStore(db)
	ledgerStore := ledger.NewPostgresStore(db)
	fraudStore := fraud.NewPostgresStore(db)
	txRunner := newLedgerPostgresTx(db, ledgerStore, cfg.Engine.TransactionTimeout)

	var fenceCache *fence.Cache
	var fraudCache fraud.Cache
	var queue event.Queue
	if redisClient != nil {
		fenceCache = fence.NewCache(redisClient.Client, fenceStore, cfg.Engine.FenceCacheTTL, log, m)
		fraudCache = fraud.NewRedisCache(redisClient.Client, cfg.Engine.FingerprintTTL, cfg.Engine.AlertDedupeWindow)
		queue = event.NewRedisQueue(redisClient.Client, cfg.Engine.QueueKey)
	} else {
		log.Warn("redis not configured, using in-process cache and queue")
		fenceCache = fence.NewCache(nil, fenceStore, cfg.Engine.FenceCacheTTL, log, m)
		fraudCache = fraud.NewInMemoryCache(cfg.Engine.FingerprintTTL, cfg.Engine.AlertDedupeWindow)
		queue = event.NewInMemoryQueue(1024)
	}

	guard := fraud.NewGuard(fraudCache, fraudStore, notif, log, m)
	publisher := event.NewPublisher(queue, log, m)

	broadcaster, err := event.NewBroadcaster(cfg.Kafka.Brokers, cfg.Kafka.Topic, log, m)
	if err != nil {
		return err
	}
	var engineBroadcaster engine.Broadcaster
	if broadcaster != nil {
		engineBroadcaster = broadcaster
		defer broadcaster.Close()
	}

	eng := engine.NewService(
		fenceStore,
		fenceCache,
		ledgerStore,
		txRunner,
		guard,
		publisher,
		engineBroadcaster,
		notif,
		log,
		m,
	)

	worker := event.NewWorker(queue, ledgerStore, log, m, cfg.Engine.WorkerPopTimeout, cfg.Engine.WorkerFailureDelay)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("transition worker stopped", "error", err)
		}
	}()

	jwtService := jwttoken.NewService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)

	health := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Health(ctx)
		}
		return nil
	}

	handler := httpapi.New(eng, fenceStore, ledgerStore, fraudStore, log, jwtService, health)
	srv := httpserver.New(cfg.Server.Addr, httpapi.NewRouter(handler, m))

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting perimeter server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("transition worker did not stop before deadline")
	}
	return nil
}

func openPostgres(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ledger.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
