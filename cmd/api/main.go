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

	"github.com/joho/godotenv"
	"github.com/livecanasta/live-baskets/internal/config"
	"github.com/livecanasta/live-baskets/internal/httpx"
	kafkax "github.com/livecanasta/live-baskets/internal/kafka"
	"github.com/livecanasta/live-baskets/internal/live"
	"github.com/livecanasta/live-baskets/internal/logx"
	"github.com/livecanasta/live-baskets/internal/postgres"
	"github.com/livecanasta/live-baskets/internal/redisx"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logx.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one for all live.* topics
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
	prod.Start(ctx)

	store := &postgres.Store{DB: db}
	progress := &redisx.Progress{RDB: rdb}
	opts := []live.Option{
		live.WithLogger(logger),
		live.WithPublisher(prod, cfg.ServiceName),
		live.WithProgress(progress),
	}
	fin := live.NewFinalizer(store, progress, live.FinalizerConfig{
		Employee: cfg.OrderEmployee,
		Locker:   &redisx.Locker{RDB: rdb},
		LockTTL:  cfg.FinalizeLockTTL,
	}, opts...)

	views := httpx.NewViews(ctx, store, cfg.PollInterval, cfg.ViewIdleTimeout, logger.Named("views"), opts...)
	go views.Run(ctx)

	h := &httpx.LiveHandler{
		Repo:      store,
		Sessions:  live.NewSessionService(store, opts...),
		Finalizer: fin,
		Views:     views,
		Cache:     &redisx.ViewCache{RDB: rdb},
		Opts:      opts,
		Log:       logger,
	}
	router := httpx.NewRouter()
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()      // stops the view pollers
	views.Close() // wait for in-flight refreshes
	// a finalization keeps running after its request is gone and still publishes
	if err := fin.Wait(ctx2); err != nil {
		logger.Warn("finalization still running at shutdown", zap.Error(err))
	}
	prod.Close()      // flush queued events
	prod.WaitClosed() // writer closed
}
