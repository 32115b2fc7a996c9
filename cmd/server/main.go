package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "groupmilestones/contracts/mq"
	"groupmilestones/internal/config"
	"groupmilestones/internal/handler"
	"groupmilestones/internal/httpserver"
	"groupmilestones/internal/mqhandler"
	"groupmilestones/internal/progress"
	"groupmilestones/internal/repository"
	"groupmilestones/internal/service/milestone"
	"groupmilestones/pkg/db"
	"groupmilestones/pkg/logger"
	"groupmilestones/pkg/mq"
	"groupmilestones/pkg/outbox"
	"groupmilestones/pkg/redis"
	"groupmilestones/pkg/util"
)

var errMQDisconnected = errors.New("mq connection lost")

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	log.Info("Starting milestone engine...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	// MQ Publisher (outbox + DLQ)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()
	if err := publisher.DeclareDLQ(cfg.MQ.RoutingKey); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	milestoneRepo := repository.NewMilestoneRepository(dbConn, outboxRepo, log)
	progressRepo := repository.NewProgressRepository(dbConn, log)
	memberRepo, err := repository.NewMemberRepository(dbConn, log)
	if err != nil {
		log.Fatal("Failed to init member repository", zap.Error(err))
	}

	// Services
	calc := progress.NewCalculator(cfg.Engine)
	milestoneService := milestone.NewService(milestoneRepo, progressRepo, memberRepo, calc, log)

	// MQ Consumer for member.snapshot
	snapshotHandler := mqhandler.NewMemberSnapshotHandler(
		milestoneService,
		util.NewDeduper(rdb, cfg.Redis.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Snapshot.RetryCounterTTL),
		cfg.MQ.MaxRetries,
		log,
	)

	log.Info("Initializing MQ consumer...",
		zap.String("queue", cfg.MQ.Queue),
		zap.String("routing_key", cfg.MQ.RoutingKey),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Queue, cfg.MQ.RoutingKey, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(snapshotHandler.Handle)
	consumer.SetDeadLetter(publisher)

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Snapshot consumer failed", zap.Error(err))
		}
	}()

	// Outbox dispatcher publishes milestone.completed
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	go dispatcher.Start(ctx)
	log.Info("Outbox dispatcher started", zap.String("routing_key", mqcontracts.RoutingKeyMilestoneCompleted))

	// HTTP Server
	milestoneHandler := handler.NewMilestoneHandler(milestoneService, log)
	router := httpserver.NewRouter(milestoneHandler, cfg.JWT.Secret, map[string]httpserver.ReadinessCheck{
		"db": dbConn.Ping,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"mq": func(context.Context) error {
			if !publisher.IsConnected() || !consumer.IsConnected() {
				return errMQDisconnected
			}
			return nil
		},
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("milestone engine is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully...")

	consumer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("milestone engine shutdown complete")
}
