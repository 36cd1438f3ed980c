// Package main runs the background side of the engine: confirmation
// delivery and the scheduled reconciliation sweeps.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtbook/internal/app"
	"courtbook/internal/config"
	"courtbook/internal/modules/notification"
	"courtbook/internal/modules/reconcile"
	"courtbook/internal/pkg/logger"
	"courtbook/internal/pkg/mq"
	"courtbook/internal/pkg/queue"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zl.Fatal("redis", zap.Error(err))
	}

	publisher, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		zl.Fatal("rabbitmq", zap.Error(err))
	}
	defer func() { _ = publisher.Close() }()

	jobs := queue.NewQueue(rdb, zl.Named("queue"))
	worker := notification.NewWorker(jobs, publisher, a.Bookings, a.Clock, zl.Named("notification"))

	// transitions applied by the sweeps below need confirmations too
	notification.NewDispatcher(jobs, a.Bookings, a.Clock, zl.Named("notification")).Attach(a.Booking)

	scheduler := reconcile.NewScheduler(zl.Named("scheduler"))
	for _, job := range a.Reconciler.Jobs(cfg.Schedule.Reconcile, cfg.Schedule.Archive) {
		if err := scheduler.Add(job); err != nil {
			zl.Fatal("schedule job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	err = scheduler.Add(reconcile.Job{
		Name:     "confirmation-retry",
		Schedule: cfg.Schedule.Confirmation,
		Run: func(ctx context.Context) error {
			_, err := worker.RetrySweep(ctx)
			return err
		},
	})
	if err != nil {
		zl.Fatal("schedule job", zap.String("job", "confirmation-retry"), zap.Error(err))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(workerCtx)
	scheduler.Start()
	zl.Info("worker started",
		zap.String("reconcile", cfg.Schedule.Reconcile),
		zap.String("archive", cfg.Schedule.Archive),
		zap.String("confirmation_retry", cfg.Schedule.Confirmation))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	scheduler.Stop()
	// let an in-flight publish finish
	time.Sleep(2 * time.Second)
	zl.Info("worker stopped")
}
