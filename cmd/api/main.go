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

	"courtbook/internal/app"
	"courtbook/internal/config"
	"courtbook/internal/middleware"
	"courtbook/internal/modules/live"
	"courtbook/internal/modules/notification"
	jwtsvc "courtbook/internal/pkg/jwt"
	"courtbook/internal/pkg/logger"
	"courtbook/internal/pkg/queue"

	"github.com/gin-gonic/gin"
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
		// confirmations fall back to the retry sweep
		zl.Warn("redis unavailable", zap.Error(err))
	}
	dispatcher := notification.NewDispatcher(queue.NewQueue(rdb, zl.Named("queue")), a.Bookings, a.Clock, zl.Named("notification"))
	dispatcher.Attach(a.Booking)

	hub := live.NewHub(a.Booking, zl.Named("live"))
	a.Booking.OnTransition(hub.Listen)
	defer hub.Close()

	if config.IsProdLike(cfg.AppEnv) {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	stopLimiter := make(chan struct{})
	go limiter.Run(stopLimiter)
	defer close(stopLimiter)

	r := a.NewRouter(app.RouterDeps{
		JWT:     jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL),
		Hub:     hub,
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
	zl.Info("http server stopped")
}
