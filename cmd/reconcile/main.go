// Package main runs one recovery pass from the command line, the same
// operation the admin recovery endpoint exposes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"courtbook/internal/app"
	"courtbook/internal/config"
	"courtbook/internal/modules/reconcile"
	"courtbook/internal/pkg/logger"
	"courtbook/internal/pkg/validator"

	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", string(reconcile.ModeScan), "single, scan or cleanup")
	bookingID := flag.String("booking", "", "booking id (single)")
	ref := flag.String("payment", "", "payment reference (single)")
	days := flag.Int("days", 0, "archive bookings older than this many days (cleanup)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	req := reconcile.RecoveryRequest{
		Mode:             reconcile.Mode(*mode),
		BookingID:        *bookingID,
		PaymentReference: *ref,
		Days:             *days,
	}
	if errs := validator.Validate(req); errs != nil {
		zl.Fatal("invalid arguments", zap.Any("errors", errs))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	res, err := a.Reconciler.Recover(ctx, req)
	if err != nil {
		zl.Fatal("recovery failed", zap.String("mode", *mode), zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		zl.Fatal("write result", zap.Error(err))
	}
}
