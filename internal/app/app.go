// Package app assembles the engine's services from configuration. The api,
// worker and reconcile commands share it so they drive the same state
// machine.
package app

import (
	"context"
	"fmt"

	"courtbook/internal/config"
	"courtbook/internal/database"
	"courtbook/internal/gateway"
	"courtbook/internal/modules/admin"
	"courtbook/internal/modules/booking"
	"courtbook/internal/modules/payment"
	"courtbook/internal/modules/reconcile"
	"courtbook/internal/modules/refund"
	"courtbook/internal/modules/reservation"
	"courtbook/internal/modules/sequence"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/repository"
	"courtbook/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	Clock  clock.Clock

	Gateway  gateway.Client
	Bookings *repository.BookingRepository
	Events   *repository.WebhookEventRepository

	Booking    *booking.Service
	Processor  *payment.Processor
	Verifier   *payment.Verifier
	Refunds    *refund.Service
	Reconciler *reconcile.Service
	Console    *admin.Service
}

// New connects to the database, migrates it and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return Assemble(ctx, cfg, db, nil, logger)
}

// Assemble builds the services on an open database. gw overrides the
// configured gateway when non-nil.
func Assemble(ctx context.Context, cfg *config.Config, db *gorm.DB, gw gateway.Client, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Booking.Location()
	if err != nil {
		return nil, err
	}
	if gw == nil {
		gw, err = newGateway(cfg.Gateway, logger)
		if err != nil {
			return nil, err
		}
	}

	clk := clock.System{}
	bookings := repository.NewBookingRepository(db)
	avail := repository.NewAvailabilityRepository(db)
	events := repository.NewWebhookEventRepository(db)
	ledger := repository.NewLedgerRepository(db)
	archive := repository.NewArchiveRepository(db)

	slots := reservation.NewService(avail, cfg.Booking.SlotGranularity, loc, logger.Named("reservation"))
	invoices := sequence.NewService(repository.NewSequenceRepository(db), clk, logger.Named("sequence"))
	bookingSvc := booking.NewService(bookings, avail, slots, invoices, gw, clk, booking.Settings{
		SlotGranularity: cfg.Booking.SlotGranularity,
		Location:        loc,
		Currency:        cfg.Booking.Currency,
		PricePerSlot:    cfg.Booking.PricePerSlot,
		ReturnURI:       cfg.Gateway.ReturnURI,
	}, logger.Named("booking"))

	processor := payment.NewProcessor(events, ledger, bookingSvc, gw, clk, logger.Named("payment"))

	reconciler := reconcile.NewService(bookings, bookingSvc, gw, archive, clk, reconcile.Settings{
		HoldGrace:      cfg.Booking.HoldGrace,
		UnsettledAfter: cfg.Booking.UnsettledAfter,
		AbandonAfter:   cfg.Booking.AbandonAfter,
		ArchiveAfter:   cfg.Booking.ArchiveAfter,
		ArchiveBatch:   cfg.Booking.ArchiveBatch,
		BatchSize:      reconcile.DefaultSettings().BatchSize,
		Location:       loc,
	}, logger.Named("reconcile")).WithEventReplay(events, processor)

	if cfg.ArchiveBucket != "" {
		sink, err := storage.NewArchiveSink(ctx, storage.S3Config{Region: cfg.AWSRegion, Bucket: cfg.ArchiveBucket}, logger.Named("archive"))
		if err != nil {
			return nil, err
		}
		reconciler = reconciler.WithArchiveSink(sink)
	}

	return &App{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		Clock:      clk,
		Gateway:    gw,
		Bookings:   bookings,
		Events:     events,
		Booking:    bookingSvc,
		Processor:  processor,
		Verifier:   payment.NewVerifier(cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureMaxAge, clk),
		Refunds:    refund.NewService(bookingSvc, gw, logger.Named("refund")),
		Reconciler: reconciler,
		Console:    admin.NewService(bookings, events, ledger, archive, processor, clk, logger.Named("admin")),
	}, nil
}

func newGateway(cfg config.GatewayConfig, logger *zap.Logger) (gateway.Client, error) {
	switch cfg.Provider {
	case "fake":
		logger.Warn("using in-memory payment gateway")
		return gateway.NewFake(), nil
	case "omise", "":
		return gateway.NewOmiseClient(cfg.OmisePublicKey, cfg.OmiseSecretKey, logger.Named("omise"))
	}
	return nil, fmt.Errorf("unknown payment gateway %q", cfg.Provider)
}

// Close releases the database pool.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
