// Package sequence hands out monotonic counter values and invoice numbers.
package sequence

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/pkg/retry"

	"go.uber.org/zap"
)

type counterStore interface {
	Next(ctx context.Context, name string) (int64, error)
	MintInvoice(ctx context.Context, bookingID, counter string, at time.Time) (string, bool, error)
}

type Service struct {
	store  counterStore
	clock  clock.Clock
	policy retry.Policy
	logger *zap.Logger
}

func NewService(store counterStore, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clk, policy: retry.DefaultPolicy(), logger: logger}
}

func (s *Service) Next(ctx context.Context, name string) (int64, error) {
	var n int64
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		v, err := s.store.Next(ctx, name)
		n = v
		return err
	})
	return n, err
}

// MintInvoice returns the booking's invoice number, minting one if the
// booking has none yet. A booking never receives two numbers.
func (s *Service) MintInvoice(ctx context.Context, bookingID string) (string, error) {
	var (
		number string
		minted bool
	)
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		number, minted, err = s.store.MintInvoice(ctx, bookingID, domain.InvoiceCounter, s.clock.Now())
		return err
	})
	if err != nil {
		return "", err
	}
	if minted {
		metrics.RecordInvoiceMinted()
		s.logger.Info("invoice number minted", zap.String("booking_id", bookingID), zap.String("invoice_number", number))
	}
	return number, nil
}
