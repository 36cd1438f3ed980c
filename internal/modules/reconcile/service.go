package reconcile

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/gateway"
	"courtbook/internal/pkg/clock"
	"courtbook/internal/pkg/metrics"
	"courtbook/internal/storage"

	"go.uber.org/zap"
)

const (
	SweepStaleHolds = "stale_holds"
	SweepUnsettled  = "unsettled_payments"
	SweepIncomplete = "incomplete"
	SweepLeaked     = "leaked_slots"
	SweepArchive    = "archive"
	SweepEvents     = "webhook_events"
)

type Settings struct {
	HoldGrace      time.Duration
	UnsettledAfter time.Duration
	AbandonAfter   time.Duration
	ArchiveAfter   time.Duration
	ArchiveBatch   int
	// BatchSize caps the rows one sweep run looks at.
	BatchSize int
	Location  *time.Location
}

func DefaultSettings() Settings {
	return Settings{
		HoldGrace:      8 * time.Minute,
		UnsettledAfter: 15 * time.Minute,
		AbandonAfter:   time.Hour,
		ArchiveAfter:   90 * 24 * time.Hour,
		ArchiveBatch:   100,
		BatchSize:      100,
		Location:       time.UTC,
	}
}

// Report summarises one sweep run.
type Report struct {
	Sweep   string   `json:"sweep"`
	Scanned int      `json:"scanned"`
	Changed int      `json:"changed"`
	Failed  int      `json:"failed"`
	Notes   []string `json:"notes,omitempty"`
}

func (r *Report) note(msg string) {
	if len(r.Notes) < 20 {
		r.Notes = append(r.Notes, msg)
	}
}

type Service struct {
	bookings    bookingStore
	transitions bookingTransitions
	payments    paymentLookup
	archive     archiver
	sink        ArchiveSink
	events      eventLister
	replayer    eventReplayer
	clock       clock.Clock
	settings    Settings
	logger      *zap.Logger
}

func NewService(
	bookings bookingStore,
	transitions bookingTransitions,
	payments paymentLookup,
	archive archiver,
	clk clock.Clock,
	settings Settings,
	logger *zap.Logger,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.ArchiveBatch <= 0 {
		settings.ArchiveBatch = 100
	}
	return &Service{
		bookings:    bookings,
		transitions: transitions,
		payments:    payments,
		archive:     archive,
		clock:       clk,
		settings:    settings,
		logger:      logger,
	}
}

// WithArchiveSink exports every archived batch to sink.
func (s *Service) WithArchiveSink(sink ArchiveSink) *Service {
	s.sink = sink
	return s
}

// WithEventReplay lets scan recovery re-run stored events that were never
// closed.
func (s *Service) WithEventReplay(events eventLister, replayer eventReplayer) *Service {
	s.events = events
	s.replayer = replayer
	return s
}

// SweepStaleHolds expires holds whose page stopped sending heartbeats. A
// hold that already has a charge is checked against the gateway first so a
// payment that went through is never abandoned.
func (s *Service) SweepStaleHolds(ctx context.Context) (*Report, error) {
	rep := &Report{Sweep: SweepStaleHolds}
	now := s.clock.Now()
	holds, err := s.bookings.ListStaleHolds(ctx, now.Add(-s.settings.HoldGrace), s.settings.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(holds)

	for i := range holds {
		b := &holds[i]
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		log := s.logger.With(zap.String("booking_id", b.ID), zap.String("payment_reference", b.Reference()))

		if ref := b.Reference(); ref != "" {
			p, err := s.payments.GetPayment(ctx, ref)
			switch {
			case errors.Is(err, gateway.ErrNotFound):
				// fall through to abandon
			case err != nil:
				rep.Failed++
				rep.note(b.ID + ": " + err.Error())
				log.Warn("gateway re-check failed, hold kept", zap.Error(err))
				continue
			// A charge still processing may be in a 3-D Secure challenge, so the
			// hold outlives HoldGrace until AbandonAfter from creation.
			case p.Status != gateway.StatusProcessing || now.Sub(b.CreatedAt) < s.settings.AbandonAfter:
				res, err := s.transitions.Sync(ctx, b.ID, p)
				if err != nil {
					rep.Failed++
					rep.note(b.ID + ": " + err.Error())
					log.Error("failed to sync stale hold", zap.Error(err))
					continue
				}
				if res != nil && res.Applied {
					rep.Changed++
				}
				continue
			}
		}

		res, err := s.transitions.Abandon(ctx, b.ID)
		if err != nil {
			rep.Failed++
			rep.note(b.ID + ": " + err.Error())
			log.Error("failed to abandon hold", zap.Error(err))
			continue
		}
		if res.Applied {
			rep.Changed++
			log.Info("stale hold abandoned", zap.Time("last_active", b.ActivityAt()))
		}
	}
	s.finish(rep, "abandoned")
	return rep, nil
}

// ReconcilePayments re-reads every long-unsettled payment from the gateway
// and applies what it reports through the normal transitions.
func (s *Service) ReconcilePayments(ctx context.Context) (*Report, error) {
	rep := &Report{Sweep: SweepUnsettled}
	now := s.clock.Now()
	rows, err := s.bookings.ListUnsettled(ctx, now.Add(-s.settings.UnsettledAfter), s.settings.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(rows)

	for i := range rows {
		b := &rows[i]
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		changed, err := s.reconcileOne(ctx, b, now)
		if err != nil {
			rep.Failed++
			rep.note(b.ID + ": " + err.Error())
			continue
		}
		if changed {
			rep.Changed++
		}
	}
	s.finish(rep, "corrected")
	return rep, nil
}

func (s *Service) reconcileOne(ctx context.Context, b *domain.Booking, now time.Time) (bool, error) {
	log := s.logger.With(zap.String("booking_id", b.ID), zap.String("payment_reference", b.Reference()))
	p, err := s.payments.GetPayment(ctx, b.Reference())
	if errors.Is(err, gateway.ErrNotFound) {
		if now.Sub(b.CreatedAt) < s.settings.AbandonAfter || b.Status != domain.BookingHolding {
			return false, nil
		}
		log.Warn("gateway has no record of payment, abandoning")
		res, err := s.transitions.Abandon(ctx, b.ID)
		if err != nil {
			return false, err
		}
		return res.Applied, nil
	}
	if err != nil {
		log.Warn("gateway lookup failed", zap.Error(err))
		return false, err
	}

	res, err := s.transitions.Sync(ctx, b.ID, p)
	if err != nil {
		log.Error("failed to apply gateway status", zap.String("gateway_status", string(p.Status)), zap.Error(err))
		return false, err
	}
	if res.Applied {
		log.Info("booking reconciled with gateway",
			zap.String("gateway_status", string(p.Status)),
			zap.String("payment_status", string(res.Booking.PaymentStatus)))
	}
	return res.Applied, nil
}

// RepairIncomplete finishes paid bookings that are missing slots or an
// invoice number, and frees slots that cancelled bookings still hold.
func (s *Service) RepairIncomplete(ctx context.Context) (*Report, error) {
	rep := &Report{Sweep: SweepIncomplete}
	rows, err := s.bookings.ListIncomplete(ctx, s.settings.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(rows)
	for i := range rows {
		b := &rows[i]
		res, err := s.transitions.RepairSlots(ctx, b)
		if err != nil {
			rep.Failed++
			rep.note(b.ID + ": " + err.Error())
			s.logger.Error("repair failed", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		if res.Booking != nil && (res.Booking.SlotsReserved != b.SlotsReserved || res.Booking.HasInvoice() != b.HasInvoice()) {
			rep.Changed++
		}
	}

	leaked, err := s.bookings.ListLeakedSlots(ctx, s.settings.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Scanned += len(leaked)
	released := 0
	for i := range leaked {
		b := &leaked[i]
		if err := s.transitions.ReleaseLeaked(ctx, b); err != nil {
			rep.Failed++
			rep.note(b.ID + ": " + err.Error())
			s.logger.Error("leaked slot release failed", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		released++
	}
	rep.Changed += released
	metrics.RecordSweep(SweepLeaked, "released", released)
	s.finish(rep, "repaired")
	return rep, nil
}

// Archive moves bookings dated more than ArchiveAfter ago into cold
// storage in transactional batches.
func (s *Service) Archive(ctx context.Context) (*Report, error) {
	return s.archiveOlderThan(ctx, s.settings.ArchiveAfter)
}

func (s *Service) archiveOlderThan(ctx context.Context, age time.Duration) (*Report, error) {
	rep := &Report{Sweep: SweepArchive}
	if s.archive == nil {
		return rep, nil
	}
	now := s.clock.Now()
	cutoff := now.Add(-age).In(s.settings.Location).Format(domain.DateLayout)

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		moved, err := s.archive.MoveBatch(ctx, cutoff, s.settings.ArchiveBatch, now)
		if err != nil {
			return rep, err
		}
		rep.Scanned += len(moved)
		rep.Changed += len(moved)
		if len(moved) > 0 && s.sink != nil {
			key := storage.ArchiveKey(now, batch)
			if err := s.sink.Export(ctx, key, moved); err != nil {
				// rows are already safe in archived_bookings
				rep.Failed++
				rep.note("export " + key + ": " + err.Error())
			}
		}
		if len(moved) < s.settings.ArchiveBatch {
			break
		}
	}
	if rep.Changed > 0 {
		s.logger.Info("bookings archived", zap.Int("count", rep.Changed), zap.String("cutoff", cutoff))
	}
	metrics.RecordSweep(SweepArchive, "archived", rep.Changed)
	return rep, nil
}

// ReplayEvents re-runs stored gateway events that were received before
// cutoff but never closed.
func (s *Service) ReplayEvents(ctx context.Context, cutoff time.Time) (*Report, error) {
	rep := &Report{Sweep: SweepEvents}
	if s.events == nil || s.replayer == nil {
		return rep, nil
	}
	rows, err := s.events.ListUnprocessed(ctx, cutoff, s.settings.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(rows)
	for _, ev := range rows {
		res, err := s.replayer.Reprocess(ctx, ev.ID)
		if err != nil {
			rep.Failed++
			rep.note(ev.ID + ": " + err.Error())
			continue
		}
		if res.Applied {
			rep.Changed++
		}
	}
	s.finish(rep, "replayed")
	return rep, nil
}

// RunAll runs the periodic sweeps. Each sweep is independent; one failing
// does not stop the others.
func (s *Service) RunAll(ctx context.Context) []*Report {
	sweeps := []func(context.Context) (*Report, error){
		s.SweepStaleHolds,
		s.ReconcilePayments,
		s.RepairIncomplete,
	}
	reports := make([]*Report, 0, len(sweeps))
	for _, sweep := range sweeps {
		rep, err := sweep(ctx)
		if err != nil {
			s.logger.Error("reconcile sweep failed", zap.String("sweep", rep.Sweep), zap.Error(err))
			rep.note(err.Error())
			rep.Failed++
		}
		reports = append(reports, rep)
	}
	return reports
}

func (s *Service) finish(rep *Report, action string) {
	metrics.RecordSweep(rep.Sweep, action, rep.Changed)
	metrics.RecordSweep(rep.Sweep, "failed", rep.Failed)
	if rep.Changed > 0 || rep.Failed > 0 {
		s.logger.Info("reconcile sweep finished",
			zap.String("sweep", rep.Sweep),
			zap.Int("scanned", rep.Scanned),
			zap.Int("changed", rep.Changed),
			zap.Int("failed", rep.Failed))
	}
}
