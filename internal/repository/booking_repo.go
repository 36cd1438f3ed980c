package repository

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"

	"gorm.io/gorm"
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Guard restricts a conditional update to bookings in the listed states.
// Empty lists do not restrict.
type Guard struct {
	PaymentIn []domain.PaymentStatus
	StatusIn  []domain.BookingStatus
	RefundIn  []domain.RefundStatus
	// NotRefunding excludes bookings with a refund in flight.
	NotRefunding bool
	// InvoiceMissing requires invoice_number to be unset.
	InvoiceMissing bool
}

func (g Guard) apply(q *gorm.DB) *gorm.DB {
	if len(g.PaymentIn) > 0 {
		q = q.Where("payment_status IN ?", g.PaymentIn)
	}
	if len(g.StatusIn) > 0 {
		q = q.Where("status IN ?", g.StatusIn)
	}
	if len(g.RefundIn) > 0 {
		q = q.Where("COALESCE(refund_status, '') IN ?", g.RefundIn)
	}
	if g.NotRefunding {
		q = q.Where("(refund_status IS NULL OR refund_status <> ?)", domain.RefundPending)
	}
	if g.InvoiceMissing {
		q = q.Where("invoice_number IS NULL")
	}
	return q
}

func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	err := r.db.WithContext(ctx).Create(b).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.Wrap(domain.KindConflict, domain.ErrDuplicate, "booking %s", b.ID)
		}
		return classify(err, "create booking")
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, classify(err, "get booking")
	}
	return &b, nil
}

func (r *BookingRepository) GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.WithContext(ctx).Where("payment_reference = ?", ref).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, classify(err, "get booking by payment reference")
	}
	return &b, nil
}

// Transition applies fields only if the booking currently satisfies guard.
// It reports whether a row changed.
func (r *BookingRepository) Transition(ctx context.Context, id string, guard Guard, fields map[string]interface{}) (bool, error) {
	q := guard.apply(r.db.WithContext(ctx).Model(&domain.Booking{}).Where("id = ?", id))
	res := q.Updates(fields)
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return false, domain.Wrap(domain.KindConflict, res.Error, "update booking %s", id)
		}
		return false, classify(res.Error, "update booking")
	}
	return res.RowsAffected > 0, nil
}

func (r *BookingRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	_, err := r.Transition(ctx, id, Guard{}, fields)
	return err
}

// Touch records a heartbeat for a booking still on the payment page.
func (r *BookingRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.Transition(ctx, id, Guard{StatusIn: []domain.BookingStatus{domain.BookingHolding}}, map[string]interface{}{
		"last_active": at,
		"updated_at":  at,
	})
}

// ClaimPayment reserves the right to create the gateway charge for a hold.
// A claim older than staleBefore is considered abandoned and may be taken
// over.
func (r *BookingRepository) ClaimPayment(ctx context.Context, id, claim string, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND status = ? AND payment_reference IS NULL", id, domain.BookingHolding).
		Where("COALESCE(payment_claim, '') = '' OR payment_claimed_at < ?", staleBefore).
		Updates(map[string]interface{}{"payment_claim": claim, "payment_claimed_at": at, "updated_at": at})
	return res.RowsAffected > 0, classify(res.Error, "claim payment")
}

// ReleasePaymentClaim drops a claim whose charge could not be created.
func (r *BookingRepository) ReleasePaymentClaim(ctx context.Context, id, claim string) error {
	err := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND payment_claim = ?", id, claim).
		Updates(map[string]interface{}{"payment_claim": "", "payment_claimed_at": nil}).Error
	return classify(err, "release payment claim")
}

// SetPaymentReference attaches a gateway handle to a hold that has none.
// claim must match the hold's current payment claim ("" when unclaimed).
func (r *BookingRepository) SetPaymentReference(ctx context.Context, id, ref, claim string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND status = ? AND payment_reference IS NULL", id, domain.BookingHolding).
		Where("COALESCE(payment_claim, '') = ?", claim).
		Updates(map[string]interface{}{
			"payment_reference":  ref,
			"payment_claim":      "",
			"payment_claimed_at": nil,
			"last_active":        at,
			"updated_at":         at,
		})
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return false, domain.Wrap(domain.KindConflict, res.Error, "payment reference %s already used", ref)
		}
		return false, classify(res.Error, "set payment reference")
	}
	return res.RowsAffected > 0, nil
}

// ListStaleHolds returns holds whose last activity is older than cutoff.
func (r *BookingRepository) ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status IN ?", domain.BookingHolding, domain.FromStatesForAbandon()).
		Where("COALESCE(last_active, created_at) < ?", cutoff).
		Order("created_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list stale holds")
}

// ListUnsettled returns bookings with a payment reference still waiting
// for a gateway outcome since before cutoff.
func (r *BookingRepository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("payment_status IN ? AND payment_reference IS NOT NULL", domain.FromStatesForFailure()).
		Where("status <> ?", domain.BookingCancelled).
		Where("created_at < ?", cutoff).
		Order("created_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list unsettled bookings")
}

// ListIncomplete returns paid bookings whose slots or invoice are missing.
func (r *BookingRepository) ListIncomplete(ctx context.Context, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND status = ?", domain.PaymentPaid, domain.BookingConfirmed).
		Where("(slots_reserved = ? OR invoice_number IS NULL)", false).
		Where("(attention_reason IS NULL OR attention_reason = '' OR attention_reason = ?)", domain.AttentionSlotsMissing).
		Order("created_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list incomplete bookings")
}

// ListLeakedSlots returns cancelled bookings that may still own slots
// because an earlier release failed.
func (r *BookingRepository) ListLeakedSlots(ctx context.Context, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND slots_reserved = ?", domain.BookingCancelled, true).
		Order("updated_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list leaked slots")
}

// ListUnconfirmed returns paid bookings whose confirmation was never sent.
func (r *BookingRepository) ListUnconfirmed(ctx context.Context, maxAttempts, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND confirmation_sent_at IS NULL AND confirmation_attempts < ?", domain.PaymentPaid, maxAttempts).
		Order("updated_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list unconfirmed bookings")
}

func (r *BookingRepository) ListAttention(ctx context.Context, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("attention_reason IS NOT NULL AND attention_reason <> ''").
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list attention bookings")
}

// ClearAttention removes the attention flag once an operator has dealt with
// the booking. It reports false when the booking carried no flag.
func (r *BookingRepository) ClearAttention(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND attention_reason IS NOT NULL AND attention_reason <> ''", id).
		Updates(map[string]interface{}{"attention_reason": "", "updated_at": at})
	return res.RowsAffected > 0, classify(res.Error, "clear attention")
}

// CountByPaymentStatus returns how many live bookings sit in each payment
// state.
func (r *BookingRepository) CountByPaymentStatus(ctx context.Context) (map[domain.PaymentStatus]int64, error) {
	var rows []struct {
		PaymentStatus domain.PaymentStatus
		N             int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Select("payment_status, COUNT(*) AS n").
		Group("payment_status").
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err, "count bookings")
	}
	out := make(map[domain.PaymentStatus]int64, len(rows))
	for _, row := range rows {
		out[row.PaymentStatus] = row.N
	}
	return out, nil
}

func (r *BookingRepository) MarkConfirmationSent(ctx context.Context, id string, at time.Time) error {
	return r.Update(ctx, id, map[string]interface{}{
		"confirmation_sent_at":  at,
		"confirmation_attempts": gorm.Expr("confirmation_attempts + 1"),
		"confirmation_error":    "",
		"updated_at":            at,
	})
}

func (r *BookingRepository) RecordConfirmationFailure(ctx context.Context, id, reason string, at time.Time) error {
	return r.Update(ctx, id, map[string]interface{}{
		"confirmation_attempts": gorm.Expr("confirmation_attempts + 1"),
		"confirmation_error":    reason,
		"updated_at":            at,
	})
}
