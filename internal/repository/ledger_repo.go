package repository

import (
	"context"

	"courtbook/internal/domain"

	"gorm.io/gorm"
)

// LedgerRepository appends payment transaction logs and audit entries.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) AppendTransaction(ctx context.Context, entry *domain.PaymentTransactionLog) error {
	return classify(r.db.WithContext(ctx).Create(entry).Error, "append payment log")
}

func (r *LedgerRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	return classify(r.db.WithContext(ctx).Create(entry).Error, "append audit entry")
}

func (r *LedgerRepository) TransactionsForBooking(ctx context.Context, bookingID string) ([]domain.PaymentTransactionLog, error) {
	var out []domain.PaymentTransactionLog
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id").Find(&out).Error
	return out, classify(err, "list payment logs")
}

func (r *LedgerRepository) AuditForEvent(ctx context.Context, eventID string) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id").Find(&out).Error
	return out, classify(err, "list audit entries")
}
