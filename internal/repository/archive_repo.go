package repository

import (
	"context"
	"time"

	"courtbook/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ArchiveRepository struct {
	db *gorm.DB
}

func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// MoveBatch copies up to limit bookings dated before cutoffDate into
// archived_bookings and removes them from bookings, in one transaction.
// Bookings still waiting on the gateway or on a refund stay put.
func (r *ArchiveRepository) MoveBatch(ctx context.Context, cutoffDate string, limit int, at time.Time) ([]domain.Booking, error) {
	var moved []domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.Booking
		err := tx.
			Where("date < ?", cutoffDate).
			Where("NOT (payment_status IN ? AND payment_reference IS NOT NULL)", domain.FromStatesForFailure()).
			Where("(refund_status IS NULL OR refund_status <> ?)", domain.RefundPending).
			Order("date, id").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		archived := make([]domain.ArchivedBooking, 0, len(rows))
		ids := make([]string, 0, len(rows))
		for _, b := range rows {
			archived = append(archived, domain.ArchivedBooking{Booking: b, ArchivedAt: at})
			ids = append(ids, b.ID)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&archived).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&domain.Booking{}).Error; err != nil {
			return err
		}
		moved = rows
		return nil
	})
	if err != nil {
		return nil, classify(err, "archive bookings")
	}
	return moved, nil
}

func (r *ArchiveRepository) CountArchived(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ArchivedBooking{}).Count(&n).Error
	return n, classify(err, "count archived bookings")
}
