package repository

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errInvoiceRaceLost = errors.New("invoice already assigned by a concurrent writer")

type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next increments the named counter and returns the new value. The first
// caller creates the counter.
func (r *SequenceRepository) Next(ctx context.Context, name string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := nextValue(tx, name)
		n = v
		return err
	})
	if err != nil {
		return 0, classify(err, "next sequence value")
	}
	return n, nil
}

func nextValue(tx *gorm.DB, name string) (int64, error) {
	res := tx.Model(&domain.SequenceCounter{}).Where("name = ?", name).Update("value", gorm.Expr("value + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.SequenceCounter{Name: name}).Error; err != nil {
			return 0, err
		}
		res = tx.Model(&domain.SequenceCounter{}).Where("name = ?", name).Update("value", gorm.Expr("value + 1"))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, domain.NewError(domain.KindTransient, "sequence counter "+name+" not initialised")
		}
	}
	var c domain.SequenceCounter
	if err := tx.Where("name = ?", name).Take(&c).Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}

// MintInvoice assigns the next invoice number to a booking that has none.
// The counter increment and the booking write commit together; if another
// writer assigned a number first, the increment rolls back and the existing
// number is returned with minted=false.
func (r *SequenceRepository) MintInvoice(ctx context.Context, bookingID, counter string, at time.Time) (string, bool, error) {
	var (
		number string
		minted bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Select("id", "invoice_number").Where("id = ?", bookingID).Take(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBookingNotFound
			}
			return err
		}
		if b.HasInvoice() {
			number = *b.InvoiceNumber
			return nil
		}

		n, err := nextValue(tx, counter)
		if err != nil {
			return err
		}
		candidate := domain.FormatInvoiceNumber(n)
		res := tx.Model(&domain.Booking{}).
			Where("id = ? AND invoice_number IS NULL", bookingID).
			Updates(map[string]interface{}{"invoice_number": candidate, "updated_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errInvoiceRaceLost
		}
		number, minted = candidate, true
		return nil
	})
	if errors.Is(err, errInvoiceRaceLost) {
		var b domain.Booking
		if err := r.db.WithContext(ctx).Select("id", "invoice_number").Where("id = ?", bookingID).Take(&b).Error; err != nil {
			return "", false, classify(err, "reload invoice number")
		}
		if !b.HasInvoice() {
			return "", false, domain.NewError(domain.KindContention, "invoice number race for booking "+bookingID)
		}
		return *b.InvoiceNumber, false, nil
	}
	if err != nil {
		return "", false, classify(err, "mint invoice")
	}
	return number, minted, nil
}
