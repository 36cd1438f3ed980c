package repository

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AvailabilityRepository struct {
	db *gorm.DB
}

func NewAvailabilityRepository(db *gorm.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

func (r *AvailabilityRepository) Get(ctx context.Context, venueID, month string) (*domain.MonthlyAvailability, error) {
	return loadAvailability(r.db.WithContext(ctx), venueID, month)
}

func loadAvailability(tx *gorm.DB, venueID, month string) (*domain.MonthlyAvailability, error) {
	var doc domain.MonthlyAvailability
	err := tx.Where("venue_id = ? AND month = ?", venueID, month).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, classify(err, "load availability")
	}
	if err := doc.Decode(); err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "corrupt availability document")
	}
	return &doc, nil
}

// Save stores a generated grid, replacing the existing document for the
// venue and month. Used by availability generation only; reservations go
// through Mutate.
func (r *AvailabilityRepository) Save(ctx context.Context, doc *domain.MonthlyAvailability) error {
	if err := doc.Encode(); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "venue_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"slots":      doc.Slots,
			"version":    gorm.Expr("monthly_availabilities.version + 1"),
			"updated_at": doc.UpdatedAt,
		}),
	}).Create(doc).Error
	return classify(err, "save availability")
}

// Mutate runs fn against the current grid inside one transaction and
// writes the result back only if the document version is unchanged. fn
// reports whether it changed anything; an unchanged grid is not written.
// A concurrent writer surfaces as domain.ErrVersionConflict.
func (r *AvailabilityRepository) Mutate(ctx context.Context, venueID, month string, fn func(grid domain.SlotIndex) (bool, error)) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadAvailability(tx, venueID, month)
		if err != nil {
			return err
		}
		changed, err := fn(doc.Grid)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := doc.Encode(); err != nil {
			return err
		}
		res := tx.Model(&domain.MonthlyAvailability{}).
			Where("id = ? AND version = ?", doc.ID, doc.Version).
			Updates(map[string]interface{}{
				"slots":      doc.Slots,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return classify(res.Error, "write availability")
		}
		if res.RowsAffected == 0 {
			return domain.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return classify(err, "mutate availability")
	}
	return nil
}
