package repository

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// InsertIfAbsent stores ev unless an event with the same id exists. It
// reports whether a new row was written.
func (r *WebhookEventRepository) InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, classify(res.Error, "store webhook event")
	}
	return res.RowsAffected > 0, nil
}

func (r *WebhookEventRepository) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Wrap(domain.KindNotFound, err, "webhook event %s", id)
	}
	if err != nil {
		return nil, classify(err, "get webhook event")
	}
	return &ev, nil
}

func (r *WebhookEventRepository) IncrementAttempts(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
	return classify(err, "count webhook attempt")
}

// MarkProcessed closes an event. Only the first caller wins; later calls
// report false.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id, result, errMsg string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": at,
			"result":       result,
			"error":        errMsg,
		})
	if res.Error != nil {
		return false, classify(res.Error, "mark webhook processed")
	}
	return res.RowsAffected > 0, nil
}

// RecordFailure keeps the event open for redelivery while noting why.
func (r *WebhookEventRepository) RecordFailure(ctx context.Context, id, errMsg string) error {
	err := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Update("error", errMsg).Error
	return classify(err, "record webhook failure")
}

// ListUnprocessed returns events received before cutoff that never closed.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, cutoff time.Time, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND received_at < ?", false, cutoff).
		Order("received_at").
		Limit(limit).
		Find(&out).Error
	return out, classify(err, "list unprocessed webhook events")
}

func (r *WebhookEventRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).Where("processed = ?", false).Count(&n).Error
	return n, classify(err, "count unprocessed webhook events")
}
