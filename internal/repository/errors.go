package repository

import (
	"context"
	"errors"
	"strings"

	"courtbook/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// classify maps driver errors onto domain error kinds.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Wrap(domain.KindNotFound, err, "%s", op)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindTransient, err, "%s", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return domain.Wrap(domain.KindContention, err, "%s", op)
		case "55P03", "53300", "57P01", "08006", "08001":
			return domain.Wrap(domain.KindTransient, err, "%s", op)
		case "23505":
			return domain.Wrap(domain.KindConflict, err, "%s", op)
		}
		return domain.Wrap(domain.KindFatal, err, "%s", op)
	}

	if isUniqueConstraintError(err) {
		return domain.Wrap(domain.KindConflict, err, "%s", op)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "table is locked") || strings.Contains(msg, "connection refused") {
		return domain.Wrap(domain.KindTransient, err, "%s", op)
	}
	return domain.Wrap(domain.KindFatal, err, "%s", op)
}

func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}
