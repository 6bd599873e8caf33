package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

// storeError приводит ошибку драйвера к виду apperror: сбои соединения и таймауты - Unavailable,
// нарушения уникальности и сериализации - Conflict. Остальное оборачивается как есть.
func storeError(err error, op string) error {
	if err == nil {
		return nil
	}

	msg := "repository: " + op
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return apperror.Wrap(apperror.KindUnavailable, err, msg)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperror.Wrap(apperror.KindUnavailable, err, msg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return apperror.Wrap(apperror.KindConflict, err, msg)
		case pgErr.Code == pgerrcode.QueryCanceled,
			pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code):
			return apperror.Wrap(apperror.KindUnavailable, err, msg)
		}
	}

	return fmt.Errorf("%s: %w", msg, err)
}
