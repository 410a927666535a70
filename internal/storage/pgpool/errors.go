package pgpool

import (
	"context"
	"net"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	lockNotAvailable = "55P03"
	adminShutdown    = "57P01"
	cannotConnectNow = "57P03"
)

// wrapErr оборачивает ошибку и помечает сетевые/таймаут-ошибки как ErrStoreUnavailable.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return errors.Wrap(&models.StoreUnavailableError{Err: err}, msg)
	}
	return errors.Wrap(err, msg)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case lockNotAvailable, adminShutdown, cannotConnectNow:
			return true
		}
		return false
	}
	// SafeToRetry: запрос гарантированно не ушёл на сервер
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
