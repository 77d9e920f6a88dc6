package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/systematics/examclient/internal/store"
)

// ErrUnavailable is returned when the database cannot serve the request.
var ErrUnavailable = errors.New("storage unavailable")

// mapPostgresError maps PostgreSQL-specific errors to sentinel errors.
// Returns the original error if it's not a PostgreSQL error.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == pgerrcode.CheckViolation && pgErr.ConstraintName == "kv_entries_key_not_empty":
		return fmt.Errorf("%w: %s", store.ErrInvalidKey, pgErr.Message)

	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.CannotConnectNow,
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CrashShutdown,
		pgErr.Code == pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)

	case pgErr.Code == pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
