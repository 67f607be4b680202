package postgres

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const sqlstateUndefinedTable = "42P01"

func sqlState(err error) string {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsMissingTable reports whether err means the queried table does not exist.
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == sqlstateUndefinedTable {
		return true
	}
	return strings.Contains(err.Error(), "no such table")
}

// IsTransient reports whether err is worth retrying: connection loss,
// serialization conflicts, server overload or a network timeout.
func IsTransient(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, driver.ErrBadConn) {
		return true
	}

	switch code := sqlState(err); {
	case strings.HasPrefix(code, "08"):
		return true
	case code == "40001", code == "40P01", code == "53300", code == "57P01":
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), "database is locked")
}
