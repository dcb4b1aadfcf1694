package resilience

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

var (
	transient = ErrorClassification{Retryable: true, RecordFailure: true}
	permanent = ErrorClassification{Retryable: false, RecordFailure: true}
	ignored   = ErrorClassification{Retryable: false, RecordFailure: false}
)

// ClassifySQLError decides whether a database/sql error is worth retrying.
// Lookups that miss and caller cancellation never count against the breaker.
func ClassifySQLError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ignored
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrDocumentNotFound) ||
		errors.Is(err, domain.ErrTemplateNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) {
		return ignored
	}
	if IsCircuitOpen(err) {
		return transient
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return transient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return transient
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "53300", pgErr.Code == "57P01":
			return transient
		}
		return permanent
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return transient
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return transient
		}
		return permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient
	}
	return permanent
}

// Temporary marks err as domain.ErrTemporary when classify considers it
// retryable or the breaker for operation is open.
func Temporary(operation string, err error, classify ErrorClassifier) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classify == nil {
		classify = defaultClassifier
	}
	if classify(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
