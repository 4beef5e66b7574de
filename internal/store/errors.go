package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Kind classifies a storage error.
type Kind int

const (
	// KindOther is any failure that is neither transient nor corruption,
	// such as a malformed query.
	KindOther Kind = iota
	// KindTransient is lost connectivity or lock contention. Retrying the
	// same work may succeed.
	KindTransient
	// KindCorruption is a storage-engine fault the connection cannot
	// recover from. The database must be moved aside and recreated.
	KindCorruption
	// KindConstraint is a violated integrity constraint.
	KindConstraint
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCorruption:
		return "corruption"
	case KindConstraint:
		return "constraint"
	default:
		return "other"
	}
}

// Error is a classified storage error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Unclassified errors and nil are KindOther;
// an error that was never wrapped by this package is classified on the spot.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsCorruption reports whether err means the database file is unusable.
func IsCorruption(err error) bool { return err != nil && KindOf(err) == KindCorruption }

// wrap classifies err and annotates it with op. Already classified errors
// keep their kind.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return &Error{Kind: se.Kind, Op: op, Err: err}
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteKind(sqliteErr)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresKind(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return KindTransient
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindOther
}

func sqliteKind(e sqlite3.Error) Kind {
	switch e.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrProtocol:
		return KindTransient
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return KindCorruption
	case sqlite3.ErrConstraint:
		return KindConstraint
	default:
		return KindOther
	}
}

func postgresKind(code string) Kind {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return KindTransient
	case code == "57P01", code == "57P02", code == "57P03": // admin shutdown, crash shutdown, cannot connect now
		return KindTransient
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return KindTransient
	case strings.HasPrefix(code, "23"):
		return KindConstraint
	case code == "XX001", code == "XX002": // data corrupted, index corrupted
		return KindCorruption
	default:
		return KindOther
	}
}
