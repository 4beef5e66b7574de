package store

import (
	"context"
	"database/sql"
)

// FileLock holds an exclusive lock on a single-file database. While held,
// external processes can copy the file safely.
type FileLock struct {
	conn *sql.Conn
}

// LockExclusive checkpoints the write-ahead log into the main file and
// takes an exclusive lock on it. Server dialects have nothing to lock at
// the process level; they get a nil lock and no error.
//
// The lock occupies the only SQLite connection. The caller must not issue
// other queries until Unlock.
func (d *DB) LockExclusive(ctx context.Context) (*FileLock, error) {
	if d.dialect != DialectSQLite {
		return nil, nil
	}
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, wrap("lock database", err)
	}
	for _, stmt := range []string{"PRAGMA wal_checkpoint(TRUNCATE)", "BEGIN EXCLUSIVE"} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, wrap("lock database", err)
		}
	}
	return &FileLock{conn: conn}, nil
}

// Unlock releases the lock. Safe on a nil lock.
func (l *FileLock) Unlock(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "END")
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return wrap("unlock database", err)
	}
	return wrap("unlock database", closeErr)
}
