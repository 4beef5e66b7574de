package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// sqliteDriverName is go-sqlite3 registered with the recorder's connect hook.
const sqliteDriverName = "sqlite3_recorder"

// Pool sizing for server dialects. Connections are recycled so a failover
// on the server side is picked up without a restart.
const (
	serverMaxOpenConns    = 5
	serverConnMaxLifetime = 30 * time.Minute
)

var registerSQLite sync.Once

// sqlitePragmas run on every new SQLite connection.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// DB is an open recorder database.
//
// The engine goroutine is the only writer. Read helpers may be used from
// other goroutines; database/sql serializes them on the single SQLite
// connection.
type DB struct {
	db      *sql.DB
	target  Target
	dialect Dialect

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Open connects to the database named by url and verifies the connection.
// It does not touch the schema; see Validate and Migrate.
func Open(ctx context.Context, url string) (*DB, error) {
	target, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch target.Dialect {
	case DialectSQLite:
		db, err = openSQLite(target)
	case DialectPostgres:
		db, err = openPostgres(target)
	}
	if err != nil {
		return nil, wrap("open database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrap("connect to database", err)
	}

	return &DB{
		db:      db,
		target:  target,
		dialect: target.Dialect,
		stmts:   make(map[string]*sql.Stmt),
	}, nil
}

func openSQLite(target Target) (*sql.DB, error) {
	registerSQLite.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				for _, pragma := range sqlitePragmas {
					if _, err := conn.Exec(pragma, nil); err != nil {
						return fmt.Errorf("failed to execute %q: %w", pragma, err)
					}
				}
				return nil
			},
		})
	})

	db, err := sql.Open(sqliteDriverName, target.DSN)
	if err != nil {
		return nil, err
	}
	// SQLite supports a single writer, and an in-memory database exists only
	// as long as its one connection does.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func openPostgres(target Target) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(target.DSN)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*cfg, stdlib.OptionAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}))
	db.SetMaxOpenConns(serverMaxOpenConns)
	db.SetMaxIdleConns(serverMaxOpenConns)
	db.SetConnMaxLifetime(serverConnMaxLifetime)
	return db, nil
}

// Close releases cached statements and the connection pool.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	d.ExpireStatements()
	return d.db.Close()
}

// SQL returns the underlying pool for collaborators that run their own
// queries, such as statistics compilers.
func (d *DB) SQL() *sql.DB { return d.db }

// Dialect returns the backend dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Target returns the parsed connection URL.
func (d *DB) Target() Target { return d.target }

// KeepAlive issues a trivial query so idle server connections are not
// dropped by intermediaries.
func (d *DB) KeepAlive(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "SELECT 1")
	return wrap("keep alive", err)
}

// ExpireStatements closes every cached prepared statement. They are
// re-prepared on next use, which revalidates them against the current
// schema and connection.
func (d *DB) ExpireStatements() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for q, stmt := range d.stmts {
		stmt.Close()
		delete(d.stmts, q)
	}
}

// CachedStatements returns the number of prepared statements held.
func (d *DB) CachedStatements() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stmts)
}

// stmt returns a prepared statement for query, preparing it on first use.
func (d *DB) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stmts[query]; ok {
		return s, nil
	}
	s, err := d.db.PrepareContext(ctx, d.rebind(query))
	if err != nil {
		return nil, err
	}
	d.stmts[query] = s
	return s, nil
}

func (d *DB) rebind(query string) string { return rebind(d.dialect, query) }

// exec runs a statement outside any explicit transaction.
func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

// inTx runs fn inside one transaction, committing when fn returns nil.
func (d *DB) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op+": begin", err)
	}
	defer tx.Rollback() // No-op after commit

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(op+": commit", err)
	}
	return nil
}

// queryInts runs a query returning one integer column.
func queryInts(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// int64Args converts ids into query arguments.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
