package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDialect is returned for connection URLs no adapter handles.
// It is not retryable.
var ErrUnsupportedDialect = errors.New("unsupported database dialect")

// Dialect identifies the SQL backend.
type Dialect int

const (
	// DialectSQLite is an embedded single-file or in-memory store.
	DialectSQLite Dialect = iota + 1
	// DialectPostgres is a server-style store.
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgresql"
	default:
		return "unknown"
	}
}

// Target is a parsed connection URL.
type Target struct {
	Dialect Dialect
	// Path is the database file for file-backed SQLite, empty otherwise.
	Path string
	// Memory is true for in-memory SQLite.
	Memory bool
	// DSN is what the driver receives.
	DSN string
}

// SingleFile reports whether the store lives in one local file that can be
// locked, validated, and moved aside.
func (t Target) SingleFile() bool {
	return t.Dialect == DialectSQLite && !t.Memory
}

// ParseURL maps a connection URL to a Target.
func ParseURL(url string) (Target, error) {
	switch {
	case url == "sqlite://", url == ":memory:", url == "sqlite:///:memory:":
		return Target{Dialect: DialectSQLite, Memory: true, DSN: ":memory:"}, nil
	case strings.HasPrefix(url, "sqlite:///"):
		path := strings.TrimPrefix(url, "sqlite:///")
		if path == "" {
			return Target{}, fmt.Errorf("sqlite url %q has no path", url)
		}
		return Target{
			Dialect: DialectSQLite,
			Path:    path,
			DSN:     "file:" + path + "?_txlock=immediate",
		}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Target{Dialect: DialectPostgres, DSN: url}, nil
	default:
		scheme := url
		if i := strings.Index(url, "://"); i >= 0 {
			scheme = url[:i]
		}
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedDialect, scheme)
	}
}

// rebind rewrites ? placeholders as $n for PostgreSQL. Queries in this
// package never contain a literal question mark.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?,?,..." with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
