package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/infrastructure/resilience"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// Store is a database handle shared by the repositories.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	executor *resilience.Executor
}

// New wraps db. executor may be nil, in which case calls are not retried.
func New(db *sql.DB, dialect Dialect, executor *resilience.Executor) *Store {
	return &Store{db: db, dialect: dialect, executor: executor}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error {
	return s.db.Close()
}

// ParseDSN maps a DATABASE_DSN value to a driver and its data source name.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"):
		return SQLite, dsn, nil
	}
	return "", "", domain.WrapError(domain.ErrInvalidInput, "parse dsn", fmt.Errorf("unsupported database dsn scheme in %q", redact(dsn)))
}

// OpenDB opens and pings the database named by dsn.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", source)
		if err != nil {
			return nil, "", fmt.Errorf("sql open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	case SQLite:
		source, err = sqliteSource(source)
		if err != nil {
			return nil, "", err
		}
		db, err = sql.Open("sqlite", source)
		if err != nil {
			return nil, "", fmt.Errorf("sql open: %w", err)
		}
		// One writer keeps SQLITE_BUSY out of the routing path.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("db ping: %w", err)
	}
	return db, dialect, nil
}

func sqliteSource(source string) (string, error) {
	if source == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse dsn", errors.New("sqlite path is empty"))
	}
	path := strings.TrimPrefix(source, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" && !strings.Contains(source, "mode=memory") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}
	if strings.Contains(source, "?") {
		return source + "&" + sqlitePragmas, nil
	}
	return source + "?" + sqlitePragmas, nil
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

// rebind rewrites ? placeholders into $N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, operation, query string, args ...any) (sql.Result, error) {
	res, err := resilience.Do(ctx, s.executor, operation, func(ctx context.Context) (sql.Result, error) {
		return s.db.ExecContext(ctx, s.rebind(query), args...)
	}, resilience.ClassifySQLError)
	return res, resilience.Temporary(operation, err, resilience.ClassifySQLError)
}

// query runs a multi-row select and hands each open result set to scan.
func (s *Store) query(ctx context.Context, operation, query string, scan func(*sql.Rows) error, args ...any) error {
	_, err := resilience.Do(ctx, s.executor, operation, func(ctx context.Context) (struct{}, error) {
		rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return struct{}{}, err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, rows.Err()
	}, resilience.ClassifySQLError)
	return resilience.Temporary(operation, err, resilience.ClassifySQLError)
}

func (s *Store) queryRow(ctx context.Context, operation, query string, scan func(*sql.Row) error, args ...any) error {
	_, err := resilience.Do(ctx, s.executor, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, scan(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	}, resilience.ClassifySQLError)
	return resilience.Temporary(operation, err, resilience.ClassifySQLError)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := resilience.Do(ctx, s.executor, "db.ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.db.PingContext(ctx)
	}, resilience.ClassifySQLError)
	if err != nil {
		return resilience.Temporary("db.ping", err, resilience.ClassifySQLError)
	}
	return nil
}
