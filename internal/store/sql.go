package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLStore implements Store over sqlx for SQLite and Postgres.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
	flavor  sqlbuilder.Flavor
	clock   func() time.Time
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithClock overrides the store clock.
func WithClock(clock func() time.Time) Option {
	return func(s *SQLStore) { s.clock = clock }
}

// Open connects to the catalog. driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(ctx, dsn, opts...)
	case "postgres":
		return NewPostgres(ctx, dsn, opts...)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; transactions must never wait on a second connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return newSQLStore(db, "sqlite", sqlbuilder.SQLite, opts), nil
}

// NewPostgres connects to Postgres through the pgx stdlib driver.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(db, "postgres", sqlbuilder.PostgreSQL, opts), nil
}

func newSQLStore(db *sqlx.DB, dialect string, flavor sqlbuilder.Flavor, opts []Option) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect, flavor: flavor, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and maintenance commands.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) now() time.Time {
	return now(s.clock)
}

// q rebinds a "?"-placeholder query for the active driver.
func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: begin tx", s.dialect)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "%s: commit", s.dialect)
	}
	return nil
}

func (s *SQLStore) wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(err, s.dialect+": "+msg)
}

func (s *SQLStore) wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(err, s.dialect+": "+format, args...)
}

// checkRowsAffected returns ErrDealNotFound if no rows were affected.
func checkRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrDealNotFound, "deal %d", id)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
