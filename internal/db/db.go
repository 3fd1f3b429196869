package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect is the SQL flavour of the host database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
)

func init() {
	sqlx.BindDriver(string(SQLite), sqlx.QUESTION)
}

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case Postgres, SQLite, MySQL:
		return d, nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", s)
}

type DB struct {
	conn       *sqlx.DB
	dialect    Dialect
	dsn        string
	log        *zap.Logger
	maxRetries uint64
}

// Connect opens and pings the database.
func Connect(dialect Dialect, dsn string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn = normalizeDSN(dialect, dsn)

	conn, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if dialect == SQLite {
		// One writer at a time; readers wait on busy_timeout.
		conn.SetMaxOpenConns(1)
	}
	log.Info("connected to database", zap.String("dialect", string(dialect)))
	return &DB{conn: conn, dialect: dialect, dsn: dsn, log: log, maxRetries: 4}, nil
}

func normalizeDSN(dialect Dialect, dsn string) string {
	switch dialect {
	case SQLite:
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	case MySQL:
		if cfg, err := mysql.ParseDSN(dsn); err == nil {
			// Migration files hold several statements.
			cfg.MultiStatements = true
			dsn = cfg.FormatDSN()
		}
	}
	return dsn
}

// SetMaxConns caps the pool size. SQLite always uses a single connection.
func (d *DB) SetMaxConns(n int) {
	if n > 0 && d.dialect != SQLite {
		d.conn.SetMaxOpenConns(n)
		d.conn.SetMaxIdleConns(n)
	}
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// Migrate applies the embedded migrations for the dialect. It uses its own
// connection because the migrator closes the one it is given.
func (d *DB) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	conn, err := sql.Open(string(d.dialect), d.dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}

	var driver database.Driver
	switch d.dialect {
	case Postgres:
		driver, err = migratepg.WithInstance(conn, &migratepg.Config{})
	case MySQL:
		driver, err = migratemysql.WithInstance(conn, &migratemysql.Config{})
	case SQLite:
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %q", d.dialect)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d.dialect), driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", from)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	to, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading migration version: %w", err)
	}
	d.log.Info("migrations applied", zap.Uint("from_version", from), zap.Uint("to_version", to))
	return nil
}

// isTransient reports whether a write failed on a lock or serialization
// conflict and may succeed when retried.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// retry runs fn until it succeeds, fails permanently or the retry budget is
// spent.
func (d *DB) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries), ctx)
	return backoff.RetryNotify(
		func() error {
			err := fn()
			if err != nil && !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, wait time.Duration) {
			d.log.Warn("retrying database write",
				zap.String("op", op),
				zap.Error(err),
				zap.Duration("backoff", wait))
		},
	)
}

// quote quotes an identifier that may be a reserved word.
func (d *DB) quote(ident string) string {
	if d.dialect == MySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}
