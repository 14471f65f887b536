// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C toolchain, and the
// whole database is a single file next to the binary.
//
// CONNECTION SETTINGS:
// Pragmas are passed in the DSN instead of being executed once, because
// database/sql opens several connections and each one needs them:
//   - foreign_keys(1)     enables ON DELETE CASCADE from users to accounts
//   - busy_timeout(5000)  waits for a competing writer instead of failing
//   - journal_mode(WAL)   readers do not block the writer
//   - _txlock=immediate   transactions take the write lock at BEGIN, so a
//     read-then-write transaction cannot deadlock against another one
//
// MIGRATIONS:
// Schema changes live in migrations/*.sql and are applied by goose, which
// records the applied versions in goose_db_version.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/sellerhub/internal/dbx"
	"github.com/sakif/sellerhub/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dsnParams = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate&_time_format=sqlite"

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// DB owns the connection pool and vends repositories bound either to the
// pool or to a transaction.
type DB struct {
	conn *sql.DB
	q    dbx.DBTX
}

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/sellerhub.db"  → file-based database
//   - ":memory:"           → in-memory database on a single connection
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	dsn := "file:" + dbPath + "?" + dsnParams
	memory := dbPath == ":memory:"
	if memory {
		dsn = "file::memory:?" + dsnParams
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		// Every new connection to ":memory:" is a separate empty database.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if err := migrate(context.Background(), conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn, q: conn}, nil
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, conn, "migrations")
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() repository.UserRepository {
	return &UserDB{q: db.q}
}

func (db *DB) Accounts() repository.AccountRepository {
	return &AccountDB{q: db.q}
}

func (db *DB) Snapshots() repository.SnapshotRepository {
	return &SnapshotDB{q: db.q}
}

// WithTx runs fn inside one transaction. Nested calls reuse the outer
// transaction.
func (db *DB) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return dbx.WithTx(ctx, db.q, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&DB{conn: db.conn, q: tx})
	})
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Debug("migration", slog.String("message", fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if l.logger != nil {
		l.logger.Error("migration failed", slog.String("message", msg))
	}
	panic(msg)
}
