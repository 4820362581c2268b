package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	sqliteBusyTimeoutMS = 5000
	pqUniqueViolation   = "23505"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// SQLStore keeps subscribers in SQLite or Postgres.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens the database, applies pending migrations and pings it.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var migrationsDir string
	var dialect goose.Dialect
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
		migrationsDir = "migrations/sqlite"
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		migrationsDir = "migrations/postgres"
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, db.DB, dialect, migrationsDir); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Subscriber database ready", "driver", driver)
	return &SQLStore{db: db}, nil
}

// sqliteDSN makes every transaction take the write lock on BEGIN so the
// read-then-write in AddOrReactivate is serialised across connections.
func sqliteDSN(dsn string) string {
	params := []string{"_txlock=immediate", fmt.Sprintf("_busy_timeout=%d", sqliteBusyTimeoutMS)}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// runMigrations uses a goose Provider so stores opened concurrently, or on
// different dialects, share no package-level state.
func runMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrations dir %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(results) > 0 {
		slog.Debug("Applied subscriber migrations", "count", len(results))
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) AddOrReactivate(ctx context.Context, email string) (models.SubscribeStatus, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.StatusError, fmt.Errorf("begin subscribe: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.GetContext(ctx, &active, tx.Rebind(`SELECT is_active FROM subscribers WHERE email = ?`), email)

	var result models.SubscribeStatus
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO subscribers (email, is_active) VALUES (?, ?)`), email, true)
		if err != nil {
			if isUniqueViolation(err) {
				return models.StatusError, fmt.Errorf("insert subscriber %s: %w", email, ErrSubscriberExists)
			}
			return models.StatusError, fmt.Errorf("insert subscriber: %w", err)
		}
		result = models.StatusNew
	case err != nil:
		return models.StatusError, fmt.Errorf("lookup subscriber: %w", err)
	case active:
		return models.StatusAlreadyActive, nil
	default:
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE subscribers SET is_active = ? WHERE email = ?`), true, email)
		if err != nil {
			return models.StatusError, fmt.Errorf("reactivate subscriber: %w", err)
		}
		result = models.StatusReactivated
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return models.StatusError, fmt.Errorf("commit subscriber %s: %w", email, ErrSubscriberExists)
		}
		return models.StatusError, fmt.Errorf("commit subscribe: %w", err)
	}
	return result, nil
}

func (s *SQLStore) Deactivate(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE subscribers SET is_active = ? WHERE email = ?`), false, email)
	if err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	return nil
}

func (s *SQLStore) ListActive(ctx context.Context) ([]string, error) {
	return s.listByState(ctx, true)
}

func (s *SQLStore) ListInactive(ctx context.Context) ([]string, error) {
	return s.listByState(ctx, false)
}

func (s *SQLStore) listByState(ctx context.Context, active bool) ([]string, error) {
	emails := []string{}
	err := s.db.SelectContext(ctx, &emails, s.db.Rebind(`SELECT email FROM subscribers WHERE is_active = ? ORDER BY id`), active)
	if err != nil {
		return nil, fmt.Errorf("list subscribers (active=%t): %w", active, err)
	}
	return emails, nil
}

func (s *SQLStore) ListSubscribers(ctx context.Context, active bool) ([]models.Subscriber, error) {
	subs := []models.Subscriber{}
	err := s.db.SelectContext(ctx, &subs, s.db.Rebind(`SELECT id, email, subscribed_at, is_active FROM subscribers WHERE is_active = ? ORDER BY id`), active)
	if err != nil {
		return nil, fmt.Errorf("list subscriber rows (active=%t): %w", active, err)
	}
	return subs, nil
}

func (s *SQLStore) Get(ctx context.Context, email string) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.GetContext(ctx, &sub, s.db.Rebind(`SELECT id, email, subscribed_at, is_active FROM subscribers WHERE email = ?`), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &sub, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
