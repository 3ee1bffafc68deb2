// Package sqlite provides a SQLite-backed BalanceStore for single-node
// deployments. It uses the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/ineyio/creditledger"
)

const accountColumns = `user_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, version, created_at, updated_at`

// Store is a SQLite-backed BalanceStore and UsageRecorder.
// Timestamps are stored as Unix nanoseconds.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ creditledger.BalanceStore  = (*Store)(nil)
	_ creditledger.UsageRecorder = (*Store)(nil)
	_ creditledger.UsageReader   = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creditledger/sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: open: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creditledger/sqlite: connect: %w", err)
	}
	if err := s.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("creditledger/sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	queries := []string{`
	CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		daily_used INTEGER NOT NULL DEFAULT 0,
		monthly_used INTEGER NOT NULL DEFAULT 0,
		last_daily_reset INTEGER NOT NULL,
		last_monthly_reset INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS credit_usage (
		user_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER NOT NULL,
		PRIMARY KEY (user_id, service_type)
	)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("creditledger/sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// Load returns the account of userID.
func (s *Store) Load(ctx context.Context, userID string) (creditledger.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/sqlite: load: %w", err)
	}
	return a, nil
}

// CreateIfAbsent inserts initial unless the user already has an account.
func (s *Store) CreateIfAbsent(ctx context.Context, initial creditledger.Account) (creditledger.Account, bool, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO credit_accounts (`+accountColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT (user_id) DO NOTHING`,
		initial.UserID, initial.Balance, initial.DailyUsed, initial.MonthlyUsed,
		initial.LastDailyReset.UnixNano(), initial.LastMonthlyReset.UnixNano(),
		initial.CreatedAt.UnixNano(), initial.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return creditledger.Account{}, false, fmt.Errorf("creditledger/sqlite: create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return creditledger.Account{}, false, fmt.Errorf("creditledger/sqlite: create: %w", err)
	}

	stored, err := s.Load(ctx, initial.UserID)
	if err != nil {
		return creditledger.Account{}, false, err
	}
	return stored, n == 1, nil
}

// ConditionedWrite replaces the account if its version is expectedVersion.
func (s *Store) ConditionedWrite(ctx context.Context, expectedVersion int64, next creditledger.Account) (creditledger.Account, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE credit_accounts
	SET balance = ?, daily_used = ?, monthly_used = ?,
		last_daily_reset = ?, last_monthly_reset = ?,
		updated_at = ?, version = version + 1
	WHERE user_id = ? AND version = ?`,
		next.Balance, next.DailyUsed, next.MonthlyUsed,
		next.LastDailyReset.UnixNano(), next.LastMonthlyReset.UnixNano(),
		next.UpdatedAt.UnixNano(), next.UserID, expectedVersion,
	)
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/sqlite: write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/sqlite: write: %w", err)
	}

	if n == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM credit_accounts WHERE user_id = ?)`, next.UserID,
		).Scan(&exists)
		if err != nil {
			return creditledger.Account{}, fmt.Errorf("creditledger/sqlite: check exists: %w", err)
		}
		if !exists {
			return creditledger.Account{}, creditledger.ErrAccountNotFound
		}
		return creditledger.Account{}, creditledger.ErrConflict
	}

	next.Version = expectedVersion + 1
	return next, nil
}

// RecordUsage increments the invocation counter of (userID, serviceType).
func (s *Store) RecordUsage(ctx context.Context, userID, serviceType string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO credit_usage (user_id, service_type, count, last_used)
	VALUES (?, ?, 1, ?)
	ON CONFLICT (user_id, service_type) DO UPDATE SET
		count = count + 1,
		last_used = MAX(last_used, excluded.last_used)`,
		userID, serviceType, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: record usage: %w", err)
	}
	return nil
}

// UsageStats lists the counters of userID ordered by service type.
func (s *Store) UsageStats(ctx context.Context, userID string) ([]creditledger.UsageStat, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT user_id, service_type, count, last_used
	FROM credit_usage
	WHERE user_id = ?
	ORDER BY service_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: usage stats: %w", err)
	}
	defer rows.Close()

	var stats []creditledger.UsageStat
	for rows.Next() {
		var (
			st       creditledger.UsageStat
			lastUsed int64
		)
		if err := rows.Scan(&st.UserID, &st.ServiceType, &st.Count, &lastUsed); err != nil {
			return nil, fmt.Errorf("creditledger/sqlite: usage stats: %w", err)
		}
		st.LastUsed = time.Unix(0, lastUsed).UTC()
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: usage stats: %w", err)
	}
	return stats, nil
}

func scanAccount(row *sql.Row) (creditledger.Account, error) {
	var (
		a                                     creditledger.Account
		dailyReset, monthlyReset, created, up int64
	)
	err := row.Scan(
		&a.UserID, &a.Balance, &a.DailyUsed, &a.MonthlyUsed,
		&dailyReset, &monthlyReset, &a.Version, &created, &up,
	)
	if err != nil {
		return creditledger.Account{}, err
	}
	a.LastDailyReset = time.Unix(0, dailyReset).UTC()
	a.LastMonthlyReset = time.Unix(0, monthlyReset).UTC()
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, up).UTC()
	return a, nil
}
