// Package postgres provides a PostgreSQL-backed BalanceStore for creditledger.
//
// Accounts live in one row each. Writes are conditioned on the row version in a
// single UPDATE, which makes them safe for multi-instance deployments. The
// schema is managed by goose migrations embedded in the package.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ineyio/creditledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const accountColumns = `user_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, version, created_at, updated_at`

// Store is a PostgreSQL-backed BalanceStore and UsageRecorder.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var (
	_ creditledger.BalanceStore  = (*Store)(nil)
	_ creditledger.UsageRecorder = (*Store)(nil)
	_ creditledger.UsageReader   = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithQueryTimeout bounds every statement issued by the store (default 5s).
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New creates a new PostgreSQL-backed store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn and applies the migrations.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("creditledger/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creditledger/postgres: connect: %w", err)
	}
	s := New(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("creditledger/postgres: migrate: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("creditledger/postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Load returns the account of userID.
func (s *Store) Load(ctx context.Context, userID string) (creditledger.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`,
		userID,
	)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/postgres: load: %w", err)
	}
	return a, nil
}

// CreateIfAbsent inserts initial unless the user already has an account.
func (s *Store) CreateIfAbsent(ctx context.Context, initial creditledger.Account) (creditledger.Account, bool, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(qctx, `
INSERT INTO credit_accounts (user_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
ON CONFLICT (user_id) DO NOTHING
RETURNING `+accountColumns,
		initial.UserID, initial.Balance, initial.DailyUsed, initial.MonthlyUsed,
		initial.LastDailyReset, initial.LastMonthlyReset, initial.CreatedAt, initial.UpdatedAt,
	)
	a, err := scanAccount(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return creditledger.Account{}, false, fmt.Errorf("creditledger/postgres: create: %w", err)
	}

	existing, err := s.Load(ctx, initial.UserID)
	if err != nil {
		return creditledger.Account{}, false, err
	}
	return existing, false, nil
}

// ConditionedWrite replaces the account if its version is expectedVersion.
func (s *Store) ConditionedWrite(ctx context.Context, expectedVersion int64, next creditledger.Account) (creditledger.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE credit_accounts
SET balance = $3,
    daily_used = $4,
    monthly_used = $5,
    last_daily_reset = $6,
    last_monthly_reset = $7,
    updated_at = $8,
    version = version + 1
WHERE user_id = $1 AND version = $2
RETURNING `+accountColumns,
		next.UserID, expectedVersion, next.Balance, next.DailyUsed, next.MonthlyUsed,
		next.LastDailyReset, next.LastMonthlyReset, next.UpdatedAt,
	)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM credit_accounts WHERE user_id = $1)`,
			next.UserID,
		).Scan(&exists)
		if err != nil {
			return creditledger.Account{}, fmt.Errorf("creditledger/postgres: check exists: %w", err)
		}
		if !exists {
			return creditledger.Account{}, creditledger.ErrAccountNotFound
		}
		return creditledger.Account{}, creditledger.ErrConflict
	}
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/postgres: write: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/postgres: commit: %w", err)
	}
	return a, nil
}

// Delete removes the account and usage rows of userID in one transaction.
func (s *Store) Delete(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM credit_usage WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM credit_accounts WHERE user_id = $1`, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("creditledger/postgres: delete: %w", err)
	}
	return nil
}

// RecordUsage increments the invocation counter of (userID, serviceType).
func (s *Store) RecordUsage(ctx context.Context, userID, serviceType string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO credit_usage (user_id, service_type, count, last_used)
VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id, service_type) DO UPDATE SET
  count = credit_usage.count + 1,
  last_used = GREATEST(credit_usage.last_used, EXCLUDED.last_used)
`, userID, serviceType, at)
	if err != nil {
		return fmt.Errorf("creditledger/postgres: record usage: %w", err)
	}
	return nil
}

// UsageStats lists the counters of userID ordered by service type.
func (s *Store) UsageStats(ctx context.Context, userID string) ([]creditledger.UsageStat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT user_id, service_type, count, last_used
FROM credit_usage
WHERE user_id = $1
ORDER BY service_type
`, userID)
	if err != nil {
		return nil, fmt.Errorf("creditledger/postgres: usage stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (creditledger.UsageStat, error) {
		var st creditledger.UsageStat
		err := row.Scan(&st.UserID, &st.ServiceType, &st.Count, &st.LastUsed)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("creditledger/postgres: usage stats: %w", err)
	}
	return stats, nil
}

func scanAccount(row pgx.Row) (creditledger.Account, error) {
	var a creditledger.Account
	err := row.Scan(
		&a.UserID, &a.Balance, &a.DailyUsed, &a.MonthlyUsed,
		&a.LastDailyReset, &a.LastMonthlyReset, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
