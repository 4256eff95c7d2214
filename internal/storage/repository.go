package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pearl-sniper/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAttemptSQL = `INSERT INTO purchase_attempts (
        attempted_at,
        main_category,
        sub_category,
        item_id,
        sub_id,
        name,
        unit_price,
        quantity,
        outcome,
        remote_code,
        remote_message
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	listAttemptsSinceSQL = `SELECT
        attempted_at,
        main_category,
        sub_category,
        item_id,
        sub_id,
        name,
        unit_price,
        quantity,
        outcome,
        remote_code,
        remote_message
    FROM purchase_attempts
    WHERE attempted_at >= $1
    ORDER BY attempted_at;`

	listRecentAttemptsSQL = `SELECT
        attempted_at,
        main_category,
        sub_category,
        item_id,
        sub_id,
        name,
        unit_price,
        quantity,
        outcome,
        remote_code,
        remote_message
    FROM purchase_attempts
    ORDER BY attempted_at DESC
    LIMIT $1;`

	countAttemptsSQL = `SELECT COUNT(*) FROM purchase_attempts;`

	deleteAttemptsBeforeSQL = `DELETE FROM purchase_attempts WHERE attempted_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AttemptStore defines operations for purchase-attempt persistence. The
// database mirrors the in-memory attempt log so rate-limit and cooldown
// accounting can survive a restart.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, record market.AttemptRecord) error
	ListAttemptsSince(ctx context.Context, since time.Time) ([]market.AttemptRecord, error)
	ListRecentAttempts(ctx context.Context, limit int) ([]market.AttemptRecord, error)
	CountAttempts(ctx context.Context) (int64, error)
	DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers. The run loop takes a lock so
// two runners never purchase against the same account concurrently.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the purchase attempt table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the lock is released when the session ends.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAttempt persists one attempt record.
func (s *Store) InsertAttempt(ctx context.Context, record market.AttemptRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertAttemptSQL,
		record.AttemptedAt,
		record.Key.Partition.Main,
		record.Key.Partition.Sub,
		record.Key.ItemID,
		record.Key.SubID,
		record.Name,
		record.UnitPrice,
		record.Quantity,
		string(record.Outcome),
		record.RemoteCode,
		record.RemoteMessage,
	)
	if execErr != nil {
		return fmt.Errorf("insert attempt: %w", execErr)
	}
	return nil
}

// ListAttemptsSince lists attempts at or after a timestamp, oldest first.
func (s *Store) ListAttemptsSince(ctx context.Context, since time.Time) ([]market.AttemptRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAttemptsSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list attempts since: %w", queryErr)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// ListRecentAttempts lists the most recent attempts, newest first.
func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]market.AttemptRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// CountAttempts counts stored attempts.
func (s *Store) CountAttempts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAttemptsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count attempts: %w", scanErr)
	}
	return count, nil
}

// DeleteAttemptsBefore deletes historical attempts.
func (s *Store) DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAttemptsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete attempts before: %w", execErr)
	}
	return nil
}

func collectAttempts(rows pgx.Rows) ([]market.AttemptRecord, error) {
	records := make([]market.AttemptRecord, 0)
	for rows.Next() {
		record, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanAttempt(rows pgx.Rows) (market.AttemptRecord, error) {
	var (
		record  market.AttemptRecord
		outcome string
	)

	if err := rows.Scan(
		&record.AttemptedAt,
		&record.Key.Partition.Main,
		&record.Key.Partition.Sub,
		&record.Key.ItemID,
		&record.Key.SubID,
		&record.Name,
		&record.UnitPrice,
		&record.Quantity,
		&outcome,
		&record.RemoteCode,
		&record.RemoteMessage,
	); err != nil {
		return market.AttemptRecord{}, fmt.Errorf("scan attempt: %w", err)
	}

	record.Outcome = market.Outcome(outcome)
	return record, nil
}
