package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// errVersionConflict marks a lost optimistic-versioning race inside a single
// transaction attempt. It never leaves this package: the retry loop either
// absorbs it or converts it to domain.ErrConcurrentModification.
var errVersionConflict = errors.New("listing version conflict")

const uniqueViolation = "23505"

// Store is the durable side of the market: user records, listings and the
// per-seller acknowledgement ledger, all in PostgreSQL. Listing rows carry a
// version column; every read-modify-write is guarded by it.
type Store struct {
	db         *pgxpool.Pool
	maxRetries int
	log        *zap.Logger
}

func New(ctx context.Context, connString string, maxRetries int, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Store{db: pool, maxRetries: maxRetries, log: log}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// retryVersioned reruns fn while it loses optimistic-versioning races, up to
// the configured bound.
func (s *Store) retryVersioned(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.withTx(ctx, fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		s.log.Debug("version conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// RecordAudit writes a durable marker for a fatal consistency error (funds
// moved but the trade could not be recorded, or the reverse). There is no
// automatic compensation; the row exists so the condition is detectable.
func (s *Store) RecordAudit(ctx context.Context, kind, detail string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO audit_log (at, kind, detail) VALUES ($1, $2, $3)",
		time.Now().UTC(), kind, detail)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}
