package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// CreateUser persists a new user record with zeroed trade counters.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (username, password_hash, total_bought, total_sold)
		 VALUES ($1, $2, 0, 0)`, username, passwordHash)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyRegistered
	}
	if err != nil {
		return fmt.Errorf("user insert failed: %w", err)
	}
	return nil
}

// GetUser retrieves a user record, rejecting with ErrNotRegistered when the
// trader does not exist.
func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserRecord, error) {
	var u domain.UserRecord
	err := s.db.QueryRow(ctx,
		`SELECT username, password_hash, total_bought, total_sold
		   FROM users WHERE username = $1`, username).
		Scan(&u.Username, &u.PasswordHash, &u.TotalBought, &u.TotalSold)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return &u, nil
}

// PurgeTrader removes everything the trader owns durably, in one
// transaction: their listings, their acknowledgement ledger and the user
// record itself.
func (s *Store) PurgeTrader(ctx context.Context, username string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"DELETE FROM listings WHERE seller = $1", username); err != nil {
			return fmt.Errorf("listing purge failed: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM seller_acks WHERE seller = $1", username); err != nil {
			return fmt.Errorf("ack ledger purge failed: %w", err)
		}
		tag, err := tx.Exec(ctx,
			"DELETE FROM users WHERE username = $1", username)
		if err != nil {
			return fmt.Errorf("user delete failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotRegistered
		}
		return nil
	})
}
