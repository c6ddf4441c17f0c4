package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// FindListing returns the listing at key, or nil if none exists.
func (s *Store) FindListing(ctx context.Context, key domain.ItemKey) (*domain.Listing, error) {
	l, err := scanListing(s.db.QueryRow(ctx,
		`SELECT name, price, seller, quantity, to_acknowledge, version
		   FROM listings WHERE name = $1 AND price = $2`,
		key.Name, key.Price))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing lookup failed: %w", err)
	}
	return l, nil
}

// UpsertListing adds deltaQuantity to the listing at key, creating it when
// absent. An existing listing owned by a different seller rejects with
// ErrListingOwnershipConflict. Returns the resulting listing.
func (s *Store) UpsertListing(ctx context.Context, key domain.ItemKey, seller string, deltaQuantity int64) (*domain.Listing, error) {
	var result *domain.Listing

	err := s.retryVersioned(ctx, func(tx pgx.Tx) error {
		cur, err := scanListing(tx.QueryRow(ctx,
			`SELECT name, price, seller, quantity, to_acknowledge, version
			   FROM listings WHERE name = $1 AND price = $2`,
			key.Name, key.Price))

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err := tx.Exec(ctx,
				`INSERT INTO listings (name, price, seller, quantity, to_acknowledge, version)
				 VALUES ($1, $2, $3, $4, 0, 1)`,
				key.Name, key.Price, seller, deltaQuantity)
			if isUniqueViolation(err) {
				// Another seller slipped in between our read and insert.
				return errVersionConflict
			}
			if err != nil {
				return fmt.Errorf("listing insert failed: %w", err)
			}
			result = &domain.Listing{ItemKey: key, Seller: seller, Quantity: deltaQuantity, Version: 1}
			return nil

		case err != nil:
			return fmt.Errorf("listing lookup failed: %w", err)
		}

		if cur.Seller != seller {
			return domain.ErrListingOwnershipConflict
		}

		tag, err := tx.Exec(ctx,
			`UPDATE listings SET quantity = $1, version = version + 1
			  WHERE name = $2 AND price = $3 AND version = $4`,
			cur.Quantity+deltaQuantity, key.Name, key.Price, cur.Version)
		if err != nil {
			return fmt.Errorf("listing update failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errVersionConflict
		}
		result = &domain.Listing{
			ItemKey:       key,
			Seller:        cur.Seller,
			Quantity:      cur.Quantity + deltaQuantity,
			ToAcknowledge: cur.ToAcknowledge,
			Version:       cur.Version + 1,
		}
		return nil
	})

	if errors.Is(err, errVersionConflict) {
		return nil, domain.ErrConcurrentModification
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompletePurchase records a finished trade in one transaction: the listing
// shrinks by quantity (deleted when it reaches zero), the buyer and seller
// counters advance, and an offline seller's acknowledgement is banked either
// on the surviving listing row or in the seller ledger.
func (s *Store) CompletePurchase(ctx context.Context, key domain.ItemKey, buyer, seller string, quantity int64, sellerOnline bool) error {
	err := s.retryVersioned(ctx, func(tx pgx.Tx) error {
		cur, err := scanListing(tx.QueryRow(ctx,
			`SELECT name, price, seller, quantity, to_acknowledge, version
			   FROM listings WHERE name = $1 AND price = $2`,
			key.Name, key.Price))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotListed
		}
		if err != nil {
			return fmt.Errorf("listing lookup failed: %w", err)
		}
		if cur.Quantity < quantity {
			return domain.ErrInsufficientStock
		}

		if cur.Quantity == quantity {
			tag, err := tx.Exec(ctx,
				"DELETE FROM listings WHERE name = $1 AND price = $2 AND version = $3",
				key.Name, key.Price, cur.Version)
			if err != nil {
				return fmt.Errorf("listing delete failed: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return errVersionConflict
			}
			// The row the acknowledgement would live on is gone; park any
			// outstanding count plus this sale in the seller ledger.
			if !sellerOnline || cur.ToAcknowledge > 0 {
				pending := cur.ToAcknowledge
				if !sellerOnline {
					pending += quantity
				}
				if err := recordAckTx(ctx, tx, seller, pending); err != nil {
					return err
				}
			}
		} else {
			ack := cur.ToAcknowledge
			if !sellerOnline {
				ack += quantity
			}
			tag, err := tx.Exec(ctx,
				`UPDATE listings SET quantity = $1, to_acknowledge = $2, version = version + 1
				  WHERE name = $3 AND price = $4 AND version = $5`,
				cur.Quantity-quantity, ack, key.Name, key.Price, cur.Version)
			if err != nil {
				return fmt.Errorf("listing update failed: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return errVersionConflict
			}
		}

		if _, err := tx.Exec(ctx,
			"UPDATE users SET total_bought = total_bought + $1 WHERE username = $2",
			quantity, buyer); err != nil {
			return fmt.Errorf("buyer counter update failed: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE users SET total_sold = total_sold + $1 WHERE username = $2",
			quantity, seller); err != nil {
			return fmt.Errorf("seller counter update failed: %w", err)
		}
		return nil
	})

	if errors.Is(err, errVersionConflict) {
		return domain.ErrConcurrentModification
	}
	return err
}

// ActiveListings returns a snapshot of every listing, ordered by
// (name, price) ascending. Read-committed; not isolated from writers.
func (s *Store) ActiveListings(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, price, seller, quantity, to_acknowledge, version
		   FROM listings WHERE quantity > 0 ORDER BY name, price`)
	if err != nil {
		return nil, fmt.Errorf("listing scan failed: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("listing scan failed: %w", err)
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// RecordPendingAck banks quantity sold units the seller has not been told
// about yet. Used when delivery to a live-looking seller fails after the
// trade has already committed.
func (s *Store) RecordPendingAck(ctx context.Context, seller string, quantity int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return recordAckTx(ctx, tx, seller, quantity)
	})
}

func recordAckTx(ctx context.Context, tx pgx.Tx, seller string, quantity int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO seller_acks (seller, pending) VALUES ($1, $2)
		 ON CONFLICT (seller) DO UPDATE SET pending = seller_acks.pending + EXCLUDED.pending`,
		seller, quantity)
	if err != nil {
		return fmt.Errorf("ack ledger update failed: %w", err)
	}
	return nil
}

// CollectPendingAcks drains everything the seller has not been notified
// about: to_acknowledge on their surviving listings plus the seller ledger,
// reset to zero in the same transaction. Returns the total sold quantity.
func (s *Store) CollectPendingAcks(ctx context.Context, seller string) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		total = 0
		rows, err := tx.Query(ctx,
			`SELECT to_acknowledge FROM listings
			  WHERE seller = $1 AND to_acknowledge > 0 FOR UPDATE`, seller)
		if err != nil {
			return fmt.Errorf("ack scan failed: %w", err)
		}
		for rows.Next() {
			var n int64
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return fmt.Errorf("ack scan failed: %w", err)
			}
			total += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("ack scan failed: %w", err)
		}

		if total > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE listings SET to_acknowledge = 0, version = version + 1
				  WHERE seller = $1 AND to_acknowledge > 0`, seller); err != nil {
				return fmt.Errorf("ack reset failed: %w", err)
			}
		}

		var parked int64
		err = tx.QueryRow(ctx,
			"DELETE FROM seller_acks WHERE seller = $1 RETURNING pending", seller).Scan(&parked)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ack ledger drain failed: %w", err)
		}
		total += parked
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(&l.Name, &l.Price, &l.Seller, &l.Quantity, &l.ToAcknowledge, &l.Version)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
