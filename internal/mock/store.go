// Package mock provides in-memory doubles for the store, the bank and the
// session handle, used by service and API tests.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Store is an in-memory implementation of the coordinator's store contract
// (and of notify.AckLedger) with the same semantics as the pgx store.
type Store struct {
	mu       sync.Mutex
	users    map[string]*domain.UserRecord
	listings []*domain.Listing
	acks     map[string]int64
	audits   []string

	// FailCompletePurchase, when set, is returned by CompletePurchase.
	FailCompletePurchase error
}

func NewStore() *Store {
	return &Store{
		users: make(map[string]*domain.UserRecord),
		acks:  make(map[string]int64),
	}
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return domain.ErrAlreadyRegistered
	}
	s.users[username] = &domain.UserRecord{Username: username, PasswordHash: passwordHash}
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, domain.ErrNotRegistered
	}
	cp := *u
	return &cp, nil
}

func (s *Store) PurgeTrader(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return domain.ErrNotRegistered
	}
	kept := s.listings[:0]
	for _, l := range s.listings {
		if l.Seller != username {
			kept = append(kept, l)
		}
	}
	s.listings = kept
	delete(s.acks, username)
	delete(s.users, username)
	return nil
}

func (s *Store) find(key domain.ItemKey) *domain.Listing {
	for _, l := range s.listings {
		if l.ItemKey.Equal(key) {
			return l
		}
	}
	return nil
}

func (s *Store) FindListing(_ context.Context, key domain.ItemKey) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.find(key)
	if l == nil {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *Store) UpsertListing(_ context.Context, key domain.ItemKey, seller string, deltaQuantity int64) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.find(key); l != nil {
		if l.Seller != seller {
			return nil, domain.ErrListingOwnershipConflict
		}
		l.Quantity += deltaQuantity
		l.Version++
		cp := *l
		return &cp, nil
	}
	l := &domain.Listing{ItemKey: key, Seller: seller, Quantity: deltaQuantity, Version: 1}
	s.listings = append(s.listings, l)
	cp := *l
	return &cp, nil
}

func (s *Store) CompletePurchase(_ context.Context, key domain.ItemKey, buyer, seller string, quantity int64, sellerOnline bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCompletePurchase != nil {
		return s.FailCompletePurchase
	}

	l := s.find(key)
	if l == nil {
		return domain.ErrItemNotListed
	}
	if l.Quantity < quantity {
		return domain.ErrInsufficientStock
	}

	if l.Quantity == quantity {
		kept := s.listings[:0]
		for _, cur := range s.listings {
			if !cur.ItemKey.Equal(key) {
				kept = append(kept, cur)
			}
		}
		s.listings = kept
		pending := l.ToAcknowledge
		if !sellerOnline {
			pending += quantity
		}
		if pending > 0 {
			s.acks[seller] += pending
		}
	} else {
		l.Quantity -= quantity
		if !sellerOnline {
			l.ToAcknowledge += quantity
		}
		l.Version++
	}

	s.users[buyer].TotalBought += quantity
	s.users[seller].TotalSold += quantity
	return nil
}

func (s *Store) ActiveListings(_ context.Context) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if l.Quantity > 0 {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemKey.Less(out[j].ItemKey) })
	return out, nil
}

func (s *Store) CollectPendingAcks(_ context.Context, seller string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, l := range s.listings {
		if l.Seller == seller {
			total += l.ToAcknowledge
			l.ToAcknowledge = 0
		}
	}
	total += s.acks[seller]
	delete(s.acks, seller)
	return total, nil
}

func (s *Store) RecordPendingAck(_ context.Context, seller string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[seller] += quantity
	return nil
}

func (s *Store) RecordAudit(_ context.Context, kind, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, kind)
	return nil
}

// Audits returns the kinds of every recorded audit row.
func (s *Store) Audits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.audits...)
}
