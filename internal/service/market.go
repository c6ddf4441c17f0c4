// Package service implements the market coordinator: the component that
// keeps sessions, the catalog and the wish index consistent under concurrent
// remote calls.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/marketops/internal/bank"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/session"
	"github.com/punchamoorthee/marketops/internal/wish"
)

// Store is the durable-store contract the coordinator depends on. The pgx
// implementation lives in internal/store; tests substitute an in-memory one.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) error
	GetUser(ctx context.Context, username string) (*domain.UserRecord, error)
	PurgeTrader(ctx context.Context, username string) error

	FindListing(ctx context.Context, key domain.ItemKey) (*domain.Listing, error)
	UpsertListing(ctx context.Context, key domain.ItemKey, seller string, deltaQuantity int64) (*domain.Listing, error)
	CompletePurchase(ctx context.Context, key domain.ItemKey, buyer, seller string, quantity int64, sellerOnline bool) error
	ActiveListings(ctx context.Context) ([]domain.Listing, error)
	CollectPendingAcks(ctx context.Context, seller string) (int64, error)

	RecordAudit(ctx context.Context, kind, detail string) error
}

// Market orchestrates every trader-facing operation. Each remote call runs
// on its own goroutine; the in-memory structures serialize internally, the
// catalog serializes through store versioning, and register/unregister take
// a coarse process-wide lock because they touch the store and the session
// registry together.
type Market struct {
	store      Store
	bank       bank.Client
	registry   *session.Registry
	wishes     *wish.Index
	dispatcher *notify.Dispatcher
	log        *zap.Logger

	regMu sync.Mutex
}

func NewMarket(store Store, bankClient bank.Client, registry *session.Registry, wishes *wish.Index, dispatcher *notify.Dispatcher, log *zap.Logger) *Market {
	return &Market{
		store:      store,
		bank:       bankClient,
		registry:   registry,
		wishes:     wishes,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Register creates the trader's durable record and admits a session on the
// given handle (registration doubles as login).
func (m *Market) Register(ctx context.Context, identity, password string, h session.Handle) error {
	if len(password) < domain.MinPasswordLen {
		return domain.ErrPasswordTooShort
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("password hash failed: %w", err)
	}
	if err := m.store.CreateUser(ctx, identity, string(hash)); err != nil {
		return err
	}
	if err := m.registry.Admit(identity, h); err != nil {
		return err
	}

	m.log.Info("trader registered", zap.String("trader", identity))
	return nil
}

// Login authenticates the trader, admits a session on the given handle, then
// flushes any sale acknowledgements that accumulated while they were away.
func (m *Market) Login(ctx context.Context, identity, password string, h session.Handle) error {
	if m.registry.IsLive(identity) {
		return domain.ErrAlreadyLoggedIn
	}

	u, err := m.store.GetUser(ctx, identity)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.ErrWrongPassword
	}

	if err := m.registry.Admit(identity, h); err != nil {
		return err
	}
	m.log.Info("trader logged in", zap.String("trader", identity))

	total, err := m.store.CollectPendingAcks(ctx, identity)
	if err != nil {
		// The acks stay banked; the next login will pick them up.
		m.log.Error("failed to collect pending acknowledgements",
			zap.String("trader", identity), zap.Error(err))
		return nil
	}
	if total > 0 {
		m.dispatcher.NotifyAckSummary(ctx, identity, total)
	}
	return nil
}

// Logout evicts the trader's session.
func (m *Market) Logout(ctx context.Context, identity string) error {
	if _, ok := m.registry.Lookup(identity); !ok {
		return domain.ErrNotLoggedIn
	}
	m.registry.Evict(identity)
	m.log.Info("trader logged out", zap.String("trader", identity))
	return nil
}

// Unregister removes the trader entirely: durable listings and user record
// in one transaction, then their wishes and session. Requires a live
// session, like the rest of the trading surface.
func (m *Market) Unregister(ctx context.Context, identity string) error {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if _, ok := m.registry.Lookup(identity); !ok {
		return domain.ErrNotLoggedIn
	}
	if err := m.store.PurgeTrader(ctx, identity); err != nil {
		return err
	}
	m.wishes.RemoveAllByRequester(identity)
	m.registry.Evict(identity)

	m.log.Info("trader unregistered", zap.String("trader", identity))
	return nil
}

// Sell lists quantity units at the given key, merging into the seller's
// existing listing at that key. Standing wishes the new listing satisfies
// are notified (notify-only: the wisher still has to buy).
func (m *Market) Sell(ctx context.Context, seller, name string, price decimal.Decimal, quantity int64) error {
	if !m.registry.IsLive(seller) {
		return domain.ErrNotLoggedIn
	}

	acc, err := m.bank.FindAccount(ctx, seller)
	if err != nil {
		return err
	}
	if acc == nil {
		return domain.ErrNoAccount
	}

	key := domain.NewItemKey(name, price)
	listing, err := m.store.UpsertListing(ctx, key, seller, quantity)
	if err != nil {
		return err
	}
	m.log.Info("listing placed",
		zap.String("seller", seller), zap.String("item", listing.ItemKey.String()),
		zap.Int64("quantity", listing.Quantity))

	for _, w := range m.wishes.MatchAndConsume(*listing) {
		m.dispatcher.NotifyAvailability(w.Requester, *listing)
	}
	return nil
}

// Buy purchases quantity units at the given key. Funds move first
// (withdraw buyer, deposit seller), then the trade is recorded durably. A
// failure between those steps cannot be compensated automatically; it is
// audited and surfaced as an infrastructure failure.
func (m *Market) Buy(ctx context.Context, buyer, name string, price decimal.Decimal, quantity int64) error {
	if !m.registry.IsLive(buyer) {
		return domain.ErrNotLoggedIn
	}

	key := domain.NewItemKey(name, price)
	listing, err := m.store.FindListing(ctx, key)
	if err != nil {
		return err
	}
	if listing == nil {
		return domain.ErrItemNotListed
	}
	if listing.Quantity < quantity {
		return domain.ErrInsufficientStock
	}

	acc, err := m.bank.FindAccount(ctx, buyer)
	if err != nil {
		return err
	}
	if acc == nil {
		return domain.ErrNoAccount
	}

	total := price.Mul(decimal.NewFromInt(quantity))
	if acc.Balance.LessThan(total) {
		return domain.ErrInsufficientFunds
	}

	if err := m.bank.Withdraw(ctx, buyer, total); err != nil {
		return err
	}
	if err := m.bank.Deposit(ctx, listing.Seller, total); err != nil {
		return m.fatal(ctx, "deposit_failed", fmt.Sprintf(
			"withdrew %s from %s but deposit to %s failed: %v", total, buyer, listing.Seller, err))
	}

	sellerOnline := m.registry.IsLive(listing.Seller)
	if err := m.store.CompletePurchase(ctx, key, buyer, listing.Seller, quantity, sellerOnline); err != nil {
		return m.fatal(ctx, "trade_record_failed", fmt.Sprintf(
			"moved %s from %s to %s but could not record trade on %s: %v",
			total, buyer, listing.Seller, key, err))
	}

	m.log.Info("purchase completed",
		zap.String("buyer", buyer), zap.String("seller", listing.Seller),
		zap.String("item", key.String()), zap.Int64("quantity", quantity))

	if sellerOnline {
		m.dispatcher.NotifySale(ctx, listing.Seller, key, quantity)
	}
	return nil
}

// fatal records an unrecoverable consistency error durably and returns it as
// an infrastructure failure. No automatic compensation: the audit row makes
// the state detectable for manual reconciliation.
func (m *Market) fatal(ctx context.Context, kind, detail string) error {
	m.log.Error("fatal consistency error",
		zap.String("consistency", kind), zap.String("detail", detail))
	if err := m.store.RecordAudit(ctx, kind, detail); err != nil {
		m.log.Error("audit write failed", zap.String("consistency", kind), zap.Error(err))
	}
	return fmt.Errorf("fatal consistency error (%s): %s", kind, detail)
}

// PlaceWish registers a standing request to be notified when the item is
// listed at or below maxPrice.
func (m *Market) PlaceWish(ctx context.Context, requester, name string, maxPrice decimal.Decimal, quantity int64) error {
	if !m.registry.IsLive(requester) {
		return domain.ErrNotLoggedIn
	}
	entry := domain.WishEntry{
		ItemKey:   domain.NewItemKey(name, maxPrice),
		Quantity:  quantity,
		Requester: requester,
	}
	if err := m.wishes.Place(entry); err != nil {
		return err
	}
	m.log.Info("wish placed",
		zap.String("trader", requester), zap.String("item", entry.ItemKey.String()))
	return nil
}

// ListAll returns the catalog snapshot, ordered by (name, price). No auth.
func (m *Market) ListAll(ctx context.Context) ([]domain.Listing, error) {
	return m.store.ActiveListings(ctx)
}

// GetStats returns the trader's lifetime bought/sold counters.
func (m *Market) GetStats(ctx context.Context, identity string) (*domain.Stats, error) {
	if _, ok := m.registry.Lookup(identity); !ok {
		return nil, domain.ErrNotLoggedIn
	}
	u, err := m.store.GetUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &domain.Stats{TotalBought: u.TotalBought, TotalSold: u.TotalSold}, nil
}
