package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/mock"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/session"
	"github.com/punchamoorthee/marketops/internal/wish"
)

const testPassword = "password123"

type fixture struct {
	market   *Market
	store    *mock.Store
	bank     *mock.Bank
	registry *session.Registry
}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	st := mock.NewStore()
	bk := mock.NewBank()
	registry := session.NewRegistry(time.Second, log)
	dispatcher := notify.NewDispatcher(registry, st, log)
	return &fixture{
		market:   NewMarket(st, bk, registry, wish.NewIndex(), dispatcher, log),
		store:    st,
		bank:     bk,
		registry: registry,
	}
}

// join registers a trader and returns their live handle.
func (f *fixture) join(t *testing.T, identity string) *mock.Handle {
	t.Helper()
	h := &mock.Handle{}
	require.NoError(t, f.market.Register(context.Background(), identity, testPassword, h))
	return h
}

func price(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func kinds(h *mock.Handle) []string {
	var out []string
	for _, m := range h.Messages() {
		if msg, ok := m.(notify.Message); ok {
			out = append(out, msg.Kind)
		}
	}
	return out
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("ShortPasswordCreatesNothing", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.Register(ctx, "alice", "short", &mock.Handle{})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)

		_, err = f.store.GetUser(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrNotRegistered)
		assert.False(t, f.registry.IsLive("alice"))
	})

	t.Run("AutoLogin", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		assert.True(t, f.registry.IsLive("alice"))
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		err := f.market.Register(ctx, "alice", testPassword, &mock.Handle{})
		assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("NeverSucceedsTwiceWithoutLogout", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")

		err := f.market.Login(ctx, "alice", testPassword, &mock.Handle{})
		assert.ErrorIs(t, err, domain.ErrAlreadyLoggedIn)

		require.NoError(t, f.market.Logout(ctx, "alice"))
		assert.NoError(t, f.market.Login(ctx, "alice", testPassword, &mock.Handle{}))
	})

	t.Run("NotRegistered", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.Login(ctx, "ghost", testPassword, &mock.Handle{})
		assert.ErrorIs(t, err, domain.ErrNotRegistered)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		require.NoError(t, f.market.Logout(ctx, "alice"))

		err := f.market.Login(ctx, "alice", "not-the-password", &mock.Handle{})
		assert.ErrorIs(t, err, domain.ErrWrongPassword)
		assert.False(t, f.registry.IsLive("alice"))
	})

	t.Run("EvictedSessionCanLoginAgain", func(t *testing.T) {
		f := newFixture(t)
		h := f.join(t, "alice")

		// The channel dies without a logout; the probe must self-heal.
		h.PingErr = assert.AnError
		assert.NoError(t, f.market.Login(ctx, "alice", testPassword, &mock.Handle{}))
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("SecondLogoutFailsCleanly", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")

		require.NoError(t, f.market.Logout(ctx, "alice"))
		err := f.market.Logout(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)

		// No side effects: the user record is intact.
		_, err = f.store.GetUser(ctx, "alice")
		assert.NoError(t, err)
	})
}

func TestSell(t *testing.T) {
	ctx := context.Background()

	t.Run("NotLoggedIn", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.Sell(ctx, "alice", "Widget", price(10), 3)
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)
	})

	t.Run("NoBankAccount", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		err := f.market.Sell(ctx, "alice", "Widget", price(10), 3)
		assert.ErrorIs(t, err, domain.ErrNoAccount)
	})

	t.Run("SameKeyMergesQuantity", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		f.bank.Open("alice", 0)

		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 3))
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 2))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, int64(5), listings[0].Quantity)
	})

	t.Run("OwnershipConflictLeavesCatalogUnchanged", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		f.join(t, "bob")
		f.bank.Open("alice", 0)
		f.bank.Open("bob", 0)

		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 3))
		err := f.market.Sell(ctx, "bob", "Widget", price(10), 1)
		assert.ErrorIs(t, err, domain.ErrListingOwnershipConflict)

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "alice", listings[0].Seller)
		assert.Equal(t, int64(3), listings[0].Quantity)
	})

	t.Run("SameNameDifferentPriceIsDistinct", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		f.join(t, "bob")
		f.bank.Open("alice", 0)
		f.bank.Open("bob", 0)

		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 3))
		require.NoError(t, f.market.Sell(ctx, "bob", "Widget", price(12), 1))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, listings, 2)
	})
}

func TestWishMatching(t *testing.T) {
	ctx := context.Background()

	t.Run("SellTriggersNotifyOnlyMatch", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		carol := f.join(t, "carol")
		f.bank.Open("alice", 0)
		f.bank.Open("carol", 100)

		require.NoError(t, f.market.PlaceWish(ctx, "carol", "Widget", price(12), 1))
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 5))

		assert.Equal(t, []string{notify.KindAvailability}, kinds(carol))

		// Notify-only: no funds moved, full stock still listed.
		assert.True(t, f.bank.Balance("carol").Equal(price(100)))
		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, int64(5), listings[0].Quantity)

		// The wish was consumed, so an identical one may be placed again.
		assert.NoError(t, f.market.PlaceWish(ctx, "carol", "Widget", price(12), 1))
	})

	t.Run("ListingAboveCeilingDoesNotMatch", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		carol := f.join(t, "carol")
		f.bank.Open("alice", 0)

		require.NoError(t, f.market.PlaceWish(ctx, "carol", "Widget", price(12), 1))
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(15), 5))

		assert.Empty(t, kinds(carol))

		err := f.market.PlaceWish(ctx, "carol", "Widget", price(12), 1)
		assert.ErrorIs(t, err, domain.ErrDuplicateWish)
	})

	t.Run("RequiresLogin", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.PlaceWish(ctx, "carol", "Widget", price(12), 1)
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)
	})
}

func TestBuy(t *testing.T) {
	ctx := context.Background()

	setupListing := func(t *testing.T) (*fixture, *mock.Handle) {
		f := newFixture(t)
		alice := f.join(t, "alice")
		f.join(t, "carol")
		f.bank.Open("alice", 0)
		f.bank.Open("carol", 100)
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 5))
		return f, alice
	}

	t.Run("NotLoggedIn", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.Buy(ctx, "carol", "Widget", price(10), 1)
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)
	})

	t.Run("ItemNotListed", func(t *testing.T) {
		f, _ := setupListing(t)
		err := f.market.Buy(ctx, "carol", "Widget", price(11), 1)
		assert.ErrorIs(t, err, domain.ErrItemNotListed)
	})

	t.Run("InsufficientStock", func(t *testing.T) {
		f, _ := setupListing(t)
		err := f.market.Buy(ctx, "carol", "Widget", price(10), 6)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	})

	t.Run("NoAccount", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		f.join(t, "dave")
		f.bank.Open("alice", 0)
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 5))

		err := f.market.Buy(ctx, "dave", "Widget", price(10), 1)
		assert.ErrorIs(t, err, domain.ErrNoAccount)
	})

	t.Run("InsufficientFundsChangesNothing", func(t *testing.T) {
		f, _ := setupListing(t)
		err := f.market.Buy(ctx, "carol", "Widget", price(10), 5)
		assert.NoError(t, err) // 50 <= 100

		// Second buy cannot be afforded anymore once stock is relisted.
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 20))
		err = f.market.Buy(ctx, "carol", "Widget", price(10), 20)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		// Atomic under failure: balances and stock untouched by the rejection.
		assert.True(t, f.bank.Balance("carol").Equal(price(50)))
		assert.True(t, f.bank.Balance("alice").Equal(price(50)))
		listings, lerr := f.market.ListAll(ctx)
		require.NoError(t, lerr)
		require.Len(t, listings, 1)
		assert.Equal(t, int64(20), listings[0].Quantity)
	})

	t.Run("FullDepletionRemovesListingAndCounts", func(t *testing.T) {
		f, _ := setupListing(t)
		require.NoError(t, f.market.Buy(ctx, "carol", "Widget", price(10), 5))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, listings)

		carolStats, err := f.market.GetStats(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, int64(5), carolStats.TotalBought)

		aliceStats, err := f.market.GetStats(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(5), aliceStats.TotalSold)

		assert.True(t, f.bank.Balance("carol").Equal(price(50)))
		assert.True(t, f.bank.Balance("alice").Equal(price(50)))
	})

	t.Run("OnlineSellerNotifiedImmediately", func(t *testing.T) {
		f, alice := setupListing(t)
		require.NoError(t, f.market.Buy(ctx, "carol", "Widget", price(10), 2))
		assert.Equal(t, []string{notify.KindSale}, kinds(alice))
	})

	t.Run("OfflineSellerAckedOnNextLogin", func(t *testing.T) {
		f, _ := setupListing(t)
		require.NoError(t, f.market.Logout(ctx, "alice"))
		require.NoError(t, f.market.Buy(ctx, "carol", "Widget", price(10), 2))

		alice := &mock.Handle{}
		require.NoError(t, f.market.Login(ctx, "alice", testPassword, alice))
		assert.Equal(t, []string{notify.KindAckSummary}, kinds(alice))

		// Counter was reset: a relogin delivers nothing further.
		require.NoError(t, f.market.Logout(ctx, "alice"))
		again := &mock.Handle{}
		require.NoError(t, f.market.Login(ctx, "alice", testPassword, again))
		assert.Empty(t, kinds(again))
	})

	t.Run("FailedSummaryDeliveryKeepsAckBanked", func(t *testing.T) {
		f, _ := setupListing(t)
		require.NoError(t, f.market.Logout(ctx, "alice"))
		require.NoError(t, f.market.Buy(ctx, "carol", "Widget", price(10), 2))

		// The fresh channel dies before the summary lands.
		broken := &mock.Handle{SendErr: assert.AnError}
		require.NoError(t, f.market.Login(ctx, "alice", testPassword, broken))
		require.NoError(t, f.market.Logout(ctx, "alice"))

		// The count was re-banked, so a healthy login still hears about it.
		alice := &mock.Handle{}
		require.NoError(t, f.market.Login(ctx, "alice", testPassword, alice))
		assert.Equal(t, []string{notify.KindAckSummary}, kinds(alice))
	})

	t.Run("AckSurvivesListingDeletion", func(t *testing.T) {
		f, _ := setupListing(t)
		require.NoError(t, f.market.Logout(ctx, "alice"))
		require.NoError(t, f.market.Buy(ctx, "carol", "Widget", price(10), 5))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, listings)

		alice := &mock.Handle{}
		require.NoError(t, f.market.Login(ctx, "alice", testPassword, alice))
		assert.Equal(t, []string{notify.KindAckSummary}, kinds(alice))
	})

	t.Run("DepositFailureIsAudited", func(t *testing.T) {
		f, _ := setupListing(t)
		f.bank.DepositErr = assert.AnError

		err := f.market.Buy(ctx, "carol", "Widget", price(10), 1)
		require.Error(t, err)
		assert.False(t, domain.IsRejection(err))
		assert.Contains(t, f.store.Audits(), "deposit_failed")
	})

	t.Run("TradeRecordFailureIsAudited", func(t *testing.T) {
		f, _ := setupListing(t)
		f.store.FailCompletePurchase = assert.AnError

		err := f.market.Buy(ctx, "carol", "Widget", price(10), 1)
		require.Error(t, err)
		assert.False(t, domain.IsRejection(err))
		assert.Contains(t, f.store.Audits(), "trade_record_failed")
	})
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresLiveSession", func(t *testing.T) {
		f := newFixture(t)
		err := f.market.Unregister(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)
	})

	t.Run("PurgesListingsWishesAndSession", func(t *testing.T) {
		f := newFixture(t)
		alice := f.join(t, "alice")
		f.join(t, "bob")
		f.bank.Open("alice", 0)
		f.bank.Open("bob", 0)

		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 3))
		require.NoError(t, f.market.Sell(ctx, "alice", "Gadget", price(5), 1))
		require.NoError(t, f.market.PlaceWish(ctx, "alice", "Sprocket", price(99), 1))

		require.NoError(t, f.market.Unregister(ctx, "alice"))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, listings)

		// A matching sale must never reference the removed trader.
		require.NoError(t, f.market.Sell(ctx, "bob", "Sprocket", price(1), 1))
		assert.Empty(t, kinds(alice))

		assert.False(t, f.registry.IsLive("alice"))
		_, err = f.store.GetUser(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrNotRegistered)
	})
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresLogin", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.market.GetStats(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrNotLoggedIn)
	})

	t.Run("FreshTraderHasZeroes", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		stats, err := f.market.GetStats(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, stats.TotalBought)
		assert.Zero(t, stats.TotalSold)
	})
}

func TestListAll(t *testing.T) {
	ctx := context.Background()

	t.Run("OrderedByNameThenPrice", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "alice")
		f.bank.Open("alice", 0)

		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(12), 1))
		require.NoError(t, f.market.Sell(ctx, "alice", "Gadget", price(3), 1))
		require.NoError(t, f.market.Sell(ctx, "alice", "Widget", price(10), 1))

		listings, err := f.market.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, listings, 3)
		assert.Equal(t, "Gadget", listings[0].Name)
		assert.Equal(t, "Widget", listings[1].Name)
		assert.True(t, listings[1].Price.LessThan(listings[2].Price))
	})

	t.Run("NoAuthRequired", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.market.ListAll(ctx)
		assert.NoError(t, err)
	})
}
