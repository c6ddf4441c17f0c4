package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemKey identifies a listing. Two listings with the same name but
// different prices are distinct entities.
type ItemKey struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func NewItemKey(name string, price decimal.Decimal) ItemKey {
	return ItemKey{Name: name, Price: price}
}

// Equal reports whether two keys identify the same listing.
// Price comparison is numeric, not textual: 10 and 10.00 are the same key.
func (k ItemKey) Equal(o ItemKey) bool {
	return k.Name == o.Name && k.Price.Equal(o.Price)
}

// Less orders keys by (name, price) ascending. This is the canonical
// ordering for listing snapshots and wish-match scans.
func (k ItemKey) Less(o ItemKey) bool {
	if k.Name != o.Name {
		return k.Name < o.Name
	}
	return k.Price.LessThan(o.Price)
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s @ $%s", k.Name, k.Price.String())
}

// Listing is an offered quantity of a named item at a fixed price by one
// seller. A listing whose quantity reaches zero is deleted, never retained.
type Listing struct {
	ItemKey
	Seller        string `json:"seller"`
	Quantity      int64  `json:"quantity"`
	ToAcknowledge int64  `json:"-"`
	Version       int64  `json:"-"`
}

func (l Listing) String() string {
	return fmt.Sprintf("%s x %d (%s)", l.ItemKey, l.Quantity, l.Seller)
}

// WishEntry is a standing request to be notified when a named item becomes
// available at or below a ceiling price. At most one live wish exists per
// (requester, item name) pair.
type WishEntry struct {
	ItemKey
	Quantity  int64  `json:"quantity"`
	Requester string `json:"requester"`
}

// UserRecord is the durable account record for a registered trader. The
// bought/sold counters only move forward and only via completed trades.
type UserRecord struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	TotalBought  int64  `json:"total_bought"`
	TotalSold    int64  `json:"total_sold"`
}

// Stats is the per-trader trade summary returned by the stats endpoint.
type Stats struct {
	TotalBought int64 `json:"total_bought"`
	TotalSold   int64 `json:"total_sold"`
}
