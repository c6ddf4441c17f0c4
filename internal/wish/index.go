// Package wish holds the in-memory index of standing availability requests.
package wish

import (
	"sort"
	"sync"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Index is an ordered collection of wish entries, kept sorted by
// (name, price) ascending so match scans are deterministic. All access is
// serialized; matching is two-phase (collect, then remove) so nothing
// mutates the slice mid-scan.
type Index struct {
	mu      sync.Mutex
	entries []domain.WishEntry
}

func NewIndex() *Index {
	return &Index{}
}

// Place registers a wish. A requester may hold at most one wish per item
// name; an exact (name, price) key already held by someone else is rejected
// rather than silently shared.
func (x *Index) Place(entry domain.WishEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range x.entries {
		if e.Name == entry.Name && e.Requester == entry.Requester {
			return domain.ErrDuplicateWish
		}
		if e.ItemKey.Equal(entry.ItemKey) {
			return domain.ErrWishAlreadyClaimed
		}
	}

	i := sort.Search(len(x.entries), func(i int) bool {
		return entry.ItemKey.Less(x.entries[i].ItemKey)
	})
	x.entries = append(x.entries, domain.WishEntry{})
	copy(x.entries[i+1:], x.entries[i:])
	x.entries[i] = entry
	return nil
}

// MatchAndConsume returns every wish the listing satisfies: same item name,
// wished ceiling price at or above the listing price. Matches come back in
// (name, price) order and are removed from the index as they are returned,
// so each wish fires at most once.
func (x *Index) MatchAndConsume(listing domain.Listing) []domain.WishEntry {
	x.mu.Lock()
	defer x.mu.Unlock()

	var matched []domain.WishEntry
	var kept []domain.WishEntry
	for _, e := range x.entries {
		if e.Name == listing.Name && !e.Price.LessThan(listing.Price) {
			matched = append(matched, e)
		} else {
			kept = append(kept, e)
		}
	}
	x.entries = kept
	return matched
}

// RemoveAllByRequester drops every wish the trader has placed.
func (x *Index) RemoveAllByRequester(identity string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	kept := x.entries[:0]
	for _, e := range x.entries {
		if e.Requester != identity {
			kept = append(kept, e)
		}
	}
	x.entries = kept
}

// Len reports the number of live wishes.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}
