package market

import (
	"github.com/gallery-live/marketsync/pkg/market/models"
)

// Pure reducers over the client-held collections. Each takes the current
// collection and a decoded event and returns the next collection value;
// when no entity matches, the input is returned unchanged. The inputs are
// never mutated.

func ApplyPurchasedUpdate(listings []models.Listing, ev *models.PurchasedEvent) []models.Listing {
	if ev == nil {
		return listings
	}
	return removeListing(listings, ev.ListingID)
}

func ApplyListingCanceledUpdate(listings []models.Listing, ev *models.ListingCanceledEvent) []models.Listing {
	if ev == nil {
		return listings
	}
	return removeListing(listings, ev.ListingID)
}

func ApplyListingUpdatedUpdate(listings []models.Listing, ev *models.ListingUpdatedEvent) []models.Listing {
	if ev == nil {
		return listings
	}
	out := make([]models.Listing, len(listings))
	for i, l := range listings {
		if l.ListingID == ev.ListingID {
			l.Price = ev.NewPrice.String()
		}
		out[i] = l
	}
	return out
}

// ApplyListedUpdate prepends the new listing so it shows first, but only
// when its id is not already present (the same event can arrive twice via
// replay).
func ApplyListedUpdate(listings []models.Listing, ev *models.ListedEvent) []models.Listing {
	if ev == nil {
		return listings
	}
	for _, l := range listings {
		if l.ListingID == ev.ListingID {
			return listings
		}
	}
	out := make([]models.Listing, 0, len(listings)+1)
	out = append(out, models.Listing{
		ListingID:  ev.ListingID,
		Seller:     ev.Seller,
		Collection: ev.Collection,
		TokenID:    ev.TokenID,
		Price:      ev.Price.String(),
		Active:     true,
	})
	return append(out, listings...)
}

// ApplyFeeWithdrawnUpdate zeroes the royalty balance of every token paying
// out through the withdrawn splitter.
func ApplyFeeWithdrawnUpdate(tokens []models.OwnedToken, ev *models.FeeWithdrawnEvent) []models.OwnedToken {
	if ev == nil {
		return tokens
	}
	out := make([]models.OwnedToken, len(tokens))
	for i, tok := range tokens {
		if tok.SplitterAddress == ev.Splitter {
			tok.RoyaltyBalance = "0"
		}
		out[i] = tok
	}
	return out
}

// ApplyEvents runs every reducer whose event is present in the set, in a
// fixed order. Used by the on-start replay where one receipt drives the
// whole projection.
func ApplyEvents(listings []models.Listing, tokens []models.OwnedToken, set models.DecodedEventSet) ([]models.Listing, []models.OwnedToken) {
	listings = ApplyPurchasedUpdate(listings, set.Purchased)
	listings = ApplyListedUpdate(listings, set.Listed)
	listings = ApplyListingUpdatedUpdate(listings, set.ListingUpdated)
	listings = ApplyListingCanceledUpdate(listings, set.ListingCanceled)
	tokens = ApplyFeeWithdrawnUpdate(tokens, set.FeeWithdrawn)
	return listings, tokens
}

func removeListing(listings []models.Listing, listingID uint64) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.ListingID == listingID {
			continue
		}
		out = append(out, l)
	}
	if len(out) == len(listings) {
		return listings
	}
	return out
}

// AreListingsDifferent compares the fields that drive rendering: id,
// price, active. It exists so callers can skip a state write when nothing
// visible changed, not for correctness.
func AreListingsDifferent(a, b []models.Listing) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].ListingID != b[i].ListingID ||
			a[i].Price != b[i].Price ||
			a[i].Active != b[i].Active {
			return true
		}
	}
	return false
}

func AreTokensDifferent(a, b []models.OwnedToken) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].TokenID != b[i].TokenID ||
			a[i].LastPrice != b[i].LastPrice ||
			a[i].RoyaltyBalance != b[i].RoyaltyBalance {
			return true
		}
	}
	return false
}
