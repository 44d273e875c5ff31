package models

import "math/big"

type PurchasedEvent struct {
	ListingID  uint64
	Buyer      string
	Seller     string
	Collection string
	TokenID    string
	Price      *big.Int
}

type ListedEvent struct {
	ListingID  uint64
	Seller     string
	Collection string
	TokenID    string
	Price      *big.Int
}

type ListingUpdatedEvent struct {
	ListingID uint64
	NewPrice  *big.Int
}

type ListingCanceledEvent struct {
	ListingID uint64
}

type FeeWithdrawnEvent struct {
	Splitter  string
	Recipient string
	Amount    *big.Int
}

type TransferEvent struct {
	From    string
	To      string
	TokenID string
}

type ApprovalEvent struct {
	Owner    string
	Approved string
	TokenID  string
}

type ApprovalForAllEvent struct {
	Owner    string
	Operator string
	Approved bool
}

type MintedEvent struct {
	TokenID string
	Creator string
	URI     string
}

// DecodedEventSet is the result of one decoding pass over a receipt.
// Transfer may occur any number of times per receipt; every other kind is
// at most once (nil means absent).
type DecodedEventSet struct {
	Purchased       *PurchasedEvent
	Listed          *ListedEvent
	ListingUpdated  *ListingUpdatedEvent
	ListingCanceled *ListingCanceledEvent
	FeeWithdrawn    *FeeWithdrawnEvent
	Approval        *ApprovalEvent
	ApprovalForAll  *ApprovalForAllEvent
	Minted          *MintedEvent
	Transfers       []TransferEvent
}

// Empty reports whether the pass decoded nothing at all, which callers use
// to fall back to a full resync instead of an optimistic patch.
func (s DecodedEventSet) Empty() bool {
	return s.Purchased == nil &&
		s.Listed == nil &&
		s.ListingUpdated == nil &&
		s.ListingCanceled == nil &&
		s.FeeWithdrawn == nil &&
		s.Approval == nil &&
		s.ApprovalForAll == nil &&
		s.Minted == nil &&
		len(s.Transfers) == 0
}
