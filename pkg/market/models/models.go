package models

import "strings"

// Listing is one active sale offer, keyed by the contract-assigned id.
// Price is the wei amount as a decimal string.
type Listing struct {
	ListingID  uint64
	Seller     string
	Collection string
	TokenID    string
	Price      string
	Active     bool
}

type OwnedToken struct {
	TokenID            string
	Creator            string
	MintTimestamp      uint64
	URI                string
	LastPrice          string
	LastPriceTimestamp uint64
	SplitterAddress    string
	RoyaltyBalance     string
}

type UpdateType string

func (t UpdateType) String() string {
	return string(t)
}

const (
	PURCHASE      UpdateType = "purchase"
	LIST          UpdateType = "list"
	UPDATE        UpdateType = "update"
	CANCEL        UpdateType = "cancel"
	WITHDRAW      UpdateType = "withdraw"
	WITHDRAW_FEES UpdateType = "withdrawFees"
)

// PendingUpdate is the durable record of an optimistic mutation awaiting
// reconciliation against the indexer.
type PendingUpdate struct {
	Type      UpdateType        `json:"type"`
	TxHash    string            `json:"txHash"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

func NormalizePending(p *PendingUpdate) *PendingUpdate {
	p.TxHash = strings.ToLower(p.TxHash)
	return p
}
