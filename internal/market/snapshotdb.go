package market

import (
	"database/sql"
	"fmt"

	"github.com/gallery-live/marketsync/internal/db"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"go.uber.org/zap"
)

// SnapshotDb is the local durable copy of the client's collections: the
// listings and owned tokens as of the last authoritative read, with
// optimistic projections applied on top. A restart starts warm from here
// until the next indexer refresh replaces it.
type SnapshotDb interface {
	GetListings(rq db.QueryRunner) ([]models.Listing, error)
	UpsertListing(txn *sql.Tx, listing models.Listing) error
	DeleteListing(txn *sql.Tx, listingID uint64) error
	ReplaceListings(txn *sql.Tx, listings []models.Listing) error

	GetTokens(rq db.QueryRunner) ([]models.OwnedToken, error)
	UpsertToken(txn *sql.Tx, token models.OwnedToken) error
	ReplaceTokens(txn *sql.Tx, tokens []models.OwnedToken) error
}

func NewSnapshotDb() SnapshotDb {
	return &SnapshotDbImpl{}
}

type SnapshotDbImpl struct{}

const listingsQuery = `
	SELECT listing_id, seller, collection, token_id, price, active
	FROM listings
	ORDER BY listing_id DESC
`

func (s *SnapshotDbImpl) GetListings(rq db.QueryRunner) ([]models.Listing, error) {
	rows, err := rq.Query(listingsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ListingID, &l.Seller, &l.Collection, &l.TokenID, &l.Price, &l.Active); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SnapshotDbImpl) UpsertListing(txn *sql.Tx, listing models.Listing) error {
	_, err := txn.Exec(`
		INSERT INTO listings (listing_id, seller, collection, token_id, price, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id)
		DO UPDATE SET seller = excluded.seller,
		              collection = excluded.collection,
		              token_id = excluded.token_id,
		              price = excluded.price,
		              active = excluded.active`,
		listing.ListingID, listing.Seller, listing.Collection, listing.TokenID, listing.Price, listing.Active)
	if err != nil {
		zap.L().Error("Failed to upsert listing", zap.Uint64("listingId", listing.ListingID), zap.Error(err))
		return err
	}
	return nil
}

func (s *SnapshotDbImpl) DeleteListing(txn *sql.Tx, listingID uint64) error {
	_, err := txn.Exec(`DELETE FROM listings WHERE listing_id = ?`, listingID)
	if err != nil {
		zap.L().Error("Failed to delete listing", zap.Uint64("listingId", listingID), zap.Error(err))
		return err
	}
	return nil
}

func (s *SnapshotDbImpl) ReplaceListings(txn *sql.Tx, listings []models.Listing) error {
	if _, err := txn.Exec(`DELETE FROM listings`); err != nil {
		return fmt.Errorf("failed to clear listings: %w", err)
	}
	for _, l := range listings {
		if err := s.UpsertListing(txn, l); err != nil {
			return err
		}
	}
	return nil
}

const tokensQuery = `
	SELECT token_id, creator, mint_timestamp, uri, last_price, last_price_timestamp,
	       splitter_address, royalty_balance
	FROM owned_tokens
	ORDER BY mint_timestamp DESC
`

func (s *SnapshotDbImpl) GetTokens(rq db.QueryRunner) ([]models.OwnedToken, error) {
	rows, err := rq.Query(tokensQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.OwnedToken
	for rows.Next() {
		var t models.OwnedToken
		if err := rows.Scan(&t.TokenID, &t.Creator, &t.MintTimestamp, &t.URI,
			&t.LastPrice, &t.LastPriceTimestamp, &t.SplitterAddress, &t.RoyaltyBalance); err != nil {
			return nil, fmt.Errorf("failed to scan owned token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *SnapshotDbImpl) UpsertToken(txn *sql.Tx, token models.OwnedToken) error {
	_, err := txn.Exec(`
		INSERT INTO owned_tokens (token_id, creator, mint_timestamp, uri, last_price,
		                          last_price_timestamp, splitter_address, royalty_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id)
		DO UPDATE SET creator = excluded.creator,
		              mint_timestamp = excluded.mint_timestamp,
		              uri = excluded.uri,
		              last_price = excluded.last_price,
		              last_price_timestamp = excluded.last_price_timestamp,
		              splitter_address = excluded.splitter_address,
		              royalty_balance = excluded.royalty_balance`,
		token.TokenID, token.Creator, token.MintTimestamp, token.URI,
		token.LastPrice, token.LastPriceTimestamp, token.SplitterAddress, token.RoyaltyBalance)
	if err != nil {
		zap.L().Error("Failed to upsert owned token", zap.String("tokenId", token.TokenID), zap.Error(err))
		return err
	}
	return nil
}

func (s *SnapshotDbImpl) ReplaceTokens(txn *sql.Tx, tokens []models.OwnedToken) error {
	if _, err := txn.Exec(`DELETE FROM owned_tokens`); err != nil {
		return fmt.Errorf("failed to clear owned tokens: %w", err)
	}
	for _, t := range tokens {
		if err := s.UpsertToken(txn, t); err != nil {
			return err
		}
	}
	return nil
}
