package market

import (
	"context"
	"database/sql"
	"testing"

	"github.com/gallery-live/marketsync/internal/db"
	"github.com/gallery-live/marketsync/internal/db/testdb"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSnapshot(t *testing.T) (*sql.DB, SnapshotDb) {
	sqlite, cleanup := testdb.SetupTestSqlite(t)
	t.Cleanup(cleanup)
	return sqlite, NewSnapshotDb()
}

func inTx(t *testing.T, sqlite *sql.DB, fn func(txn *sql.Tx) error) {
	t.Helper()
	_, err := db.TxRunner(context.Background(), sqlite, func(txn *sql.Tx) (struct{}, error) {
		return struct{}{}, fn(txn)
	})
	require.NoError(t, err)
}

func TestSnapshotDb_ListingsRoundTrip(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertListing(txn, models.Listing{
			ListingID:  1,
			Seller:     "0xaaa",
			Collection: "0xcol",
			TokenID:    "10",
			Price:      "1000",
			Active:     true,
		})
	})
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertListing(txn, models.Listing{
			ListingID:  2,
			Seller:     "0xbbb",
			Collection: "0xcol",
			TokenID:    "20",
			Price:      "2000",
			Active:     true,
		})
	})

	listings, err := snapshot.GetListings(sqlite)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	// Newest listing id first.
	assert.Equal(t, uint64(2), listings[0].ListingID)
	assert.Equal(t, uint64(1), listings[1].ListingID)
	assert.Equal(t, "1000", listings[1].Price)
}

func TestSnapshotDb_UpsertOverwrites(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	listing := models.Listing{ListingID: 1, Seller: "0xaaa", Collection: "0xcol", TokenID: "10", Price: "1000", Active: true}
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertListing(txn, listing)
	})
	listing.Price = "1500"
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertListing(txn, listing)
	})

	listings, err := snapshot.GetListings(sqlite)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "1500", listings[0].Price)
}

func TestSnapshotDb_DeleteListing(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	inTx(t, sqlite, func(txn *sql.Tx) error {
		if err := snapshot.UpsertListing(txn, models.Listing{ListingID: 1, Price: "1"}); err != nil {
			return err
		}
		return snapshot.UpsertListing(txn, models.Listing{ListingID: 2, Price: "2"})
	})
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.DeleteListing(txn, 1)
	})

	listings, err := snapshot.GetListings(sqlite)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, uint64(2), listings[0].ListingID)
}

func TestSnapshotDb_ReplaceListings(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertListing(txn, models.Listing{ListingID: 1, Price: "1"})
	})
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.ReplaceListings(txn, []models.Listing{
			{ListingID: 5, Price: "5"},
			{ListingID: 6, Price: "6"},
		})
	})

	listings, err := snapshot.GetListings(sqlite)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, uint64(6), listings[0].ListingID)
}

func TestSnapshotDb_TokensRoundTrip(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	inTx(t, sqlite, func(txn *sql.Tx) error {
		if err := snapshot.UpsertToken(txn, models.OwnedToken{
			TokenID:         "1",
			Creator:         "0xaaa",
			MintTimestamp:   100,
			URI:             "ipfs://1",
			LastPrice:       "1000",
			SplitterAddress: "0xsplit",
			RoyaltyBalance:  "50",
		}); err != nil {
			return err
		}
		return snapshot.UpsertToken(txn, models.OwnedToken{
			TokenID:       "2",
			MintTimestamp: 200,
			URI:           "ipfs://2",
		})
	})

	tokens, err := snapshot.GetTokens(sqlite)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	// Newest mint first.
	assert.Equal(t, "2", tokens[0].TokenID)
	assert.Equal(t, "0xsplit", tokens[1].SplitterAddress)
	assert.Equal(t, "50", tokens[1].RoyaltyBalance)
}

func TestSnapshotDb_ReplaceTokens(t *testing.T) {
	sqlite, snapshot := setupSnapshot(t)

	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.UpsertToken(txn, models.OwnedToken{TokenID: "1", MintTimestamp: 1})
	})
	inTx(t, sqlite, func(txn *sql.Tx) error {
		return snapshot.ReplaceTokens(txn, nil)
	})

	tokens, err := snapshot.GetTokens(sqlite)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
