package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subgraphServer(t *testing.T, data string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Query)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(data))
	}))
}

func TestSubgraphClient_ActiveListings(t *testing.T) {
	srv := subgraphServer(t, `{"data": {"listings": [
		{"listingId": "42", "seller": "0xAAA0000000000000000000000000000000000001",
		 "collection": "0xC01", "tokenId": "9", "price": "1500", "active": true}
	]}}`)
	defer srv.Close()

	client := newSubgraphClient(srv.URL)
	listings, err := client.ActiveListings(context.Background(), "0xC01")

	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, uint64(42), listings[0].ListingID)
	assert.Equal(t, "0xaaa0000000000000000000000000000000000001", listings[0].Seller)
	assert.Equal(t, "1500", listings[0].Price)
	assert.True(t, listings[0].Active)
}

func TestSubgraphClient_TokensByOwner(t *testing.T) {
	srv := subgraphServer(t, `{"data": {"tokens": [
		{"tokenId": "1", "creator": "0xBBB", "mintTimestamp": "1700000000",
		 "uri": "ipfs://1", "lastPrice": "2000", "lastPriceTimestamp": "1710000000",
		 "splitterAddress": "0xSPLIT", "royaltyBalance": "77"}
	]}}`)
	defer srv.Close()

	client := newSubgraphClient(srv.URL)
	tokens, err := client.TokensByOwner(context.Background(), "0xowner")

	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "1", tokens[0].TokenID)
	assert.Equal(t, uint64(1700000000), tokens[0].MintTimestamp)
	assert.Equal(t, "77", tokens[0].RoyaltyBalance)
	assert.Equal(t, "0xsplit", tokens[0].SplitterAddress)
}

func TestSubgraphClient_SplitterBalance(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"splitterBalances": [{"amount": "900"}]}}`)
		defer srv.Close()

		amount, err := newSubgraphClient(srv.URL).SplitterBalance(context.Background(), "0xs", "0xa")
		require.NoError(t, err)
		assert.Equal(t, "900", amount)
	})

	t.Run("absent means zero", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"splitterBalances": []}}`)
		defer srv.Close()

		amount, err := newSubgraphClient(srv.URL).SplitterBalance(context.Background(), "0xs", "0xa")
		require.NoError(t, err)
		assert.Equal(t, "0", amount)
	})
}

func TestSubgraphClient_Errors(t *testing.T) {
	t.Run("graphql error surfaced", func(t *testing.T) {
		srv := subgraphServer(t, `{"errors": [{"message": "indexing in progress"}]}`)
		defer srv.Close()

		_, err := newSubgraphClient(srv.URL).ActiveListings(context.Background(), "0xC01")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "indexing in progress")
	})

	t.Run("http error surfaced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newSubgraphClient(srv.URL).ActiveListings(context.Background(), "0xC01")
		assert.Error(t, err)
	})

	t.Run("unset url", func(t *testing.T) {
		_, err := newSubgraphClient("").ActiveListings(context.Background(), "0xC01")
		assert.Error(t, err)
	})

	t.Run("non-numeric listing id", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"listings": [{"listingId": "not-a-number"}]}}`)
		defer srv.Close()

		_, err := newSubgraphClient(srv.URL).ActiveListings(context.Background(), "0xC01")
		assert.Error(t, err)
	})

	t.Run("non-numeric mint timestamp", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"tokens": [
			{"tokenId": "1", "mintTimestamp": "yesterday", "lastPriceTimestamp": "1710000000"}
		]}}`)
		defer srv.Close()

		_, err := newSubgraphClient(srv.URL).TokensByOwner(context.Background(), "0xowner")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mintTimestamp")
	})

	t.Run("non-numeric last price timestamp", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"tokens": [
			{"tokenId": "1", "mintTimestamp": "1700000000", "lastPriceTimestamp": "soon"}
		]}}`)
		defer srv.Close()

		_, err := newSubgraphClient(srv.URL).TokensByOwner(context.Background(), "0xowner")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lastPriceTimestamp")
	})

	t.Run("absent timestamps default to zero", func(t *testing.T) {
		srv := subgraphServer(t, `{"data": {"tokens": [
			{"tokenId": "1", "mintTimestamp": "", "lastPriceTimestamp": ""}
		]}}`)
		defer srv.Close()

		tokens, err := newSubgraphClient(srv.URL).TokensByOwner(context.Background(), "0xowner")
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Zero(t, tokens[0].MintTimestamp)
		assert.Zero(t, tokens[0].LastPriceTimestamp)
	})
}
