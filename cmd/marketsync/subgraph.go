package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gallery-live/marketsync/internal/market"
	"github.com/gallery-live/marketsync/pkg/market/models"
)

// subgraphClient is the GraphQL transport behind market.IndexerClient.
// It is intentionally dumb: one POST per query, no retries. Retry policy
// lives with the reconciliation scheduler, which already knows what to do
// when the indexer is behind or unreachable.
type subgraphClient struct {
	url  string
	http *http.Client
}

var _ market.IndexerClient = (*subgraphClient)(nil)

func newSubgraphClient(url string) *subgraphClient {
	return &subgraphClient{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

const activeListingsQuery = `query ActiveListings($collection: String!) {
  listings(where: {collection: $collection, active: true}, orderBy: listingId, orderDirection: desc, first: 1000) {
    listingId
    seller
    collection
    tokenId
    price
    active
  }
}`

const tokensByOwnerQuery = `query TokensByOwner($owner: String!) {
  tokens(where: {owner: $owner}, orderBy: mintTimestamp, orderDirection: desc, first: 1000) {
    tokenId
    creator
    mintTimestamp
    uri
    lastPrice
    lastPriceTimestamp
    splitterAddress
    royaltyBalance
  }
}`

const splitterBalanceQuery = `query SplitterBalance($splitter: String!, $account: String!) {
  splitterBalances(where: {splitter: $splitter, account: $account}, first: 1) {
    amount
  }
}`

func (c *subgraphClient) ActiveListings(ctx context.Context, collection string) ([]models.Listing, error) {
	var out struct {
		Listings []struct {
			ListingID  string `json:"listingId"`
			Seller     string `json:"seller"`
			Collection string `json:"collection"`
			TokenID    string `json:"tokenId"`
			Price      string `json:"price"`
			Active     bool   `json:"active"`
		} `json:"listings"`
	}
	err := c.query(ctx, activeListingsQuery, map[string]any{
		"collection": strings.ToLower(collection),
	}, &out)
	if err != nil {
		return nil, err
	}

	listings := make([]models.Listing, 0, len(out.Listings))
	for _, l := range out.Listings {
		id, err := strconv.ParseUint(l.ListingID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("subgraph returned non-numeric listingId %q: %w", l.ListingID, err)
		}
		listings = append(listings, models.Listing{
			ListingID:  id,
			Seller:     strings.ToLower(l.Seller),
			Collection: strings.ToLower(l.Collection),
			TokenID:    l.TokenID,
			Price:      l.Price,
			Active:     l.Active,
		})
	}
	return listings, nil
}

func (c *subgraphClient) TokensByOwner(ctx context.Context, owner string) ([]models.OwnedToken, error) {
	var out struct {
		Tokens []struct {
			TokenID            string `json:"tokenId"`
			Creator            string `json:"creator"`
			MintTimestamp      string `json:"mintTimestamp"`
			URI                string `json:"uri"`
			LastPrice          string `json:"lastPrice"`
			LastPriceTimestamp string `json:"lastPriceTimestamp"`
			SplitterAddress    string `json:"splitterAddress"`
			RoyaltyBalance     string `json:"royaltyBalance"`
		} `json:"tokens"`
	}
	err := c.query(ctx, tokensByOwnerQuery, map[string]any{
		"owner": strings.ToLower(owner),
	}, &out)
	if err != nil {
		return nil, err
	}

	tokens := make([]models.OwnedToken, 0, len(out.Tokens))
	for _, t := range out.Tokens {
		mintTs, err := parseTimestamp("mintTimestamp", t.MintTimestamp)
		if err != nil {
			return nil, err
		}
		priceTs, err := parseTimestamp("lastPriceTimestamp", t.LastPriceTimestamp)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, models.OwnedToken{
			TokenID:            t.TokenID,
			Creator:            strings.ToLower(t.Creator),
			MintTimestamp:      mintTs,
			URI:                t.URI,
			LastPrice:          t.LastPrice,
			LastPriceTimestamp: priceTs,
			SplitterAddress:    strings.ToLower(t.SplitterAddress),
			RoyaltyBalance:     t.RoyaltyBalance,
		})
	}
	return tokens, nil
}

// parseTimestamp treats an absent field as zero but rejects garbage: a
// token silently losing its mint time would corrupt the snapshot ordering.
func parseTimestamp(field, raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subgraph returned non-numeric %s %q: %w", field, raw, err)
	}
	return v, nil
}

func (c *subgraphClient) SplitterBalance(ctx context.Context, splitter, account string) (string, error) {
	var out struct {
		SplitterBalances []struct {
			Amount string `json:"amount"`
		} `json:"splitterBalances"`
	}
	err := c.query(ctx, splitterBalanceQuery, map[string]any{
		"splitter": strings.ToLower(splitter),
		"account":  strings.ToLower(account),
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.SplitterBalances) == 0 {
		return "0", nil
	}
	return out.SplitterBalances[0].Amount, nil
}

func (c *subgraphClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.url == "" {
		return fmt.Errorf("SubgraphUrl is not set")
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph request failed - %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode subgraph response - %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}
