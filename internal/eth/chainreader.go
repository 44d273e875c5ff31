package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var marketplaceCallABI abi.ABI
var tokenCallABI abi.ABI
var splitterCallABI abi.ABI

func init() {
	var err error
	marketplaceCallABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [{"name": "listingId", "type": "uint256"}],
        "name": "listings",
        "outputs": [
            {"name": "seller",     "type": "address"},
            {"name": "collection", "type": "address"},
            {"name": "tokenId",    "type": "uint256"},
            {"name": "price",      "type": "uint256"},
            {"name": "active",     "type": "bool"}
        ],
        "stateMutability": "view",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse marketplace call ABI")
	}

	tokenCallABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [{"name": "tokenId", "type": "uint256"}],
        "name": "ownerOf",
        "outputs": [{"name": "", "type": "address"}],
        "stateMutability": "view",
        "type": "function"
    },
    {
        "inputs": [{"name": "tokenId", "type": "uint256"}],
        "name": "getApproved",
        "outputs": [{"name": "", "type": "address"}],
        "stateMutability": "view",
        "type": "function"
    },
    {
        "inputs": [
            {"name": "owner",    "type": "address"},
            {"name": "operator", "type": "address"}
        ],
        "name": "isApprovedForAll",
        "outputs": [{"name": "", "type": "bool"}],
        "stateMutability": "view",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse token call ABI")
	}

	splitterCallABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [{"name": "account", "type": "address"}],
        "name": "releasable",
        "outputs": [{"name": "", "type": "uint256"}],
        "stateMutability": "view",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse splitter call ABI")
	}
}

// ListingState is the marketplace contract's current view of one listing.
type ListingState struct {
	Seller     common.Address
	Collection common.Address
	TokenID    *big.Int
	Price      *big.Int
	Active     bool
}

// ChainReader answers the precondition reads the mutation engine performs
// before submitting, plus the ownership probe the confirmation fallback
// uses.
type ChainReader interface {
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	GetListing(ctx context.Context, listingID *big.Int) (ListingState, error)
	Releasable(ctx context.Context, splitter, account common.Address) (*big.Int, error)
	WalletBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

type DefaultChainReader struct {
	client      ChainClient
	marketplace common.Address
	token       common.Address
}

func NewDefaultChainReader(client ChainClient, marketplace, token common.Address) *DefaultChainReader {
	return &DefaultChainReader{client: client, marketplace: marketplace, token: token}
}

func (r *DefaultChainReader) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := r.call(ctx, r.token, tokenCallABI, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (r *DefaultChainReader) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := r.call(ctx, r.token, tokenCallABI, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (r *DefaultChainReader) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := r.call(ctx, r.token, tokenCallABI, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (r *DefaultChainReader) GetListing(ctx context.Context, listingID *big.Int) (ListingState, error) {
	out, err := r.call(ctx, r.marketplace, marketplaceCallABI, "listings", listingID)
	if err != nil {
		return ListingState{}, err
	}
	return ListingState{
		Seller:     out[0].(common.Address),
		Collection: out[1].(common.Address),
		TokenID:    out[2].(*big.Int),
		Price:      out[3].(*big.Int),
		Active:     out[4].(bool),
	}, nil
}

func (r *DefaultChainReader) Releasable(ctx context.Context, splitter, account common.Address) (*big.Int, error) {
	data, err := splitterCallABI.Pack("releasable", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack releasable call: %w", err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &splitter, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("releasable call failed: %w", err)
	}
	out, err := splitterCallABI.Unpack("releasable", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack releasable result: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (r *DefaultChainReader) WalletBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.client.BalanceAt(ctx, account, nil)
}

func (r *DefaultChainReader) call(
	ctx context.Context,
	to common.Address,
	contractABI abi.ABI,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}
