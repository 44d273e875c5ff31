package eth

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gallery-live/marketsync/internal/metrics"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"go.uber.org/zap"
)

var marketplaceABI abi.ABI
var tokenABI abi.ABI

var errInvalidTopics = errors.New("invalid topics length")

func init() {
	mktAbi, err := abi.JSON(strings.NewReader(`[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "listingId",  "type": "uint256"},
            {"indexed": true, "name": "buyer",      "type": "address"},
            {"indexed": false,"name": "seller",     "type": "address"},
            {"indexed": false,"name": "collection", "type": "address"},
            {"indexed": false,"name": "tokenId",    "type": "uint256"},
            {"indexed": false,"name": "price",      "type": "uint256"}
        ],
        "name": "Purchased",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "listingId",  "type": "uint256"},
            {"indexed": true, "name": "seller",     "type": "address"},
            {"indexed": false,"name": "collection", "type": "address"},
            {"indexed": false,"name": "tokenId",    "type": "uint256"},
            {"indexed": false,"name": "price",      "type": "uint256"}
        ],
        "name": "Listed",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "listingId", "type": "uint256"},
            {"indexed": false,"name": "newPrice",  "type": "uint256"}
        ],
        "name": "ListingUpdated",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "listingId", "type": "uint256"}
        ],
        "name": "ListingCanceled",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "splitter",  "type": "address"},
            {"indexed": true, "name": "recipient", "type": "address"},
            {"indexed": false,"name": "amount",    "type": "uint256"}
        ],
        "name": "FeeWithdrawn",
        "type": "event"
    }
	]`))
	if err != nil {
		panic("failed to parse marketplace ABI")
	}
	marketplaceABI = mktAbi

	tokAbi, err := abi.JSON(strings.NewReader(`[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "from",    "type": "address"},
            {"indexed": true, "name": "to",      "type": "address"},
            {"indexed": true, "name": "tokenId", "type": "uint256"}
        ],
        "name": "Transfer",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "owner",    "type": "address"},
            {"indexed": true, "name": "approved", "type": "address"},
            {"indexed": true, "name": "tokenId",  "type": "uint256"}
        ],
        "name": "Approval",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "owner",    "type": "address"},
            {"indexed": true, "name": "operator", "type": "address"},
            {"indexed": false,"name": "approved", "type": "bool"}
        ],
        "name": "ApprovalForAll",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "tokenId", "type": "uint256"},
            {"indexed": true, "name": "creator", "type": "address"},
            {"indexed": false,"name": "uri",     "type": "string"}
        ],
        "name": "Minted",
        "type": "event"
    }
	]`))
	if err != nil {
		panic("failed to parse token ABI")
	}
	tokenABI = tokAbi
}

type EventExtractor interface {
	DecodeReceipt(receipt *types.Receipt, marketplace common.Address, tokenContract common.Address) models.DecodedEventSet
}

type DefaultEventExtractor struct{}

func NewDefaultEventExtractor() *DefaultEventExtractor {
	return &DefaultEventExtractor{}
}

// DecodeReceipt runs one decoding pass over the receipt's logs. Only logs
// emitted by the two known contracts are considered; anything that does not
// match a known signature, or fails to unpack, is skipped and decoding
// continues with the next log. Transfer is collected as an ordered slice,
// every other kind keeps the first occurrence.
func (e *DefaultEventExtractor) DecodeReceipt(
	receipt *types.Receipt,
	marketplace common.Address,
	tokenContract common.Address,
) models.DecodedEventSet {
	var set models.DecodedEventSet
	if receipt == nil {
		return set
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		var err error
		switch lg.Address {
		case marketplace:
			err = decodeMarketplaceLog(lg, &set)
		case tokenContract:
			err = decodeTokenLog(lg, &set)
		default:
			continue
		}
		if err != nil {
			metrics.UndecodableLogs.Inc()
			zap.L().Warn("Skipping undecodable log",
				zap.String("txHash", lg.TxHash.Hex()),
				zap.String("contract", lg.Address.Hex()),
				zap.Error(err),
			)
		}
	}
	return set
}

func decodeMarketplaceLog(lg *types.Log, set *models.DecodedEventSet) error {
	switch lg.Topics[0] {
	case marketplaceABI.Events["Purchased"].ID:
		ev, err := decodePurchased(lg)
		if err != nil {
			return err
		}
		if set.Purchased == nil {
			set.Purchased = ev
		}
	case marketplaceABI.Events["Listed"].ID:
		ev, err := decodeListed(lg)
		if err != nil {
			return err
		}
		if set.Listed == nil {
			set.Listed = ev
		}
	case marketplaceABI.Events["ListingUpdated"].ID:
		ev, err := decodeListingUpdated(lg)
		if err != nil {
			return err
		}
		if set.ListingUpdated == nil {
			set.ListingUpdated = ev
		}
	case marketplaceABI.Events["ListingCanceled"].ID:
		if len(lg.Topics) < 2 {
			return errInvalidTopics
		}
		if set.ListingCanceled == nil {
			set.ListingCanceled = &models.ListingCanceledEvent{
				ListingID: topicToUint64(lg.Topics[1]),
			}
		}
	case marketplaceABI.Events["FeeWithdrawn"].ID:
		ev, err := decodeFeeWithdrawn(lg)
		if err != nil {
			return err
		}
		if set.FeeWithdrawn == nil {
			set.FeeWithdrawn = ev
		}
	}
	return nil
}

func decodeTokenLog(lg *types.Log, set *models.DecodedEventSet) error {
	switch lg.Topics[0] {
	case tokenABI.Events["Transfer"].ID:
		if len(lg.Topics) != 4 {
			// ERC20 Transfer shares this signature but only has three
			// topics; not ours.
			return nil
		}
		set.Transfers = append(set.Transfers, models.TransferEvent{
			From:    topicToAddress(lg.Topics[1]),
			To:      topicToAddress(lg.Topics[2]),
			TokenID: topicToBig(lg.Topics[3]).String(),
		})
	case tokenABI.Events["Approval"].ID:
		if len(lg.Topics) != 4 {
			return nil
		}
		if set.Approval == nil {
			set.Approval = &models.ApprovalEvent{
				Owner:    topicToAddress(lg.Topics[1]),
				Approved: topicToAddress(lg.Topics[2]),
				TokenID:  topicToBig(lg.Topics[3]).String(),
			}
		}
	case tokenABI.Events["ApprovalForAll"].ID:
		if len(lg.Topics) < 3 {
			return errInvalidTopics
		}
		var data struct {
			Approved bool `abi:"approved"`
		}
		if err := tokenABI.UnpackIntoInterface(&data, "ApprovalForAll", lg.Data); err != nil {
			return err
		}
		if set.ApprovalForAll == nil {
			set.ApprovalForAll = &models.ApprovalForAllEvent{
				Owner:    topicToAddress(lg.Topics[1]),
				Operator: topicToAddress(lg.Topics[2]),
				Approved: data.Approved,
			}
		}
	case tokenABI.Events["Minted"].ID:
		if len(lg.Topics) < 3 {
			return errInvalidTopics
		}
		var data struct {
			Uri string `abi:"uri"`
		}
		if err := tokenABI.UnpackIntoInterface(&data, "Minted", lg.Data); err != nil {
			return err
		}
		if set.Minted == nil {
			set.Minted = &models.MintedEvent{
				TokenID: topicToBig(lg.Topics[1]).String(),
				Creator: topicToAddress(lg.Topics[2]),
				URI:     data.Uri,
			}
		}
	}
	return nil
}

func decodePurchased(lg *types.Log) (*models.PurchasedEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, errInvalidTopics
	}
	var data struct {
		Seller     common.Address `abi:"seller"`
		Collection common.Address `abi:"collection"`
		TokenId    *big.Int       `abi:"tokenId"`
		Price      *big.Int       `abi:"price"`
	}
	if err := marketplaceABI.UnpackIntoInterface(&data, "Purchased", lg.Data); err != nil {
		return nil, err
	}
	return &models.PurchasedEvent{
		ListingID:  topicToUint64(lg.Topics[1]),
		Buyer:      topicToAddress(lg.Topics[2]),
		Seller:     strings.ToLower(data.Seller.Hex()),
		Collection: strings.ToLower(data.Collection.Hex()),
		TokenID:    data.TokenId.String(),
		Price:      data.Price,
	}, nil
}

func decodeListed(lg *types.Log) (*models.ListedEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, errInvalidTopics
	}
	var data struct {
		Collection common.Address `abi:"collection"`
		TokenId    *big.Int       `abi:"tokenId"`
		Price      *big.Int       `abi:"price"`
	}
	if err := marketplaceABI.UnpackIntoInterface(&data, "Listed", lg.Data); err != nil {
		return nil, err
	}
	return &models.ListedEvent{
		ListingID:  topicToUint64(lg.Topics[1]),
		Seller:     topicToAddress(lg.Topics[2]),
		Collection: strings.ToLower(data.Collection.Hex()),
		TokenID:    data.TokenId.String(),
		Price:      data.Price,
	}, nil
}

func decodeListingUpdated(lg *types.Log) (*models.ListingUpdatedEvent, error) {
	if len(lg.Topics) < 2 {
		return nil, errInvalidTopics
	}
	var data struct {
		NewPrice *big.Int `abi:"newPrice"`
	}
	if err := marketplaceABI.UnpackIntoInterface(&data, "ListingUpdated", lg.Data); err != nil {
		return nil, err
	}
	return &models.ListingUpdatedEvent{
		ListingID: topicToUint64(lg.Topics[1]),
		NewPrice:  data.NewPrice,
	}, nil
}

func decodeFeeWithdrawn(lg *types.Log) (*models.FeeWithdrawnEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, errInvalidTopics
	}
	var data struct {
		Amount *big.Int `abi:"amount"`
	}
	if err := marketplaceABI.UnpackIntoInterface(&data, "FeeWithdrawn", lg.Data); err != nil {
		return nil, err
	}
	return &models.FeeWithdrawnEvent{
		Splitter:  topicToAddress(lg.Topics[1]),
		Recipient: topicToAddress(lg.Topics[2]),
		Amount:    data.Amount,
	}, nil
}

func topicToAddress(topic common.Hash) string {
	return strings.ToLower(common.HexToAddress(topic.Hex()).Hex())
}

func topicToBig(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

func topicToUint64(topic common.Hash) uint64 {
	return topicToBig(topic).Uint64()
}
