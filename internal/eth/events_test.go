package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMarketplace = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testToken       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testSeller      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testBuyer       = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func packData(t *testing.T, eventAbi string, name string, args ...interface{}) []byte {
	t.Helper()
	var ev = marketplaceABI.Events[name]
	if eventAbi == "token" {
		ev = tokenABI.Events[name]
	}
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func TestDecodeReceipt_Purchased(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	receipt := &types.Receipt{
		Logs: []*types.Log{
			{
				Address: testMarketplace,
				Topics: []common.Hash{
					marketplaceABI.Events["Purchased"].ID,
					uintTopic(42),
					addrTopic(testBuyer),
				},
				Data: packData(t, "marketplace", "Purchased",
					testSeller, testToken, big.NewInt(9), big.NewInt(1_500_000_000_000_000_000)),
			},
			{
				Address: testToken,
				Topics: []common.Hash{
					tokenABI.Events["Transfer"].ID,
					addrTopic(testMarketplace),
					addrTopic(testBuyer),
					uintTopic(9),
				},
			},
		},
	}

	set := extractor.DecodeReceipt(receipt, testMarketplace, testToken)

	require.NotNil(t, set.Purchased)
	assert.Equal(t, uint64(42), set.Purchased.ListingID)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", set.Purchased.Buyer)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", set.Purchased.Seller)
	assert.Equal(t, "9", set.Purchased.TokenID)
	assert.Equal(t, "1500000000000000000", set.Purchased.Price.String())

	require.Len(t, set.Transfers, 1)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", set.Transfers[0].From)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", set.Transfers[0].To)
	assert.Equal(t, "9", set.Transfers[0].TokenID)
}

func TestDecodeReceipt_ListingCanceled(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	receipt := &types.Receipt{
		Logs: []*types.Log{
			{
				Address: testMarketplace,
				Topics: []common.Hash{
					marketplaceABI.Events["ListingCanceled"].ID,
					uintTopic(7),
				},
			},
		},
	}

	set := extractor.DecodeReceipt(receipt, testMarketplace, testToken)

	require.NotNil(t, set.ListingCanceled)
	assert.Equal(t, uint64(7), set.ListingCanceled.ListingID)
	assert.Nil(t, set.Purchased)
	assert.False(t, set.Empty())
}

func TestDecodeReceipt_SkipsForeignAndMalformedLogs(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	otherContract := common.HexToAddress("0x9999999999999999999999999999999999999999")
	receipt := &types.Receipt{
		Logs: []*types.Log{
			// Known signature but wrong contract: ignored entirely.
			{
				Address: otherContract,
				Topics: []common.Hash{
					marketplaceABI.Events["ListingCanceled"].ID,
					uintTopic(1),
				},
			},
			// Right contract, truncated topics: skipped, decoding continues.
			{
				Address: testMarketplace,
				Topics: []common.Hash{
					marketplaceABI.Events["ListingCanceled"].ID,
				},
			},
			// No topics at all.
			{Address: testMarketplace},
			{
				Address: testMarketplace,
				Topics: []common.Hash{
					marketplaceABI.Events["ListingUpdated"].ID,
					uintTopic(5),
				},
				Data: packData(t, "marketplace", "ListingUpdated", big.NewInt(2_000_000)),
			},
		},
	}

	set := extractor.DecodeReceipt(receipt, testMarketplace, testToken)

	assert.Nil(t, set.ListingCanceled)
	require.NotNil(t, set.ListingUpdated)
	assert.Equal(t, uint64(5), set.ListingUpdated.ListingID)
	assert.Equal(t, "2000000", set.ListingUpdated.NewPrice.String())
}

func TestDecodeReceipt_Erc20TransferIgnored(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	receipt := &types.Receipt{
		Logs: []*types.Log{
			// Same signature as ERC721 Transfer but the amount is in data,
			// leaving only three topics.
			{
				Address: testToken,
				Topics: []common.Hash{
					tokenABI.Events["Transfer"].ID,
					addrTopic(testSeller),
					addrTopic(testBuyer),
				},
				Data: common.BigToHash(big.NewInt(1000)).Bytes(),
			},
		},
	}

	set := extractor.DecodeReceipt(receipt, testMarketplace, testToken)
	assert.Empty(t, set.Transfers)
	assert.True(t, set.Empty())
}

func TestDecodeReceipt_MultipleTransfersOrdered(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	var logs []*types.Log
	for i := uint64(1); i <= 3; i++ {
		logs = append(logs, &types.Log{
			Address: testToken,
			Topics: []common.Hash{
				tokenABI.Events["Transfer"].ID,
				addrTopic(testSeller),
				addrTopic(testBuyer),
				uintTopic(i),
			},
		})
	}

	set := extractor.DecodeReceipt(&types.Receipt{Logs: logs}, testMarketplace, testToken)

	require.Len(t, set.Transfers, 3)
	assert.Equal(t, "1", set.Transfers[0].TokenID)
	assert.Equal(t, "2", set.Transfers[1].TokenID)
	assert.Equal(t, "3", set.Transfers[2].TokenID)
}

func TestDecodeReceipt_FeeWithdrawnAndMinted(t *testing.T) {
	extractor := NewDefaultEventExtractor()
	splitter := common.HexToAddress("0x5555555555555555555555555555555555555555")
	receipt := &types.Receipt{
		Logs: []*types.Log{
			{
				Address: testMarketplace,
				Topics: []common.Hash{
					marketplaceABI.Events["FeeWithdrawn"].ID,
					addrTopic(splitter),
					addrTopic(testSeller),
				},
				Data: packData(t, "marketplace", "FeeWithdrawn", big.NewInt(777)),
			},
			{
				Address: testToken,
				Topics: []common.Hash{
					tokenABI.Events["Minted"].ID,
					uintTopic(12),
					addrTopic(testSeller),
				},
				Data: packData(t, "token", "Minted", "ipfs://meta/12"),
			},
		},
	}

	set := extractor.DecodeReceipt(receipt, testMarketplace, testToken)

	require.NotNil(t, set.FeeWithdrawn)
	assert.Equal(t, "0x5555555555555555555555555555555555555555", set.FeeWithdrawn.Splitter)
	assert.Equal(t, "777", set.FeeWithdrawn.Amount.String())

	require.NotNil(t, set.Minted)
	assert.Equal(t, "12", set.Minted.TokenID)
	assert.Equal(t, "ipfs://meta/12", set.Minted.URI)
}

func TestDecodeReceipt_NilReceipt(t *testing.T) {
	set := NewDefaultEventExtractor().DecodeReceipt(nil, testMarketplace, testToken)
	assert.True(t, set.Empty())
}
