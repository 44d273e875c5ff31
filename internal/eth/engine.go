package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gallery-live/marketsync/internal/cache"
	"github.com/gallery-live/marketsync/internal/metrics"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"go.uber.org/zap"
)

var marketplaceWriteABI abi.ABI
var tokenWriteABI abi.ABI
var splitterWriteABI abi.ABI

func init() {
	var err error
	marketplaceWriteABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [{"name": "listingId", "type": "uint256"}],
        "name": "buy",
        "outputs": [],
        "stateMutability": "payable",
        "type": "function"
    },
    {
        "inputs": [
            {"name": "collection", "type": "address"},
            {"name": "tokenId",    "type": "uint256"},
            {"name": "price",      "type": "uint256"}
        ],
        "name": "list",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    },
    {
        "inputs": [
            {"name": "listingId", "type": "uint256"},
            {"name": "newPrice",  "type": "uint256"}
        ],
        "name": "updatePrice",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    },
    {
        "inputs": [{"name": "listingId", "type": "uint256"}],
        "name": "cancelListing",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse marketplace write ABI")
	}

	tokenWriteABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [
            {"name": "to",      "type": "address"},
            {"name": "tokenId", "type": "uint256"}
        ],
        "name": "approve",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse token write ABI")
	}

	splitterWriteABI, err = abi.JSON(strings.NewReader(`[
    {
        "inputs": [{"name": "account", "type": "address"}],
        "name": "release",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    }
	]`))
	if err != nil {
		panic("failed to parse splitter write ABI")
	}
}

// MutationResult is what every engine operation returns. A NoOp result
// means the operation was skipped locally (e.g. withdraw with a zero
// balance) and nothing was submitted. Synthetic means success was verified
// through a side-effect probe and Events is empty, so callers should do a
// full resync instead of an optimistic patch.
type MutationResult struct {
	TxHash    string
	Events    models.DecodedEventSet
	Synthetic bool
	NoOp      bool
}

// MarketCaches holds the engine's explicit read caches. Every successful
// mutation invalidates all of them through Clear, since any of the cached
// reads may have changed under it.
type MarketCaches struct {
	Listings  *cache.TTL[uint64, ListingState]
	Splitters *cache.TTL[string, common.Address]
	Owners    *cache.TTL[string, common.Address]
}

func NewMarketCaches(ttl time.Duration) *MarketCaches {
	return &MarketCaches{
		Listings:  cache.NewTTL[uint64, ListingState](ttl),
		Splitters: cache.NewTTL[string, common.Address](ttl),
		Owners:    cache.NewTTL[string, common.Address](ttl),
	}
}

func (c *MarketCaches) Clear() {
	c.Listings.Clear()
	c.Splitters.Clear()
	c.Owners.Clear()
}

type MutationEngine struct {
	client      ChainClient
	signer      Signer
	reader      ChainReader
	estimator   GasEstimator
	resolver    ConfirmationResolver
	extractor   EventExtractor
	caches      *MarketCaches
	marketplace common.Address
	token       common.Address
	chainID     uint64
}

func NewMutationEngine(
	client ChainClient,
	signer Signer,
	reader ChainReader,
	estimator GasEstimator,
	resolver ConfirmationResolver,
	extractor EventExtractor,
	marketplace common.Address,
	token common.Address,
	chainID uint64,
) *MutationEngine {
	return &MutationEngine{
		client:      client,
		signer:      signer,
		reader:      reader,
		estimator:   estimator,
		resolver:    resolver,
		extractor:   extractor,
		caches:      NewMarketCaches(30 * time.Second),
		marketplace: marketplace,
		token:       token,
		chainID:     chainID,
	}
}

func (e *MutationEngine) Caches() *MarketCaches {
	return e.caches
}

// Buy purchases an active listing. Preconditions defend against stale or
// poisoned listing data: the listing must be active, the marketplace must
// currently custody the NFT, the caller must not be the seller and must be
// able to cover the price.
func (e *MutationEngine) Buy(ctx context.Context, listingID uint64) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpBuy, err)
	}

	st, err := e.getListing(ctx, listingID)
	if err != nil {
		return e.fail(models.OpBuy, newMutationError(ErrUnknown, "failed to read listing", err))
	}
	caller := e.signer.Address()
	switch {
	case !st.Active:
		return e.fail(models.OpBuy, preconditionFailed(fmt.Sprintf("listing %d is not active", listingID)))
	case st.Seller == caller:
		return e.fail(models.OpBuy, preconditionFailed("caller is the seller of this listing"))
	}

	owner, err := e.reader.OwnerOf(ctx, st.TokenID)
	if err != nil {
		return e.fail(models.OpBuy, newMutationError(ErrUnknown, "failed to read token owner", err))
	}
	if owner != e.marketplace {
		return e.fail(models.OpBuy, preconditionFailed("marketplace does not custody the listed token"))
	}

	balance, err := e.reader.WalletBalance(ctx, caller)
	if err != nil {
		return e.fail(models.OpBuy, newMutationError(ErrUnknown, "failed to read wallet balance", err))
	}
	if balance.Cmp(st.Price) < 0 {
		return e.fail(models.OpBuy, newMutationError(ErrInsufficientFunds,
			"wallet balance does not cover the listing price", nil))
	}

	data, err := marketplaceWriteABI.Pack("buy", new(big.Int).SetUint64(listingID))
	if err != nil {
		return e.fail(models.OpBuy, newMutationError(ErrUnknown, "failed to encode buy call", err))
	}

	probe := func(ctx context.Context) (bool, error) {
		newOwner, err := e.reader.OwnerOf(ctx, st.TokenID)
		if err != nil {
			return false, err
		}
		return newOwner == caller, nil
	}
	return e.execute(ctx, models.OpBuy, e.marketplace, st.Price, data, probe)
}

// List creates a listing for a token the caller owns and has already
// approved for the marketplace. Use ListWithApproval when approval may be
// missing.
func (e *MutationEngine) List(ctx context.Context, collection common.Address, tokenID *big.Int, price *big.Int) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpList, err)
	}
	if err := e.checkListPreconditions(ctx, tokenID); err != nil {
		return e.fail(models.OpList, err)
	}

	data, err := marketplaceWriteABI.Pack("list", collection, tokenID, price)
	if err != nil {
		return e.fail(models.OpList, newMutationError(ErrUnknown, "failed to encode list call", err))
	}

	probe := func(ctx context.Context) (bool, error) {
		owner, err := e.reader.OwnerOf(ctx, tokenID)
		if err != nil {
			return false, err
		}
		return owner == e.marketplace, nil
	}
	return e.execute(ctx, models.OpList, e.marketplace, nil, data, probe)
}

// ListWithApproval performs the approval transaction first when the token
// is not yet approved, re-verifies the approval, then lists.
func (e *MutationEngine) ListWithApproval(ctx context.Context, collection common.Address, tokenID *big.Int, price *big.Int) (*MutationResult, error) {
	approved, err := e.isApprovedForMarketplace(ctx, tokenID)
	if err != nil {
		return e.fail(models.OpList, newMutationError(ErrUnknown, "failed to read approval state", err))
	}
	if !approved {
		if _, err := e.Approve(ctx, tokenID); err != nil {
			return nil, err
		}
		approved, err = e.isApprovedForMarketplace(ctx, tokenID)
		if err != nil {
			return e.fail(models.OpList, newMutationError(ErrUnknown, "failed to re-verify approval", err))
		}
		if !approved {
			return e.fail(models.OpList, preconditionFailed("approval transaction confirmed but approval not visible on chain"))
		}
	}
	return e.List(ctx, collection, tokenID, price)
}

// UpdatePrice changes the price of the caller's own active listing.
func (e *MutationEngine) UpdatePrice(ctx context.Context, listingID uint64, newPrice *big.Int) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpUpdatePrice, err)
	}
	if err := e.checkSellerPreconditions(ctx, listingID); err != nil {
		return e.fail(models.OpUpdatePrice, err)
	}

	data, err := marketplaceWriteABI.Pack("updatePrice", new(big.Int).SetUint64(listingID), newPrice)
	if err != nil {
		return e.fail(models.OpUpdatePrice, newMutationError(ErrUnknown, "failed to encode updatePrice call", err))
	}
	return e.execute(ctx, models.OpUpdatePrice, e.marketplace, nil, data, nil)
}

// Cancel removes the caller's own active listing.
func (e *MutationEngine) Cancel(ctx context.Context, listingID uint64) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpCancel, err)
	}
	if err := e.checkSellerPreconditions(ctx, listingID); err != nil {
		return e.fail(models.OpCancel, err)
	}

	data, err := marketplaceWriteABI.Pack("cancelListing", new(big.Int).SetUint64(listingID))
	if err != nil {
		return e.fail(models.OpCancel, newMutationError(ErrUnknown, "failed to encode cancelListing call", err))
	}
	return e.execute(ctx, models.OpCancel, e.marketplace, nil, data, nil)
}

// Withdraw releases the caller's share from a royalty splitter. A zero
// reported balance is a local no-op, not an error: there is nothing to
// withdraw and no reason to burn a signature prompt on it.
func (e *MutationEngine) Withdraw(ctx context.Context, splitter common.Address) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpWithdraw, err)
	}

	caller := e.signer.Address()
	balance, err := e.reader.Releasable(ctx, splitter, caller)
	if err != nil {
		return e.fail(models.OpWithdraw, newMutationError(ErrUnknown, "failed to read splitter balance", err))
	}
	if balance.Sign() <= 0 {
		zap.L().Info("Nothing to withdraw, skipping",
			zap.String("splitter", splitter.Hex()),
			zap.String("account", caller.Hex()),
		)
		return &MutationResult{NoOp: true}, nil
	}

	data, err := splitterWriteABI.Pack("release", caller)
	if err != nil {
		return e.fail(models.OpWithdraw, newMutationError(ErrUnknown, "failed to encode release call", err))
	}
	return e.execute(ctx, models.OpWithdraw, splitter, nil, data, nil)
}

// Approve grants the marketplace transfer rights over one token.
func (e *MutationEngine) Approve(ctx context.Context, tokenID *big.Int) (*MutationResult, error) {
	if err := e.ensureNetwork(ctx); err != nil {
		return e.fail(models.OpApprove, err)
	}

	data, err := tokenWriteABI.Pack("approve", e.marketplace, tokenID)
	if err != nil {
		return e.fail(models.OpApprove, newMutationError(ErrUnknown, "failed to encode approve call", err))
	}
	return e.execute(ctx, models.OpApprove, e.token, nil, data, nil)
}

func (e *MutationEngine) checkListPreconditions(ctx context.Context, tokenID *big.Int) error {
	caller := e.signer.Address()
	owner, err := e.ownerOf(ctx, tokenID)
	if err != nil {
		return newMutationError(ErrUnknown, "failed to read token owner", err)
	}
	if owner != caller {
		return preconditionFailed("caller does not own the token")
	}
	approved, err := e.isApprovedForMarketplace(ctx, tokenID)
	if err != nil {
		return newMutationError(ErrUnknown, "failed to read approval state", err)
	}
	if !approved {
		return preconditionFailed("token is not approved for the marketplace")
	}
	return nil
}

func (e *MutationEngine) checkSellerPreconditions(ctx context.Context, listingID uint64) error {
	st, err := e.getListing(ctx, listingID)
	if err != nil {
		return newMutationError(ErrUnknown, "failed to read listing", err)
	}
	if !st.Active {
		return preconditionFailed(fmt.Sprintf("listing %d is not active", listingID))
	}
	if st.Seller != e.signer.Address() {
		return preconditionFailed("caller is not the seller of this listing")
	}
	return nil
}

func (e *MutationEngine) isApprovedForMarketplace(ctx context.Context, tokenID *big.Int) (bool, error) {
	approved, err := e.reader.GetApproved(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if approved == e.marketplace {
		return true, nil
	}
	return e.reader.IsApprovedForAll(ctx, e.signer.Address(), e.marketplace)
}

func (e *MutationEngine) getListing(ctx context.Context, listingID uint64) (ListingState, error) {
	if st, ok := e.caches.Listings.Get(listingID); ok {
		return st, nil
	}
	st, err := e.reader.GetListing(ctx, new(big.Int).SetUint64(listingID))
	if err != nil {
		return ListingState{}, err
	}
	e.caches.Listings.Set(listingID, st)
	return st, nil
}

func (e *MutationEngine) ownerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	key := tokenID.String()
	if owner, ok := e.caches.Owners.Get(key); ok {
		return owner, nil
	}
	owner, err := e.reader.OwnerOf(ctx, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	e.caches.Owners.Set(key, owner)
	return owner, nil
}

// ensureNetwork verifies the connected chain. When the signer can switch
// chains (wallet bridges), one switch attempt is made before giving up.
func (e *MutationEngine) ensureNetwork(ctx context.Context) error {
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return newMutationError(ErrUnknown, "failed to read chain id", err)
	}
	if chainID.Uint64() == e.chainID {
		return nil
	}

	switcher, ok := e.signer.(ChainSwitcher)
	if !ok {
		return newMutationError(ErrWrongNetwork,
			fmt.Sprintf("connected to chain %d, expected %d", chainID.Uint64(), e.chainID), nil)
	}

	zap.L().Info("Chain mismatch, requesting switch",
		zap.Uint64("connected", chainID.Uint64()),
		zap.Uint64("expected", e.chainID),
	)
	if err := switcher.SwitchChain(ctx, e.chainID); err != nil {
		return newMutationError(ErrWrongNetwork, "network switch request failed", err)
	}
	chainID, err = e.client.ChainID(ctx)
	if err != nil || chainID.Uint64() != e.chainID {
		return newMutationError(ErrWrongNetwork, "still on the wrong chain after switch", err)
	}
	return nil
}

// execute runs the shared tail of every mutation: estimate, sign+send,
// confirm, decode. The caches are cleared on every success since the
// mutation may have invalidated any of them.
func (e *MutationEngine) execute(
	ctx context.Context,
	op models.OperationKind,
	to common.Address,
	value *big.Int,
	data []byte,
	probe SideEffectProbe,
) (*MutationResult, error) {
	caller := e.signer.Address()
	msg := ethereum.CallMsg{From: caller, To: &to, Value: value, Data: data}
	envelope := e.estimator.Estimate(ctx, msg, op)

	tx, err := e.buildTransaction(ctx, caller, to, value, data, envelope)
	if err != nil {
		return e.fail(op, err)
	}
	signed, err := e.signer.SignTx(tx, new(big.Int).SetUint64(e.chainID))
	if err != nil {
		return e.fail(op, classifySendError(err))
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return e.fail(op, classifySendError(err))
	}

	txHash := signed.Hash()
	zap.L().Info("Transaction submitted",
		zap.String("op", op.String()),
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("gasLimit", envelope.GasLimit),
	)

	conf, err := e.resolver.WaitForReceipt(ctx, txHash, probe)
	if err != nil {
		return e.fail(op, err)
	}

	result := &MutationResult{
		TxHash:    strings.ToLower(conf.TxHash.Hex()),
		Synthetic: conf.Synthetic,
	}
	if conf.Receipt != nil {
		result.Events = e.extractor.DecodeReceipt(conf.Receipt, e.marketplace, e.token)
	}
	if result.Events.Empty() {
		// Confirmed but nothing decodable: success is still reported, and
		// the empty set routes callers to a full resync instead of an
		// optimistic patch.
		zap.L().Warn("Mutation confirmed without decodable events",
			zap.String("op", op.String()),
			zap.String("txHash", result.TxHash),
		)
	}

	e.caches.Clear()
	metrics.MutationsTotal.WithLabelValues(op.String(), "success").Inc()
	return result, nil
}

func (e *MutationEngine) buildTransaction(
	ctx context.Context,
	from common.Address,
	to common.Address,
	value *big.Int,
	data []byte,
	envelope models.GasEnvelope,
) (*types.Transaction, error) {
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, newMutationError(ErrUnknown, "failed to fetch account nonce", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	if envelope.IsLegacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      envelope.GasLimit,
			GasPrice: envelope.GasPrice,
			Data:     data,
		}), nil
	}
	if envelope.MaxFeePerGas != nil {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(e.chainID),
			Nonce:     nonce,
			To:        &to,
			Value:     value,
			Gas:       envelope.GasLimit,
			GasFeeCap: envelope.MaxFeePerGas,
			GasTipCap: envelope.MaxPriorityFeePerGas,
			Data:      data,
		}), nil
	}

	// Fee data was unavailable during estimation. A wallet bridge would
	// price the transaction itself; with a local key the only option is
	// one more suggestion attempt.
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, newMutationError(ErrGasEstimationFailed,
			"fee data unavailable and the node offered no gas price", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      envelope.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	}), nil
}

func (e *MutationEngine) fail(op models.OperationKind, err error) (*MutationResult, error) {
	metrics.MutationsTotal.WithLabelValues(op.String(), "failure").Inc()
	return nil, err
}
