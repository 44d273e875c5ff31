package eth

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gallery-live/marketsync/internal/metrics"
	"go.uber.org/zap"
)

// Confirmation is the evidence that a submitted transaction took effect.
// Synthetic confirmations come from the side-effect probe and carry no
// receipt, only the hash.
type Confirmation struct {
	TxHash    common.Hash
	Receipt   *types.Receipt
	Synthetic bool
}

// SideEffectProbe verifies a mutation's effect directly (e.g. the NFT owner
// now matches the expected buyer). Used as the last confirmation tier for
// purchase/list style calls only.
type SideEffectProbe func(ctx context.Context) (bool, error)

// errTxReverted marks a mined-but-failed receipt. It is terminal: once any
// tier sees a reverted receipt there is nothing left to fall back to.
var errTxReverted = errors.New("transaction reverted")

type ConfirmationResolver interface {
	WaitForReceipt(ctx context.Context, txHash common.Hash, probe SideEffectProbe) (*Confirmation, error)
}

type DefaultConfirmationResolver struct {
	client        ChainClient
	confirmations uint64
	timeout       time.Duration
	pollInterval  time.Duration
}

func NewDefaultConfirmationResolver(client ChainClient, confirmations uint64, timeout time.Duration) *DefaultConfirmationResolver {
	if confirmations == 0 {
		confirmations = 2
	}
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &DefaultConfirmationResolver{
		client:        client,
		confirmations: confirmations,
		timeout:       timeout,
		pollInterval:  2 * time.Second,
	}
}

type confirmationStrategy struct {
	name string
	run  func(ctx context.Context) (*Confirmation, error)
}

// WaitForReceipt walks an ordered fallback chain until one tier yields
// evidence of success. The layering exists because wallet-bridge transports
// (mobile/WalletConnect in particular) can report submission and then drop
// the confirmation channel. A tier returning (nil, nil) means "no evidence,
// try the next one"; exhausting the chain is ErrConfirmationFailed and the
// caller must not assume chain state changed. A mined receipt with failed
// status ends the walk immediately: the transaction reverted, and no later
// tier may overrule that.
func (r *DefaultConfirmationResolver) WaitForReceipt(
	ctx context.Context,
	txHash common.Hash,
	probe SideEffectProbe,
) (*Confirmation, error) {
	strategies := []confirmationStrategy{
		{name: "wait", run: func(ctx context.Context) (*Confirmation, error) {
			return r.waitForConfirmations(ctx, txHash)
		}},
		{name: "receipt_lookup", run: func(ctx context.Context) (*Confirmation, error) {
			return r.directReceiptLookup(ctx, txHash)
		}},
		{name: "tx_then_receipt", run: func(ctx context.Context) (*Confirmation, error) {
			return r.transactionThenReceipt(ctx, txHash)
		}},
	}
	if probe != nil {
		strategies = append(strategies, confirmationStrategy{
			name: "side_effect_probe",
			run: func(ctx context.Context) (*Confirmation, error) {
				return r.probeSideEffect(ctx, txHash, probe)
			},
		})
	}

	var lastErr error
	for _, strategy := range strategies {
		conf, err := strategy.run(ctx)
		if errors.Is(err, errTxReverted) {
			zap.L().Warn("Transaction reverted on chain",
				zap.String("strategy", strategy.name),
				zap.String("txHash", txHash.Hex()),
			)
			return nil, newMutationError(ErrConfirmationFailed,
				"transaction reverted on chain", err)
		}
		if err != nil {
			zap.L().Warn("Confirmation strategy failed",
				zap.String("strategy", strategy.name),
				zap.String("txHash", txHash.Hex()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if conf != nil {
			metrics.ConfirmationTierUsed.WithLabelValues(strategy.name).Inc()
			return conf, nil
		}
	}

	return nil, newMutationError(ErrConfirmationFailed,
		"no confirmation strategy produced evidence of success", lastErr)
}

// waitForConfirmations polls for the receipt and then for enough blocks on
// top of it, bounded by the resolver's hard timeout.
func (r *DefaultConfirmationResolver) waitForConfirmations(ctx context.Context, txHash common.Hash) (*Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		receipt, err := r.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, errTxReverted
			}
			confirmed, err := r.hasEnoughConfirmations(waitCtx, receipt)
			if err == nil && confirmed {
				return &Confirmation{TxHash: txHash, Receipt: receipt}, nil
			}
		}
		if sleepInterrupted(waitCtx, r.pollInterval) {
			return nil, waitCtx.Err()
		}
	}
}

func (r *DefaultConfirmationResolver) hasEnoughConfirmations(ctx context.Context, receipt *types.Receipt) (bool, error) {
	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined+r.confirmations-1, nil
}

func (r *DefaultConfirmationResolver) directReceiptLookup(ctx context.Context, txHash common.Hash) (*Confirmation, error) {
	receipt, err := r.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errTxReverted
	}
	return &Confirmation{TxHash: txHash, Receipt: receipt}, nil
}

// transactionThenReceipt covers the race where the transaction is mined but
// the receipt call raced the block import: if the node knows the tx and it
// is no longer pending, one more receipt lookup is warranted.
func (r *DefaultConfirmationResolver) transactionThenReceipt(ctx context.Context, txHash common.Hash) (*Confirmation, error) {
	_, isPending, err := r.client.TransactionByHash(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if isPending {
		return nil, nil
	}
	return r.directReceiptLookup(ctx, txHash)
}

func (r *DefaultConfirmationResolver) probeSideEffect(ctx context.Context, txHash common.Hash, probe SideEffectProbe) (*Confirmation, error) {
	ok, err := probe(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	zap.L().Info("Confirmation synthesized from side effect",
		zap.String("txHash", txHash.Hex()),
	)
	return &Confirmation{TxHash: txHash, Synthetic: true}, nil
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
