package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/gallery-live/marketsync/internal/metrics"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"go.uber.org/zap"
)

// gasBand is the per-operation envelope for the gas limit. floor doubles as
// the fallback value when the node's own estimation fails, which happens
// routinely on flaky testnets.
type gasBand struct {
	floor uint64
	max   uint64
}

var gasBands = map[models.OperationKind]gasBand{
	// A purchase touches royalty payout, seller payout, NFT transfer and
	// sale recording in one call, hence the much higher floor.
	models.OpBuy:         {floor: 1_000_000, max: 1_500_000},
	models.OpList:        {floor: 450_000, max: 800_000},
	models.OpUpdatePrice: {floor: 200_000, max: 400_000},
	models.OpCancel:      {floor: 200_000, max: 400_000},
	models.OpWithdraw:    {floor: 300_000, max: 600_000},
	models.OpApprove:     {floor: 120_000, max: 250_000},
}

const (
	gasLimitMarginPercent = 20
	feeMarginPercent      = 15
)

type GasEstimator interface {
	Estimate(ctx context.Context, msg ethereum.CallMsg, op models.OperationKind) models.GasEnvelope
}

type DefaultGasEstimator struct {
	client ChainClient
	// legacyPricing selects a single gasPrice over EIP-1559 fields, set per
	// network for wallet/network combinations that mishandle type-2 txs.
	legacyPricing bool
}

func NewDefaultGasEstimator(client ChainClient, legacyPricing bool) *DefaultGasEstimator {
	return &DefaultGasEstimator{client: client, legacyPricing: legacyPricing}
}

// Estimate never fails: estimation errors fall back to the operation floor
// and fee-data errors leave the pricing fields empty so the signer/node
// defaults apply. The returned envelope never carries legacy and EIP-1559
// fields at the same time.
func (g *DefaultGasEstimator) Estimate(
	ctx context.Context,
	msg ethereum.CallMsg,
	op models.OperationKind,
) models.GasEnvelope {
	band, ok := gasBands[op]
	if !ok {
		band = gasBands[models.OpBuy]
	}

	envelope := models.GasEnvelope{GasLimit: g.estimateLimit(ctx, msg, op, band)}
	g.fillFeeFields(ctx, &envelope)
	return envelope
}

func (g *DefaultGasEstimator) estimateLimit(
	ctx context.Context,
	msg ethereum.CallMsg,
	op models.OperationKind,
	band gasBand,
) uint64 {
	raw, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		metrics.GasEstimateFallbacks.Inc()
		zap.L().Warn("Gas estimation failed, using operation floor",
			zap.String("op", op.String()),
			zap.Uint64("floor", band.floor),
			zap.Error(err),
		)
		return band.floor
	}

	inflated := raw + raw*gasLimitMarginPercent/100
	if inflated < band.floor {
		return band.floor
	}
	if inflated <= band.max {
		return inflated
	}
	// A raw estimate above the band max but within 2x of it is honored:
	// truly complex calls legitimately need more gas than the band allows.
	// Anything beyond that is a broken node answer and gets clamped, as
	// does margin overshoot on an in-band raw estimate.
	if raw > band.max && raw <= 2*band.max {
		return inflated
	}
	return band.max
}

func (g *DefaultGasEstimator) fillFeeFields(ctx context.Context, envelope *models.GasEnvelope) {
	if g.legacyPricing {
		gasPrice, err := g.client.SuggestGasPrice(ctx)
		if err != nil {
			zap.L().Warn("Fee data unavailable, leaving pricing to the node", zap.Error(err))
			return
		}
		envelope.GasPrice = inflate(gasPrice, feeMarginPercent)
		return
	}

	tip, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		zap.L().Warn("Fee data unavailable, leaving pricing to the node", zap.Error(err))
		return
	}
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		zap.L().Warn("Base fee unavailable, leaving pricing to the node", zap.Error(err))
		return
	}

	maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	envelope.MaxPriorityFeePerGas = inflate(tip, feeMarginPercent)
	envelope.MaxFeePerGas = inflate(maxFee, feeMarginPercent)
}

func inflate(v *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(100+percent))
	return out.Div(out, big.NewInt(100))
}
