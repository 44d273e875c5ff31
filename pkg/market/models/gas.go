package models

import "math/big"

type OperationKind string

func (k OperationKind) String() string {
	return string(k)
}

const (
	OpBuy         OperationKind = "buy"
	OpList        OperationKind = "list"
	OpUpdatePrice OperationKind = "updatePrice"
	OpCancel      OperationKind = "cancel"
	OpWithdraw    OperationKind = "withdraw"
	OpApprove     OperationKind = "approve"
)

// GasEnvelope carries the fee fields for one submission. EIP-1559 fields
// and the legacy GasPrice are mutually exclusive; all pricing fields may be
// nil when fee data could not be fetched, in which case the node's defaults
// apply.
type GasEnvelope struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

func (e GasEnvelope) IsLegacy() bool {
	return e.GasPrice != nil
}

func (e GasEnvelope) HasFeeData() bool {
	return e.GasPrice != nil || e.MaxFeePerGas != nil
}
