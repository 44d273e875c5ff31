package eth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"metamask style rejection", "MetaMask Tx Signature: User denied transaction signature.", ErrRejected},
		{"walletconnect rejection", "user rejected the request", ErrRejected},
		{"bridge rejection", "Request rejected", ErrRejected},
		{"underfunded", "insufficient funds for gas * price + value", ErrInsufficientFunds},
		{"anything else", "nonce too low", ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySendError(errors.New(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMutationError_CarriesCause(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := newMutationError(ErrConfirmationFailed, "no evidence of success", cause)

	assert.ErrorIs(t, err, ErrConfirmationFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "no evidence of success")
	assert.Contains(t, err.Error(), "rpc timeout")
}

func TestPreconditionFailed(t *testing.T) {
	err := preconditionFailed("listing 7 is not active")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Contains(t, err.Error(), "listing 7 is not active")
}
