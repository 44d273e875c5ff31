package eth

import (
	"errors"
	"fmt"
	"strings"
)

// Mutation failure taxonomy. Callers match with errors.Is against these
// sentinels; the concrete error carries the human-readable reason and the
// raw cause.
var (
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrRejected            = errors.New("signature rejected")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWrongNetwork        = errors.New("wrong network")
	ErrGasEstimationFailed = errors.New("gas estimation failed")
	ErrConfirmationFailed  = errors.New("confirmation failed")
	ErrIndexerUnavailable  = errors.New("indexer unavailable")
	ErrUnknown             = errors.New("unknown mutation error")
)

type MutationError struct {
	Kind   error
	Reason string
	Cause  error
}

func (e *MutationError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

func (e *MutationError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *MutationError) Unwrap() error {
	return e.Cause
}

func newMutationError(kind error, reason string, cause error) *MutationError {
	return &MutationError{Kind: kind, Reason: reason, Cause: cause}
}

func preconditionFailed(reason string) *MutationError {
	return newMutationError(ErrPreconditionFailed, reason, nil)
}

// classifySendError maps the raw error returned by a signer/node on
// submission onto the taxonomy. Matching is substring-based because both
// wallet bridges and nodes report these as free-text JSON-RPC errors.
func classifySendError(err error) *MutationError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user denied"),
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "request rejected"):
		return newMutationError(ErrRejected, "transaction signature was declined", err)
	case strings.Contains(msg, "insufficient funds"):
		return newMutationError(ErrInsufficientFunds, "account balance cannot cover value plus gas", err)
	default:
		return newMutationError(ErrUnknown, "transaction submission failed", err)
	}
}
