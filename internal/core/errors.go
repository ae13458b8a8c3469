package core

import (
	"errors"
	"fmt"
)

var (
	ErrBusy                  = errors.New("another operation is in progress")
	ErrReplayDetected        = errors.New("transaction id already used")
	ErrNotInitialized        = errors.New("bridge address not initialized")
	ErrUnsupportedChain      = errors.New("unsupported chain")
	ErrVerificationFailed    = errors.New("transfer verification failed")
	ErrInsufficientLiquidity = errors.New("not enough liquidity to fill order")
	ErrNothingToWithdraw     = errors.New("no liquidity found to withdraw")
	ErrExternalCall          = errors.New("external call failed")
	ErrSettlement            = errors.New("settlement failed")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrStorage               = errors.New("durable store write failed")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
)

// SettlementError is returned when settlement fails after the buyer's payment
// was verified. Accepted lists the transfers already on their way; they are
// not reverted and must be reconciled by an operator.
type SettlementError struct {
	Step     string
	Cause    error
	Accepted []BroadcastRecord
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed at %s after %d accepted broadcasts: %v", e.Step, len(e.Accepted), e.Cause)
}

// Unwrap exposes both ErrSettlement and the underlying cause to errors.Is.
func (e *SettlementError) Unwrap() []error {
	return []error{ErrSettlement, e.Cause}
}

// Partial reports whether any transfer went out before the failure.
func (e *SettlementError) Partial() bool {
	return len(e.Accepted) > 0
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrReplayDetected):
		return "replay"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, ErrSettlement):
		return "settlement_failed"
	case errors.Is(err, ErrExternalCall):
		return "external_call_failed"
	case errors.Is(err, ErrStorage):
		return "storage_failed"
	default:
		return "error"
	}
}
