package server

import (
	"errors"

	"LiquidityBridge/internal/core"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps core errors onto gRPC status codes. The gateway derives HTTP
// status codes from these.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, core.ErrBusy):
		return codes.Unavailable
	case errors.Is(err, core.ErrReplayDetected):
		return codes.AlreadyExists
	case errors.Is(err, core.ErrNotInitialized),
		errors.Is(err, core.ErrInsufficientLiquidity),
		errors.Is(err, core.ErrNothingToWithdraw):
		return codes.FailedPrecondition
	// Settlement errors wrap their cause; classify by the settlement.
	case errors.Is(err, core.ErrSettlement), errors.Is(err, core.ErrStorage):
		return codes.Internal
	case errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrUnsupportedChain),
		errors.Is(err, core.ErrArithmeticOverflow):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrVerificationFailed):
		return codes.PermissionDenied
	case errors.Is(err, core.ErrExternalCall):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
