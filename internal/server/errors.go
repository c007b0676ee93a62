package server

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/core"
	"NoteLedger/internal/ledger"
	"context"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus converts a processor error into a gRPC status error. Errors that
// already carry a status pass through unchanged.
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
	case errors.Is(err, core.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, command.ErrInvalidCommand):
		return codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	switch ledger.Classify(err) {
	case ledger.ClassValidation:
		if errors.Is(err, ledger.ErrNoteNotFound) {
			return codes.NotFound
		}
		return codes.InvalidArgument
	case ledger.ClassBusinessRule:
		return codes.FailedPrecondition
	case ledger.ClassDependency:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatusFromCode differs from the gateway default where the ledger
// needs it: business-rule rejections are conflicts and a failed payout is
// a bad gateway, not a retryable 503.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return runtime.HTTPStatusFromCode(code)
	}
}
