package server

import (
	"context"
	"errors"

	"github.com/pixperk/pagelock/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func (s *Server) toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	code := codeFor(err)
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.Error("lock operation failed", "code", code.String(), "error", err)
	}
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return codes.InvalidArgument

	//the guard could not be taken, retrying later may work
	case errors.Is(err, types.ErrGuardAcquisition):
		return codes.Unavailable

	case errors.Is(err, context.Canceled):
		return codes.Canceled

	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded

	default:
		return codes.Internal
	}
}
