// Package apierr maps tracking errors onto gRPC status codes and HTTP
// response codes for the outer surfaces of the tracker.
package apierr

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/geotrack/model"
)

// ToStatusError maps tracking errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code classifies err by the model sentinel it wraps.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return codes.NotFound

	case errors.Is(err, model.ErrAlreadyExists):
		return codes.AlreadyExists

	case errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrInvalidGeometry),
		errors.Is(err, model.ErrInvalidPosition),
		errors.Is(err, model.ErrInvalidTimestamp):
		return codes.InvalidArgument

	case errors.Is(err, model.ErrCapacity):
		return codes.ResourceExhausted

	case errors.Is(err, model.ErrSessionStopped),
		errors.Is(err, model.ErrInvalidTransition):
		return codes.FailedPrecondition

	default:
		return codes.Internal
	}
}

// HTTPStatus returns the HTTP response code for err.
func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
