package sony

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes returned by the camera in the first element of the error array.
const (
	CodeNoChange       = 1     // getEvent long poll ended without a change
	CodeStillCapturing = 40403 // the shutter sequence has not finished yet
)

// Precondition failures. They are detected locally and never reach the network.
var (
	ErrNotReady          = errors.New("camera not ready")
	ErrParamNotAvailable = errors.New("param not available")
	ErrValueNotAvailable = errors.New("value not available")
	ErrAlreadyConnecting = errors.New("connection already in progress")
	ErrNotConnected      = errors.New("camera not connected")
	ErrConnectAborted    = errors.New("connect aborted by disconnect")
)

// RPCError is an error reported by the camera in the RPC response.
type RPCError struct {
	Method  string
	Code    int
	Details []any
}

func (e *RPCError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: camera error %d", e.Method, e.Code)
	}
	return fmt.Sprintf("%s: camera error %d %v", e.Method, e.Code, e.Details)
}

// TransportError means the call never produced an RPC response: timeout,
// refused or reset connection. It's the signal that the camera went away.
type TransportError struct {
	Method  string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out", e.Method)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VersionMismatchError is returned by Connect when the camera's remote control
// application is older than the configured minimum.
type VersionMismatchError struct {
	Detected string
	Required string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("could not connect to camera: remote control application must be updated (currently installed: %s, should be %s or newer)", e.Detected, e.Required)
}

// IsRPCError reports whether err carries a camera error with the given code.
func IsRPCError(err error, code int) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
