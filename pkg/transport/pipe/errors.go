package pipe

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("pipe: listener closed")

	// ErrConnectionAborted is the shutdown reason of an aborted connection.
	ErrConnectionAborted = errors.New("pipe: connection aborted")

	// ErrSendCompleted is the shutdown reason once the send side finished
	// without error.
	ErrSendCompleted = errors.New("pipe: send loop completed gracefully")

	// ErrSharedMemoryNotReady is returned when a published pipe name has not
	// been fully initialized yet.
	ErrSharedMemoryNotReady = errors.New("pipe: shared memory not initialized")

	// ErrSharedMemoryFormat is returned for a mapping with an unknown layout.
	ErrSharedMemoryFormat = errors.New("pipe: unrecognized shared memory layout")
)

// AddressInUseError reports that another listener owns the address.
type AddressInUseError struct {
	Address string
	Err     error
}

func (e *AddressInUseError) Error() string {
	return fmt.Sprintf("pipe: address %s is already in use: %v", e.Address, e.Err)
}

func (e *AddressInUseError) Unwrap() error {
	return e.Err
}

// AccessDeniedError reports that the process may not create the address.
type AccessDeniedError struct {
	Address string
	Err     error
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("pipe: access to %s denied: %v", e.Address, e.Err)
}

func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}

// classifyBindError maps OS errors from creating address onto the typed
// errors above. Other errors are wrapped unchanged.
func classifyBindError(address string, err error) error {
	switch {
	case errors.Is(err, syscall.EADDRINUSE), errors.Is(err, syscall.EEXIST):
		return &AddressInUseError{Address: address, Err: err}
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &AccessDeniedError{Address: address, Err: err}
	default:
		return fmt.Errorf("pipe: creating %s: %w", address, err)
	}
}
