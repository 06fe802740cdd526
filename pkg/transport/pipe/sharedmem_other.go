//go:build !unix

package pipe

import (
	"errors"

	"github.com/google/uuid"
)

var errSharedMemoryUnsupported = errors.New("pipe: shared memory publication is not supported on this platform")

// SharedMemory is a published pipe name.
type SharedMemory struct{}

// CreateSharedMemory is not supported on this platform.
func CreateSharedMemory(path, pipeName string) (*SharedMemory, error) {
	return nil, errSharedMemoryUnsupported
}

// OpenSharedMemory is not supported on this platform.
func OpenSharedMemory(path string) (*SharedMemory, error) {
	return nil, errSharedMemoryUnsupported
}

// LookupPipeName is not supported on this platform.
func LookupPipeName(path string) (string, error) {
	return "", errSharedMemoryUnsupported
}

func (s *SharedMemory) GUID() uuid.UUID  { return uuid.Nil }
func (s *SharedMemory) PipeName() string { return "" }
func (s *SharedMemory) Path() string     { return "" }
func (s *SharedMemory) Close() error     { return nil }
