//go:build unix

package pipe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/marmos91/framingd/internal/logger"
)

// Shared memory layout, little endian:
//
//	[0:4)   magic "FPSM"
//	[4:8)   layout version
//	[8:12)  initialized flag, published last
//	[12:16) reserved
//	[16:32) listener GUID
//	[32:36) pipe name length
//	[36:)   pipe name
const (
	sharedMemorySize    = 4096
	sharedMemoryVersion = 1
	maxPublishedName    = sharedMemorySize - offName

	offMagic   = 0
	offVersion = 4
	offFlag    = 8
	offGUID    = 16
	offNameLen = 32
	offName    = 36

	flagReady uint32 = 1
)

var sharedMemoryMagic = []byte("FPSM")

// SharedMemory is a published pipe name. The creating side owns the backing
// file and removes it on Close; readers only unmap.
type SharedMemory struct {
	path  string
	data  []byte
	owner bool

	guid     uuid.UUID
	pipeName string

	closeOnce sync.Once
	closeErr  error
}

// CreateSharedMemory publishes pipeName at path under a fresh GUID. An
// existing file at path means another listener owns the name, unless the
// socket it publishes is gone or refuses connections, in which case the
// file is left over from a crashed listener and is replaced.
func CreateSharedMemory(path, pipeName string) (*SharedMemory, error) {
	if len(pipeName) > maxPublishedName {
		return nil, fmt.Errorf("pipe: name of %d bytes exceeds shared memory capacity %d", len(pipeName), maxPublishedName)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) && isStalePublication(path) {
		logger.Info("Removing stale shared memory %s", path)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, classifyBindError(path, err)
		}
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	}
	if err != nil {
		return nil, classifyBindError(path, err)
	}
	defer f.Close()

	if err := f.Truncate(sharedMemorySize); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("pipe: sizing shared memory %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, sharedMemorySize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("pipe: mapping shared memory %s: %w", path, err)
	}

	guid := uuid.New()
	copy(data[offMagic:], sharedMemoryMagic)
	binary.LittleEndian.PutUint32(data[offVersion:], sharedMemoryVersion)
	copy(data[offGUID:offGUID+16], guid[:])
	binary.LittleEndian.PutUint32(data[offNameLen:], uint32(len(pipeName)))
	copy(data[offName:], pipeName)
	atomic.StoreUint32(flagWord(data), flagReady)

	return &SharedMemory{
		path:     path,
		data:     data,
		owner:    true,
		guid:     guid,
		pipeName: pipeName,
	}, nil
}

// OpenSharedMemory maps an existing publication read-only and reads it.
// ErrSharedMemoryNotReady is returned while the creator is still writing.
func OpenSharedMemory(path string) (*SharedMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipe: opening shared memory %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pipe: stat shared memory %s: %w", path, err)
	}
	if info.Size() < sharedMemorySize {
		return nil, ErrSharedMemoryNotReady
	}

	data, err := unix.Mmap(int(f.Fd()), 0, sharedMemorySize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pipe: mapping shared memory %s: %w", path, err)
	}

	s := &SharedMemory{path: path, data: data}
	if err := s.read(); err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return s, nil
}

func (s *SharedMemory) read() error {
	if atomic.LoadUint32(flagWord(s.data)) != flagReady {
		return ErrSharedMemoryNotReady
	}
	if !bytes.Equal(s.data[offMagic:offMagic+4], sharedMemoryMagic) {
		return ErrSharedMemoryFormat
	}
	if v := binary.LittleEndian.Uint32(s.data[offVersion:]); v != sharedMemoryVersion {
		return fmt.Errorf("%w: version %d", ErrSharedMemoryFormat, v)
	}

	n := binary.LittleEndian.Uint32(s.data[offNameLen:])
	if n > maxPublishedName {
		return fmt.Errorf("%w: name length %d", ErrSharedMemoryFormat, n)
	}

	guid, err := uuid.FromBytes(s.data[offGUID : offGUID+16])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSharedMemoryFormat, err)
	}
	s.guid = guid
	s.pipeName = string(s.data[offName : offName+int(n)])
	return nil
}

// flagWord returns the initialized flag as an atomically accessible word.
// The mapping is page aligned, so the offset keeps it 4-byte aligned.
func flagWord(data []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&data[offFlag]))
}

// GUID returns the listener instance id.
func (s *SharedMemory) GUID() uuid.UUID { return s.guid }

// PipeName returns the published socket path.
func (s *SharedMemory) PipeName() string { return s.pipeName }

// Path returns the backing file path.
func (s *SharedMemory) Path() string { return s.path }

// Close unmaps the memory; the creator also removes the backing file.
func (s *SharedMemory) Close() error {
	s.closeOnce.Do(func() {
		if s.owner {
			atomic.StoreUint32(flagWord(s.data), 0)
		}
		if err := unix.Munmap(s.data); err != nil {
			s.closeErr = fmt.Errorf("pipe: unmapping shared memory %s: %w", s.path, err)
		}
		s.data = nil
		if s.owner {
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && s.closeErr == nil {
				s.closeErr = fmt.Errorf("pipe: removing shared memory %s: %w", s.path, err)
			}
		}
	})
	return s.closeErr
}

// isStalePublication reports whether path holds a complete publication
// whose socket no longer accepts connections. A publication still being
// written is never stale.
func isStalePublication(path string) bool {
	name, err := LookupPipeName(path)
	if err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", name, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

// LookupPipeName reads the socket path published at path.
func LookupPipeName(path string) (string, error) {
	s, err := OpenSharedMemory(path)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.PipeName(), nil
}
