package queue

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/framingd/pkg/bufpool"
)

// SegmentReader yields a message's bytes one segment at a time.
//
// ReadSegment returns the unconsumed part of the current segment, moving to
// the next segment when the current one is exhausted. It returns io.EOF once
// every segment has been consumed. Advance marks a prefix of the slice last
// returned as consumed; the slice stays valid until the next ReadSegment.
type SegmentReader interface {
	ReadSegment(ctx context.Context) ([]byte, error)
	Advance(n int)
}

// BytesSegmentReader serves in-memory segments.
type BytesSegmentReader struct {
	segments [][]byte
	current  []byte
}

// NewBytesSegmentReader returns a reader over segments. Empty segments are
// skipped.
func NewBytesSegmentReader(segments ...[]byte) *BytesSegmentReader {
	return &BytesSegmentReader{segments: segments}
}

func (r *BytesSegmentReader) ReadSegment(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(r.current) == 0 {
		if len(r.segments) == 0 {
			return nil, io.EOF
		}
		r.current, r.segments = r.segments[0], r.segments[1:]
	}
	return r.current, nil
}

func (r *BytesSegmentReader) Advance(n int) {
	r.current = r.current[n:]
}

// StreamSegmentReader adapts an io.Reader, reading into a buffer rented from
// a BufferManager. Call Release when done to return the buffer.
type StreamSegmentReader struct {
	src     io.Reader
	buffers bufpool.BufferManager
	buf     []byte
	start   int
	end     int
	err     error
}

// NewStreamSegmentReader reads src in segments of up to segmentSize bytes.
func NewStreamSegmentReader(src io.Reader, buffers bufpool.BufferManager, segmentSize int) *StreamSegmentReader {
	if buffers == nil {
		buffers = bufpool.NewBufferManager(0, 0)
	}
	return &StreamSegmentReader{
		src:     src,
		buffers: buffers,
		buf:     buffers.TakeBuffer(segmentSize),
	}
}

func (r *StreamSegmentReader) ReadSegment(ctx context.Context) ([]byte, error) {
	for r.start == r.end {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.buf == nil {
			return nil, errors.New("queue: segment reader released")
		}
		n, err := r.src.Read(r.buf)
		r.start, r.end = 0, n
		if err != nil {
			r.err = err
		}
	}
	return r.buf[r.start:r.end], nil
}

func (r *StreamSegmentReader) Advance(n int) {
	r.start += n
}

// Release returns the segment buffer. The reader must not be used after.
func (r *StreamSegmentReader) Release() {
	if r.buf != nil {
		r.buffers.ReturnBuffer(r.buf)
		r.buf = nil
		r.start, r.end = 0, 0
	}
}
