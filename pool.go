package mqttd

import (
	"bytes"
	"sync"
)

const (
	// DefaultReadBufferSize is the size of the buffers a session reads into.
	DefaultReadBufferSize = 4096

	// maxPooledBufferCap is the largest encode buffer returned to the pool.
	maxPooledBufferCap = 65536
)

// BufferPool hands out read buffers. A buffer is owned exclusively by the caller
// between Acquire and Release. Implementations must be safe for concurrent use.
type BufferPool interface {
	Acquire() []byte
	Release(buf []byte)
}

// syncBufferPool is a BufferPool of fixed-size buffers backed by sync.Pool.
type syncBufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a BufferPool whose buffers are size bytes long.
// A non-positive size selects DefaultReadBufferSize.
func NewBufferPool(size int) BufferPool {
	if size <= 0 {
		size = DefaultReadBufferSize
	}

	p := &syncBufferPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Acquire returns a buffer of the pool's size.
func (p *syncBufferPool) Acquire() []byte {
	buf := p.pool.Get().(*[]byte)
	return (*buf)[:p.size]
}

// Release returns buf to the pool. Buffers not sized by this pool are dropped.
func (p *syncBufferPool) Release(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Buffer pools for reducing allocations in hot paths.
var (
	// bytesReaderPool for packet decoding
	bytesReaderPool = sync.Pool{
		New: func() any {
			return &bytesReader{}
		},
	}

	// encodeBufferPool for packet encoding
	encodeBufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
)

// getBytesReader returns a pooled bytesReader.
func getBytesReader(data []byte) *bytesReader {
	r := bytesReaderPool.Get().(*bytesReader)
	r.data = data
	r.pos = 0
	return r
}

// putBytesReader returns a bytesReader to the pool.
func putBytesReader(r *bytesReader) {
	if r == nil {
		return
	}
	r.data = nil
	r.pos = 0
	bytesReaderPool.Put(r)
}

// getEncodeBuffer returns an empty pooled buffer.
func getEncodeBuffer() *bytes.Buffer {
	b := encodeBufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// putEncodeBuffer returns a buffer to the pool.
func putEncodeBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	// Only pool if capacity is reasonable (64KB)
	if b.Cap() <= maxPooledBufferCap {
		b.Reset()
		encodeBufferPool.Put(b)
	}
}
