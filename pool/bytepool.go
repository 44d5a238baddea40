// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the read buffer size used when none is configured.
const DefaultBufferSize = 32 << 10

// BytePool hands out fixed-size read buffers.
//
// Buffers are passed around as *[]byte so Put does not allocate.
type BytePool struct {
	pool sync.Pool
	size int

	gets atomic.Int64
	news atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	b := &BytePool{size: size}
	b.pool.New = func() any {
		b.news.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the length of every buffer handed out.
func (b *BytePool) Size() int { return b.size }

// Get returns a buffer of Size bytes.
func (b *BytePool) Get() *[]byte {
	b.gets.Add(1)
	return b.pool.Get().(*[]byte)
}

// Put returns a buffer. Buffers of the wrong size are dropped.
func (b *BytePool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) != b.size {
		return
	}
	*buf = (*buf)[:b.size]
	b.pool.Put(buf)
}

// Stats reports how many buffers were requested and how many had to be
// allocated.
func (b *BytePool) Stats() (gets, allocs int64) {
	return b.gets.Load(), b.news.Load()
}
