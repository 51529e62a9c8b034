package pool

import "sync"

const DefaultBufferSize = 32 * 1024

// BufferPool recycles fixed-size read buffers between transfer workers.
type BufferPool struct {
	size       int
	bufferPool sync.Pool
}

func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{size: bufferSize}
	bp.bufferPool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return bp
}

// GetBuffer returns a buffer of full length.
func (bp *BufferPool) GetBuffer() []byte {
	buf := *bp.bufferPool.Get().(*[]byte)
	return buf[:bp.size]
}

func (bp *BufferPool) PutBuffer(buffer []byte) {
	if cap(buffer) < bp.size {
		return
	}
	buffer = buffer[:bp.size]
	bp.bufferPool.Put(&buffer)
}
