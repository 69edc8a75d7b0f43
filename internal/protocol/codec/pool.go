package codec

import (
	"bytes"
	"sync"
)

// 超过该容量的缓冲区不放回池中，避免偶发的大快照长期占用内存
const maxPooledBufferCap = 64 << 10

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// putBuffer 清空后归还，保留容量
func putBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferCap {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
