// Package json provides JSON serialization with goccy/go-json and pooled
// output buffers.
package json

import (
	"bytes"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/batchsync/pkg/pool"
)

const (
	// a full batch of 1000 small profiles fits without growing
	initialBufferSize = 64 * 1024
	// larger buffers are dropped instead of pinned in the pool
	maxPooledBufferSize = 4 * 1024 * 1024
)

var buffers = pool.New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, initialBufferSize)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalToBuffer encodes v into a pooled buffer, without the trailing
// newline an encoder adds. Return the buffer with PutBuffer once its bytes
// are no longer referenced.
func MarshalToBuffer(v interface{}) (*bytes.Buffer, error) {
	buf := buffers.Get()
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		PutBuffer(buf)
		return nil, err
	}
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
	return buf, nil
}

// PutBuffer returns a buffer obtained from MarshalToBuffer.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledBufferSize {
		buffers.Discard(buf)
		return
	}
	buffers.Put(buf)
}

// BufferStats exposes the allocation statistics of the buffer pool.
func BufferStats() (allocated, inUse, gets int64) {
	return buffers.Stats()
}
