package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_GetPutResets(t *testing.T) {
	p := New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	buf := p.Get()
	buf.WriteString("payload")
	_, inUse, gets := p.Stats()
	assert.Equal(t, int64(1), inUse)
	assert.Equal(t, int64(1), gets)

	p.Put(buf)
	assert.Equal(t, 0, buf.Len(), "reset runs on Put")

	allocated, inUse, _ := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(0), inUse)
}

func TestPool_Discard(t *testing.T) {
	p := New(func() []byte { return make([]byte, 0, 8) }, nil)
	b := p.Get()
	p.Discard(b)
	_, inUse, _ := p.Stats()
	assert.Equal(t, int64(0), inUse)
}

func TestPool_Concurrent(t *testing.T) {
	p := New(func() *int { return new(int) }, func(i *int) { *i = 0 })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := p.Get()
				*v = i
				p.Put(v)
			}
		}()
	}
	wg.Wait()

	allocated, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(800), gets)
	assert.LessOrEqual(t, allocated, gets)
}
