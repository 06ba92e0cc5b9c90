package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_UniqueAndIncreasing(t *testing.T) {
	g := NewGenerator(7)
	fixed := epoch.Add(time.Hour)
	g.now = func() time.Time { return fixed }

	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, int64(7), (prev>>seqBits)&maxNode)
}

func TestGenerator_Concurrent(t *testing.T) {
	g := NewGenerator(3)
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8*500)
}

func TestNewGenerator_ClampsNode(t *testing.T) {
	assert.Equal(t, int64(1), NewGenerator(-5).node)
	assert.Equal(t, int64(1), NewGenerator(maxNode+1).node)
	assert.NotEmpty(t, GenerateString())
}
