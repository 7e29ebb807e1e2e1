package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusClock_Tick(t *testing.T) {
	c := NewConsensusClock(Genesis, time.Minute)
	assert.Equal(t, int64(0), c.Seq())

	seq, at := c.Tick()
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, Genesis.Add(time.Minute), at)

	seq, at = c.Tick()
	assert.Equal(t, int64(2), seq)
	assert.Equal(t, Genesis.Add(2*time.Minute), at)
	assert.Equal(t, int64(2), c.Seq())
}

func TestConsensusClock_DefaultStep(t *testing.T) {
	c := NewConsensusClock(Genesis, 0)
	_, at := c.Tick()
	assert.Equal(t, Genesis.Add(DefaultStep), at)
	assert.Equal(t, Genesis.Add(5*DefaultStep), c.At(5))
}

func TestConsensusClock_NormalizesToUTC(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	c := NewConsensusClock(base, time.Second)
	_, at := c.Tick()
	assert.Equal(t, time.UTC, at.Location())
	assert.True(t, at.Equal(base.Add(time.Second)))
}

func TestConsensusClock_Concurrent(t *testing.T) {
	c := NewConsensusClock(Genesis, time.Second)
	const n = 100

	var wg sync.WaitGroup
	seen := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, at := c.Tick()
			assert.Equal(t, c.At(seq), at)
			seen <- seq
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool, n)
	for seq := range seen {
		require.False(t, unique[seq], "duplicate sequence %d", seq)
		unique[seq] = true
	}
	assert.Len(t, unique, n)
	assert.Equal(t, int64(n), c.Seq())
}
