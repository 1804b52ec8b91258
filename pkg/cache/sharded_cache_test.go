package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestSetGetWithAge(t *testing.T) {
	clk := &clock{t: time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)}
	c := New[float64]()
	c.now = clk.now

	_, ok := c.Get("EURUSD")
	assert.False(t, ok)

	c.Set("EURUSD", 1.1)
	clk.t = clk.t.Add(3 * time.Second)

	v, age, ok := c.GetWithAge("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.1, v)
	assert.Equal(t, 3*time.Second, age)

	c.Delete("EURUSD")
	assert.Equal(t, 0, c.Len())
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	clk := &clock{t: time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)}
	c := New[string]()
	c.now = clk.now

	c.Set("old", "a")
	clk.t = clk.t.Add(time.Minute)
	c.Set("new", "b")

	assert.Equal(t, time.Minute, c.Stats().OldestAge)
	assert.Equal(t, 1, c.Cleanup(30*time.Second))
	assert.Equal(t, map[string]string{"new": "b"}, c.All())
}

func TestConcurrentWriters(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Set(fmt.Sprintf("k%d", i), w)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 100, c.Len())
	assert.Equal(t, 100, c.Stats().TotalItems)
}
