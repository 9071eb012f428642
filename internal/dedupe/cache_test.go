// ABOUTME: Tests for the completion tracker shared by client slots
// ABOUTME: Covers marking, removal, expiry, eviction order and racing CheckAndMark calls

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_MarkAndCheck(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.False(t, c.Check("resp-1"))
	c.Mark("resp-1")
	assert.True(t, c.Check("resp-1"))
	assert.False(t, c.Check("resp-2"))
}

func TestCache_CheckAndMark(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("resp-1"), "first call marks")
	assert.True(t, c.CheckAndMark("resp-1"), "second call sees the mark")
	assert.True(t, c.Check("resp-1"))
}

func TestCache_Remove(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.Mark("resp-1")
	c.Remove("resp-1")
	assert.False(t, c.Check("resp-1"))
	assert.Equal(t, 0, c.Len())

	// After removal the key can be claimed again
	assert.False(t, c.CheckAndMark("resp-1"))

	c.Remove("never-marked")
	assert.Equal(t, 1, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("resp-1")
	clock.Advance(30 * time.Second)
	assert.True(t, c.Check("resp-1"))

	clock.Advance(31 * time.Second)
	assert.False(t, c.Check("resp-1"))
	assert.False(t, c.CheckAndMark("resp-1"), "expired key is claimable")
}

func TestCache_MarkRefreshes(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("resp-1")
	clock.Advance(50 * time.Second)
	c.Mark("resp-1")
	clock.Advance(50 * time.Second)
	assert.True(t, c.Check("resp-1"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("old")
	clock.Advance(45 * time.Second)
	c.Mark("fresh")
	clock.Advance(30 * time.Second)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Check("fresh"))
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	c.Mark("a") // a moves to the back
	c.Mark("d") // evicts b

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
	assert.True(t, c.Check("c"))
	assert.True(t, c.Check("d"))
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()

	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_CheckAndMark_SingleWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("resp-1") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_ConcurrentKeys(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("resp-%d", n)
			c.Mark(key)
			c.Check(key)
			if n%2 == 0 {
				c.Remove(key)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 10, c.Len())
}

func TestCache_CloseTwice(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	assert.NotPanics(t, c.Close)
}
