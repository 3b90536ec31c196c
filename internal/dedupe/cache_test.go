// ABOUTME: Tests for the dedupe window
// ABOUTME: Uses a manual clock to check expiry, capacity eviction and repeat handling

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newWindow(ttl time.Duration, size int) (*Window, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	return New(ttl, size, WithClock(clock.now)), clock
}

func TestWindow_FirstThenRepeat(t *testing.T) {
	w, _ := newWindow(time.Minute, 10)

	assert.True(t, w.First("evt-1"))
	assert.False(t, w.First("evt-1"))
	assert.True(t, w.First("evt-2"))
	assert.True(t, w.Contains("evt-1"))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_Expiry(t *testing.T) {
	w, clock := newWindow(time.Minute, 10)

	w.First("evt-1")
	clock.advance(30 * time.Second)
	assert.False(t, w.First("evt-1"), "repeat inside the window")

	// The repeat did not refresh the entry.
	clock.advance(30 * time.Second)
	assert.False(t, w.Contains("evt-1"))
	assert.True(t, w.First("evt-1"))
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	w, clock := newWindow(time.Hour, 3)

	for i := range 4 {
		w.First(fmt.Sprintf("evt-%d", i))
		clock.advance(time.Second)
	}

	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Contains("evt-0"))
	assert.True(t, w.Contains("evt-3"))
}

func TestWindow_ConcurrentFirstIsExclusive(t *testing.T) {
	w := New(time.Minute, 100)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.First("evt-1") {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, first)
}
