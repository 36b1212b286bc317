package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory(0, 0)
	sess, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0, 0)

	s := domain.NewSession("u", "s")
	s.Append(domain.SenderUser, "", "hello")
	require.NoError(t, m.Put(ctx, "u_s", s))

	s.Append(domain.SenderUser, "", "mutated after put")

	got, err := m.Get(ctx, "u_s")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Transcript, 1)

	got.Append(domain.SenderAI, "Coordinator", "mutated after get")
	again, err := m.Get(ctx, "u_s")
	require.NoError(t, err)
	assert.Len(t, again.Transcript, 1)
}

func TestMemoryExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(time.Minute, 0, WithClock(clock.Now))

	require.NoError(t, m.Put(ctx, "k", domain.NewSession("u", "s")))
	clock.Advance(30 * time.Second)
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// The read above refreshed the entry.
	clock.Advance(45 * time.Second)
	got, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(2 * time.Minute)
	got, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, _ := m.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0, 2)

	require.NoError(t, m.Put(ctx, "a", domain.NewSession("a", "1")))
	require.NoError(t, m.Put(ctx, "b", domain.NewSession("b", "1")))
	_, _ = m.Get(ctx, "a")
	require.NoError(t, m.Put(ctx, "c", domain.NewSession("c", "1")))

	a, _ := m.Get(ctx, "a")
	b, _ := m.Get(ctx, "b")
	c, _ := m.Get(ctx, "c")
	assert.NotNil(t, a)
	assert.Nil(t, b)
	assert.NotNil(t, c)
}

func TestMemoryPrune(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(0, 0, WithClock(clock.Now))

	require.NoError(t, m.Put(ctx, "old", domain.NewSession("o", "1")))
	clock.Advance(10 * time.Minute)
	require.NoError(t, m.Put(ctx, "fresh", domain.NewSession("f", "1")))

	removed, err := m.Prune(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, _ := m.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryRemoveAndClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0, 0)
	require.NoError(t, m.Put(ctx, "a", domain.NewSession("a", "1")))
	require.NoError(t, m.Put(ctx, "b", domain.NewSession("b", "1")))

	require.NoError(t, m.Remove(ctx, "a"))
	require.NoError(t, m.Remove(ctx, "missing"))
	n, _ := m.Len(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Close())
	n, _ = m.Len(ctx)
	assert.Zero(t, n)
	assert.NoError(t, m.Ping(ctx))
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			for j := 0; j < 50; j++ {
				_ = m.Put(ctx, key, domain.NewSession(key, "s"))
				_, _ = m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	n, _ := m.Len(ctx)
	assert.LessOrEqual(t, n, 8)
}
