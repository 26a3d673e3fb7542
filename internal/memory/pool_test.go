package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRequestReturn(t *testing.T) {
	pool := NewPool[float32](Pageable[float32]{})
	id := pool.RegisterStage(2, 1024)

	a := pool.RequestMemory(id)
	b := pool.RequestMemory(id)
	require.True(t, a.Valid())
	require.True(t, b.Valid())
	assert.Equal(t, 1024, a.Size())
	assert.Equal(t, id, a.PoolID())

	free, capacity := pool.Stats(id)
	assert.Equal(t, 0, free)
	assert.Equal(t, 2, capacity)

	// Third request blocks until a buffer is returned.
	got := make(chan *Image[float32])
	go func() {
		got <- pool.RequestMemory(id)
	}()

	select {
	case <-got:
		t.Fatal("request should block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	a.Close()
	select {
	case c := <-got:
		require.True(t, c.Valid())
		c.Close()
	case <-time.After(time.Second):
		t.Fatal("request should unblock after a return")
	}

	b.Close()
	free, _ = pool.Stats(id)
	assert.Equal(t, 2, free)
}

func TestPoolShutdownWakesWaiters(t *testing.T) {
	pool := NewPool[float32](Pageable[float32]{})
	id := pool.RegisterStage(1, 64)

	img := pool.RequestMemory(id)
	require.True(t, img.Valid())

	got := make(chan *Image[float32])
	go func() {
		got <- pool.RequestMemory(id)
	}()
	time.Sleep(20 * time.Millisecond)

	pool.Shutdown()
	select {
	case waiter := <-got:
		assert.False(t, waiter.Valid())
	case <-time.After(time.Second):
		t.Fatal("shutdown should wake blocked waiters")
	}
}

func TestPoolConservation(t *testing.T) {
	pool := NewPool[uint16](Pinned[uint16]{})
	id := pool.RegisterStage(4, 16)

	var checkedOut []*Image[uint16]
	for i := 0; i < 3; i++ {
		img := pool.RequestMemory(id)
		require.True(t, img.Valid())
		checkedOut = append(checkedOut, img)
	}

	free, capacity := pool.Stats(id)
	assert.Equal(t, capacity, free+len(checkedOut))

	for _, img := range checkedOut {
		img.Close()
	}
	free, capacity = pool.Stats(id)
	assert.Equal(t, capacity, free)
}

func TestPoolNoDoubleReturn(t *testing.T) {
	pool := NewPool[float32](Pageable[float32]{})
	id := pool.RegisterStage(1, 8)

	img := pool.RequestMemory(id)
	img.Close()
	img.Close() // second close must not return the buffer again

	free, _ := pool.Stats(id)
	assert.Equal(t, 1, free)
}

func TestPoolIDsNeverReused(t *testing.T) {
	pool := NewPool[float32](Pageable[float32]{})
	first := pool.RegisterStage(1, 8)
	pool.FreeMemory(first)
	second := pool.RegisterStage(1, 8)
	assert.NotEqual(t, first, second)
}

func TestPoolFreedRegistrationDropsReturns(t *testing.T) {
	pool := NewPool[float32](Pageable[float32]{})
	id := pool.RegisterStage(1, 8)

	img := pool.RequestMemory(id)
	pool.FreeMemory(id)
	img.Close()

	free, capacity := pool.Stats(id)
	assert.Equal(t, 0, free)
	assert.Equal(t, 0, capacity)
}

func TestPoolForReturnsSameInstance(t *testing.T) {
	a := PoolFor[float32](Pageable[float32]{})
	b := PoolFor[float32](Pageable[float32]{})
	assert.Same(t, a, b)

	c := PoolFor[float32](DeviceManager[float32]{})
	assert.NotSame(t, a, c)

	ShutdownPools()
}
