package pipeline

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZDR-FWDF/RISA/internal/device"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/resilience"
)

func newSourceImage(t *testing.T, pool *memory.Pool[float32], id int, index uint64) *memory.Image[float32] {
	t.Helper()
	img := pool.RequestMemory(id)
	require.True(t, img.Valid())
	img.SetIndex(index)
	img.SetPlane(int(index % 2))
	return img
}

func TestWorkersRoundRobinDispatch(t *testing.T) {
	const devices = 3
	const frames = 12

	srcPool := memory.NewPool[float32](memory.Pageable[float32]{})
	srcID := srcPool.RegisterStage(frames, 4)
	outPool := memory.NewPool[float32](memory.Pageable[float32]{})

	var mu sync.Mutex
	perDevice := make(map[int][]uint64)

	w := NewWorkers(WorkersConfig[float32, float32]{
		Name:       "identity",
		Devices:    devices,
		QueueLimit: 0,
		PoolSize:   4,
		OutputSize: 4,
		Pool:       outPool,
		Kernel: func(s *device.Stream, in, out *memory.Image[float32]) error {
			mu.Lock()
			perDevice[s.Device()] = append(perDevice[s.Device()], in.Index())
			mu.Unlock()
			s.Launch(func() error {
				copy(out.Data(), in.Data())
				return nil
			})
			return nil
		},
	})
	defer w.Release()

	for i := uint64(0); i < frames; i++ {
		w.Process(newSourceImage(t, srcPool, srcID, i))
	}
	w.Finish()

	var outputs []uint64
	for {
		out, ok := w.Wait()
		if !ok {
			break
		}
		outputs = append(outputs, out.Index())
		out.Close()
	}
	require.Len(t, outputs, frames)
	assert.Equal(t, uint64(frames), w.Served())

	// Each device received exactly the frames congruent to its id.
	for d := 0; d < devices; d++ {
		want := []uint64{uint64(d), uint64(d + devices), uint64(d + 2*devices), uint64(d + 3*devices)}
		assert.Equal(t, want, perDevice[d], "device %d", d)
	}

	// Source buffers all returned to their pool.
	free, capacity := srcPool.Stats(srcID)
	assert.Equal(t, capacity, free)
}

func TestWorkersPerDeviceOrderPreserved(t *testing.T) {
	srcPool := memory.NewPool[float32](memory.Pageable[float32]{})
	srcID := srcPool.RegisterStage(32, 2)
	outPool := memory.NewPool[float32](memory.Pageable[float32]{})

	w := NewWorkers(WorkersConfig[float32, float32]{
		Name:       "identity",
		Devices:    1,
		PoolSize:   4,
		OutputSize: 2,
		Pool:       outPool,
		Kernel: func(s *device.Stream, in, out *memory.Image[float32]) error {
			s.Launch(func() error {
				copy(out.Data(), in.Data())
				return nil
			})
			return nil
		},
	})
	defer w.Release()

	go func() {
		for i := uint64(0); i < 32; i++ {
			img := srcPool.RequestMemory(srcID)
			img.SetIndex(i)
			w.Process(img)
		}
		w.Finish()
	}()

	var got []uint64
	for {
		out, ok := w.Wait()
		if !ok {
			break
		}
		got = append(got, out.Index())
		out.Close()
	}
	require.Len(t, got, 32)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestWorkersDropFrameOnKernelFailure(t *testing.T) {
	srcPool := memory.NewPool[float32](memory.Pageable[float32]{})
	srcID := srcPool.RegisterStage(4, 2)
	outPool := memory.NewPool[float32](memory.Pageable[float32]{})

	boom := errors.New("launch failed")
	w := NewWorkers(WorkersConfig[float32, float32]{
		Name:       "flaky",
		Devices:    1,
		PoolSize:   2,
		OutputSize: 2,
		Pool:       outPool,
		Guard:      resilience.New("flaky", resilience.Settings{TripAfter: 100, CoolDown: time.Second}),
		Kernel: func(s *device.Stream, in, out *memory.Image[float32]) error {
			if in.Index() == 1 {
				return boom
			}
			s.Launch(func() error { return nil })
			return nil
		},
	})
	defer w.Release()

	for i := uint64(0); i < 4; i++ {
		w.Process(newSourceImage(t, srcPool, srcID, i))
	}
	w.Finish()

	var got []uint64
	for {
		out, ok := w.Wait()
		if !ok {
			break
		}
		got = append(got, out.Index())
		out.Close()
	}
	assert.Equal(t, []uint64{0, 2, 3}, got)

	// Dropped frames returned their buffers; nothing leaked.
	free, capacity := srcPool.Stats(srcID)
	assert.Equal(t, capacity, free)
	assert.Equal(t, uint64(3), w.Served())
}

func TestWorkersMetadataCarriedToOutput(t *testing.T) {
	srcPool := memory.NewPool[float32](memory.Pageable[float32]{})
	srcID := srcPool.RegisterStage(1, 2)
	outPool := memory.NewPool[float32](memory.Pageable[float32]{})

	w := NewWorkers(WorkersConfig[float32, float32]{
		Name:       "identity",
		Devices:    2,
		PoolSize:   1,
		OutputSize: 2,
		Pool:       outPool,
		Kernel: func(s *device.Stream, in, out *memory.Image[float32]) error {
			s.Launch(func() error { return nil })
			return nil
		},
	})
	defer w.Release()

	start := time.Now().Add(-time.Second)
	img := newSourceImage(t, srcPool, srcID, 5)
	img.SetStart(start)
	w.Process(img)
	w.Finish()

	out, ok := w.Wait()
	require.True(t, ok)
	assert.Equal(t, uint64(5), out.Index())
	assert.Equal(t, 1, out.Plane())
	assert.Equal(t, start, out.Start())
	assert.GreaterOrEqual(t, out.Duration(), time.Second)
	out.Close()

	_, ok = w.Wait()
	assert.False(t, ok)
}
