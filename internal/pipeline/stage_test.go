package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZDR-FWDF/RISA/internal/device"
	"github.com/HZDR-FWDF/RISA/internal/memory"
)

type sliceLoader struct {
	pool   *memory.Pool[float32]
	poolID int
	count  uint64
	next   uint64
}

func (l *sliceLoader) LoadImage() (*memory.Image[float32], bool) {
	if l.next >= l.count {
		return nil, false
	}
	img := l.pool.RequestMemory(l.poolID)
	if !img.Valid() {
		return nil, false
	}
	img.SetIndex(l.next)
	img.SetPlane(int(l.next % 2))
	l.next++
	return img, true
}

type collectSaver struct {
	indices []uint64
}

func (s *collectSaver) Save(img *memory.Image[float32]) {
	s.indices = append(s.indices, img.Index())
	img.Close()
}

func identityWorkers(t *testing.T, name string, devices int, pool *memory.Pool[float32]) *Workers[float32, float32] {
	t.Helper()
	return NewWorkers(WorkersConfig[float32, float32]{
		Name:       name,
		Devices:    devices,
		QueueLimit: 4,
		PoolSize:   4,
		OutputSize: 8,
		Pool:       pool,
		Kernel: func(s *device.Stream, in, out *memory.Image[float32]) error {
			s.Launch(func() error {
				copy(out.Data(), in.Data())
				return nil
			})
			return nil
		},
	})
}

func TestThreeStageIdentityPipeline(t *testing.T) {
	const frames = 1000

	srcPool := memory.NewPool[float32](memory.Pageable[float32]{})
	srcID := srcPool.RegisterStage(8, 8)
	pool := memory.NewPool[float32](memory.Pageable[float32]{})

	loader := &sliceLoader{pool: srcPool, poolID: srcID, count: frames}
	sink := &collectSaver{}

	w1 := identityWorkers(t, "one", 2, pool)
	w2 := identityWorkers(t, "two", 3, pool)
	w3 := identityWorkers(t, "three", 1, pool)

	source := NewSourceStage[*memory.Image[float32]]("source", loader)
	s1 := NewStage[*memory.Image[float32], *memory.Image[float32]]("one", 4, w1)
	s2 := NewStage[*memory.Image[float32], *memory.Image[float32]]("two", 4, w2)
	s3 := NewStage[*memory.Image[float32], *memory.Image[float32]]("three", 4, w3)
	sinkStage := NewSinkStage[*memory.Image[float32]]("sink", 4, sink)

	Connect[*memory.Image[float32]](source, s1)
	Connect[*memory.Image[float32]](s1, s2)
	Connect[*memory.Image[float32]](s2, s3)
	Connect[*memory.Image[float32]](s3, sinkStage)

	var p Pipeline
	p.Run(source, s1, s2, s3, sinkStage)
	p.Wait()

	w1.Release()
	w2.Release()
	w3.Release()

	// All frames emerged at the sink, each exactly once.
	require.Len(t, sink.indices, frames)
	seen := make(map[uint64]bool, frames)
	for _, idx := range sink.indices {
		assert.False(t, seen[idx], "frame %d duplicated", idx)
		seen[idx] = true
	}
	assert.Equal(t, uint64(frames), source.Served())
	assert.Equal(t, uint64(frames), sinkStage.Served())

	// The source pool lane is back at full capacity.
	free, capacity := srcPool.Stats(srcID)
	assert.Equal(t, capacity, free)
}

func TestSinkStageDrainsAfterClose(t *testing.T) {
	sink := &collectSaver{}
	stage := NewSinkStage[*memory.Image[float32]]("sink", 0, sink)

	img := memory.NewImage[float32](memory.Pageable[float32]{}, 2)
	img.SetIndex(9)
	stage.In().Input(img)
	stage.In().CloseInput()

	stage.Run()
	assert.Equal(t, []uint64{9}, sink.indices)
}
