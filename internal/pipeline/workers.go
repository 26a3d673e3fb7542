package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/device"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/resilience"
)

// Observer receives per-frame events from the workers harness; the metrics
// collector implements it. A nil observer is allowed.
type Observer interface {
	FrameProcessed(stage string, deviceID int, latency time.Duration)
	FrameDropped(stage string, reason string)
	QueueDepth(stage string, deviceID int, depth int)
}

// poolObserver is the optional observer extension for pool gauges.
type poolObserver interface {
	SetPoolFree(domain string, registration, free int)
}

// Kernel is the stage-specific compute launched for each frame. It submits
// work to the stream for the input's device; the harness synchronises the
// stream afterwards, so deferred launch errors still surface per frame.
type Kernel[T, U memory.Sample] func(s *device.Stream, in *memory.Image[T], out *memory.Image[U]) error

// WorkersConfig configures a multi-device workers harness.
type WorkersConfig[T, U memory.Sample] struct {
	// Name identifies the stage in logs and metrics.
	Name string
	// Devices is the number of accelerator devices to spread across.
	Devices int
	// QueueLimit bounds each per-device input queue.
	QueueLimit int
	// PoolSize is the number of output buffers registered per device.
	PoolSize int
	// OutputSize is the element count of each output buffer.
	OutputSize int
	// Pool is the pool the stage registers its output lanes in.
	Pool *memory.Pool[U]
	// Kernel is the per-frame compute.
	Kernel Kernel[T, U]
	// Guard, when set, wraps the kernel launches of every device worker of
	// the stage; while it is open, frames are dropped without a launch.
	Guard *resilience.Guard
	// Log is the stage logger.
	Log *logging.Logger
	// Observer receives frame events; may be nil.
	Observer Observer
}

// Workers is the scheduler shared by every compute stage: one input queue,
// one stream and one worker goroutine per device, a shared output queue, and
// round-robin dispatch by frame index. Within one device frames stay in
// order; across devices order is restored downstream by frame index when
// needed.
type Workers[T, U memory.Sample] struct {
	name    string
	devices int
	inputs  []*Queue[*memory.Image[T]]
	results *Queue[*memory.Image[U]]
	streams []*device.Stream
	pool    *memory.Pool[U]
	poolIDs []int
	kernel  Kernel[T, U]
	guard   *resilience.Guard
	log     *logging.Logger
	obs     Observer

	wg      sync.WaitGroup
	served  atomic.Uint64
	release sync.Once
}

// NewWorkers builds the harness: it registers one output lane per device in
// the pool, creates the per-device queues and streams and starts the worker
// goroutines. The output queue closes itself once every worker drained.
func NewWorkers[T, U memory.Sample](cfg WorkersConfig[T, U]) *Workers[T, U] {
	if cfg.Devices <= 0 {
		cfg.Devices = 1
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}

	w := &Workers[T, U]{
		name:    cfg.Name,
		devices: cfg.Devices,
		results: NewQueue[*memory.Image[U]](cfg.QueueLimit),
		pool:    cfg.Pool,
		kernel:  cfg.Kernel,
		guard:   cfg.Guard,
		log:     cfg.Log,
		obs:     cfg.Observer,
	}
	for d := 0; d < cfg.Devices; d++ {
		w.inputs = append(w.inputs, NewQueue[*memory.Image[T]](cfg.QueueLimit))
		w.streams = append(w.streams, device.NewStream(d))
		w.poolIDs = append(w.poolIDs, cfg.Pool.RegisterStage(cfg.PoolSize, cfg.OutputSize))
	}

	w.wg.Add(cfg.Devices)
	for d := 0; d < cfg.Devices; d++ {
		go w.processor(d)
	}
	go func() {
		w.wg.Wait()
		w.results.Close()
	}()
	return w
}

// Process routes a frame to the input queue of device index mod D, keeping
// per-device load even and each frame on exactly one device. Under the Stage
// harness it is called from the stage's feeding goroutine, not from the
// upstream worker's goroutine, and it blocks on backpressure.
func (w *Workers[T, U]) Process(in *memory.Image[T]) {
	d := int(in.Index() % uint64(w.devices))
	if !w.inputs[d].Push(in) {
		in.Close()
	}
	if w.obs != nil {
		w.obs.QueueDepth(w.name, d, w.inputs[d].Len())
	}
}

// Finish signals end-of-stream to every device queue.
func (w *Workers[T, U]) Finish() {
	for _, q := range w.inputs {
		q.Close()
	}
}

// Wait pops the next finished frame from the shared output queue; ok is
// false once all workers drained.
func (w *Workers[T, U]) Wait() (*memory.Image[U], bool) {
	return w.results.Pop()
}

// Served returns the number of frames processed so far.
func (w *Workers[T, U]) Served() uint64 {
	return w.served.Load()
}

// Release destroys the streams and frees the pool registrations. Call after
// the pipeline has drained; frames still in flight downstream keep their
// buffers until closed.
func (w *Workers[T, U]) Release() {
	w.release.Do(func() {
		for _, s := range w.streams {
			s.Destroy()
		}
		for _, id := range w.poolIDs {
			w.pool.FreeMemory(id)
		}
	})
}

// processor is the per-device worker loop: pop, acquire an output buffer,
// launch the kernel on the device stream, synchronise, carry the frame
// metadata over and push the result.
func (w *Workers[T, U]) processor(d int) {
	defer w.wg.Done()
	stream := w.streams[d]

	for {
		in, ok := w.inputs[d].Pop()
		if !ok {
			return
		}

		out := w.pool.RequestMemory(w.poolIDs[d])
		if !out.Valid() {
			// Pool torn down mid-run; drop the frame and keep draining.
			in.Close()
			continue
		}
		if g, ok := w.obs.(poolObserver); ok {
			free, _ := w.pool.Stats(w.poolIDs[d])
			g.SetPoolFree(w.pool.Domain().String(), w.poolIDs[d], free)
		}
		out.SetIndex(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())

		launch := func() error {
			if err := w.kernel(stream, in, out); err != nil {
				return err
			}
			return stream.Synchronize()
		}

		var err error
		if w.guard != nil {
			err = w.guard.Execute(launch)
		} else {
			err = launch()
		}
		if err != nil {
			w.log.Warn("kernel launch failed, dropping frame",
				zap.String("stage", w.name),
				zap.Int("device", d),
				zap.Uint64("index", in.Index()),
				zap.Error(err))
			if w.obs != nil {
				w.obs.FrameDropped(w.name, "kernel")
			}
			out.Close()
			in.Close()
			continue
		}

		in.Close()
		w.served.Add(1)
		if w.obs != nil {
			w.obs.FrameProcessed(w.name, d, out.Duration())
		}
		w.results.Push(out)
	}
}
