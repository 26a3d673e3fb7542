// Package transfer holds the two cross-domain copy stages: H2D stages raw
// sinograms from page-locked host memory onto a device, D2H brings finished
// slices back. These are the only places pixel data crosses memory domains.
package transfer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/device"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/pipeline"
	"github.com/HZDR-FWDF/RISA/internal/resilience"
)

// rateInterval is the frame count between reconstruction-rate log lines.
const rateInterval = 100

// Options carries the cross-stage collaborators.
type Options struct {
	Devices    int
	QueueLimit int
	Log        *logging.Logger
	Observer   pipeline.Observer
}

// H2D copies raw sinograms from pinned host memory into device memory.
type H2D[T memory.Sample] struct {
	*pipeline.Workers[T, T]

	size     int
	poolSize int
}

// NewH2D reads the stage configuration and starts one worker per device.
func NewH2D[T memory.Sample](cfg *config.Reader, opts Options) (*H2D[T], error) {
	st := &H2D[T]{}
	var samplingRate, scanRate, detectors int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &detectors) &&
		cfg.LookupValue("memPoolSize", &st.poolSize)
	if !ok || scanRate == 0 {
		return nil, fmt.Errorf("transfer: h2d configuration could not be read from %s", cfg.Path())
	}
	st.size = detectors * (samplingRate * 1e6 / scanRate)

	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}
	pool := memory.PoolFor[T](memory.DeviceManager[T]{})

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[T, T]{
		Name:       "h2d",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.size,
		Pool:       pool,
		Guard:      resilience.New("h2d", resilience.Settings{}),
		Kernel:     copyKernel[T](memory.DeviceManager[T]{}),
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

// D2H copies reconstructed slices from device memory into pinned host
// memory and reports the sustained reconstruction rate.
type D2H[T memory.Sample] struct {
	*pipeline.Workers[T, T]

	size     int
	poolSize int
	log      *logging.Logger
	firstSet sync.Once
	first    time.Time
}

// NewD2H reads the stage configuration and starts one worker per device.
func NewD2H[T memory.Sample](cfg *config.Reader, opts Options) (*D2H[T], error) {
	st := &D2H[T]{log: opts.Log}
	if st.log == nil {
		st.log = logging.NewNop()
	}
	var pixels int
	ok := cfg.LookupValue("numberOfPixels", &pixels) &&
		cfg.LookupValue("memPoolSize", &st.poolSize)
	if !ok {
		return nil, fmt.Errorf("transfer: d2h configuration could not be read from %s", cfg.Path())
	}
	st.size = pixels * pixels

	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}
	pool := memory.PoolFor[T](memory.Pinned[T]{})
	copyK := copyKernel[T](memory.Pinned[T]{})

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[T, T]{
		Name:       "d2h",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.size,
		Pool:       pool,
		Guard:      resilience.New("d2h", resilience.Settings{}),
		Kernel: func(s *device.Stream, in, out *memory.Image[T]) error {
			if err := copyK(s, in, out); err != nil {
				return err
			}
			st.observeRate()
			return nil
		},
		Log:      opts.Log,
		Observer: opts.Observer,
	})
	return st, nil
}

func (st *D2H[T]) observeRate() {
	st.firstSet.Do(func() { st.first = time.Now() })
	count := st.Served() + 1
	if count%rateInterval == 0 {
		elapsed := time.Since(st.first).Seconds()
		if elapsed > 0 {
			st.log.Info("reconstruction rate",
				zap.Uint64("frames", count),
				zap.Float64("framesPerSecond", float64(count)/elapsed))
		}
	}
}

// copyKernel builds a kernel performing the asynchronous cross-domain copy
// through the destination domain's manager.
func copyKernel[T memory.Sample](dst memory.Manager[T]) pipeline.Kernel[T, T] {
	return func(s *device.Stream, in, out *memory.Image[T]) error {
		s.Launch(func() error {
			return dst.Copy(out.Buffer(), in.Buffer())
		})
		return nil
	}
}
