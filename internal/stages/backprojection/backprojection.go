// Package backprojection reconstructs image slices from filtered sinograms.
package backprojection

import (
	"fmt"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/device"
	"github.com/HZDR-FWDF/RISA/internal/kernels"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/pipeline"
	"github.com/HZDR-FWDF/RISA/internal/resilience"
)

// Options carries the cross-stage collaborators.
type Options struct {
	Devices    int
	QueueLimit int
	Pool       *memory.Pool[float32]
	Log        *logging.Logger
	Observer   pipeline.Observer
}

// Backprojection is the backprojection stage runner.
type Backprojection struct {
	*pipeline.Workers[float32, float32]

	projections   int
	detectors     int
	pixels        int
	poolSize      int
	interpolation kernels.InterpolationType
}

// New reads the stage configuration and starts one worker per device.
func New(cfg *config.Reader, opts Options) (*Backprojection, error) {
	st := &Backprojection{}
	if !st.readConfig(cfg) {
		return nil, fmt.Errorf("backprojection: configuration could not be read from %s", cfg.Path())
	}

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[float32](memory.DeviceManager[float32]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[float32, float32]{
		Name:       "backprojection",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.pixels * st.pixels,
		Pool:       opts.Pool,
		Guard:      resilience.New("backprojection", resilience.Settings{}),
		Kernel:     st.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

func (st *Backprojection) launch(s *device.Stream, in *memory.Image[float32], out *memory.Image[float32]) error {
	s.Launch(func() error {
		kernels.Backproject(out.Data(), in.Data(), st.projections, st.detectors, st.pixels, st.interpolation)
		return nil
	})
	return nil
}

func (st *Backprojection) readConfig(cfg *config.Reader) bool {
	var samplingRate, scanRate int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &st.detectors) &&
		cfg.LookupValue("numberOfPixels", &st.pixels) &&
		cfg.LookupValue("memPoolSize", &st.poolSize)
	if !ok || scanRate == 0 {
		return false
	}
	st.projections = samplingRate * 1e6 / scanRate

	interpolation := "linear"
	cfg.LookupValue("backProjectionInterpolation", &interpolation)
	if interpolation == "nearest" {
		st.interpolation = kernels.InterpolationNearest
	} else {
		st.interpolation = kernels.InterpolationLinear
	}
	return true
}
