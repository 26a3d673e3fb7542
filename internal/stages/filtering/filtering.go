// Package filtering convolves each sinogram projection with a ramp-type
// reconstruction filter in frequency space.
package filtering

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

// Filtering is the frequency-space filtering stage runner.
type Filtering struct {
	*pipeline.Workers[float32, float32]

	projections int
	detectors   int
	poolSize    int
	filter      *kernels.Filter
}

// New reads the stage configuration, designs the filter once and starts one
// worker per device.
func New(cfg *config.Reader, opts Options) (*Filtering, error) {
	st := &Filtering{}
	window, cutoff, ok := st.readConfig(cfg)
	if !ok {
		return nil, fmt.Errorf("filtering: configuration could not be read from %s", cfg.Path())
	}

	filter, err := kernels.NewFilter(window, cutoff, st.detectors)
	if err != nil {
		return nil, fmt.Errorf("filtering: %w", err)
	}
	st.filter = filter

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[float32](memory.DeviceManager[float32]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[float32, float32]{
		Name:       "filtering",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.projections * st.detectors,
		Pool:       opts.Pool,
		Guard:      resilience.New("filtering", resilience.Settings{}),
		Kernel:     st.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

func (st *Filtering) launch(s *device.Stream, in *memory.Image[float32], out *memory.Image[float32]) error {
	s.Launch(func() error {
		copy(out.Data(), in.Data())
		st.filter.Apply(out.Data(), st.projections)
		return nil
	})
	return nil
}

func (st *Filtering) readConfig(cfg *config.Reader) (window string, cutoff float64, ok bool) {
	var samplingRate, scanRate int
	ok = cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &st.detectors) &&
		cfg.LookupValue("memPoolSize", &st.poolSize)
	if !ok || scanRate == 0 {
		return "", 0, false
	}
	st.projections = samplingRate * 1e6 / scanRate

	window = kernels.FilterRamp
	cutoff = 1.0
	cfg.LookupValue("filterType", &window)
	cfg.LookupValue("cutoffFraction", &cutoff)
	return window, cutoff, true
}
