// Package interpolation repairs defect detector channels before filtering.
// Channels named in the configuration and channels detected out of threshold
// are replaced by interpolating their healthy neighbours.
package interpolation

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

// Interpolation is the detector interpolation stage runner.
type Interpolation struct {
	*pipeline.Workers[float32, float32]

	projections int
	detectors   int
	poolSize    int
	threshMin   float32
	threshMax   float32
	configured  []int
}

// New reads the stage configuration and starts one worker per device.
func New(cfg *config.Reader, opts Options) (*Interpolation, error) {
	st := &Interpolation{}
	if !st.readConfig(cfg) {
		return nil, fmt.Errorf("interpolation: configuration could not be read from %s", cfg.Path())
	}

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[float32](memory.DeviceManager[float32]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[float32, float32]{
		Name:       "interpolation",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.projections * st.detectors,
		Pool:       opts.Pool,
		Guard:      resilience.New("interpolation", resilience.Settings{}),
		Kernel:     st.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

func (st *Interpolation) launch(s *device.Stream, in *memory.Image[float32], out *memory.Image[float32]) error {
	s.Launch(func() error {
		copy(out.Data(), in.Data())
		defects := kernels.FindDefects(out.Data(), st.projections, st.detectors, st.threshMin, st.threshMax)
		defects = append(defects, st.configured...)
		kernels.Interpolate(out.Data(), st.projections, st.detectors, defects)
		return nil
	})
	return nil
}

func (st *Interpolation) readConfig(cfg *config.Reader) bool {
	var samplingRate, scanRate int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &st.detectors) &&
		cfg.LookupValue("memPoolSize", &st.poolSize) &&
		cfg.LookupValue("threshMin", &st.threshMin) &&
		cfg.LookupValue("threshMax", &st.threshMax)
	if !ok || scanRate == 0 {
		return false
	}
	// Optional: channels known bad from commissioning.
	cfg.LookupValue("defectDetectors", &st.configured)
	st.projections = samplingRate * 1e6 / scanRate
	return true
}
