// Package reordering rearranges assembled raw sinograms from the module-major
// layout the receiver produces into projection-major fan-beam order. The
// samples stay raw counts; attenuation downstream makes them physical.
package reordering

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
	Pool       *memory.Pool[uint16]
	Log        *logging.Logger
	Observer   pipeline.Observer
}

// Reordering is the reordering stage runner.
type Reordering struct {
	*pipeline.Workers[uint16, uint16]

	projections        int
	detectors          int
	modules            int
	detectorsPerModule int
	poolSize           int
}

// New reads the stage configuration and starts one worker per device.
func New(cfg *config.Reader, opts Options) (*Reordering, error) {
	r := &Reordering{}
	if !r.readConfig(cfg) {
		return nil, fmt.Errorf("reordering: configuration could not be read from %s", cfg.Path())
	}

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[uint16](memory.DeviceManager[uint16]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	r.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[uint16, uint16]{
		Name:       "reordering",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   r.poolSize,
		OutputSize: r.projections * r.detectors,
		Pool:       opts.Pool,
		Guard:      resilience.New("reordering", resilience.Settings{}),
		Kernel:     r.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return r, nil
}

func (r *Reordering) launch(s *device.Stream, in *memory.Image[uint16], out *memory.Image[uint16]) error {
	s.Launch(func() error {
		kernels.Reorder(out.Data(), in.Data(), r.projections, r.modules, r.detectorsPerModule)
		return nil
	})
	return nil
}

func (r *Reordering) readConfig(cfg *config.Reader) bool {
	var samplingRate, scanRate int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &r.detectors) &&
		cfg.LookupValue("numberOfDetectorModules", &r.modules) &&
		cfg.LookupValue("memPoolSize", &r.poolSize)
	if !ok || scanRate == 0 || r.modules == 0 {
		return false
	}
	r.projections = samplingRate * 1e6 / scanRate
	r.detectorsPerModule = r.detectors / r.modules
	return true
}
