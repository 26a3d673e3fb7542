// Package masking hides the area outside the reconstruction circle in every
// reconstructed slice.
package masking

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

// Masking is the masking stage runner.
type Masking struct {
	*pipeline.Workers[float32, float32]

	pixels       int
	poolSize     int
	maskingValue float32
	normalize    bool
}

// New reads the stage configuration and starts one worker per device.
func New(cfg *config.Reader, opts Options) (*Masking, error) {
	st := &Masking{normalize: true}
	if !st.readConfig(cfg) {
		return nil, fmt.Errorf("masking: configuration could not be read from %s", cfg.Path())
	}

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[float32](memory.DeviceManager[float32]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[float32, float32]{
		Name:       "masking",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.pixels * st.pixels,
		Pool:       opts.Pool,
		Guard:      resilience.New("masking", resilience.Settings{}),
		Kernel:     st.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

func (st *Masking) launch(s *device.Stream, in *memory.Image[float32], out *memory.Image[float32]) error {
	s.Launch(func() error {
		copy(out.Data(), in.Data())
		kernels.Mask(out.Data(), st.pixels, st.maskingValue, st.normalize)
		return nil
	})
	return nil
}

func (st *Masking) readConfig(cfg *config.Reader) bool {
	ok := cfg.LookupValue("numberOfPixels", &st.pixels) &&
		cfg.LookupValue("memPoolSize", &st.poolSize)
	if !ok {
		return false
	}
	cfg.LookupValue("maskingValue", &st.maskingValue)
	cfg.LookupValue("performNormalization", &st.normalize)
	return true
}
