// Package attenuation converts raw detector counts into attenuation
// coefficients, the step that makes the sinogram physically interpretable
// before filtering and backprojection. At construction the stage averages
// the recorded dark measurement (beam off) and the per-plane reference
// measurement (empty beam) and precomputes the relevant-area mask; every
// frame is then corrected as -log((v-dark)/(ref-dark)) times the mask.
package attenuation

import (
	"encoding/binary"
	"fmt"
	"os"

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

// Attenuation is the attenuation stage runner.
type Attenuation struct {
	*pipeline.Workers[uint16, float32]

	projections int
	detectors   int
	planes      int
	poolSize    int

	darkFrames    int
	refFrames     int
	pathDark      string
	pathReference string

	sourceOffset   float64
	lowerLimOffset float64
	upperLimOffset float64

	avgDark      []float32
	avgReference [][]float32
	mask         []float32
}

// New reads the stage configuration, averages the dark and reference
// measurements, precomputes the relevant-area mask and starts one worker per
// device.
func New(cfg *config.Reader, opts Options) (*Attenuation, error) {
	st := &Attenuation{planes: 2}
	if !st.readConfig(cfg) {
		return nil, fmt.Errorf("attenuation: configuration could not be read from %s", cfg.Path())
	}
	if err := st.init(); err != nil {
		return nil, fmt.Errorf("attenuation: %w", err)
	}

	if opts.Pool == nil {
		opts.Pool = memory.PoolFor[float32](memory.DeviceManager[float32]{})
	}
	if opts.Devices <= 0 {
		opts.Devices = device.Count()
	}

	st.Workers = pipeline.NewWorkers(pipeline.WorkersConfig[uint16, float32]{
		Name:       "attenuation",
		Devices:    opts.Devices,
		QueueLimit: opts.QueueLimit,
		PoolSize:   st.poolSize,
		OutputSize: st.projections * st.detectors,
		Pool:       opts.Pool,
		Guard:      resilience.New("attenuation", resilience.Settings{}),
		Kernel:     st.launch,
		Log:        opts.Log,
		Observer:   opts.Observer,
	})
	return st, nil
}

func (st *Attenuation) launch(s *device.Stream, in *memory.Image[uint16], out *memory.Image[float32]) error {
	plane := in.Plane() % st.planes
	s.Launch(func() error {
		kernels.Attenuate(out.Data(), in.Data(), st.avgReference[plane], st.avgDark, st.mask)
		return nil
	})
	return nil
}

// init fills the averaged calibration tables from the recorded measurement
// files.
func (st *Attenuation) init() error {
	sinoSize := st.projections * st.detectors

	dark, err := readMeasurement(st.pathDark, st.darkFrames, sinoSize)
	if err != nil {
		return err
	}
	reference, err := readMeasurement(st.pathReference, st.refFrames, sinoSize)
	if err != nil {
		return err
	}

	st.avgDark = kernels.ComputeDarkAverage(dark, sinoSize)
	st.avgReference = kernels.ComputeAverage(reference, st.planes, sinoSize)
	st.mask = kernels.RelevantAreaMask(st.projections, st.detectors,
		st.sourceOffset, st.lowerLimOffset, st.upperLimOffset)
	return nil
}

func (st *Attenuation) readConfig(cfg *config.Reader) bool {
	var samplingRate, scanRate int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &st.detectors) &&
		cfg.LookupValue("memPoolSize", &st.poolSize) &&
		cfg.LookupValue("numberOfDarkFrames", &st.darkFrames) &&
		cfg.LookupValue("numberOfRefFrames", &st.refFrames) &&
		cfg.LookupValue("pathDark", &st.pathDark) &&
		cfg.LookupValue("pathReference", &st.pathReference)
	if !ok || scanRate == 0 {
		return false
	}
	st.projections = samplingRate * 1e6 / scanRate

	cfg.LookupValue("numberOfPlanes", &st.planes)
	if st.planes <= 0 {
		return false
	}
	cfg.LookupValue("sourceOffset", &st.sourceOffset)
	cfg.LookupValue("lowerLimOffset", &st.lowerLimOffset)
	cfg.LookupValue("upperLimOffset", &st.upperLimOffset)
	return true
}

// readMeasurement loads a recorded measurement: raw little-endian uint16
// samples, frames sinograms back to back.
func readMeasurement(path string, frames, sinoSize int) ([]uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("measurement %s: %w", path, err)
	}
	defer f.Close()

	values := make([]uint16, frames*sinoSize)
	if err := binary.Read(f, binary.LittleEndian, values); err != nil {
		return nil, fmt.Errorf("measurement %s: %w", path, err)
	}
	return values, nil
}
