package integration

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/his"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/monitoring"
	"github.com/HZDR-FWDF/RISA/internal/pipeline"
	"github.com/HZDR-FWDF/RISA/internal/stages/attenuation"
	"github.com/HZDR-FWDF/RISA/internal/stages/backprojection"
	"github.com/HZDR-FWDF/RISA/internal/stages/filtering"
	"github.com/HZDR-FWDF/RISA/internal/stages/interpolation"
	"github.com/HZDR-FWDF/RISA/internal/stages/loader"
	"github.com/HZDR-FWDF/RISA/internal/stages/masking"
	"github.com/HZDR-FWDF/RISA/internal/stages/reordering"
	"github.com/HZDR-FWDF/RISA/internal/stages/saver"
	"github.com/HZDR-FWDF/RISA/internal/stages/transfer"
)

// Geometry small enough to reconstruct quickly: 2 modules x 2 channels, 2
// projections, 8x8 reconstruction grid.
const pipelineConfig = `{
	"samplingRate": 2,
	"scanRate": 1000000,
	"numberOfFanDetectors": 4,
	"numberOfDetectorModules": 2,
	"numberOfPixels": 8,
	"numberOfPlanes": 2,
	"inputBufferSize": 4,
	"memPoolSize": 4,
	"numberOfDarkFrames": 4,
	"numberOfRefFrames": 4,
	"pathDark": %q,
	"pathReference": %q,
	"threshMin": -1,
	"threshMax": 70000,
	"filterType": "ramp",
	"maskingValue": 0
}`

// writeMeasurement records a flat calibration measurement: frames sinograms
// of raw little-endian uint16 samples, all at the same value.
func writeMeasurement(t *testing.T, path string, frames int, value uint16) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	samples := make([]uint16, frames*8)
	for i := range samples {
		samples[i] = value
	}
	require.NoError(t, binary.Write(f, binary.LittleEndian, samples))
}

func TestOfflineReconstructionEndToEnd(t *testing.T) {
	const frames = 12
	const devices = 2

	calib := t.TempDir()
	pathDark := filepath.Join(calib, "dark.bin")
	pathReference := filepath.Join(calib, "reference.bin")
	writeMeasurement(t, pathDark, 4, 10)
	writeMeasurement(t, pathReference, 4, 1010)

	cfgPath := filepath.Join(t.TempDir(), "config.json")
	rendered := fmt.Sprintf(pipelineConfig, pathDark, pathReference)
	require.NoError(t, os.WriteFile(cfgPath, []byte(rendered), 0o644))
	cfg, err := config.Open(cfgPath)
	require.NoError(t, err)

	input := t.TempDir()
	for i := 0; i < frames; i++ {
		samples := make([]uint16, 8)
		for j := range samples {
			samples[j] = uint16(100 + i + j)
		}
		require.NoError(t, his.WriteFile(
			filepath.Join(input, fmt.Sprintf("frame_%02d.his", i)), 4, 2, his.TypeUint16, samples))
	}
	output := filepath.Join(t.TempDir(), "out")

	log := logging.NewNop()
	metrics := monitoring.NewMetrics()
	defer memory.ShutdownPools()

	ld, err := loader.New(input, cfg, loader.Options{Log: log})
	require.NoError(t, err)
	h2d, err := transfer.NewH2D[uint16](cfg, transfer.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	reorder, err := reordering.New(cfg, reordering.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	atten, err := attenuation.New(cfg, attenuation.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	interp, err := interpolation.New(cfg, interpolation.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	filter, err := filtering.New(cfg, filtering.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	backproject, err := backprojection.New(cfg, backprojection.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	mask, err := masking.New(cfg, masking.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	d2h, err := transfer.NewD2H[float32](cfg, transfer.Options{Devices: devices, QueueLimit: 4, Log: log, Observer: metrics})
	require.NoError(t, err)
	save, err := saver.New(output, "slice", saver.Options{Log: log})
	require.NoError(t, err)

	source := pipeline.NewSourceStage[*memory.Image[uint16]]("loader", ld)
	h2dStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[uint16]]("h2d", 4, h2d)
	reorderStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[uint16]]("reordering", 4, reorder)
	attenStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[float32]]("attenuation", 4, atten)
	interpStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("interpolation", 4, interp)
	filterStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("filtering", 4, filter)
	bpStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("backprojection", 4, backproject)
	maskStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("masking", 4, mask)
	d2hStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("d2h", 4, d2h)
	sink := pipeline.NewSinkStage[*memory.Image[float32]]("saver", 4, save)

	pipeline.Connect[*memory.Image[uint16]](source, h2dStage)
	pipeline.Connect[*memory.Image[uint16]](h2dStage, reorderStage)
	pipeline.Connect[*memory.Image[uint16]](reorderStage, attenStage)
	pipeline.Connect[*memory.Image[float32]](attenStage, interpStage)
	pipeline.Connect[*memory.Image[float32]](interpStage, filterStage)
	pipeline.Connect[*memory.Image[float32]](filterStage, bpStage)
	pipeline.Connect[*memory.Image[float32]](bpStage, maskStage)
	pipeline.Connect[*memory.Image[float32]](maskStage, d2hStage)
	pipeline.Connect[*memory.Image[float32]](d2hStage, sink)

	var p pipeline.Pipeline
	p.Run(source, h2dStage, reorderStage, attenStage, interpStage, filterStage, bpStage, maskStage, d2hStage, sink)
	p.Wait()

	h2d.Release()
	reorder.Release()
	atten.Release()
	interp.Release()
	filter.Release()
	backproject.Release()
	mask.Release()
	d2h.Release()
	ld.Release()

	assert.Equal(t, uint64(frames), source.Served())
	assert.Equal(t, uint64(frames), save.Written())
	assert.Equal(t, uint64(frames), sink.Served())

	// Even indices land on plane 0, odd on plane 1.
	plane0, err := os.ReadDir(filepath.Join(output, "plane0"))
	require.NoError(t, err)
	plane1, err := os.ReadDir(filepath.Join(output, "plane1"))
	require.NoError(t, err)
	assert.Len(t, plane0, frames/2)
	assert.Len(t, plane1, frames/2)

	// Each written slice is a full reconstruction grid.
	slice0 := filepath.Join(output, "plane0", "slice_000000.raw")
	info, err := os.Stat(slice0)
	require.NoError(t, err)
	assert.Equal(t, int64(8*8*4), info.Size())

	// The metrics observer saw every stage.
	stages := metrics.Stages()
	names := make(map[string]bool, len(stages))
	for _, s := range stages {
		names[s.Name] = true
		assert.Equal(t, uint64(frames), s.Frames, s.Name)
	}
	for _, want := range []string{"h2d", "reordering", "attenuation", "interpolation", "filtering", "backprojection", "masking", "d2h"} {
		assert.True(t, names[want], want)
	}
}
