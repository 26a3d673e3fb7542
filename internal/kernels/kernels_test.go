package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReorderModuleMajorToProjectionMajor(t *testing.T) {
	const projections, modules, perModule = 2, 2, 3
	// Module-major raw layout: module 0 holds samples 0..5, module 1 holds
	// 100..105, each block projection-major within the module.
	src := []uint16{
		0, 1, 2, 3, 4, 5,
		100, 101, 102, 103, 104, 105,
	}
	dst := make([]uint16, projections*modules*perModule)
	Reorder(dst, src, projections, modules, perModule)

	assert.Equal(t, []uint16{
		0, 1, 2, 100, 101, 102,
		3, 4, 5, 103, 104, 105,
	}, dst)
}

func TestComputeDarkAverage(t *testing.T) {
	// Two frames of four pixels; dark current averages over all frames.
	values := []uint16{
		2, 4, 6, 8,
		4, 8, 10, 12,
	}
	avg := ComputeDarkAverage(values, 4)
	assert.Equal(t, []float32{3, 6, 8, 10}, avg)
}

func TestComputeAveragePerPlane(t *testing.T) {
	// Four frames of two pixels, planes interleaved by frame index.
	values := []uint16{
		10, 20, // plane 0
		30, 40, // plane 1
		20, 30, // plane 0
		50, 60, // plane 1
	}
	avg := ComputeAverage(values, 2, 2)
	require.Len(t, avg, 2)
	assert.Equal(t, []float32{15, 25}, avg[0])
	assert.Equal(t, []float32{40, 50}, avg[1])
}

func TestRelevantAreaMask(t *testing.T) {
	// Zero offsets pass everything.
	mask := RelevantAreaMask(4, 2, 0, 0, 0)
	for _, v := range mask {
		assert.Equal(t, float32(1), v)
	}

	// A gap over the first half of the projection range zeroes those rows.
	mask = RelevantAreaMask(4, 2, 0.25, 0.25, 0.25)
	assert.Equal(t, []float32{
		0, 0,
		0, 0,
		1, 1,
		1, 1,
	}, mask)
}

func TestAttenuate(t *testing.T) {
	dark := []float32{10, 10, 10, 10}
	ref := []float32{1010, 1010, 1010, 1010}
	mask := []float32{1, 1, 1, 0}

	// src-dark over ref-dark: 1 (no absorption), 0.5, 0 (blocked), masked.
	src := []uint16{1010, 510, 10, 1010}
	dst := make([]float32, 4)
	Attenuate(dst, src, ref, dark, mask)

	assert.InDelta(t, 0, dst[0], 1e-6)
	assert.InDelta(t, math.Log(2), float64(dst[1]), 1e-5)
	assert.Equal(t, float32(0), dst[2])
	assert.Equal(t, float32(0), dst[3])
}

func TestFindDefects(t *testing.T) {
	const projections, detectors = 4, 5
	sino := make([]float32, projections*detectors)
	for p := 0; p < projections; p++ {
		for d := 0; d < detectors; d++ {
			sino[p*detectors+d] = 1000
		}
		sino[p*detectors+1] = 0     // dead channel
		sino[p*detectors+3] = 70000 // saturated channel
	}

	defects := FindDefects(sino, projections, detectors, 100, 60000)
	assert.Equal(t, []int{1, 3}, defects)
}

func TestInterpolateRepairsDefects(t *testing.T) {
	const projections, detectors = 2, 5
	sino := []float32{
		10, 0, 30, 0, 50,
		20, 0, 40, 0, 60,
	}
	Interpolate(sino, projections, detectors, []int{1, 3})

	assert.Equal(t, []float32{
		10, 20, 30, 40, 50,
		20, 30, 40, 50, 60,
	}, sino)
}

func TestInterpolateEdgeChannels(t *testing.T) {
	sino := []float32{0, 7, 9, 0}
	Interpolate(sino, 1, 4, []int{0, 3})
	assert.Equal(t, []float32{7, 7, 9, 9}, sino)
}

func TestFilterImpulseResponse(t *testing.T) {
	const rowLen = 64
	center := rowLen / 2
	sino := make([]float32, rowLen)
	sino[center] = 1

	filter, err := NewFilter(FilterRamp, 1.0, rowLen)
	require.NoError(t, err)
	filter.Apply(sino, 1)

	// The ramp kernel peaks at the impulse and dips negative right next to
	// it, the classic filtered-backprojection convolution shape.
	assert.Greater(t, sino[center], float32(0))
	assert.Less(t, sino[center-1], float32(0))
	assert.Less(t, sino[center+1], float32(0))
	for i, v := range sino {
		if i == center {
			continue
		}
		assert.Less(t, float64(math.Abs(float64(v))), float64(sino[center]), "bin %d", i)
	}
}

func TestFilterWindows(t *testing.T) {
	for _, window := range []string{FilterRamp, FilterSheppLogan, FilterCosine, FilterHamming, FilterHanning} {
		_, err := NewFilter(window, 1.0, 32)
		assert.NoError(t, err, window)
	}

	_, err := NewFilter("butterworth", 1.0, 32)
	assert.Error(t, err)
	_, err = NewFilter(FilterRamp, 0, 32)
	assert.Error(t, err)
	_, err = NewFilter(FilterRamp, 1.5, 32)
	assert.Error(t, err)
}

func TestBackprojectCenteredImpulse(t *testing.T) {
	const projections, detectors, pixels = 32, 15, 15
	// An impulse at the central detector channel of every projection
	// backprojects to a peak on the rotation axis.
	sino := make([]float32, projections*detectors)
	for p := 0; p < projections; p++ {
		sino[p*detectors+detectors/2] = 1
	}

	img := make([]float32, pixels*pixels)
	Backproject(img, sino, projections, detectors, pixels, InterpolationLinear)

	center := img[(pixels/2)*pixels+pixels/2]
	for y := 0; y < pixels; y++ {
		for x := 0; x < pixels; x++ {
			if x == pixels/2 && y == pixels/2 {
				continue
			}
			assert.LessOrEqual(t, img[y*pixels+x], center)
		}
	}
	assert.Greater(t, center, float32(0))
}

func TestBackprojectNearestStaysFinite(t *testing.T) {
	const projections, detectors, pixels = 8, 9, 9
	sino := make([]float32, projections*detectors)
	for i := range sino {
		sino[i] = 1
	}
	img := make([]float32, pixels*pixels)
	Backproject(img, sino, projections, detectors, pixels, InterpolationNearest)

	for _, v := range img {
		assert.False(t, math.IsNaN(float64(v)))
		assert.False(t, math.IsInf(float64(v), 0))
	}
}

func TestMaskZeroesOutsideCircle(t *testing.T) {
	const pixels = 16
	img := make([]float32, pixels*pixels)
	for i := range img {
		img[i] = 1
	}
	Mask(img, pixels, 0, false)

	// Corners lie outside the inscribed circle, the centre inside.
	assert.Equal(t, float32(0), img[0])
	assert.Equal(t, float32(0), img[pixels-1])
	assert.Equal(t, float32(0), img[(pixels-1)*pixels])
	assert.Equal(t, float32(1), img[(pixels/2)*pixels+pixels/2])
}

func TestMaskNormalizes(t *testing.T) {
	const pixels = 8
	img := make([]float32, pixels*pixels)
	center := pixels / 2
	img[center*pixels+center] = 10
	img[center*pixels+center+1] = -10

	Mask(img, pixels, 0, true)

	var lo, hi float32 = 2, -2
	for _, v := range img {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	assert.GreaterOrEqual(t, lo, float32(0))
	assert.LessOrEqual(t, hi, float32(1))
}
