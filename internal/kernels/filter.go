package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Filter applies a ramp-type reconstruction filter to each sinogram row in
// frequency space. The frequency response is precomputed once per stage; the
// FFT length is the next power of two at least twice the row length, so the
// circular convolution does not wrap into the detector range.
type Filter struct {
	rowLen int
	padded int
	resp   []float64
}

// Window names accepted by NewFilter.
const (
	FilterRamp       = "ramp"
	FilterSheppLogan = "shepp-logan"
	FilterCosine     = "cosine"
	FilterHamming    = "hamming"
	FilterHanning    = "hanning"
)

// NewFilter designs a filter for rows of rowLen samples. cutoffFraction in
// (0,1] limits the pass band relative to the Nyquist frequency.
func NewFilter(window string, cutoffFraction float64, rowLen int) (*Filter, error) {
	if rowLen <= 0 {
		return nil, fmt.Errorf("kernels: invalid filter row length %d", rowLen)
	}
	if cutoffFraction <= 0 || cutoffFraction > 1 {
		return nil, fmt.Errorf("kernels: cutoff fraction %v out of (0,1]", cutoffFraction)
	}

	padded := 1
	for padded < 2*rowLen {
		padded <<= 1
	}

	bins := padded/2 + 1
	resp := make([]float64, bins)
	cutoff := cutoffFraction * float64(bins-1)
	for k := 0; k < bins; k++ {
		f := float64(k) / float64(bins-1) // normalised frequency in [0,1]
		if float64(k) > cutoff {
			resp[k] = 0
			continue
		}
		ramp := f
		switch window {
		case FilterRamp:
			resp[k] = ramp
		case FilterSheppLogan:
			if k == 0 {
				resp[k] = 0
			} else {
				arg := math.Pi * f / 2
				resp[k] = ramp * math.Sin(arg) / arg
			}
		case FilterCosine:
			resp[k] = ramp * math.Cos(math.Pi*f/2)
		case FilterHamming:
			resp[k] = ramp * (0.54 + 0.46*math.Cos(math.Pi*f))
		case FilterHanning:
			resp[k] = ramp * 0.5 * (1 + math.Cos(math.Pi*f))
		default:
			return nil, fmt.Errorf("kernels: unknown filter window %q", window)
		}
	}

	return &Filter{rowLen: rowLen, padded: padded, resp: resp}, nil
}

// RowLen returns the row length the filter was designed for.
func (f *Filter) RowLen() int { return f.rowLen }

// Apply filters every row of the projection-major sinogram in place.
func (f *Filter) Apply(sino []float32, rows int) {
	fft := fourier.NewFFT(f.padded)
	seq := make([]float64, f.padded)
	coeff := make([]complex128, f.padded/2+1)

	for r := 0; r < rows; r++ {
		row := sino[r*f.rowLen : (r+1)*f.rowLen]
		for i, v := range row {
			seq[i] = float64(v)
		}
		for i := f.rowLen; i < f.padded; i++ {
			seq[i] = 0
		}

		fft.Coefficients(coeff, seq)
		for k := range coeff {
			coeff[k] *= complex(f.resp[k], 0)
		}
		fft.Sequence(seq, coeff)

		scale := 1 / float64(f.padded)
		for i := range row {
			row[i] = float32(seq[i] * scale)
		}
	}
}
