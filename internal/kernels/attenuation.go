package kernels

import "math"

// ComputeDarkAverage averages a dark measurement (scan with the beam off)
// over all frames, yielding the per-pixel noise floor. Dark current does not
// depend on the detector plane, so all frames contribute to one table.
func ComputeDarkAverage(values []uint16, sinoSize int) []float32 {
	avg := make([]float32, sinoSize)
	frames := len(values) / sinoSize
	if frames == 0 {
		return avg
	}
	for f := 0; f < frames; f++ {
		frame := values[f*sinoSize : (f+1)*sinoSize]
		for i, v := range frame {
			avg[i] += float32(v)
		}
	}
	for i := range avg {
		avg[i] /= float32(frames)
	}
	return avg
}

// ComputeAverage averages a reference measurement (scan of the empty beam)
// per plane: frame f belongs to plane f mod planes, matching the interleaved
// plane order of the scanner.
func ComputeAverage(values []uint16, planes, sinoSize int) [][]float32 {
	avg := make([][]float32, planes)
	counts := make([]int, planes)
	for p := range avg {
		avg[p] = make([]float32, sinoSize)
	}

	frames := len(values) / sinoSize
	for f := 0; f < frames; f++ {
		p := f % planes
		frame := values[f*sinoSize : (f+1)*sinoSize]
		for i, v := range frame {
			avg[p][i] += float32(v)
		}
		counts[p]++
	}
	for p := range avg {
		if counts[p] == 0 {
			continue
		}
		for i := range avg[p] {
			avg[p][i] /= float32(counts[p])
		}
	}
	return avg
}

// RelevantAreaMask computes the sinogram mask that hides areas known to
// carry no signal from the measurement geometry (limited-angle gap around
// the source position). Offsets are fractions of the projection range:
// projections inside [sourceOffset-lowerLimOffset, sourceOffset+upperLimOffset)
// are zeroed, everything else passes. With zero offsets the mask is all
// ones.
func RelevantAreaMask(projections, detectors int, sourceOffset, lowerLimOffset, upperLimOffset float64) []float32 {
	mask := make([]float32, projections*detectors)
	gapStart := sourceOffset - lowerLimOffset
	gapEnd := sourceOffset + upperLimOffset

	for p := 0; p < projections; p++ {
		value := float32(1)
		f := float64(p) / float64(projections)
		if f >= gapStart && f < gapEnd {
			value = 0
		}
		for d := 0; d < detectors; d++ {
			mask[p*detectors+d] = value
		}
	}
	return mask
}

// Attenuate converts raw detector counts into attenuation coefficients:
// -log((v - dark) / (ref - dark)), multiplied by the relevant-area mask.
// Pixels whose dark-corrected value or reference span is non-positive carry
// no usable signal and are set to zero.
func Attenuate(dst []float32, src []uint16, avgReference, avgDark, mask []float32) {
	for i, v := range src {
		num := float32(v) - avgDark[i]
		den := avgReference[i] - avgDark[i]
		if num <= 0 || den <= 0 {
			dst[i] = 0
			continue
		}
		dst[i] = -float32(math.Log(float64(num/den))) * mask[i]
	}
}
