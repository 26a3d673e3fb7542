package kernels

// FindDefects returns the detector channels whose mean value over all
// projections falls outside [threshMin, threshMax]. Dead channels read near
// zero, saturated ones near the sample ceiling; both distort the fan-beam
// sinogram and are interpolated away before filtering.
func FindDefects(sino []float32, projections, detectors int, threshMin, threshMax float32) []int {
	var defects []int
	for d := 0; d < detectors; d++ {
		var sum float64
		for p := 0; p < projections; p++ {
			sum += float64(sino[p*detectors+d])
		}
		mean := float32(sum / float64(projections))
		if mean < threshMin || mean > threshMax {
			defects = append(defects, d)
		}
	}
	return defects
}

// Interpolate replaces each defect channel with the average of its nearest
// healthy neighbours, per projection. Channels at the edge of the fan take
// the single available neighbour.
func Interpolate(sino []float32, projections, detectors int, defects []int) {
	if len(defects) == 0 {
		return
	}
	defect := make(map[int]bool, len(defects))
	for _, d := range defects {
		defect[d] = true
	}

	for _, d := range defects {
		left, right := -1, -1
		for i := d - 1; i >= 0; i-- {
			if !defect[i] {
				left = i
				break
			}
		}
		for i := d + 1; i < detectors; i++ {
			if !defect[i] {
				right = i
				break
			}
		}
		for p := 0; p < projections; p++ {
			row := sino[p*detectors : (p+1)*detectors]
			switch {
			case left >= 0 && right >= 0:
				row[d] = 0.5 * (row[left] + row[right])
			case left >= 0:
				row[d] = row[left]
			case right >= 0:
				row[d] = row[right]
			}
		}
	}
}
