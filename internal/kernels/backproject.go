package kernels

import "math"

// InterpolationType selects the sampling used during backprojection.
type InterpolationType int

const (
	// InterpolationNearest samples the nearest detector channel.
	InterpolationNearest InterpolationType = iota
	// InterpolationLinear interpolates between the two neighbouring channels.
	InterpolationLinear
)

// Backproject smears the filtered sinogram back over the reconstruction
// grid: for every pixel and every projection angle the detector coordinate
// the pixel projects onto is sampled and accumulated. The grid is pixels x
// pixels, centred on the rotation axis; pixels whose ray leaves the detector
// range contribute nothing.
func Backproject(img []float32, sino []float32, projections, detectors, pixels int, interpolation InterpolationType) {
	center := float64(pixels-1) / 2
	detCenter := float64(detectors-1) / 2
	scale := float32(math.Pi / float64(projections))

	for y := 0; y < pixels; y++ {
		fy := float64(y) - center
		for x := 0; x < pixels; x++ {
			fx := float64(x) - center
			var sum float32
			for p := 0; p < projections; p++ {
				theta := math.Pi * float64(p) / float64(projections)
				t := fx*math.Cos(theta) + fy*math.Sin(theta) + detCenter

				switch interpolation {
				case InterpolationLinear:
					d0 := math.Floor(t)
					frac := float32(t - d0)
					i0 := int(d0)
					if i0 < 0 || i0+1 >= detectors {
						continue
					}
					row := sino[p*detectors:]
					sum += (1-frac)*row[i0] + frac*row[i0+1]
				default:
					i0 := int(math.Round(t))
					if i0 < 0 || i0 >= detectors {
						continue
					}
					sum += sino[p*detectors+i0]
				}
			}
			img[y*pixels+x] = sum * scale
		}
	}
}
