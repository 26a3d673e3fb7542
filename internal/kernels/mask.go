package kernels

// Mask sets every pixel outside the inscribed reconstruction circle to
// maskValue; the scanned object lies inside the circle and everything
// outside it is reconstruction noise. With normalize set, the pixels inside
// the circle are min-max scaled to [0,1] first.
func Mask(img []float32, pixels int, maskValue float32, normalize bool) {
	center := float32(pixels-1) / 2
	radius := float32(pixels) / 2
	r2 := radius * radius

	if normalize {
		first := true
		var lo, hi float32
		for y := 0; y < pixels; y++ {
			dy := float32(y) - center
			for x := 0; x < pixels; x++ {
				dx := float32(x) - center
				if dx*dx+dy*dy > r2 {
					continue
				}
				v := img[y*pixels+x]
				if first {
					lo, hi = v, v
					first = false
					continue
				}
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
		}
		if !first && hi > lo {
			span := hi - lo
			for y := 0; y < pixels; y++ {
				dy := float32(y) - center
				for x := 0; x < pixels; x++ {
					dx := float32(x) - center
					if dx*dx+dy*dy <= r2 {
						img[y*pixels+x] = (img[y*pixels+x] - lo) / span
					}
				}
			}
		}
	}

	for y := 0; y < pixels; y++ {
		dy := float32(y) - center
		for x := 0; x < pixels; x++ {
			dx := float32(x) - center
			if dx*dx+dy*dy > r2 {
				img[y*pixels+x] = maskValue
			}
		}
	}
}
