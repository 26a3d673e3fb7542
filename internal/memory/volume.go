package memory

import "fmt"

// Volume is the three-dimensional analogue of Image, used for reconstructed
// slice stacks. Indexing by depth yields an independent copy of the addressed
// slice, never an alias.
type Volume[T Sample] struct {
	buf    *Buf[T]
	mgr    Manager[T]
	width  int
	height int
	depth  int
	valid  bool
}

// NewVolume allocates a w*h*d volume from mgr.
func NewVolume[T Sample](mgr Manager[T], w, h, d int) *Volume[T] {
	return &Volume[T]{
		buf:    mgr.MakeBuf3D(w, h, d),
		mgr:    mgr,
		width:  w,
		height: h,
		depth:  d,
		valid:  true,
	}
}

// At returns slice d of the volume as a fresh w*h Image. The copy is deep:
// mutating the returned image leaves the volume untouched. An out-of-range
// index is a programmer error and panics.
func (v *Volume[T]) At(d int) *Image[T] {
	if d < 0 || d >= v.depth {
		panic(fmt.Sprintf("memory: volume slice %d out of range [0,%d)", d, v.depth))
	}
	img := NewImage2D(v.mgr, v.width, v.height)
	plane := v.width * v.height
	copy(img.Data(), v.buf.data[d*plane:(d+1)*plane])
	return img
}

// Clone deep-copies the volume through dst's copy primitive.
func (v *Volume[T]) Clone(dst Manager[T]) (*Volume[T], error) {
	out := &Volume[T]{
		mgr:    dst,
		width:  v.width,
		height: v.height,
		depth:  v.depth,
		valid:  v.valid,
	}
	if v.buf == nil {
		return out, nil
	}
	out.buf = dst.MakeBuf3D(v.width, v.height, v.depth)
	if err := dst.Copy(out.buf, v.buf); err != nil {
		return nil, err
	}
	return out, nil
}

// Width returns the volume width.
func (v *Volume[T]) Width() int { return v.width }

// Height returns the volume height.
func (v *Volume[T]) Height() int { return v.height }

// Depth returns the number of slices.
func (v *Volume[T]) Depth() int { return v.depth }

// Valid reports whether the volume owns a buffer.
func (v *Volume[T]) Valid() bool { return v != nil && v.valid }

// Data returns the backing slice in depth-major order.
func (v *Volume[T]) Data() []T {
	if v.buf == nil {
		return nil
	}
	return v.buf.data
}
