package memory

import (
	"time"
)

// Image is a typed 1-D or 2-D buffer handle flowing through the pipeline.
// It carries the monotonic frame index assigned by the source stage, the
// plane id (scan parity for double-plane reconstruction), the registration
// id of the pool that owns the buffer and the creation timestamp used for
// end-to-end latency measurement.
//
// A valid Image owns its buffer. Closing a valid pool-issued Image returns
// the buffer to the pool; closing anything else simply drops it. Close, Valid
// and Data are nil-safe, so a nil *Image (as handed out by a torn-down pool)
// reads as an invalid handle; the other accessors need a non-nil receiver.
type Image[T Sample] struct {
	buf    *Buf[T]
	mgr    Manager[T]
	size   int
	width  int
	height int
	index  uint64
	plane  int
	poolID int
	pool   *Pool[T]
	start  time.Time
	valid  bool
}

// NewImage allocates a 1-D image of n elements from mgr. The handle is valid
// and caller-owned: Close drops the buffer instead of returning it anywhere.
func NewImage[T Sample](mgr Manager[T], n int) *Image[T] {
	return adoptBuf(mgr, mgr.MakeBuf(n))
}

// NewImage2D allocates a w*h image from mgr.
func NewImage2D[T Sample](mgr Manager[T], w, h int) *Image[T] {
	return adoptBuf(mgr, mgr.MakeBuf2D(w, h))
}

// AdoptImage wraps an existing buffer in a valid caller-owned handle.
func AdoptImage[T Sample](mgr Manager[T], buf *Buf[T]) *Image[T] {
	return adoptBuf(mgr, buf)
}

func adoptBuf[T Sample](mgr Manager[T], buf *Buf[T]) *Image[T] {
	return &Image[T]{
		buf:    buf,
		mgr:    mgr,
		size:   buf.Len(),
		width:  buf.width,
		height: buf.height,
		start:  time.Now(),
		valid:  true,
	}
}

// Close releases the handle. Pool-issued images return their buffer to the
// owning pool; caller-owned images drop it. Closing an invalid or nil handle
// is a no-op, so Close is safe to defer unconditionally.
func (img *Image[T]) Close() {
	if img == nil || !img.valid {
		return
	}
	if img.pool != nil {
		img.pool.ReturnMemory(img)
		return
	}
	img.valid = false
	img.buf = nil
}

// Take moves the handle: the returned Image owns the buffer and all metadata,
// and the receiver is invalidated (Valid reports false, Data reports nil).
func (img *Image[T]) Take() *Image[T] {
	moved := &Image[T]{
		buf:    img.buf,
		mgr:    img.mgr,
		size:   img.size,
		width:  img.width,
		height: img.height,
		index:  img.index,
		plane:  img.plane,
		poolID: img.poolID,
		pool:   img.pool,
		start:  img.start,
		valid:  img.valid,
	}
	img.valid = false
	img.buf = nil
	img.pool = nil
	return moved
}

// Clone deep-copies the image into a fresh buffer allocated from dst. This is
// the only legal way to carry pixel data across memory domains.
func (img *Image[T]) Clone(dst Manager[T]) (*Image[T], error) {
	out := &Image[T]{
		mgr:    dst,
		size:   img.size,
		width:  img.width,
		height: img.height,
		index:  img.index,
		plane:  img.plane,
		start:  img.start,
		valid:  img.valid,
	}
	if img.buf == nil {
		return out, nil
	}
	if img.height > 1 {
		out.buf = dst.MakeBuf2D(img.width, img.height)
	} else {
		out.buf = dst.MakeBuf(img.size)
	}
	if err := dst.Copy(out.buf, img.buf); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyFrom deep-copies src's contents into this image's buffer through the
// receiver's manager. Metadata (index, plane, timestamp) is carried over; the
// pool binding of the receiver is kept.
func (img *Image[T]) CopyFrom(src *Image[T]) error {
	if src.buf != nil {
		if err := img.mgr.Copy(img.buf, src.buf); err != nil {
			return err
		}
	}
	img.index = src.index
	img.plane = src.plane
	img.start = src.start
	return nil
}

// Invalidate marks the handle non-valid without touching the buffer, so a
// later Close does not return it to the pool. The pool itself does not call
// it; ReturnMemory clears the handle directly.
func (img *Image[T]) Invalidate() {
	img.valid = false
}

// Valid reports whether the handle currently owns a buffer.
func (img *Image[T]) Valid() bool { return img != nil && img.valid }

// Size returns the element count.
func (img *Image[T]) Size() int { return img.size }

// Width returns the logical width in elements.
func (img *Image[T]) Width() int { return img.width }

// Height returns the logical height, 1 for 1-D images.
func (img *Image[T]) Height() int { return img.height }

// Pitch returns the row stride in elements.
func (img *Image[T]) Pitch() int {
	if img.buf == nil {
		return 0
	}
	return img.buf.pitch
}

// Data returns the backing slice, nil for invalid handles.
func (img *Image[T]) Data() []T {
	if img == nil || img.buf == nil {
		return nil
	}
	return img.buf.data
}

// Buffer returns the underlying buffer handle.
func (img *Image[T]) Buffer() *Buf[T] { return img.buf }

// Manager returns the memory manager the image was allocated through.
func (img *Image[T]) Manager() Manager[T] { return img.mgr }

// Index returns the monotonic frame index.
func (img *Image[T]) Index() uint64 { return img.index }

// SetIndex sets the frame index.
func (img *Image[T]) SetIndex(idx uint64) { img.index = idx }

// Plane returns the plane id.
func (img *Image[T]) Plane() int { return img.plane }

// SetPlane sets the plane id.
func (img *Image[T]) SetPlane(plane int) { img.plane = plane }

// PoolID returns the registration id of the owning pool lane.
func (img *Image[T]) PoolID() int { return img.poolID }

// Start returns the creation timestamp stamped by the source stage.
func (img *Image[T]) Start() time.Time { return img.start }

// SetStart overwrites the creation timestamp.
func (img *Image[T]) SetStart(t time.Time) { img.start = t }

// Duration returns the elapsed time since the creation timestamp.
func (img *Image[T]) Duration() time.Duration { return time.Since(img.start) }
