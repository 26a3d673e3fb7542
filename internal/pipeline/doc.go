// Package pipeline implements the staged dataflow runtime: bounded queues,
// the port wiring between stages, the generic stage harness and the
// multi-device worker scheduler every compute stage is built on.
//
// Stages communicate exclusively through bounded queues of image handles.
// Backpressure is load-bearing: a slow downstream stage fills its input
// queue, upstream Output calls block, and the stall propagates to the source.
//
// A typical graph:
//
//	Receiver → H2D → Reordering → Attenuation → Interpolation →
//	Filtering → Backprojection → Masking → D2H → Saver
//
// Each arrow is a Port plus a Queue. End-of-stream propagates by closing
// queues from upstream to downstream; workers observe the close, drain and
// exit cleanly.
package pipeline
