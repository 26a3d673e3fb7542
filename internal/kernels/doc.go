// Package kernels holds the per-stage compute routines the reconstruction
// stages launch on their device streams: sinogram reordering, defect
// interpolation, frequency-space filtering, backprojection and masking.
package kernels
