// Package align turns per-filter GP fits into a peak-aligned feature vector.
//
// The stages run in a fixed order. Normalize divides every mean curve and
// draw by the object's global maximum; Align locates the peak filter and
// epoch and shifts every grid to peak-relative time; a Resampler then checks
// window coverage and interpolates onto the uniform bin grid. Each stage
// refuses to run before its predecessor.
package align
