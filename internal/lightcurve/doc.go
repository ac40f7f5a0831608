// Package lightcurve owns the per-object data model for transient light
// curves: raw photometric observations grouped by filter, the selection gate
// that decides whether an object enters the fitting pipeline, the aligned
// feature vector that leaves it, and the error taxonomy shared by every
// stage.
//
// Dependency rule: this package imports no other internal package. The
// fitting (gp), alignment (align) and orchestration (pipeline) layers all
// depend on it, never the reverse.
package lightcurve
