package pipeline

import (
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/align"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// Status tags an Outcome.
type Status string

const (
	StatusIncluded Status = "included"
	StatusExcluded Status = "excluded"
)

// Stage is a state of the per-object state machine.
type Stage string

const (
	StageIngested   Stage = "ingested"
	StageGated      Stage = "gated"
	StageFitted     Stage = "fitted"
	StageSampled    Stage = "sampled"
	StageNormalized Stage = "normalized"
	StageAligned    Stage = "aligned"
	StageResampled  Stage = "resampled"
)

// Outcome is the tagged result of processing one object.
//
// For an included object Features is set, DrawFeatures holds one vector per
// accepted posterior draw, and Fit is the normalised, aligned fit. For an
// excluded object Gate, Reason and Err say why. SamplingErr records a
// posterior sampling failure that did not exclude the object.
type Outcome struct {
	ObjectID string
	Redshift float64
	Type     string
	Status   Status
	Stage    Stage

	Gate   lightcurve.Gate
	Reason string
	Filter string
	Err    error

	Features     *lightcurve.FeatureVector
	DrawFeatures []lightcurve.FeatureVector
	Fit          *align.NormalizedFit
	Fits         map[string]*gp.Fit

	SamplingErr   error
	DrawsAccepted int
	DrawsRejected int
}

// Included reports whether the object produced a feature vector.
func (o *Outcome) Included() bool { return o.Status == StatusIncluded }

func (o *Outcome) exclude(gate lightcurve.Gate, reason, filter string, err error) *Outcome {
	o.Status = StatusExcluded
	o.Gate = gate
	o.Reason = reason
	o.Filter = filter
	o.Err = err
	return o
}
