package plotting

import (
	"context"
	"path/filepath"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

// Sink implements batch.Sink by saving one PNG per included object under
// Dir/<run id>/.
type Sink struct {
	Dir    string
	Window lightcurve.Window

	Written []string
}

func (s *Sink) BeginRun(context.Context, batch.Run) error { return nil }

func (s *Sink) WriteOutcome(_ context.Context, runID string, out *pipeline.Outcome) error {
	if !out.Included() || out.Fit == nil {
		return nil
	}
	fig, err := NewFigure(out.Fit, out.Fits, s.Window)
	if err != nil {
		return err
	}
	path, err := SavePNG(filepath.Join(s.Dir, runID), fig)
	if err != nil {
		return err
	}
	s.Written = append(s.Written, path)
	return nil
}

func (s *Sink) WriteExclusion(context.Context, string, batch.Exclusion) error { return nil }

func (s *Sink) EndRun(context.Context, batch.Run) error { return nil }
