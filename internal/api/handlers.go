package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/banshee-data/lightcurve.report/internal/db"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/plotting"
	"github.com/banshee-data/lightcurve.report/internal/version"
)

// ObservationRequest is one measurement in a features request.
type ObservationRequest struct {
	Filter  string   `json:"filter" validate:"required"`
	MJD     float64  `json:"mjd"`
	Flux    float64  `json:"flux"`
	FluxErr float64  `json:"flux_err" validate:"gt=0"`
	Quality *float64 `json:"quality"`
}

// FeaturesRequest asks for the feature vector of a single object.
type FeaturesRequest struct {
	SNID         string               `json:"snid" validate:"required"`
	Redshift     float64              `json:"redshift"`
	Type         string               `json:"type"`
	Mode         string               `json:"mode" default:"optimize" validate:"oneof=optimize mcmc"`
	Draws        int                  `json:"draws" validate:"gte=0,lte=1000"`
	Seed         uint64               `json:"seed"`
	Observations []ObservationRequest `json:"observations" validate:"required,min=1,dive"`
}

// record converts the request. A missing quality passes any threshold.
func (r *FeaturesRequest) record(threshold float64) *lightcurve.Record {
	rec := &lightcurve.Record{
		ObjectID: r.SNID,
		Redshift: r.Redshift,
		Type:     r.Type,
		Series:   map[string]lightcurve.FilterSeries{},
	}
	for _, o := range r.Observations {
		q := threshold
		if o.Quality != nil {
			q = *o.Quality
		}
		s := rec.Series[o.Filter]
		s.Filter = o.Filter
		s.Observations = append(s.Observations, lightcurve.Observation{Time: o.MJD, Flux: o.Flux, FluxErr: o.FluxErr, Quality: q})
		rec.Series[o.Filter] = s
	}
	return rec
}

// FeaturesResponse is the outcome of a features request.
type FeaturesResponse struct {
	SNID          string                     `json:"snid"`
	Status        pipeline.Status            `json:"status"`
	Stage         pipeline.Stage             `json:"stage"`
	Gate          lightcurve.Gate            `json:"gate,omitempty"`
	Reason        string                     `json:"reason,omitempty"`
	Filter        string                     `json:"filter,omitempty"`
	Error         string                     `json:"error,omitempty"`
	PeakFilter    string                     `json:"peak_filter,omitempty"`
	PeakEpoch     float64                    `json:"peak_epoch,omitempty"`
	Features      *lightcurve.FeatureVector  `json:"features,omitempty"`
	DrawFeatures  []lightcurve.FeatureVector `json:"draw_features,omitempty"`
	DrawsAccepted int                        `json:"draws_accepted,omitempty"`
	DrawsRejected int                        `json:"draws_rejected,omitempty"`
	SamplingError string                     `json:"sampling_error,omitempty"`
}

func newFeaturesResponse(out *pipeline.Outcome) FeaturesResponse {
	resp := FeaturesResponse{
		SNID:          out.ObjectID,
		Status:        out.Status,
		Stage:         out.Stage,
		Gate:          out.Gate,
		Reason:        out.Reason,
		Filter:        out.Filter,
		Features:      out.Features,
		DrawFeatures:  out.DrawFeatures,
		DrawsAccepted: out.DrawsAccepted,
		DrawsRejected: out.DrawsRejected,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if out.SamplingErr != nil {
		resp.SamplingError = out.SamplingErr.Error()
	}
	if out.Fit != nil {
		resp.PeakFilter, resp.PeakEpoch = out.Fit.PeakFilter, out.Fit.PeakEpoch
	}
	return resp
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.Version, "git_sha": version.GitSHA})
}

// postFeatures runs the pipeline on one object. Excluded objects are a
// normal result and return 422 with the gate and reason.
func (s *Server) postFeatures(c echo.Context) error {
	var req FeaturesRequest
	if errs := bindAndValidate(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request", Fields: errs})
	}

	cfg := s.cfg.Clone()
	mode, err := gp.ParseMode(req.Mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	cfg.Mode = mode
	cfg.Draws = req.Draws
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	var opts []pipeline.Option
	if s.cache != nil {
		opts = append(opts, pipeline.WithFitCache(s.cache))
	}
	if s.metrics != nil {
		opts = append(opts, pipeline.WithRecorder(s.metrics))
	}
	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}

	out := p.Process(c.Request().Context(), req.record(cfg.QualityThreshold))
	status := http.StatusOK
	if !out.Included() {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, newFeaturesResponse(&out))
}

func (s *Server) listRuns(c echo.Context) error {
	if s.runs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no run store configured"})
	}
	runs, err := s.runs.Runs(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) storeError(c echo.Context, err error) error {
	if errors.Is(err, db.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func (s *Server) runRows(c echo.Context) error {
	if s.runs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no run store configured"})
	}
	rows, err := s.runs.FeatureRows(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	if rows == nil {
		rows = []db.FeatureRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) runExclusions(c echo.Context) error {
	if s.runs == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no run store configured"})
	}
	exs, err := s.runs.Exclusions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, exs)
}

// objectChart renders an object's cached fits. Query: mode (optimize|mcmc),
// format (html|png).
func (s *Server) objectChart(c echo.Context) error {
	if s.fits == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no fit store configured"})
	}
	mode := s.cfg.Mode
	if m := c.QueryParam("mode"); m != "" {
		var err error
		if mode, err = gp.ParseMode(m); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "png" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "format must be html or png"})
	}

	id := c.Param("id")
	fits, err := s.fits.Fits(c.Request().Context(), id, mode)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	if len(fits) == 0 {
		return c.JSON(http.StatusNotFound, errorBody{Error: "no cached fits for " + id})
	}
	fig, err := plotting.FromFits(id, s.cfg.Filters, fits, s.cfg.Window)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	}

	var buf bytes.Buffer
	if format == "png" {
		if err := plotting.WritePNG(&buf, fig); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
		return c.Blob(http.StatusOK, "image/png", buf.Bytes())
	}
	if err := plotting.WriteHTML(&buf, fig); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
