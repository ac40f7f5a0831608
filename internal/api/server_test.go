package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/db"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/monitoring"
	"github.com/banshee-data/lightcurve.report/internal/testutil"
)

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Filters = []string{"r"}
	cfg.QualityThreshold = 5
	cfg.Window = lightcurve.Window{Start: -5, End: 5}
	return cfg
}

func peakRequest() FeaturesRequest {
	req := FeaturesRequest{SNID: "SN0001", Type: "Ia", Redshift: 0.12}
	q := 20.0
	for i, mjd := range testutil.PeakTimes {
		req.Observations = append(req.Observations, ObservationRequest{Filter: "r", MJD: mjd, Flux: testutil.PeakFlux[i], FluxErr: 0.01, Quality: &q})
	}
	return req
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	t.Parallel()
	_, err := NewServer(pipeline.DefaultConfig())
	var ce *lightcurve.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := do(t, newTestServer(t), http.MethodGet, "/healthz", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestPostFeaturesIncluded(t *testing.T) {
	t.Parallel()
	metrics := monitoring.NewMetrics()
	s := newTestServer(t, WithMetrics(metrics))

	rec := do(t, s, http.MethodPost, "/api/v1/features", peakRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FeaturesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.StatusIncluded, resp.Status)
	assert.Equal(t, "r", resp.PeakFilter)
	require.NotNil(t, resp.Features)
	require.Len(t, resp.Features.Values, 10)
	assert.InDelta(t, 1.0, resp.Features.Values[5], 1e-9)

	m := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "lightcurve_objects_total")
}

func TestPostFeaturesExcluded(t *testing.T) {
	t.Parallel()
	req := peakRequest()
	req.Observations = req.Observations[:2]

	rec := do(t, newTestServer(t), http.MethodPost, "/api/v1/features", req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp FeaturesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.StatusExcluded, resp.Status)
	assert.Equal(t, lightcurve.GateBasicCuts, resp.Gate)
	assert.Equal(t, lightcurve.ReasonInsufficientEpochs, resp.Reason)
	assert.NotEmpty(t, resp.Error)
}

func TestPostFeaturesValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  func() FeaturesRequest
		field string
	}{
		{"missing snid", func() FeaturesRequest { r := peakRequest(); r.SNID = ""; return r }, "SNID"},
		{"bad mode", func() FeaturesRequest { r := peakRequest(); r.Mode = "grid"; return r }, "Mode"},
		{"no observations", func() FeaturesRequest { r := peakRequest(); r.Observations = nil; return r }, "Observations"},
		{"zero error", func() FeaturesRequest { r := peakRequest(); r.Observations[1].FluxErr = 0; return r }, "FluxErr"},
		{"too many draws", func() FeaturesRequest { r := peakRequest(); r.Draws = 5000; return r }, "Draws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/features", tt.body())
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotEmpty(t, body.Fields)
			assert.True(t, strings.Contains(body.Fields[0].Field, tt.field), body.Fields[0].Field)
		})
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/features", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRuns struct {
	rows []db.FeatureRow
	exs  []batch.Exclusion
}

func (f *fakeRuns) Runs(context.Context) ([]db.RunSummary, error) {
	return []db.RunSummary{{ID: "run-1", Included: len(f.rows), Excluded: len(f.exs)}}, nil
}

func (f *fakeRuns) FeatureRows(_ context.Context, id string) ([]db.FeatureRow, error) {
	if id != "run-1" {
		return nil, db.ErrRunNotFound
	}
	return f.rows, nil
}

func (f *fakeRuns) Exclusions(_ context.Context, id string) ([]batch.Exclusion, error) {
	if id != "run-1" {
		return nil, db.ErrRunNotFound
	}
	return f.exs, nil
}

func TestRunRoutes(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{
		rows: []db.FeatureRow{{RunID: "run-1", SNID: "SN1", Values: []float64{1}}},
		exs:  []batch.Exclusion{{ObjectID: "SN2", Gate: lightcurve.GatePeak, Reason: lightcurve.ReasonNoPeak}},
	}
	s := newTestServer(t, WithRunStore(runs))

	rec := do(t, s, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/run-1/rows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []db.FeatureRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Equal(t, runs.rows, rows)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/run-1/exclusions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exs []batch.Exclusion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exs))
	assert.Equal(t, runs.exs, exs)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/runs/other/rows", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/runs/other/exclusions", nil).Code)

	bare := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, bare, http.MethodGet, "/api/v1/runs", nil).Code)
}

func TestObjectChartFromCachedFits(t *testing.T) {
	t.Parallel()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	cache := db.NewFitCache(database)
	s := newTestServer(t, WithFitCache(cache), WithFitStore(cache))

	rec := do(t, s, http.MethodGet, "/api/v1/objects/SN0001/chart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/features", peakRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/objects/SN0001/chart", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "SN0001 r")

	rec = do(t, s, http.MethodGet, "/api/v1/objects/SN0001/chart?format=png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/objects/SN0001/chart?format=svg", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/objects/SN0001/chart?mode=grid", nil).Code)
}
