package lightcurve

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSeries_ColumnsSortsByTime(t *testing.T) {
	s := FilterSeries{Filter: "g", Observations: []Observation{
		{Time: 20, Flux: 3, FluxErr: 0.3},
		{Time: 0, Flux: 1, FluxErr: 0.1},
		{Time: 10, Flux: 2, FluxErr: 0.2},
	}}

	times, flux, errs := s.Columns()
	if diff := cmp.Diff([]float64{0, 10, 20}, times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, flux); diff != "" {
		t.Errorf("flux mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.1, 0.2, 0.3}, errs); diff != "" {
		t.Errorf("flux_err mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 20.0, s.Observations[0].Time, "receiver must not be reordered")
}

func TestFilterSeries_DistinctTimes(t *testing.T) {
	s := FilterSeries{Observations: []Observation{{Time: 1}, {Time: 1}, {Time: 2}}}
	assert.Equal(t, 2, s.DistinctTimes())
}

func TestWindow_Bins(t *testing.T) {
	testCases := []struct {
		name    string
		window  Window
		width   float64
		want    []float64
		wantErr bool
	}{
		{"unit_bins", Window{-5, 5}, 1, []float64{-5, -4, -3, -2, -1, 0, 1, 2, 3, 4}, false},
		{"non_dividing", Window{0, 1}, 0.4, []float64{0, 0.4, 0.8}, false},
		{"inverted", Window{5, -5}, 1, nil, true},
		{"zero_width", Window{-5, 5}, 0, nil, true},
		{"too_wide", Window{-1, 1}, 3, nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.window.Bins(tc.width)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.InDelta(t, tc.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestFeatureVector_Segment(t *testing.T) {
	v := &FeatureVector{
		Filters: []string{"g", "r"},
		Bins:    []float64{0, 1},
		Values:  []float64{1, 2, 3, 4},
	}
	assert.Equal(t, []float64{3, 4}, v.Segment("r"))
	assert.Nil(t, v.Segment("z"))
	assert.Equal(t, 4, v.Len())
}

func TestErrorTaxonomy_Unwrap(t *testing.T) {
	cause := errors.New("cholesky failed")
	err := error(&FittingError{Filter: "g", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "filter g")

	var ise *InsufficientSamplesError
	assert.True(t, errors.As(error(&InsufficientSamplesError{Requested: 5, Accepted: 2}), &ise))
}
