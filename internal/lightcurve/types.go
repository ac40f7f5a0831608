package lightcurve

import (
	"fmt"
	"math"
	"sort"
)

// Observation is one photometric measurement in one filter.
type Observation struct {
	Time    float64 `json:"mjd"`
	Flux    float64 `json:"flux"`
	FluxErr float64 `json:"flux_err"`
	Quality float64 `json:"quality"` // SNR for SNANA inputs
}

// FilterSeries holds every observation of one object in one filter.
type FilterSeries struct {
	Filter       string        `json:"filter"`
	Observations []Observation `json:"observations"`
}

// Len returns the number of observations.
func (s FilterSeries) Len() int { return len(s.Observations) }

// Columns splits the series into time, flux and flux-error slices, ordered
// by time. The receiver is not modified.
func (s FilterSeries) Columns() (times, flux, fluxErr []float64) {
	obs := make([]Observation, len(s.Observations))
	copy(obs, s.Observations)
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Time < obs[j].Time })

	times = make([]float64, len(obs))
	flux = make([]float64, len(obs))
	fluxErr = make([]float64, len(obs))
	for i, o := range obs {
		times[i] = o.Time
		flux[i] = o.Flux
		fluxErr[i] = o.FluxErr
	}
	return times, flux, fluxErr
}

// DistinctTimes counts observations with unique epochs.
func (s FilterSeries) DistinctTimes() int {
	seen := make(map[float64]struct{}, len(s.Observations))
	for _, o := range s.Observations {
		seen[o.Time] = struct{}{}
	}
	return len(seen)
}

// AboveQuality returns the subset whose quality meets or exceeds threshold.
func (s FilterSeries) AboveQuality(threshold float64) FilterSeries {
	out := FilterSeries{Filter: s.Filter}
	for _, o := range s.Observations {
		if o.Quality >= threshold {
			out.Observations = append(out.Observations, o)
		}
	}
	return out
}

// Record is the ingested light curve of a single object. It is created once
// by a reader and treated as read-only by every pipeline stage.
type Record struct {
	ObjectID string                  `json:"snid" validate:"required"`
	Redshift float64                 `json:"redshift"`
	Type     string                  `json:"type"`
	Series   map[string]FilterSeries `json:"series" validate:"required,min=1"`
}

// Filter returns the series for one filter and whether it exists.
func (r *Record) Filter(name string) (FilterSeries, bool) {
	if r == nil || r.Series == nil {
		return FilterSeries{}, false
	}
	s, ok := r.Series[name]
	return s, ok
}

// Filters returns the record's filter names in lexical order.
func (r *Record) Filters() []string {
	names := make([]string, 0, len(r.Series))
	for name := range r.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Window is the peak-relative epoch range used for coverage checks and
// resampling. Resampling covers [Start, End).
type Window struct {
	Start float64 `json:"start" koanf:"start" yaml:"start"`
	End   float64 `json:"end" koanf:"end" yaml:"end"`
}

// Validate reports a ConfigurationError for an empty or inverted window.
func (w Window) Validate() error {
	if math.IsNaN(w.Start) || math.IsNaN(w.End) {
		return &ConfigurationError{Field: "epoch_cut", Problem: "window bounds must be numbers"}
	}
	if w.Start >= w.End {
		return &ConfigurationError{Field: "epoch_cut", Problem: fmt.Sprintf("start %g must be before end %g", w.Start, w.End)}
	}
	return nil
}

// Bins builds the uniform bin grid over [Start, End) at binWidth spacing.
func (w Window) Bins(binWidth float64) ([]float64, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !(binWidth > 0) {
		return nil, &ConfigurationError{Field: "epoch_bin", Problem: fmt.Sprintf("bin width must be positive, got %g", binWidth)}
	}
	if binWidth > w.End-w.Start {
		return nil, &ConfigurationError{Field: "epoch_bin", Problem: fmt.Sprintf("bin width %g exceeds window length %g", binWidth, w.End-w.Start)}
	}
	// Tolerance keeps e.g. (5-(-5))/1 from producing an extra bin at End.
	n := int(math.Ceil((w.End-w.Start)/binWidth - 1e-9))
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = w.Start + float64(i)*binWidth
	}
	return bins, nil
}

// FeatureVector is the fixed-length, peak-aligned representation of one
// object: per-filter interpolated normalised flux over the bin grid,
// concatenated in the declared filter order.
type FeatureVector struct {
	ObjectID string    `json:"snid"`
	Filters  []string  `json:"filters"`
	Bins     []float64 `json:"bins"`
	Values   []float64 `json:"values"`
}

// Segment returns the values for one filter, or nil if the filter is absent.
func (v *FeatureVector) Segment(filter string) []float64 {
	n := len(v.Bins)
	for i, f := range v.Filters {
		if f == filter {
			return v.Values[i*n : (i+1)*n]
		}
	}
	return nil
}

// Len returns the total number of feature values.
func (v *FeatureVector) Len() int { return len(v.Values) }
