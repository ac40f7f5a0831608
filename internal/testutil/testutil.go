// Package testutil provides shared test fixtures: light curves with a known
// peak, SNANA text for them, and small assertion helpers.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
)

// PeakTimes and PeakFlux describe a single-filter curve that rises to its
// maximum between epochs 10 and 30. With a window of [-5, 5) and quality
// cut 5 it is always included.
var (
	PeakTimes = []float64{0, 10, 20, 30, 40}
	PeakFlux  = []float64{1, 5, 9, 7, 3}
)

// Series builds a filter series with a fixed error of 0.01 and SNR 20.
func Series(filter string, times, flux []float64) lightcurve.FilterSeries {
	s := lightcurve.FilterSeries{Filter: filter}
	for i := range times {
		s.Observations = append(s.Observations, lightcurve.Observation{
			Time: times[i], Flux: flux[i], FluxErr: 0.01, Quality: 20,
		})
	}
	return s
}

// SNANA renders a record in the SNANA text format with the default
// REDSHIFT_FINAL: and SIM_NON1a: keys. Filters are written in lexical order.
func SNANA(rec *lightcurve.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SNID: %s\nREDSHIFT_FINAL: %g +- 0.001\nSIM_NON1a: %s\n", rec.ObjectID, rec.Redshift, rec.Type)
	b.WriteString("VARLIST: MJD FLT FLUXCAL FLUXCALERR SNR\n")
	for _, f := range rec.Filters() {
		for _, o := range rec.Series[f].Observations {
			fmt.Fprintf(&b, "OBS: %g %s %g %g %g\n", o.Time, f, o.Flux, o.FluxErr, o.Quality)
		}
	}
	b.WriteString("END:\n")
	return b.String()
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
