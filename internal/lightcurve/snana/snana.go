// Package snana reads light curves in the SNANA text format: "KEY: value"
// header lines, a VARLIST naming the observation columns, and one OBS line
// per measurement.
//
//	SNID: 142
//	REDSHIFT_FINAL: 0.3424 +- 0.0010
//	SIM_NON1a: 0
//	VARLIST: MJD FLT FIELD FLUXCAL FLUXCALERR SNR
//	OBS: 56194.145 g NULL 7.600e+00 4.680e+00 1.62
package snana

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
)

// Reader parses SNANA files. The zero value uses the default keys.
type Reader struct {
	// RedshiftKey and TypeKey name the header keys, including the colon.
	RedshiftKey string
	TypeKey     string
}

const (
	DefaultRedshiftKey = "REDSHIFT_FINAL:"
	DefaultTypeKey     = "SIM_NON1a:"
)

// Column names looked up in VARLIST.
const (
	colTime    = "MJD"
	colFilter  = "FLT"
	colFlux    = "FLUXCAL"
	colFluxErr = "FLUXCALERR"
	colQuality = "SNR"
)

func (r Reader) keys() (string, string) {
	z, typ := r.RedshiftKey, r.TypeKey
	if z == "" {
		z = DefaultRedshiftKey
	}
	if typ == "" {
		typ = DefaultTypeKey
	}
	return z, typ
}

// ReadFile parses the file at path.
func (r Reader) ReadFile(path string) (*lightcurve.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := r.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Read parses one light curve from src.
func (r Reader) Read(src io.Reader) (*lightcurve.Record, error) {
	zKey, typeKey := r.keys()
	rec := &lightcurve.Record{Series: map[string]lightcurve.FilterSeries{}}
	var cols map[string]int

	sc := bufio.NewScanner(src)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		key, vals := fields[0], fields[1:]

		switch key {
		case "SNID:":
			if len(vals) == 0 {
				return nil, fmt.Errorf("line %d: SNID has no value", line)
			}
			rec.ObjectID = vals[0]
		case zKey:
			if len(vals) == 0 {
				return nil, fmt.Errorf("line %d: %s has no value", line, zKey)
			}
			z, err := strconv.ParseFloat(vals[0], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: redshift: %w", line, err)
			}
			rec.Redshift = z
		case typeKey:
			if len(vals) > 0 {
				rec.Type = vals[0]
			}
		case "VARLIST:":
			cols = make(map[string]int, len(vals))
			for i, name := range vals {
				cols[name] = i
			}
			for _, need := range []string{colTime, colFilter, colFlux, colFluxErr, colQuality} {
				if _, ok := cols[need]; !ok {
					return nil, fmt.Errorf("line %d: VARLIST lacks %s", line, need)
				}
			}
		case "OBS:":
			if cols == nil {
				return nil, fmt.Errorf("line %d: OBS before VARLIST", line)
			}
			if len(vals) < len(cols) {
				return nil, fmt.Errorf("line %d: OBS has %d columns, VARLIST names %d", line, len(vals), len(cols))
			}
			filter := vals[cols[colFilter]]
			obs, err := parseObservation(vals, cols)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			s := rec.Series[filter]
			s.Filter = filter
			s.Observations = append(s.Observations, obs)
			rec.Series[filter] = s
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if rec.ObjectID == "" {
		return nil, fmt.Errorf("missing SNID header")
	}
	return rec, nil
}

func parseObservation(vals []string, cols map[string]int) (lightcurve.Observation, error) {
	var obs lightcurve.Observation
	for _, c := range []struct {
		name string
		dst  *float64
	}{
		{colTime, &obs.Time},
		{colFlux, &obs.Flux},
		{colFluxErr, &obs.FluxErr},
		{colQuality, &obs.Quality},
	} {
		v, err := strconv.ParseFloat(vals[cols[c.name]], 64)
		if err != nil {
			return obs, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = v
	}
	return obs, nil
}

// ReadList reads a sample list: one light-curve file per line, first
// whitespace-separated field, resolved relative to dir.
func ReadList(path, dir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		name := fields[0]
		if dir != "" && !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		out = append(out, name)
	}
	return out, sc.Err()
}
