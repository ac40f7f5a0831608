package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/testutil"
)

// writeFixture creates a config file, two light curves and a sample list.
func writeFixture(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfg := fmt.Sprintf(`filters: [r]
quality_cut: 5
epoch_cut: {start: -5, end: 5}
epoch_bin: 1
data:
  dir: %[1]s
  snlist: %[1]s/list.txt
  matrix_out: %[1]s/matrix.dat
batch:
  workers: 2
  cross_val_trials: 3
  pca_components: [1, 2]
  positive_type: "0"
storage:
  path: %[1]s/lc.db
log:
  level: error
  output: %[1]s/lcfeatures.log
`, dir)
	cfgPath = testutil.WriteFile(t, dir, "lc.yaml", cfg)

	good := &lightcurve.Record{ObjectID: "1", Redshift: 0.12, Type: "0", Series: map[string]lightcurve.FilterSeries{
		"r": testutil.Series("r", testutil.PeakTimes, testutil.PeakFlux),
	}}
	sparse := &lightcurve.Record{ObjectID: "2", Redshift: 0.3, Type: "22", Series: map[string]lightcurve.FilterSeries{
		"r": testutil.Series("r", testutil.PeakTimes[:2], testutil.PeakFlux[:2]),
	}}
	testutil.WriteFile(t, dir, "SN1.DAT", testutil.SNANA(good))
	testutil.WriteFile(t, dir, "SN2.DAT", testutil.SNANA(sparse))
	testutil.WriteFile(t, dir, "list.txt", "SN1.DAT\nSN2.DAT\n")
	return dir, cfgPath
}

func runCmd(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := runCmd()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: lcfeatures")

	code, _, stderr = runCmd("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, stdout, _ := runCmd("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "crossval")

	code, stdout, _ = runCmd("version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "lcfeatures dev"))
}

func TestFitCommand(t *testing.T) {
	dir, cfgPath := writeFixture(t)
	plots := filepath.Join(dir, "plots")
	html := filepath.Join(dir, "SN1.html")

	code, stdout, stderr := runCmd("fit", "--config", cfgPath, "--plot-dir", plots, "--html", html, filepath.Join(dir, "SN1.DAT"))
	require.Equal(t, 0, code, stderr)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "included", summary["status"])
	assert.FileExists(t, filepath.Join(plots, "1.png"))
	assert.FileExists(t, html)

	code, stdout, _ = runCmd("fit", "--config", cfgPath, filepath.Join(dir, "SN2.DAT"))
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"reason": "insufficient epochs"`)

	code, _, _ = runCmd("fit", "--config", cfgPath)
	assert.Equal(t, 1, code)
}

func TestBuildAndCrossValCommands(t *testing.T) {
	dir, cfgPath := writeFixture(t)

	code, stdout, stderr := runCmd("build", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1 included, 1 excluded")
	data, err := os.ReadFile(filepath.Join(dir, "matrix.dat"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "SNID"))

	code, stdout, _ = runCmd("migrate", "--config", cfgPath, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Current version: 2")

	// A single-row matrix cannot be split, so every trial fails.
	code, _, stderr = runCmd("crossval", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "cross validation")
}

func TestCrossValCommand(t *testing.T) {
	dir, cfgPath := writeFixture(t)
	var sb strings.Builder
	sb.WriteString("SNID    type    z    LC\n")
	for i := 0; i < 10; i++ {
		d := float64(i) * 0.01
		fmt.Fprintf(&sb, "a%d    0    0.1    %g    %g    0.9    0.1\n", i, 1+d, 1-d)
		fmt.Fprintf(&sb, "b%d    22    0.2    %g    %g    0.1    0.9\n", i, -1-d, -1+d)
	}
	matrix := testutil.WriteFile(t, dir, "clusters.dat", sb.String())

	code, stdout, stderr := runCmd("crossval", "--config", cfgPath, "--matrix", matrix)
	require.Equal(t, 0, code, stderr)
	var out struct {
		Best struct {
			Score float64 `json:"score"`
		} `json:"best"`
		Trials int `json:"trials"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 3, out.Trials)
	assert.Equal(t, 1.0, out.Best.Score)
}
