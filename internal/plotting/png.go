package plotting

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Panel size in the rendered PNG.
const (
	panelWidth  = 4 * vg.Inch
	panelHeight = 3 * vg.Inch
)

var (
	meanColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	drawColor = color.Gray{Y: 190}
	obsColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	winColor  = color.Gray{Y: 90}
)

// observations satisfies plotter.XYer and plotter.YErrorer.
type observations struct {
	plotter.XYs
	plotter.YErrors
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}

func (fig *Figure) panelPlot(p Panel) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s  %s", fig.ObjectID, p.Filter)
	if p.Filter == fig.PeakFilter {
		pl.Title.Text += " (peak)"
	}
	pl.X.Label.Text = "Days from peak"
	pl.Y.Label.Text = "Normalised flux"

	for _, d := range p.Draws {
		l, err := plotter.NewLine(xys(p.Time, d))
		if err != nil {
			return nil, err
		}
		l.Color = drawColor
		l.Width = vg.Points(0.5)
		pl.Add(l)
	}

	mean, err := plotter.NewLine(xys(p.Time, p.Mean))
	if err != nil {
		return nil, err
	}
	mean.Color = meanColor
	mean.Width = vg.Points(1.5)
	pl.Add(mean)
	pl.Legend.Add("GP mean", mean)

	if len(p.ObsTime) > 0 {
		obs := observations{XYs: xys(p.ObsTime, p.ObsFlux), YErrors: make(plotter.YErrors, len(p.ObsErr))}
		for i, e := range p.ObsErr {
			obs.YErrors[i].Low, obs.YErrors[i].High = e, e
		}
		sc, err := plotter.NewScatter(obs)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = obsColor
		sc.GlyphStyle.Radius = vg.Points(2)
		bars, err := plotter.NewYErrorBars(obs)
		if err != nil {
			return nil, err
		}
		bars.Color = obsColor
		pl.Add(sc, bars)
		pl.Legend.Add("observed", sc)
	}

	// Window edges span the data range so they never stretch the y axis.
	_, _, ymin, ymax := plotter.XYRange(xys(p.Time, p.Mean))
	for _, x := range []float64{fig.Window.Start, fig.Window.End} {
		l, err := plotter.NewLine(plotter.XYs{{X: x, Y: ymin}, {X: x, Y: ymax}})
		if err != nil {
			return nil, err
		}
		l.Color = winColor
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		pl.Add(l)
	}
	pl.Legend.Top = true
	pl.Add(plotter.NewGrid())
	return pl, nil
}

// WritePNG renders the figure as a single row of panels.
func WritePNG(w io.Writer, fig *Figure) error {
	if len(fig.Panels) == 0 {
		return fmt.Errorf("figure %s has no panels", fig.ObjectID)
	}
	row := make([]*plot.Plot, len(fig.Panels))
	for i, p := range fig.Panels {
		pl, err := fig.panelPlot(p)
		if err != nil {
			return fmt.Errorf("panel %s: %w", p.Filter, err)
		}
		row[i] = pl
	}

	img := vgimg.New(panelWidth*vg.Length(len(row)), panelHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: len(row), PadX: vg.Millimeter, PadTop: vg.Millimeter, PadBottom: vg.Millimeter}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for j := range row {
		row[j].Draw(canvases[0][j])
	}

	png := vgimg.PngCanvas{Canvas: img}
	_, err := png.WriteTo(w)
	return err
}

// SavePNG writes the figure to dir/<object id>.png and returns the path.
func SavePNG(dir string, fig *Figure) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, fig.ObjectID+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WritePNG(f, fig); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
