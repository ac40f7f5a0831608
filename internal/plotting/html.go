package plotting

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost serves the echarts javascript. Empty uses the library default.
var AssetsHost = ""

func lineData(x, y []float64) []opts.LineData {
	out := make([]opts.LineData, len(x))
	for i := range x {
		out[i] = opts.LineData{Value: []interface{}{x[i], y[i]}}
	}
	return out
}

func scatterData(x, y []float64) []opts.ScatterData {
	out := make([]opts.ScatterData, len(x))
	for i := range x {
		out[i] = opts.ScatterData{Value: []interface{}{x[i], y[i]}}
	}
	return out
}

// WriteHTML renders the figure as one page with a chart per filter: the GP
// mean as a line and the observations as points.
func WriteHTML(w io.Writer, fig *Figure) error {
	if len(fig.Panels) == 0 {
		return fmt.Errorf("figure %s has no panels", fig.ObjectID)
	}
	page := components.NewPage()
	page.PageTitle = "Light curve " + fig.ObjectID
	if AssetsHost != "" {
		page.SetAssetsHost(AssetsHost)
	}

	for _, p := range fig.Panels {
		init := opts.Initialization{PageTitle: page.PageTitle, Width: "900px", Height: "480px"}
		if AssetsHost != "" {
			init.AssetsHost = AssetsHost
		}
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(init),
			charts.WithTitleOpts(opts.Title{Title: fig.ObjectID + " " + p.Filter, Subtitle: fmt.Sprintf("peak filter=%s window=[%g, %g]", fig.PeakFilter, fig.Window.Start, fig.Window.End)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Days from peak", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Normalised flux"}),
		)
		line.AddSeries("GP mean", lineData(p.Time, p.Mean),
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}))
		for i, d := range p.Draws {
			line.AddSeries(fmt.Sprintf("draw %d", i), lineData(p.Time, d),
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: "#bbbbbb", Width: 1}))
		}
		if len(p.ObsTime) > 0 {
			sc := charts.NewScatter()
			sc.AddSeries("observed", scatterData(p.ObsTime, p.ObsFlux),
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
			line.Overlap(sc)
		}
		page.AddCharts(line)
	}
	return page.Render(w)
}
