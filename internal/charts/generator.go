package charts

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/summary"
)

type Generator struct {
	// Points is roughly how many samples a profile chart draws.
	Points int
}

func NewGenerator() *Generator {
	return &Generator{Points: 60}
}

// ProfileChart draws the target load of a shape over the length of a run.
func (g *Generator) ProfileChart(shape shapes.Shape, p shapes.Params) (string, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s / %s", shape.Script, shape.Name),
			Subtitle: shape.Description,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithYAxisOpts(opts.YAxis{Name: shape.Unit()}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed"}),
		charts.WithInitializationOpts(opts.Initialization{
			Height: "300px",
			Width:  "100%",
		}),
	)

	var step time.Duration
	if g.Points > 0 {
		if total := shape.Duration(p); total > 0 {
			step = total / time.Duration(g.Points)
		}
	}
	points := shape.Profile(p, step)

	xAxis := make([]string, len(points))
	yAxis := make([]opts.LineData, len(points))
	for i, pt := range points {
		xAxis[i] = formatOffset(pt.Offset)
		yAxis[i] = opts.LineData{Value: pt.Target}
	}

	line.SetXAxis(xAxis).
		AddSeries(shape.Unit(), yAxis).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))

	return g.renderToString(line)
}

// LatencyChart compares the request duration percentiles of a finished run.
func (g *Generator) LatencyChart(title string, sum summary.Summary) (string, error) {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithInitializationOpts(opts.Initialization{
			Height: "250px",
			Width:  "100%",
		}),
	)

	d := sum["http_req_duration"]
	labels := []string{"avg", "med", "p90", "p95", "p99", "max"}
	values := []float64{d.Avg, d.Med, d.P90, d.P95, d.P99, d.Max}

	data := make([]opts.BarData, len(values))
	for i, v := range values {
		data[i] = opts.BarData{Value: v}
	}

	bar.SetXAxis(labels).
		AddSeries("http_req_duration", data)

	return g.renderToString(bar)
}

func formatOffset(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if s != 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", h, m)
}

// Renderer is anything that can render itself to an io.Writer.
type Renderer interface {
	Render(w io.Writer) error
}

func (g *Generator) renderToString(c Renderer) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
