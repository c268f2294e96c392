package monitor

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/awimager/internal/awproject"
	"github.com/banshee-data/awimager/internal/monitoring"
	"github.com/banshee-data/awimager/internal/units"
)

var logf = monitoring.Component("Monitor")

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// PATimeline records the parallactic angle of every gridded or degridded
// buffer, with the buffers that triggered kernel rotation or weight
// accumulation. It implements awproject.Observer.
type PATimeline struct {
	mu     sync.Mutex
	title  string
	events []awproject.BufferEvent
	seq    []int // run-wide buffer number per event
	next   int
}

// NewPATimeline returns an empty timeline titled title.
func NewPATimeline(title string) *PATimeline {
	return &PATimeline{title: title}
}

// ObserveBuffer records ev.
func (tl *PATimeline) ObserveBuffer(ev awproject.BufferEvent) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, ev)
	tl.seq = append(tl.seq, tl.next)
	tl.next++
}

// Len returns the number of recorded events.
func (tl *PATimeline) Len() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.events)
}

// Counts returns how many recorded buffers rotated kernels and how many
// accumulated weights.
func (tl *PATimeline) Counts() (rotated, accumulated int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, ev := range tl.events {
		if ev.Rotated {
			rotated++
		}
		if ev.WeightAccumulated {
			accumulated++
		}
	}
	return rotated, accumulated
}

// RenderHTML writes an ECharts page with the PA trace and the rotation and
// weight-accumulation events.
func (tl *PATimeline) RenderHTML(w io.Writer) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	x := make([]int, len(tl.events))
	pa := make([]opts.LineData, len(tl.events))
	var rotations, accumulations []opts.ScatterData
	for i, ev := range tl.events {
		deg := units.RadToDeg(ev.PA)
		x[i] = tl.seq[i]
		pa[i] = opts.LineData{Value: deg, Name: ev.Cycle.String()}
		if ev.Rotated {
			rotations = append(rotations, opts.ScatterData{Value: []interface{}{tl.seq[i], deg}})
		}
		if ev.WeightAccumulated {
			accumulations = append(accumulations, opts.ScatterData{Value: []interface{}{tl.seq[i], deg}})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: tl.title, Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: tl.title, Subtitle: fmt.Sprintf("buffers=%d", len(tl.events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Buffer", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "PA (deg)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("parallactic angle", pa)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Kernel events"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Buffer", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "PA (deg)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("rotation", rotations, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("weight accumulation", accumulations, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line, scatter)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
