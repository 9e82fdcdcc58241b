package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser"
)

// TrajectoryRecorder keeps every estimate it is handed and renders them as an
// HTML report. It is a pipeline sink and an http.Handler.
type TrajectoryRecorder struct {
	Title string
	// AssetsHost overrides where the echarts scripts are loaded from. Empty
	// uses the go-echarts CDN.
	AssetsHost string

	mu        sync.Mutex
	estimates map[string][]localiser.Estimate
}

// NewTrajectoryRecorder returns an empty recorder.
func NewTrajectoryRecorder(title string) *TrajectoryRecorder {
	return &TrajectoryRecorder{Title: title, estimates: make(map[string][]localiser.Estimate)}
}

// RecordEstimate appends e to its localiser's track.
func (tr *TrajectoryRecorder) RecordEstimate(_ context.Context, e localiser.Estimate) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.estimates == nil {
		tr.estimates = make(map[string][]localiser.Estimate)
	}
	tr.estimates[e.Localiser] = append(tr.estimates[e.Localiser], e)
	return nil
}

// Len returns the number of estimates recorded across all localisers.
func (tr *TrajectoryRecorder) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, es := range tr.estimates {
		n += len(es)
	}
	return n
}

// snapshot copies the recorded tracks with localiser names sorted.
func (tr *TrajectoryRecorder) snapshot() ([]string, map[string][]localiser.Estimate) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	names := make([]string, 0, len(tr.estimates))
	out := make(map[string][]localiser.Estimate, len(tr.estimates))
	for name, es := range tr.estimates {
		names = append(names, name)
		out[name] = append([]localiser.Estimate(nil), es...)
	}
	sort.Strings(names)
	return names, out
}

func (tr *TrajectoryRecorder) init(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Width: "900px", Height: "500px", AssetsHost: tr.AssetsHost}
}

// Render writes the report page: the x/y track, the mean of each pose
// dimension per cycle, the variances and the score.
func (tr *TrajectoryRecorder) Render(w io.Writer) error {
	names, tracks := tr.snapshot()
	title := tr.Title
	if title == "" {
		title = "Localisation trajectory"
	}

	track := charts.NewScatter()
	track.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px", AssetsHost: tr.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("estimates=%d", tr.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", NameLocation: "middle", NameGap: 30}),
	)
	for _, name := range names {
		data := make([]opts.ScatterData, len(tracks[name]))
		for i, e := range tracks[name] {
			data[i] = opts.ScatterData{Value: []interface{}{e.Mean.X, e.Mean.Y, e.Cycle}}
		}
		track.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}

	page := components.NewPage()
	page.SetPageTitle(title)
	if tr.AssetsHost != "" {
		page.SetAssetsHost(tr.AssetsHost)
	}
	page.AddCharts(track)

	dims := []struct {
		label string
		value func(localiser.Estimate) float64
	}{
		{"mean x", func(e localiser.Estimate) float64 { return e.Mean.X }},
		{"mean y", func(e localiser.Estimate) float64 { return e.Mean.Y }},
		{"mean heading", func(e localiser.Estimate) float64 { return e.Mean.Heading }},
		{"mean speed", func(e localiser.Estimate) float64 { return e.Mean.Speed }},
		{"variance x", func(e localiser.Estimate) float64 { return e.Variance.X }},
		{"variance y", func(e localiser.Estimate) float64 { return e.Variance.Y }},
		{"variance heading", func(e localiser.Estimate) float64 { return e.Variance.Heading }},
		{"variance speed", func(e localiser.Estimate) float64 { return e.Variance.Speed }},
		{"score", func(e localiser.Estimate) float64 { return e.Score }},
	}
	cycles := cycleAxis(names, tracks)
	for _, d := range dims {
		page.AddCharts(tr.lineChart(d.label, cycles, names, tracks, d.value))
	}

	return page.Render(w)
}

// cycleAxis returns the sorted union of cycle numbers across all tracks.
func cycleAxis(names []string, tracks map[string][]localiser.Estimate) []int {
	seen := make(map[int]bool)
	var cycles []int
	for _, name := range names {
		for _, e := range tracks[name] {
			if !seen[e.Cycle] {
				seen[e.Cycle] = true
				cycles = append(cycles, e.Cycle)
			}
		}
	}
	sort.Ints(cycles)
	return cycles
}

func (tr *TrajectoryRecorder) lineChart(label string, cycles []int, names []string, tracks map[string][]localiser.Estimate, value func(localiser.Estimate) float64) *charts.Line {
	x := make([]string, len(cycles))
	index := make(map[int]int, len(cycles))
	for i, c := range cycles {
		x[i] = strconv.Itoa(c)
		index[c] = i
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(tr.init(label)),
		charts.WithTitleOpts(opts.Title{Title: label}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "cycle", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x)
	for _, name := range names {
		// Cycles a localiser skipped stay empty so the series lines up with
		// the shared axis.
		data := make([]opts.LineData, len(cycles))
		for i := range data {
			data[i] = opts.LineData{Value: "-"}
		}
		for _, e := range tracks[name] {
			data[index[e.Cycle]] = opts.LineData{Value: value(e)}
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

// WriteHTML renders the report to name on fsys.
func (tr *TrajectoryRecorder) WriteHTML(fsys fsutil.FileSystem, name string) error {
	if err := fsys.MkdirAll(path.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	var buf bytes.Buffer
	if err := tr.Render(&buf); err != nil {
		return fmt.Errorf("render trajectory: %w", err)
	}
	return fsys.WriteFile(name, buf.Bytes(), 0644)
}

// ServeHTTP renders the current report.
func (tr *TrajectoryRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := tr.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
