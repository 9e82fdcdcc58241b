// Package monitor renders localisation runs for people: PNG snapshots of the
// map, scan and particle cloud (gonum/plot), and an interactive HTML
// trajectory report (go-echarts).
package monitor

import (
	"fmt"
	"image/color"
	"io"
	"path"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/particle"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
	"github.com/amsl/laserloc/internal/monitoring"
)

// ParticleSource exposes a particle population for drawing.
type ParticleSource interface {
	State() particle.ParticleFilterState
}

// Snapshot size in points.
const (
	snapshotWidth  = 6 * vg.Inch
	snapshotHeight = 8 * vg.Inch
)

// mapGrid adapts a LikelihoodMap to plotter.GridXYZ with cell centres in map
// units.
type mapGrid struct {
	m *mapstore.LikelihoodMap
}

func (g mapGrid) Dims() (c, r int)   { return g.m.Width(), g.m.Height() }
func (g mapGrid) Z(c, r int) float64 { return g.m.ScoreAt(r, c) }
func (g mapGrid) X(c int) float64    { return (float64(c) + 0.5) * g.m.Scale() }
func (g mapGrid) Y(r int) float64    { return (float64(r) + 0.5) * g.m.Scale() }
func (g mapGrid) Min() float64       { return 0 }
func (g mapGrid) Max() float64       { return max(g.m.Max(), 1) }

// SnapshotPlotter draws the map with the current scan, particles and the
// estimate track. As a pipeline observer it writes a PNG every Every cycles.
type SnapshotPlotter struct {
	Map       *mapstore.LikelihoodMap
	Particles ParticleSource // optional
	FS        fsutil.FileSystem
	Dir       string
	Every     int // 0 disables automatic snapshots

	mu      sync.Mutex
	tracks  map[string]plotter.XYs
	cycles  int
	written []string
}

// NewSnapshotPlotter writes snapshots of m into dir on fsys every n cycles.
func NewSnapshotPlotter(m *mapstore.LikelihoodMap, fsys fsutil.FileSystem, dir string, every int) *SnapshotPlotter {
	return &SnapshotPlotter{Map: m, FS: fsys, Dir: dir, Every: every}
}

// Observe records the cycle's estimates and, on every Every-th cycle, writes
// a snapshot. Write failures are logged; the run continues.
func (sp *SnapshotPlotter) Observe(s scan.Scan, ests []localiser.Estimate) {
	sp.mu.Lock()
	if sp.tracks == nil {
		sp.tracks = make(map[string]plotter.XYs)
	}
	for _, e := range ests {
		sp.tracks[e.Localiser] = append(sp.tracks[e.Localiser], plotter.XY{X: e.Mean.X, Y: e.Mean.Y})
	}
	sp.cycles++
	due := sp.Every > 0 && sp.cycles%sp.Every == 0
	cycle := sp.cycles
	sp.mu.Unlock()

	if !due {
		return
	}
	name := path.Join(sp.Dir, fmt.Sprintf("snapshot-%06d.png", cycle))
	if err := sp.WriteFile(name, s, ests); err != nil {
		monitoring.Warnf("[monitor] snapshot %s: %v", name, err)
	}
}

// Written lists the snapshot files written so far.
func (sp *SnapshotPlotter) Written() []string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]string(nil), sp.written...)
}

// WriteFile renders a snapshot to name on the plotter's filesystem.
func (sp *SnapshotPlotter) WriteFile(name string, s scan.Scan, ests []localiser.Estimate) error {
	if err := sp.FS.MkdirAll(path.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := sp.FS.Create(name)
	if err != nil {
		return err
	}
	if err := sp.WritePNG(f, s, ests); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	sp.mu.Lock()
	sp.written = append(sp.written, name)
	sp.mu.Unlock()
	return nil
}

// WritePNG renders a snapshot as PNG to w.
func (sp *SnapshotPlotter) WritePNG(w io.Writer, s scan.Scan, ests []localiser.Estimate) error {
	p, err := sp.Plot(s, ests)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(snapshotWidth, snapshotHeight, "png")
	if err != nil {
		return fmt.Errorf("render snapshot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Plot builds the snapshot plot. The scan is drawn at the first estimate's
// mean pose.
func (sp *SnapshotPlotter) Plot(s scan.Scan, ests []localiser.Estimate) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Localisation"
	if len(ests) > 0 {
		p.Title.Text = fmt.Sprintf("Cycle %d", ests[0].Cycle)
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	heat := plotter.NewHeatMap(mapGrid{sp.Map}, palette.Heat(32, 1))
	heat.Rasterized = true
	p.Add(heat)

	if sp.Particles != nil {
		state := sp.Particles.State()
		pts := make(plotter.XYs, len(state.Particles))
		for i, pt := range state.Particles {
			pts[i] = plotter.XY{X: pt.Pose.X, Y: pt.Pose.Y}
		}
		if len(pts) > 0 {
			cloud, err := plotter.NewScatter(pts)
			if err != nil {
				return nil, err
			}
			cloud.GlyphStyle.Color = color.RGBA{R: 80, G: 160, B: 255, A: 160}
			cloud.GlyphStyle.Radius = vg.Points(1)
			p.Add(cloud)
			p.Legend.Add("particles", cloud)
		}
	}

	sp.mu.Lock()
	names := make([]string, 0, len(sp.tracks))
	for name := range sp.tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	tracks := make([]plotter.XYs, len(names))
	for i, name := range names {
		tracks[i] = append(plotter.XYs(nil), sp.tracks[name]...)
	}
	sp.mu.Unlock()

	trackColors := []color.Color{
		color.RGBA{R: 0, G: 200, B: 0, A: 255},
		color.RGBA{R: 200, G: 0, B: 200, A: 255},
		color.RGBA{R: 0, G: 200, B: 200, A: 255},
	}
	for i, pts := range tracks {
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = trackColors[i%len(trackColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(names[i], line)
	}

	if len(ests) > 0 && len(s.Rays) > 0 {
		hits := scoring.Project(ests[0].Mean, s)
		pts := make(plotter.XYs, len(hits))
		for i, h := range hits {
			pts[i] = plotter.XY{X: h.X, Y: h.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("scan", sc)
	}

	p.X.Min, p.X.Max = 0, float64(sp.Map.Width())*sp.Map.Scale()
	p.Y.Min, p.Y.Max = 0, float64(sp.Map.Height())*sp.Map.Scale()
	return p, nil
}
