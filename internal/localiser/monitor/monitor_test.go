package monitor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/particle"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
	"github.com/amsl/laserloc/internal/testutil"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func smallMap(t *testing.T) *mapstore.LikelihoodMap {
	t.Helper()
	cells := make([]float64, 20*10)
	for i := range cells {
		cells[i] = float64(i % 255)
	}
	m, err := mapstore.New(20, 10, cells, 0.5)
	require.NoError(t, err)
	return m
}

func estimate(name string, cycle int, x, y float64) localiser.Estimate {
	return localiser.Estimate{
		Localiser: name,
		Cycle:     cycle,
		Mean:      localiser.Pose{X: x, Y: y, Heading: 10},
		Variance:  localiser.Variance{X: 1, Y: 2, Heading: 3},
		Score:     100,
		Rays:      2,
	}
}

func TestSnapshotPlotter_WritesEveryN(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	sp := NewSnapshotPlotter(smallMap(t), fsys, "out/plots", 2)

	s := scan.Scan{Rays: []scan.Ray{{Range: 1, Bearing: 0}, {Range: 2, Bearing: 1.5}}}
	for c := 1; c <= 5; c++ {
		sp.Observe(s, []localiser.Estimate{estimate("grid", c, 5, 2)})
	}

	assert.Equal(t, []string{"out/plots/snapshot-000002.png", "out/plots/snapshot-000004.png"}, sp.Written())
	assert.Equal(t, sp.Written(), fsys.Files("out/plots"))
	data, err := fsys.ReadFile("out/plots/snapshot-000004.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngSignature))
}

func TestSnapshotPlotter_Disabled(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	sp := NewSnapshotPlotter(smallMap(t), fsys, "plots", 0)
	for c := 1; c <= 3; c++ {
		sp.Observe(scan.Scan{}, []localiser.Estimate{estimate("grid", c, 1, 1)})
	}
	assert.Empty(t, sp.Written())
	assert.Empty(t, fsys.Files(""))
}

func TestSnapshotPlotter_NoEstimates(t *testing.T) {
	t.Parallel()
	sp := NewSnapshotPlotter(smallMap(t), fsutil.NewMemoryFileSystem(), "", 0)
	var buf bytes.Buffer
	require.NoError(t, sp.WritePNG(&buf, scan.Scan{}, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))
}

func TestSnapshotPlotter_PoolWithParticles(t *testing.T) {
	t.Parallel()
	world := testutil.PoolWorld(t)
	truth := localiser.Pose{X: 60, Y: 150}
	s := world.Scan(truth, 36)

	cfg := particle.DefaultConfig()
	cfg.Particles = 50
	pf, err := particle.New(scoring.MapScorer{Map: world.Map}, truth, cfg)
	require.NoError(t, err)
	est := pf.Step(s)

	sp := NewSnapshotPlotter(world.Map, fsutil.NewMemoryFileSystem(), "", 0)
	sp.Particles = pf
	sp.Observe(s, []localiser.Estimate{est})

	p, err := sp.Plot(s, []localiser.Estimate{est})
	require.NoError(t, err)
	assert.Equal(t, "Cycle 1", p.Title.Text)
	assert.InDelta(t, float64(world.Map.Width())*world.Map.Scale(), p.X.Max, 1e-9)
	assert.InDelta(t, float64(world.Map.Height())*world.Map.Scale(), p.Y.Max, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, sp.WritePNG(&buf, s, []localiser.Estimate{est}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngSignature))
}

func TestMapGrid(t *testing.T) {
	t.Parallel()
	g := mapGrid{smallMap(t)}
	c, r := g.Dims()
	assert.Equal(t, 20, c)
	assert.Equal(t, 10, r)
	assert.InDelta(t, 0.25, g.X(0), 1e-12)
	assert.InDelta(t, 0.75, g.Y(1), 1e-12)
	assert.Equal(t, g.m.ScoreAt(3, 2), g.Z(2, 3))
	assert.Equal(t, 0.0, g.Min())
}

func TestTrajectoryRecorder_Render(t *testing.T) {
	t.Parallel()
	tr := NewTrajectoryRecorder("pool run")
	ctx := context.Background()
	for c := 1; c <= 3; c++ {
		require.NoError(t, tr.RecordEstimate(ctx, estimate("particle", c, float64(c), 2)))
	}
	require.NoError(t, tr.RecordEstimate(ctx, estimate("grid", 2, 4, 4)))
	assert.Equal(t, 4, tr.Len())

	var buf bytes.Buffer
	require.NoError(t, tr.Render(&buf))
	html := buf.String()
	for _, want := range []string{"pool run", "particle", "grid", "mean heading", "variance x", "score"} {
		assert.Contains(t, html, want)
	}
}

func TestTrajectoryRecorder_Empty(t *testing.T) {
	t.Parallel()
	var tr TrajectoryRecorder
	assert.Equal(t, 0, tr.Len())
	var buf bytes.Buffer
	require.NoError(t, tr.Render(&buf))
	assert.Contains(t, buf.String(), "Localisation trajectory")
}

func TestCycleAxis(t *testing.T) {
	t.Parallel()
	tracks := map[string][]localiser.Estimate{
		"a": {estimate("a", 3, 0, 0), estimate("a", 1, 0, 0)},
		"b": {estimate("b", 2, 0, 0), estimate("b", 3, 0, 0)},
	}
	assert.Equal(t, []int{1, 2, 3}, cycleAxis([]string{"a", "b"}, tracks))
}

func TestTrajectoryRecorder_WriteHTML(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	tr := NewTrajectoryRecorder("run")
	require.NoError(t, tr.RecordEstimate(context.Background(), estimate("grid", 1, 1, 1)))
	require.NoError(t, tr.WriteHTML(fsys, "reports/trajectory.html"))

	data, err := fsys.ReadFile("reports/trajectory.html")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<html"))
	assert.True(t, fsys.Exists("reports"))
}

func TestTrajectoryRecorder_ServeHTTP(t *testing.T) {
	t.Parallel()
	tr := NewTrajectoryRecorder("live")
	require.NoError(t, tr.RecordEstimate(context.Background(), estimate("grid", 1, 1, 1)))

	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/trajectory", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "live")
}
