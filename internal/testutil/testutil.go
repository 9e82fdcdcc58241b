// Package testutil provides shared test utilities and fixtures.
//
// Besides the small assertion helpers it builds synthetic worlds: a polygon
// outline, the likelihood map rendered from it and range scans ray-cast from
// a known pose, so localisers can be checked against ground truth.
package testutil

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/monitoring"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// LogRecorder collects diagnostic log lines.
type LogRecorder struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns the recorded lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *LogRecorder) logf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

// CaptureLogs redirects monitoring.Logf into a recorder until the test ends.
// Tests using it must not run in parallel with others that log.
func CaptureLogs(t *testing.T) *LogRecorder {
	t.Helper()
	rec := &LogRecorder{}
	prev := monitoring.Logf
	monitoring.SetLogger(rec.logf)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return rec
}

// World is a synthetic environment: wall geometry plus its likelihood map.
type World struct {
	Polygon mapstore.Polygon
	Offset  mapstore.Point
	Map     *mapstore.LikelihoodMap
}

var (
	poolOnce  sync.Once
	poolWorld World
	poolErr   error
)

// PoolWorld returns the survival pool world. The map is built once per test
// binary and shared read-only.
func PoolWorld(t *testing.T) World {
	t.Helper()
	poolOnce.Do(func() {
		var m *mapstore.LikelihoodMap
		m, poolErr = mapstore.BuildSurvivalPoolMap()
		poolWorld = World{Polygon: mapstore.SurvivalPool(), Offset: mapstore.PoolOffset, Map: m}
	})
	if poolErr != nil {
		t.Fatalf("build pool map: %v", poolErr)
	}
	return poolWorld
}

// Scan ray-casts count evenly spaced rays over a full turn from pose against
// the world's walls. Rays that hit nothing are omitted.
func (w World) Scan(pose localiser.Pose, count int) scan.Scan {
	var s scan.Scan
	for _, b := range scan.BearingTable(count, 0, scan.FullCircle) {
		if r, ok := w.Cast(pose, b); ok {
			s.Rays = append(s.Rays, scan.Ray{Range: r, Bearing: b})
		}
	}
	return s
}

// Cast returns the distance from pose to the nearest wall along bearing
// (radians, relative to the pose heading). Walls run through cell centres.
func (w World) Cast(pose localiser.Pose, bearing float64) (float64, bool) {
	a := pose.HeadingRadians() + bearing
	dx, dy := math.Cos(a), math.Sin(a)
	best := math.Inf(1)
	n := len(w.Polygon)
	for i := range w.Polygon {
		p := w.Polygon[i]
		q := w.Polygon[(i+1)%n]
		ax := float64(p.X+w.Offset.X) + 0.5
		ay := float64(p.Y+w.Offset.Y) + 0.5
		bx := float64(q.X+w.Offset.X) + 0.5
		by := float64(q.Y+w.Offset.Y) + 0.5
		if d, ok := raySegment(pose.X, pose.Y, dx, dy, ax, ay, bx, by); ok && d < best {
			best = d
		}
	}
	return best, !math.IsInf(best, 1)
}

// raySegment intersects the ray o+t·d (t > 0) with segment a-b.
func raySegment(ox, oy, dx, dy, ax, ay, bx, by float64) (float64, bool) {
	ex, ey := bx-ax, by-ay
	den := dx*ey - dy*ex
	if math.Abs(den) < 1e-12 {
		return 0, false
	}
	wx, wy := ax-ox, ay-oy
	t := (wx*ey - wy*ex) / den
	u := (wx*dy - wy*dx) / den
	if t <= 0 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}
