package sqlite

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "estimates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEstimate(name string, cycle int) localiser.Estimate {
	return localiser.Estimate{
		Localiser: name,
		Cycle:     cycle,
		Timestamp: time.Unix(1700000000, int64(cycle)*1e6),
		Mean:      localiser.Pose{X: 60 + float64(cycle), Y: 150, Heading: -90, Speed: 0.5},
		Variance:  localiser.Variance{X: 1.5, Y: 2.5, Heading: 3.5, Speed: 0.01},
		Score:     1234.5,
		Rays:      360,
	}
}

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// a second migration pass is a no-op
	require.NoError(t, s.MigrateUp())
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "estimates.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.StartRun(context.Background(), RunInfo{Localiser: "grid"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s.clock = clock

	assert.ErrorIs(t, s.RecordEstimate(ctx, sampleEstimate("grid", 0)), ErrNoActiveRun)
	assert.ErrorIs(t, s.FinishRun(ctx, 0), ErrNoActiveRun)

	id, err := s.StartRun(ctx, RunInfo{Localiser: "both", MapPath: "pool.png", ConfigJSON: `{"particles":10}`})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, id, s.ActiveRun())

	var want []localiser.Estimate
	for cycle := 0; cycle < 3; cycle++ {
		for _, name := range []string{"pf", "grid"} {
			e := sampleEstimate(name, cycle)
			require.NoError(t, s.RecordEstimate(ctx, e))
		}
	}
	for _, name := range []string{"grid", "pf"} {
		for cycle := 0; cycle < 3; cycle++ {
			want = append(want, sampleEstimate(name, cycle))
		}
	}

	assert.Error(t, s.RecordEstimate(ctx, sampleEstimate("pf", 1)), "duplicate cycle rejected")

	clock.Set(time.Unix(1700000060, 0))
	require.NoError(t, s.FinishRun(ctx, 3))
	assert.Empty(t, s.ActiveRun())

	got, err := s.ListEstimates(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListEstimates mismatch (-want +got):\n%s", diff)
	}

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, Run{
		ID:         id,
		Localiser:  "both",
		MapPath:    "pool.png",
		ConfigJSON: `{"particles":10}`,
		Started:    time.Unix(1700000000, 0).UnixNano(),
		Finished:   time.Unix(1700000060, 0).UnixNano(),
		Scans:      3,
	}, runs[0])
}

func TestRecordEstimate_ZeroTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.StartRun(ctx, RunInfo{Localiser: "pf"})
	require.NoError(t, err)

	e := sampleEstimate("pf", 0)
	e.Timestamp = time.Time{}
	require.NoError(t, s.RecordEstimate(ctx, e))

	got, err := s.ListEstimates(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.IsZero())
}

func TestRuns_Ordering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	s.clock = clock

	first, err := s.StartRun(ctx, RunInfo{Localiser: "grid"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.StartRun(ctx, RunInfo{Localiser: "pf"})
	require.NoError(t, err)
	assert.Equal(t, second, s.ActiveRun(), "the newest run receives estimates")

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first, runs[0].ID)
	assert.Equal(t, "{}", runs[0].ConfigJSON)
	assert.Zero(t, runs[0].Finished)
	assert.Equal(t, second, runs[1].ID)
}

func TestAdminRoutes_EstimatesCSV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.StartRun(ctx, RunInfo{Localiser: "grid"})
	require.NoError(t, err)
	require.NoError(t, s.RecordEstimate(ctx, sampleEstimate("grid", 0)))
	require.NoError(t, s.RecordEstimate(ctx, sampleEstimate("grid", 1)))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	for _, path := range []string{"/debug/estimates.csv?run=" + id, "/debug/estimates.csv"} {
		rec := get(path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		records, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "localiser", records[0][0])
		assert.Equal(t, []string{"grid", "1"}, records[2][:2])
		assert.Equal(t, "61", records[2][3])
	}

	require.NoError(t, s.FinishRun(ctx, 2))
	assert.Equal(t, http.StatusBadRequest, get("/debug/estimates.csv").Code)
}
