package sqlite

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts tailsql at /debug/tailsql/ and a per-run CSV
// export at /debug/estimates.csv?run=<id>.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Estimate DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("estimates.csv", "Download the estimates of a run as CSV", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		run := r.URL.Query().Get("run")
		if run == "" {
			run = s.ActiveRun()
		}
		if run == "" {
			http.Error(w, "missing run parameter", http.StatusBadRequest)
			return
		}
		ests, err := s.ListEstimates(r.Context(), run)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list estimates: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=estimates-%s.csv", run))

		cw := csv.NewWriter(w)
		cw.Write([]string{"localiser", "cycle", "ts_unix_nanos", "x", "y", "heading", "speed",
			"var_x", "var_y", "var_heading", "var_speed", "score", "rays"})
		f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
		for _, e := range ests {
			cw.Write([]string{
				e.Localiser, strconv.Itoa(e.Cycle), strconv.FormatInt(toUnixNanos(e.Timestamp), 10),
				f(e.Mean.X), f(e.Mean.Y), f(e.Mean.Heading), f(e.Mean.Speed),
				f(e.Variance.X), f(e.Variance.Y), f(e.Variance.Heading), f(e.Variance.Speed),
				f(e.Score), strconv.Itoa(e.Rays),
			})
		}
		cw.Flush()
	}))
	return nil
}
