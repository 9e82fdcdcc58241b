// Package sqlite persists localisation runs and their estimates in a SQLite
// database (modernc.org/sqlite) whose schema is managed by golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoActiveRun is returned by RecordEstimate and FinishRun outside a run.
var ErrNoActiveRun = errors.New("no active run")

// Store is a run and estimate database.
type Store struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock

	mu     sync.Mutex
	active string
}

// Run is one row of the runs table.
type Run struct {
	ID         string
	Localiser  string
	MapPath    string
	ConfigJSON string
	Started    int64 // unix nanos
	Finished   int64 // unix nanos, 0 while running
	Scans      int
}

// RunInfo describes a run being started.
type RunInfo struct {
	Localiser  string
	MapPath    string
	ConfigJSON string
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open estimate database: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	s := &Store{db: db, path: path, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp applies every pending migration.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m.Close would close s.db as well
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version; 0 before any migration.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { log.Printf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// StartRun inserts a run row and makes it the target of RecordEstimate. An
// unfinished previous run is left as is.
func (s *Store) StartRun(ctx context.Context, info RunInfo) (string, error) {
	id := uuid.NewString()
	if info.ConfigJSON == "" {
		info.ConfigJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, localiser, map_path, config_json, started_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		id, info.Localiser, info.MapPath, info.ConfigJSON, s.clock.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	return id, nil
}

// ActiveRun returns the current run id, or "".
func (s *Store) ActiveRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RecordEstimate stores est under the active run. It satisfies the pipeline
// sink contract.
func (s *Store) RecordEstimate(ctx context.Context, est localiser.Estimate) error {
	run := s.ActiveRun()
	if run == "" {
		return ErrNoActiveRun
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimates (
			run_id, localiser, cycle, ts_unix_nanos,
			x, y, heading, speed,
			var_x, var_y, var_heading, var_speed,
			score, rays
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run, est.Localiser, est.Cycle, toUnixNanos(est.Timestamp),
		est.Mean.X, est.Mean.Y, est.Mean.Heading, est.Mean.Speed,
		est.Variance.X, est.Variance.Y, est.Variance.Heading, est.Variance.Speed,
		est.Score, est.Rays,
	)
	if err != nil {
		return fmt.Errorf("insert estimate %s #%d: %w", est.Localiser, est.Cycle, err)
	}
	return nil
}

// FinishRun stamps the active run with its end time and scan count.
func (s *Store) FinishRun(ctx context.Context, scans int) error {
	s.mu.Lock()
	run := s.active
	s.active = ""
	s.mu.Unlock()
	if run == "" {
		return ErrNoActiveRun
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_unix_nanos = ?, scans = ? WHERE run_id = ?`,
		s.clock.Now().UnixNano(), scans, run)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run, err)
	}
	return nil
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, localiser, map_path, config_json, started_unix_nanos,
		       COALESCE(finished_unix_nanos, 0), scans
		FROM runs ORDER BY started_unix_nanos, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Localiser, &r.MapPath, &r.ConfigJSON, &r.Started, &r.Finished, &r.Scans); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListEstimates returns a run's estimates ordered by localiser then cycle.
func (s *Store) ListEstimates(ctx context.Context, runID string) ([]localiser.Estimate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT localiser, cycle, ts_unix_nanos,
		       x, y, heading, speed,
		       var_x, var_y, var_heading, var_speed,
		       score, rays
		FROM estimates WHERE run_id = ?
		ORDER BY localiser, cycle`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []localiser.Estimate
	for rows.Next() {
		var (
			e  localiser.Estimate
			ts int64
		)
		if err := rows.Scan(
			&e.Localiser, &e.Cycle, &ts,
			&e.Mean.X, &e.Mean.Y, &e.Mean.Heading, &e.Mean.Speed,
			&e.Variance.X, &e.Variance.Y, &e.Variance.Heading, &e.Variance.Speed,
			&e.Score, &e.Rays,
		); err != nil {
			return nil, err
		}
		e.Timestamp = unixNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func toUnixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
