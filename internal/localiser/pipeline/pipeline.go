// Package pipeline drives scans from a source through one or more
// localisers and hands every estimate to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/monitoring"
	"github.com/amsl/laserloc/internal/timeutil"
)

// Localiser consumes one scan per cycle and reports its estimate.
// Implementations are single threaded; the Runner never calls Step on the
// same localiser concurrently.
type Localiser interface {
	Name() string
	Step(s scan.Scan) localiser.Estimate
}

// Sink receives estimates in cycle order.
type Sink interface {
	RecordEstimate(ctx context.Context, e localiser.Estimate) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e localiser.Estimate) error

func (f SinkFunc) RecordEstimate(ctx context.Context, e localiser.Estimate) error { return f(ctx, e) }

// Observer sees each scan together with the estimates produced from it.
type Observer interface {
	Observe(s scan.Scan, estimates []localiser.Estimate)
}

// LogSink writes one line per estimate through monitoring.Logf.
type LogSink struct{}

func (LogSink) RecordEstimate(_ context.Context, e localiser.Estimate) error {
	monitoring.Logf("[pipeline] %s", e)
	return nil
}

// Summary reports what a run did.
type Summary struct {
	Scans      int
	Estimates  int
	SlowCycles int
	SinkErrors int
	Elapsed    time.Duration
}

// Runner wires a Source to localisers and sinks.
type Runner struct {
	Source     scan.Source
	Localisers []Localiser
	Sinks      []Sink
	Observers  []Observer

	// Budget, when positive, is the time one cycle may take before a warning
	// is logged.
	Budget time.Duration
	// MaxScans, when positive, stops the run after that many scans.
	MaxScans int
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Run processes scans until the source reports io.EOF, MaxScans is reached
// or ctx is done. End-of-stream is a normal return; cancellation returns
// ctx.Err().
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.Source == nil {
		return Summary{}, errors.New("pipeline: no scan source")
	}
	if len(r.Localisers) == 0 {
		return Summary{}, errors.New("pipeline: no localisers")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var sum Summary
	start := clock.Now()

	for r.MaxScans <= 0 || sum.Scans < r.MaxScans {
		s, err := r.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			monitoring.Logf("[pipeline] end of scan stream after %d scans", sum.Scans)
			sum.Elapsed = clock.Since(start)
			return sum, nil
		}
		if err != nil {
			sum.Elapsed = clock.Since(start)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			return sum, fmt.Errorf("read scan: %w", err)
		}

		cycleStart := clock.Now()
		sum.Scans++
		ests := r.step(s)
		for _, e := range ests {
			sum.Estimates++
			for _, sink := range r.Sinks {
				if err := sink.RecordEstimate(ctx, e); err != nil {
					sum.SinkErrors++
					monitoring.Warnf("[pipeline] sink failed for %s cycle %d: %v", e.Localiser, e.Cycle, err)
				}
			}
		}
		for _, o := range r.Observers {
			o.Observe(s, ests)
		}

		if d := clock.Since(cycleStart); r.Budget > 0 && d > r.Budget {
			sum.SlowCycles++
			monitoring.Warnf("[pipeline] scan %d took %v, over the %v cycle budget", sum.Scans, d, r.Budget)
		}
	}
	sum.Elapsed = clock.Since(start)
	return sum, nil
}

// step runs every localiser on s. With more than one localiser they run in
// parallel; the map and scan are shared read-only.
func (r *Runner) step(s scan.Scan) []localiser.Estimate {
	ests := make([]localiser.Estimate, len(r.Localisers))
	if len(r.Localisers) == 1 {
		ests[0] = r.Localisers[0].Step(s)
		return ests
	}
	var wg sync.WaitGroup
	for i, l := range r.Localisers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ests[i] = l.Step(s)
		}()
	}
	wg.Wait()
	return ests
}
