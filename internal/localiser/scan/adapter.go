package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/monitoring"
)

// AdapterConfig controls how decoded ranges become rays.
type AdapterConfig struct {
	// RayCount, when positive, is the number of samples every scan must
	// carry. Zero accepts any count and sizes the bearing table per scan.
	RayCount int
	// StartRad is the bearing of the first sample.
	StartRad float64
	// SpanRad is the angle from first to last sample; zero means FullCircle.
	SpanRad float64
	// MinValidRange drops samples below it, in sensor units.
	MinValidRange float64
	// RangeScale converts sensor units to map units; zero means 1.
	RangeScale float64
}

// Stats counts what an Adapter has seen.
type Stats struct {
	Frames    int
	Scans     int
	NotScans  int
	Malformed int
	// DroppedRays counts samples removed by MinValidRange.
	DroppedRays int
}

// Adapter is a Source built from a FrameReader and a Decoder.
type Adapter struct {
	reader  FrameReader
	decoder Decoder
	cfg     AdapterConfig
	closer  io.Closer

	mu       sync.Mutex
	stats    Stats
	bearings map[int][]float64
}

// NewAdapter pairs a reader and decoder.
func NewAdapter(r FrameReader, d Decoder, cfg AdapterConfig) *Adapter {
	if cfg.SpanRad == 0 {
		cfg.SpanRad = FullCircle
	}
	if cfg.RangeScale == 0 {
		cfg.RangeScale = 1
	}
	return &Adapter{
		reader:   r,
		decoder:  d,
		cfg:      cfg,
		bearings: make(map[int][]float64),
	}
}

// Next returns the next valid scan, skipping non-scan records and logging
// and skipping malformed ones. It returns io.EOF at end-of-stream.
func (a *Adapter) Next(ctx context.Context) (Scan, error) {
	for {
		frame, err := a.reader.ReadFrame(ctx)
		if err != nil {
			return Scan{}, err
		}
		a.mu.Lock()
		a.stats.Frames++
		record := a.stats.Frames
		a.mu.Unlock()

		raw, err := a.decoder.Decode(frame)
		if err == nil && a.cfg.RayCount > 0 && len(raw.Ranges) != a.cfg.RayCount {
			err = &ScanParseError{
				Field:  -1,
				Reason: fmt.Sprintf("wrong field count: %d ranges, want %d", len(raw.Ranges), a.cfg.RayCount),
			}
		}

		var perr *ScanParseError
		switch {
		case err == nil:
			return a.build(raw), nil
		case errors.Is(err, ErrNotScan):
			a.count(func(s *Stats) { s.NotScans++ })
		case errors.As(err, &perr):
			perr.Record = record
			a.count(func(s *Stats) { s.Malformed++ })
			monitoring.Warnf("[scan] skipping malformed record: %v", perr)
		default:
			return Scan{}, fmt.Errorf("decode record %d: %w", record, err)
		}
	}
}

func (a *Adapter) build(raw RawScan) Scan {
	bearings := a.bearingTable(len(raw.Ranges))
	rays := make([]Ray, 0, len(raw.Ranges))
	dropped := 0
	for i, r := range raw.Ranges {
		if r < a.cfg.MinValidRange || r == 0 {
			dropped++
			continue
		}
		rays = append(rays, Ray{Range: r * a.cfg.RangeScale, Bearing: bearings[i]})
	}
	a.count(func(s *Stats) {
		s.Scans++
		s.DroppedRays += dropped
	})
	return Scan{
		Source:    raw.Source,
		Timestamp: raw.Timestamp,
		Stamp:     raw.Stamp,
		Rays:      rays,
	}
}

func (a *Adapter) bearingTable(n int) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.bearings[n]; ok {
		return t
	}
	t := BearingTable(n, a.cfg.StartRad, a.cfg.SpanRad)
	a.bearings[n] = t
	return t
}

func (a *Adapter) count(f func(*Stats)) {
	a.mu.Lock()
	f(&a.stats)
	a.mu.Unlock()
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close releases the underlying stream when the adapter owns it.
func (a *Adapter) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// OpenLog opens a ground station log file as a scan Source. The caller must
// Close the returned adapter.
func OpenLog(fsys fsutil.FileSystem, path string, dec LogDecoder, cfg AdapterConfig) (*Adapter, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scan log: %w", err)
	}
	a := NewAdapter(NewLineReader(f), dec, cfg)
	a.closer = f
	return a, nil
}

// OpenPCAP opens a capture file and replays scan datagrams sent to port.
func OpenPCAP(fsys fsutil.FileSystem, path string, port int, dec Decoder, cfg AdapterConfig) (*Adapter, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	r, err := NewPCAPReader(f, port)
	if err != nil {
		f.Close()
		return nil, err
	}
	a := NewAdapter(r, dec, cfg)
	a.closer = f
	return a, nil
}
