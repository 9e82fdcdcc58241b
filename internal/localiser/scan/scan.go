// Package scan turns raw sensor records into bearing-tagged range scans.
//
// Records arrive through a FrameReader (log file lines, SiK radio packets,
// UDP datagrams, pcap captures or a serial mux subscription), are decoded
// into raw range arrays by a Decoder, and are paired with a bearing table by
// the Adapter. The Adapter drops near-zero ranges, skips records that are not
// scans and logs then skips malformed ones, so the localisers only ever see
// valid rays.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Ray is one range sample. Range is in map units; Bearing is radians relative
// to the vehicle heading.
type Ray struct {
	Range   float64
	Bearing float64
}

// Scan is a single sweep of valid rays.
type Scan struct {
	Source    string
	Timestamp time.Time
	// Stamp is the sensor-side stamp field carried verbatim.
	Stamp string
	Rays  []Ray
}

// Source yields scans in order. Next returns io.EOF at end-of-stream.
type Source interface {
	Next(ctx context.Context) (Scan, error)
}

// ErrNotScan marks a record that is well formed but carries no scan, such as
// a log line from another subsystem.
var ErrNotScan = errors.New("record is not a scan")

// ScanParseError reports a record that claims to be a scan but cannot be
// decoded.
type ScanParseError struct {
	// Record is the 1-based index of the frame in its stream.
	Record int
	// Field is the offending field index, or -1 when not field specific.
	Field  int
	Reason string
	Err    error
}

func (e *ScanParseError) Error() string {
	msg := fmt.Sprintf("scan record %d", e.Record)
	if e.Field >= 0 {
		msg += fmt.Sprintf(" field %d", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScanParseError) Unwrap() error { return e.Err }

// BearingTable returns count bearings evenly spaced from startRad to
// startRad+spanRad, both ends included. A count of one yields [startRad].
func BearingTable(count int, startRad, spanRad float64) []float64 {
	if count <= 0 {
		return nil
	}
	out := make([]float64, count)
	if count == 1 {
		out[0] = startRad
		return out
	}
	step := spanRad / float64(count-1)
	for i := range out {
		out[i] = startRad + float64(i)*step
	}
	out[count-1] = startRad + spanRad
	return out
}

// FullCircle is the span of a 360 degree sweep.
const FullCircle = 2 * math.Pi

// SliceSource replays a fixed list of scans.
type SliceSource struct {
	scans []Scan
	next  int
}

// NewSliceSource returns a Source over scans.
func NewSliceSource(scans ...Scan) *SliceSource {
	return &SliceSource{scans: scans}
}

func (s *SliceSource) Next(ctx context.Context) (Scan, error) {
	if err := ctx.Err(); err != nil {
		return Scan{}, err
	}
	if s.next >= len(s.scans) {
		return Scan{}, io.EOF
	}
	sc := s.scans[s.next]
	s.next++
	return sc, nil
}
