package scan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTag is the record type field that identifies a lidar scan.
const DefaultTag = "LIDAR"

// Frame is one raw record as delivered by a FrameReader.
type Frame struct {
	Data     []byte
	Received time.Time
}

// RawScan is a decoded record before bearings and filtering are applied.
type RawScan struct {
	Source    string
	Timestamp time.Time
	Stamp     string
	Ranges    []float64
}

// Decoder converts a frame into a RawScan. It returns ErrNotScan for records
// that carry something else and *ScanParseError (with Record left zero) for
// malformed scans.
type Decoder interface {
	Decode(f Frame) (RawScan, error)
}

const logTimeLayout = "2006-01-02 15:04:05"

// LogDecoder reads ground station log lines of the form
//
//	2025-11-19 14:54:33,123 [INFO] [gcs] wamv,1732028073.2,LIDAR,120,118,...
//
// Splitting on commas puts the record tag at field 3 and the ranges from
// field 4 onwards.
type LogDecoder struct {
	// Tag selects scan records; empty means DefaultTag.
	Tag string
	// Location interprets log timestamps; nil means time.Local.
	Location *time.Location
}

func (d LogDecoder) Decode(f Frame) (RawScan, error) {
	fields := strings.Split(strings.TrimRight(string(f.Data), "\r\n"), ",")
	if len(fields) <= 4 || strings.TrimSpace(fields[3]) != tagOrDefault(d.Tag) {
		return RawScan{}, ErrNotScan
	}

	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(logTimeLayout, fields[0], loc)
	if err != nil {
		return RawScan{}, &ScanParseError{Field: 0, Reason: "bad log timestamp", Err: err}
	}
	// fields[1] is "mmm [LEVEL] [module] <source>".
	head := strings.Fields(fields[1])
	if len(head) == 0 {
		return RawScan{}, &ScanParseError{Field: 1, Reason: "missing log header"}
	}
	ms, err := strconv.Atoi(head[0])
	if err != nil || ms < 0 || ms > 999 {
		return RawScan{}, &ScanParseError{Field: 1, Reason: fmt.Sprintf("bad milliseconds %q", head[0])}
	}

	ranges, err := parseRanges(fields[4:], 4)
	if err != nil {
		return RawScan{}, err
	}
	source := ""
	if len(head) > 1 {
		source = head[len(head)-1]
	}
	return RawScan{
		Source:    source,
		Timestamp: ts.Add(time.Duration(ms) * time.Millisecond),
		Stamp:     strings.TrimSpace(fields[2]),
		Ranges:    ranges,
	}, nil
}

// DatagramDecoder reads the bare telemetry text the vehicle sends over UDP,
// which is what the ground station later writes to its log:
//
//	wamv,1732028073.2,LIDAR,120,118,...
//
// The receive time stands in for the timestamp.
type DatagramDecoder struct {
	Tag string
}

func (d DatagramDecoder) Decode(f Frame) (RawScan, error) {
	fields := strings.Split(strings.TrimSpace(string(f.Data)), ",")
	if len(fields) <= 3 || strings.TrimSpace(fields[2]) != tagOrDefault(d.Tag) {
		return RawScan{}, ErrNotScan
	}
	ranges, err := parseRanges(fields[3:], 3)
	if err != nil {
		return RawScan{}, err
	}
	return RawScan{
		Source:    strings.TrimSpace(fields[0]),
		Timestamp: f.Received,
		Stamp:     strings.TrimSpace(fields[1]),
		Ranges:    ranges,
	}, nil
}

// SiK packet layout: a 15 byte ASCII timestamp, one byte per range sample,
// then the 0xFF terminator.
const (
	SiKStampLen   = 15
	SiKTerminator = 0xFF
)

// SiKDecoder reads binary scan packets relayed by the SiK telemetry radio.
type SiKDecoder struct {
	// Source names the link in emitted scans.
	Source string
}

func (d SiKDecoder) Decode(f Frame) (RawScan, error) {
	data := f.Data
	if n := len(data); n > 0 && data[n-1] == SiKTerminator {
		data = data[:n-1]
	}
	if len(data) <= SiKStampLen {
		return RawScan{}, ErrNotScan
	}
	ranges := make([]float64, len(data)-SiKStampLen)
	for i, b := range data[SiKStampLen:] {
		if b == SiKTerminator {
			return RawScan{}, &ScanParseError{Field: SiKStampLen + i, Reason: "terminator inside packet body"}
		}
		ranges[i] = float64(b)
	}
	return RawScan{
		Source:    d.Source,
		Timestamp: f.Received,
		Stamp:     strings.TrimSpace(string(data[:SiKStampLen])),
		Ranges:    ranges,
	}, nil
}

func tagOrDefault(tag string) string {
	if tag == "" {
		return DefaultTag
	}
	return tag
}

// parseRanges converts textual samples; base is the field index of the first
// sample for error reporting.
func parseRanges(fields []string, base int) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ScanParseError{Field: base + i, Reason: fmt.Sprintf("non-numeric range %q", f)}
		}
		if v < 0 {
			return nil, &ScanParseError{Field: base + i, Reason: fmt.Sprintf("negative range %v", v)}
		}
		out[i] = v
	}
	return out, nil
}
