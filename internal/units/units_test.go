package units

import (
	"math"
	"testing"
)

func TestConvertRange(t *testing.T) {
	tests := []struct {
		name     string
		v        float64
		from, to string
		expected float64
	}{
		{"cm to m", 250, Centimetre, Metre, 2.5},
		{"dm to m", 37, Decimetre, Metre, 3.7},
		{"mm to cm", 1234, Millimetre, Centimetre, 123.4},
		{"m to dm", 1.5, Metre, Decimetre, 15},
		{"raw is metres", 4, Raw, Metre, 4},
		{"same unit", 9, Centimetre, Centimetre, 9},
		{"unknown unit left alone", 9, "furlong", Metre, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertRange(tt.v, tt.from, tt.to)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertRange(%f, %s, %s) = %f, want %f", tt.v, tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{Raw, true},
		{Millimetre, true},
		{Centimetre, true},
		{Decimetre, true},
		{Metre, true},
		{"", false},
		{"M", false},
		{"inch", false},
	}

	for _, tt := range tests {
		if got := IsValid(tt.unit); got != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got, want := GetValidUnitsString(), "raw, mm, cm, dm, m"; got != want {
		t.Errorf("GetValidUnitsString() = %q, want %q", got, want)
	}
}

func TestScaleFactor_Errors(t *testing.T) {
	if _, err := ScaleFactor("parsec", Metre); err == nil {
		t.Error("expected error for unknown source unit")
	}
	if _, err := ScaleFactor(Metre, "parsec"); err == nil {
		t.Error("expected error for unknown target unit")
	}
}

func TestMapRangeScale(t *testing.T) {
	k, err := MapRangeScale(Decimetre, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 dm = 0.1 m = 1 cell at 10 cells/m
	if math.Abs(k-1) > 1e-12 {
		t.Errorf("MapRangeScale(dm, 10) = %f, want 1", k)
	}

	k, err = MapRangeScale(Raw, 0)
	if err != nil || k != 1 {
		t.Errorf("MapRangeScale(raw, 0) = %f, %v; want 1, nil", k, err)
	}

	if _, err := MapRangeScale(Metre, 0); err == nil {
		t.Error("expected error for non-positive resolution")
	}
	if _, err := MapRangeScale("yard", 1); err == nil {
		t.Error("expected error for unknown unit")
	}
}
