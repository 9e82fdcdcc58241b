// Package units provides shared constants and conversions for range units.
// Sensor ranges arrive in the sensor's native unit and are converted into
// map units (metres scaled by the map resolution) before scoring.
package units

import (
	"fmt"
	"strings"
)

// Range unit constants
const (
	Raw        = "raw" // no conversion, sensor counts are map cells
	Millimetre = "mm"
	Centimetre = "cm"
	Decimetre  = "dm"
	Metre      = "m"
)

// ValidUnits contains all valid range unit values
var ValidUnits = []string{Raw, Millimetre, Centimetre, Decimetre, Metre}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// metres returns how many metres one unit represents. Raw is treated as
// metres so that a raw sensor paired with a 1 cell/m map is the identity.
func metres(unit string) (float64, bool) {
	switch unit {
	case Millimetre:
		return 0.001, true
	case Centimetre:
		return 0.01, true
	case Decimetre:
		return 0.1, true
	case Metre, Raw:
		return 1, true
	default:
		return 0, false
	}
}

// ScaleFactor returns the multiplier converting a value in unit from into
// unit to.
func ScaleFactor(from, to string) (float64, error) {
	f, ok := metres(from)
	if !ok {
		return 0, fmt.Errorf("invalid range unit %q: must be one of %s", from, GetValidUnitsString())
	}
	t, ok := metres(to)
	if !ok {
		return 0, fmt.Errorf("invalid range unit %q: must be one of %s", to, GetValidUnitsString())
	}
	return f / t, nil
}

// ConvertRange converts a range between units. Unknown units leave the value
// unchanged.
func ConvertRange(v float64, from, to string) float64 {
	k, err := ScaleFactor(from, to)
	if err != nil {
		return v
	}
	return v * k
}

// MapRangeScale returns the factor turning a sensor range in unit into map
// cells, given the map resolution in cells per metre. Raw sensors bypass the
// resolution.
func MapRangeScale(unit string, cellsPerMetre float64) (float64, error) {
	if unit == Raw {
		return 1, nil
	}
	if cellsPerMetre <= 0 {
		return 0, fmt.Errorf("cells per metre must be positive, got %g", cellsPerMetre)
	}
	k, err := ScaleFactor(unit, Metre)
	if err != nil {
		return 0, err
	}
	return k * cellsPerMetre, nil
}
