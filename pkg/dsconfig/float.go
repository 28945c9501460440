package dsconfig

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Float is a float64 that always encodes as a JSON float literal. Plain
// float64 values such as 0 or 1 encode as integers, which the Python side
// would read back as int.
type Float float64

// MarshalJSON writes the shortest decimal that round-trips exactly.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported float value %v", v)
	}
	return []byte(FormatFloat(v)), nil
}

// UnmarshalJSON accepts any JSON number.
func (f *Float) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid float %s: %w", data, err)
	}
	*f = Float(v)
	return nil
}

// FormatFloat renders v losslessly, keeping a decimal point or exponent.
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
