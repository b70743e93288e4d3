// Package units implements the small physical-quantity algebra used
// throughout skirt-explorer: parameter values and memory estimates carry
// a Unit rather than a bare float64.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimension identifies the physical quantity a Unit measures. Units of
// different dimensions never convert or compare.
type Dimension int

const (
	// DimensionNone marks dimensionless quantities (ratios, counts).
	DimensionNone Dimension = iota
	DimensionLength
	DimensionMass
	DimensionTime
	DimensionWavelength
)

// Unit is a named scale factor against the base unit of its Dimension.
// E.g. Unit{Dimension: DimensionMass, Name: "GB", ToBase: 1e9} converts a
// quantity expressed in GB to bytes by multiplying by ToBase.
type Unit struct {
	Dimension Dimension
	Name      string
	ToBase    float64
}

// Well-known units used by the rest of the module.
var (
	Byte       = Unit{Dimension: DimensionMass, Name: "B", ToBase: 1}
	Kilobyte   = Unit{Dimension: DimensionMass, Name: "KB", ToBase: 1e3}
	Megabyte   = Unit{Dimension: DimensionMass, Name: "MB", ToBase: 1e6}
	Gigabyte   = Unit{Dimension: DimensionMass, Name: "GB", ToBase: 1e9}
	Second     = Unit{Dimension: DimensionTime, Name: "s", ToBase: 1}
	Minute     = Unit{Dimension: DimensionTime, Name: "min", ToBase: 60}
	Hour       = Unit{Dimension: DimensionTime, Name: "h", ToBase: 3600}
	Micron     = Unit{Dimension: DimensionWavelength, Name: "micron", ToBase: 1}
	Nanometer  = Unit{Dimension: DimensionWavelength, Name: "nm", ToBase: 1e-3}
	Angstrom   = Unit{Dimension: DimensionWavelength, Name: "Angstrom", ToBase: 1e-4}
	Dimensionless = Unit{Dimension: DimensionNone, Name: "", ToBase: 1}
)

var registry = map[string]Unit{
	"B": Byte, "KB": Kilobyte, "MB": Megabyte, "GB": Gigabyte,
	"s": Second, "min": Minute, "h": Hour,
	"micron": Micron, "nm": Nanometer, "Angstrom": Angstrom,
	"": Dimensionless,
}

// Lookup finds a registered unit by its name.
func Lookup(name string) (Unit, error) {
	u, ok := registry[name]
	if !ok {
		return Unit{}, fmt.Errorf("units: unknown unit %q", name)
	}
	return u, nil
}

// Quantity is a value paired with the unit it is expressed in.
type Quantity struct {
	Value float64
	Unit  Unit
}

// New builds a Quantity.
func New(value float64, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// Parse reads a "<value> <unit>" string, e.g. "2.5 GB" or "10 micron".
// A bare number with no unit suffix parses as dimensionless.
func Parse(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, fmt.Errorf("units: cannot parse empty string")
	}
	parts := strings.Fields(s)
	value, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("units: parsing value in %q: %w", s, err)
	}
	name := ""
	if len(parts) > 1 {
		name = strings.Join(parts[1:], " ")
	}
	unit, err := Lookup(name)
	if err != nil {
		return Quantity{}, fmt.Errorf("units: parsing %q: %w", s, err)
	}
	return Quantity{Value: value, Unit: unit}, nil
}

func (q Quantity) String() string {
	if q.Unit.Name == "" {
		return strconv.FormatFloat(q.Value, 'g', -1, 64)
	}
	return fmt.Sprintf("%s %s", strconv.FormatFloat(q.Value, 'g', -1, 64), q.Unit.Name)
}

// base returns the quantity's value expressed in the base unit of its dimension.
func (q Quantity) base() float64 {
	return q.Value * q.Unit.ToBase
}

// ConvertTo re-expresses the quantity in another unit of the same dimension.
func (q Quantity) ConvertTo(target Unit) (Quantity, error) {
	if q.Unit.Dimension != target.Dimension {
		return Quantity{}, fmt.Errorf("units: cannot convert %s (dimension %d) to dimension %d",
			q.Unit.Name, q.Unit.Dimension, target.Dimension)
	}
	return Quantity{Value: q.base() / target.ToBase, Unit: target}, nil
}

// Add returns q + other, expressed in q's unit. Both must share a dimension.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	conv, err := other.ConvertTo(q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: q.Value + conv.Value, Unit: q.Unit}, nil
}

// Mul scales the quantity by a dimensionless factor.
func (q Quantity) Mul(factor float64) Quantity {
	return Quantity{Value: q.Value * factor, Unit: q.Unit}
}

// Div divides the quantity by a dimensionless factor.
func (q Quantity) Div(factor float64) (Quantity, error) {
	if factor == 0 {
		return Quantity{}, fmt.Errorf("units: division by zero")
	}
	return Quantity{Value: q.Value / factor, Unit: q.Unit}, nil
}

// Compare returns -1, 0, or 1 as q is less than, equal to, or greater than
// other, after converting both to a common base. Dimension mismatch errors.
func (q Quantity) Compare(other Quantity) (int, error) {
	if q.Unit.Dimension != other.Unit.Dimension {
		return 0, fmt.Errorf("units: cannot compare dimension %d with dimension %d",
			q.Unit.Dimension, other.Unit.Dimension)
	}
	a, b := q.base(), other.base()
	switch {
	case math.Abs(a-b) < 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b))):
		return 0, nil
	case a < b:
		return -1, nil
	default:
		return 1, nil
	}
}

// WithinTolerance reports whether q and other agree within the given
// relative tolerance rtol and absolute tolerance atol (both applied to
// the base-unit representations), the same comparison the genetic
// generator uses for recurrence detection.
func (q Quantity) WithinTolerance(other Quantity, rtol, atol float64) (bool, error) {
	if q.Unit.Dimension != other.Unit.Dimension {
		return false, fmt.Errorf("units: cannot compare dimension %d with dimension %d",
			q.Unit.Dimension, other.Unit.Dimension)
	}
	a, b := q.base(), other.base()
	diff := math.Abs(a - b)
	return diff <= atol+rtol*math.Abs(b), nil
}
