package generate

import (
	"fmt"
	"math"
)

// GridGenerator produces a deterministic Cartesian-product population: for
// each label it samples npointsPerLabel(label) values, evenly spaced
// according to the label's scale, then enumerates the product row-major
// over labels in sorted (alphabetical) order, truncating at the requested
// population size. The order in which labels were declared is not kept,
// since ranges is a map. No randomness is involved.
type GridGenerator struct {
	// NamePrefix names generated individuals "<prefix>_<index>".
	NamePrefix string
}

// Generate implements the grid variant of spec.md §4.D's common contract.
// ranges gives each label's bound; scales gives each label's spacing
// (defaulting to Linear); npointsPerLabel gives each label's point count
// (defaulting to 1); size truncates the Cartesian product to at most
// size individuals (0 means "no truncation").
func (g GridGenerator) Generate(
	ranges map[string]Range,
	scales map[string]Scale,
	npointsPerLabel map[string]int,
	size int,
) ([]Individual, []ModelParametersRow, error) {
	if len(ranges) == 0 {
		return nil, nil, fmt.Errorf("generate: grid requires at least one label range")
	}
	labels := sortedLabels(ranges)

	axes := make([][]float64, len(labels))
	for i, label := range labels {
		r := ranges[label]
		n := npointsPerLabel[label]
		if n < 1 {
			n = 1
		}
		scale := scales[label]
		axes[i] = axisValues(r, scale, n)
	}

	total := 1
	for _, a := range axes {
		total *= len(a)
	}
	if size <= 0 || size > total {
		size = total
	}

	individuals := make([]Individual, 0, size)
	rows := make([]ModelParametersRow, 0, size)

	indices := make([]int, len(axes))
	for count := 0; count < size; count++ {
		vec := NewParameterVector(labels)
		values := make(map[string]float64, len(labels))
		for i, label := range labels {
			v := axes[i][indices[i]]
			if err := vec.Set(label, ranges[label].Quantity(v)); err != nil {
				return nil, nil, err
			}
			values[label] = v
		}
		name := fmt.Sprintf("%s_%d", g.namePrefix(), count)
		individuals = append(individuals, Individual{Name: name, Vector: vec})
		rows = append(rows, ModelParametersRow{IndividualName: name, Values: values})

		// row-major increment: advance the last axis first, carrying into
		// earlier axes, so truncation takes a prefix of the full product
		// in sorted label order.
		for i := len(axes) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(axes[i]) {
				break
			}
			indices[i] = 0
		}
	}

	return individuals, rows, nil
}

func (g GridGenerator) namePrefix() string {
	if g.NamePrefix == "" {
		return "grid"
	}
	return g.NamePrefix
}

// axisValues returns n values spanning [r.Min, r.Max] according to scale.
// n==1 returns the midpoint (arithmetic or geometric, per scale).
func axisValues(r Range, scale Scale, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		if scale == Log && r.Min > 0 && r.Max > 0 {
			out[0] = math.Sqrt(r.Min * r.Max)
		} else {
			out[0] = (r.Min + r.Max) / 2
		}
		return out
	}
	switch scale {
	case Log:
		if r.Min <= 0 || r.Max <= 0 {
			// fall back to linear spacing for non-positive bounds
			for i := 0; i < n; i++ {
				t := float64(i) / float64(n-1)
				out[i] = r.Min + t*(r.Max-r.Min)
			}
			return out
		}
		logMin, logMax := math.Log(r.Min), math.Log(r.Max)
		for i := 0; i < n; i++ {
			t := float64(i) / float64(n-1)
			out[i] = math.Exp(logMin + t*(logMax-logMin))
		}
	default:
		for i := 0; i < n; i++ {
			t := float64(i) / float64(n-1)
			out[i] = r.Min + t*(r.Max-r.Min)
		}
	}
	return out
}
