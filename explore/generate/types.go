// Package generate implements the model generator (Component D): given a
// set of free-parameter ranges, it produces a population of parameter
// vectors, either by uniform grid enumeration or by a genetic algorithm
// with elitism, crossover, mutation and cross-generation recurrence
// detection.
package generate

import (
	"fmt"
	"sort"

	"github.com/skirt-explorer/skirt-explorer/explore/units"
)

// Scale controls how a label's range is sampled or interpolated.
type Scale int

const (
	Linear Scale = iota
	Log
)

// Range is a free parameter's inclusive bound, in a fixed unit.
type Range struct {
	Label string
	Min   float64
	Max   float64
	Unit  units.Unit
}

// Quantity wraps a raw value in r's unit.
func (r Range) Quantity(v float64) units.Quantity { return units.New(v, r.Unit) }

// ParameterVector is an ordered label -> quantity mapping. Label order is
// fixed at construction and preserved by every accessor, matching
// spec.md §3's "ordered mapping" data model.
type ParameterVector struct {
	labels []string
	values map[string]units.Quantity
}

// NewParameterVector builds a vector over the given labels, in order.
func NewParameterVector(labels []string) ParameterVector {
	out := make([]string, len(labels))
	copy(out, labels)
	return ParameterVector{labels: out, values: make(map[string]units.Quantity, len(labels))}
}

// Labels returns the vector's labels in declaration order.
func (v ParameterVector) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// Set assigns a label's value. Set is a no-op on the label ordering if
// the label is already present; it is an error to set a label not in
// the vector's declared label set.
func (v ParameterVector) Set(label string, q units.Quantity) error {
	found := false
	for _, l := range v.labels {
		if l == label {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("generate: label %q not declared on this vector", label)
	}
	v.values[label] = q
	return nil
}

// Get returns a label's value.
func (v ParameterVector) Get(label string) (units.Quantity, bool) {
	q, ok := v.values[label]
	return q, ok
}

// Clone returns an independent copy.
func (v ParameterVector) Clone() ParameterVector {
	cp := NewParameterVector(v.labels)
	for k, val := range v.values {
		cp.values[k] = val
	}
	return cp
}

// Equal reports whether two vectors match on every label within the
// given relative/absolute tolerance (spec.md §4.D's recurrence rule),
// optionally overridden per-label via tolOverride.
func (v ParameterVector) Equal(other ParameterVector, rtol, atol float64, tolOverride map[string][2]float64) bool {
	for _, label := range v.labels {
		a, ok := v.Get(label)
		if !ok {
			continue
		}
		b, ok := other.Get(label)
		if !ok {
			return false
		}
		lrtol, latol := rtol, atol
		if o, ok := tolOverride[label]; ok {
			lrtol, latol = o[0], o[1]
		}
		within, err := a.WithinTolerance(b, lrtol, latol)
		if err != nil || !within {
			return false
		}
	}
	return true
}

// Individual is a ParameterVector plus the generator-assigned name used
// to key it across the generation store and simulation records.
type Individual struct {
	Name   string
	Vector ParameterVector
}

// ModelParametersRow is one row of the cross-generation model-parameters
// table the generator returns alongside the individuals it produces.
type ModelParametersRow struct {
	IndividualName string
	Values         map[string]float64 // label -> raw numeric value, for tabular storage
}

// sortedLabels returns m's keys sorted, for deterministic iteration where
// map order would otherwise leak into generated output.
func sortedLabels(m map[string]Range) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
