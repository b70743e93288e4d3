// Package store implements the generation store (Component E): an
// append-only, per-generation-locked disk layout for individuals,
// parameters, chi-squared scores, generation metadata, and the
// cross-generation bookkeeping restart_from needs to rewind cleanly.
package store

import "time"

// GenerationMethod is the model generator variant that produced a
// generation's population.
type GenerationMethod string

const (
	MethodGrid    GenerationMethod = "grid"
	MethodGenetic GenerationMethod = "genetic"
)

// GenerationInfo is a generation's metadata row. Once FinishingTime is
// non-zero the generation is immutable (spec.md §3).
type GenerationInfo struct {
	Name              string
	Index             int // -1 when absent ("optional index")
	Method            GenerationMethod
	WavelengthGridLevel int
	RepresentationName  string
	NPackages           int64
	SelfAbsorption      bool
	TransientHeating    bool
	NSimulations        int
	CreationTime        time.Time
	FinishingTime       time.Time // zero value means "not finished"

	// RangesBlob/ScalesBlob carry the generator's label ranges/scales as
	// an opaque encoded blob, round-tripped verbatim (spec.md §8's
	// round-trip law) rather than re-derived from individual rows.
	RangesBlob string
	ScalesBlob string
}

// Finalized reports whether the generation is read-only.
func (g GenerationInfo) Finalized() bool { return !g.FinishingTime.IsZero() }

// SimulationRecord is one simulation's full lifecycle row.
type SimulationRecord struct {
	SimulationName string
	IndividualName string
	GenerationName string
	ParameterValues map[string]float64
	AssignedHost    string
	SubmissionTime  time.Time
	LastStatus      SimulationStatus
	LastStatusTime  time.Time
	RetrievalTime   time.Time
	Score           float64 // chi-squared; only meaningful once analyzed
}
