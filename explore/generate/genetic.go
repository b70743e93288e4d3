package generate

import (
	"fmt"
	"math"
	"math/rand"
)

// GeneticConfig holds the GA hyper-parameters the FittingRun supplies
// (spec.md §4.D: "GA hyper-parameters ... are supplied by the
// FittingRun").
type GeneticConfig struct {
	PopulationSize   int
	EliteCount       int
	TournamentSize   int
	MutationRate     float64 // probability a given label mutates per offspring
	MutationStdDev   float64 // fraction of the label's range used as mutation sigma
	RecurrenceRTol   float64
	RecurrenceATol   float64
	// RecurrenceTolOverride optionally tightens/loosens the tolerance for
	// specific labels; see ParameterVector.Equal.
	RecurrenceTolOverride map[string][2]float64
}

// ScoredIndividual pairs a past individual with its fitness, as read back
// from the generation store for elitism and recurrence detection.
type ScoredIndividual struct {
	Individual Individual
	ChiSquared float64
}

// GeneticGenerator implements the genetic variant of spec.md §4.D: first
// generation samples uniformly (or log-uniformly) from ranges; later
// generations breed from elites via tournament selection, single-point
// crossover and per-label mutation, suppressing recurrent candidates.
type GeneticGenerator struct {
	Config GeneticConfig
	RNG    *PartitionedRNG
}

// Recurrence describes a suppressed candidate and the past score reused
// in its place.
type Recurrence struct {
	Individual Individual
	ReusedChiSquared float64
}

// Generate produces the next generation's population.
//
// generationName scopes this generation's RNG streams (determinism per
// spec.md's "two simulations with the same seed produce identical
// results"). ranges/scales declare the free parameters. fixedInitial, if
// non-nil, seeds the first individuals of a first generation with
// caller-supplied values (spec.md's fixed_initial). elites is the
// previous generation's individuals ranked best-first (nil for the first
// generation). history is every individual ever produced across the
// fitting run, used for recurrence detection; its ChiSquared is reused
// when a new candidate recurs.
//
// Returns the accepted individuals, their tabular rows, and the
// recurrences that were suppressed (spec.md: "the caller proceeds with
// the reduced size; it must not resample").
func (g GeneticGenerator) Generate(
	generationName string,
	ranges map[string]Range,
	scales map[string]Scale,
	fixedInitial map[string][]float64,
	elites []ScoredIndividual,
	history []ScoredIndividual,
) ([]Individual, []ModelParametersRow, []Recurrence, error) {
	if len(ranges) == 0 {
		return nil, nil, nil, fmt.Errorf("generate: genetic requires at least one label range")
	}
	labels := sortedLabels(ranges)
	n := g.Config.PopulationSize
	if n < 1 {
		return nil, nil, nil, fmt.Errorf("generate: population size must be >= 1")
	}

	var candidates []ParameterVector
	if len(elites) == 0 {
		candidates = g.seedFirstGeneration(generationName, labels, ranges, scales, fixedInitial, n)
	} else {
		candidates = g.breed(generationName, labels, ranges, scales, elites, n)
	}

	individuals := make([]Individual, 0, len(candidates))
	rows := make([]ModelParametersRow, 0, len(candidates))
	var recurrences []Recurrence

	for i, cand := range candidates {
		if reused, ok := findRecurrence(cand, history, g.Config.RecurrenceRTol, g.Config.RecurrenceATol, g.Config.RecurrenceTolOverride); ok {
			recurrences = append(recurrences, Recurrence{
				Individual:       Individual{Name: fmt.Sprintf("%s_%d", generationName, i), Vector: cand},
				ReusedChiSquared: reused,
			})
			continue
		}
		name := fmt.Sprintf("%s_%d", generationName, i)
		individuals = append(individuals, Individual{Name: name, Vector: cand})
		values := make(map[string]float64, len(labels))
		for _, label := range labels {
			q, _ := cand.Get(label)
			values[label] = q.Value
		}
		rows = append(rows, ModelParametersRow{IndividualName: name, Values: values})
	}

	// spec.md: "it must not resample" — the population shrinks by the
	// number of recurrences rather than topping back up to n.
	return individuals, rows, recurrences, nil
}

func findRecurrence(cand ParameterVector, history []ScoredIndividual, rtol, atol float64, override map[string][2]float64) (float64, bool) {
	for _, h := range history {
		if cand.Equal(h.Individual.Vector, rtol, atol, override) {
			return h.ChiSquared, true
		}
	}
	return 0, false
}

func (g GeneticGenerator) seedFirstGeneration(
	generationName string,
	labels []string,
	ranges map[string]Range,
	scales map[string]Scale,
	fixedInitial map[string][]float64,
	n int,
) []ParameterVector {
	out := make([]ParameterVector, 0, n)

	fixedCount := fixedCandidateCount(fixedInitial)
	for i := 0; i < fixedCount && len(out) < n; i++ {
		vec := NewParameterVector(labels)
		for _, label := range labels {
			vals := fixedInitial[label]
			v := vals[i%len(vals)]
			vec.Set(label, ranges[label].Quantity(v))
		}
		out = append(out, vec)
	}

	for len(out) < n {
		vec := NewParameterVector(labels)
		for _, label := range labels {
			r := ranges[label]
			rng := g.RNG.ForLabel(generationName, label)
			v := sampleUniform(r, scales[label], rng)
			vec.Set(label, r.Quantity(v))
		}
		out = append(out, vec)
	}
	return out
}

func fixedCandidateCount(fixedInitial map[string][]float64) int {
	max := 0
	for _, vals := range fixedInitial {
		if len(vals) > max {
			max = len(vals)
		}
	}
	return max
}

func sampleUniform(r Range, scale Scale, rng *rand.Rand) float64 {
	if scale == Log && r.Min > 0 && r.Max > 0 {
		logMin, logMax := math.Log(r.Min), math.Log(r.Max)
		return math.Exp(logMin + rng.Float64()*(logMax-logMin))
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (g GeneticGenerator) breed(
	generationName string,
	labels []string,
	ranges map[string]Range,
	scales map[string]Scale,
	elites []ScoredIndividual,
	n int,
) []ParameterVector {
	out := make([]ParameterVector, 0, n)

	eliteN := g.Config.EliteCount
	if eliteN > len(elites) {
		eliteN = len(elites)
	}
	for i := 0; i < eliteN && len(out) < n; i++ {
		out = append(out, elites[i].Individual.Vector.Clone())
	}

	selectRng := g.RNG.ForSubsystem(generationName + "/select")
	for len(out) < n {
		parentA := tournamentSelect(elites, g.Config.TournamentSize, selectRng)
		parentB := tournamentSelect(elites, g.Config.TournamentSize, selectRng)
		child := crossover(labels, parentA, parentB, selectRng)
		child = g.mutate(generationName, labels, ranges, scales, child)
		out = append(out, child)
	}
	return out
}

// tournamentSelect picks tournamentSize individuals uniformly at random
// and returns the best (lowest chi-squared) among them.
func tournamentSelect(pool []ScoredIndividual, tournamentSize int, rng *rand.Rand) ScoredIndividual {
	if tournamentSize < 1 || tournamentSize > len(pool) {
		tournamentSize = len(pool)
	}
	best := pool[rng.Intn(len(pool))]
	for i := 1; i < tournamentSize; i++ {
		cand := pool[rng.Intn(len(pool))]
		if cand.ChiSquared < best.ChiSquared {
			best = cand
		}
	}
	return best
}

// crossover applies single-point crossover on the fixed label order:
// labels before the cut come from parentA, the rest from parentB.
func crossover(labels []string, parentA, parentB ScoredIndividual, rng *rand.Rand) ParameterVector {
	child := NewParameterVector(labels)
	cut := 0
	if len(labels) > 1 {
		cut = rng.Intn(len(labels))
	}
	for i, label := range labels {
		var src ParameterVector
		if i < cut {
			src = parentA.Individual.Vector
		} else {
			src = parentB.Individual.Vector
		}
		if q, ok := src.Get(label); ok {
			child.Set(label, q)
		}
	}
	return child
}

// mutate applies per-label Gaussian (or log-Gaussian) mutation, each
// label mutating independently with probability Config.MutationRate,
// and clamps the result back into the label's range.
func (g GeneticGenerator) mutate(
	generationName string,
	labels []string,
	ranges map[string]Range,
	scales map[string]Scale,
	vec ParameterVector,
) ParameterVector {
	for _, label := range labels {
		rng := g.RNG.ForLabel(generationName, label)
		if rng.Float64() > g.Config.MutationRate {
			continue
		}
		r := ranges[label]
		q, ok := vec.Get(label)
		if !ok {
			continue
		}
		v := q.Value
		span := r.Max - r.Min
		sigma := span * g.Config.MutationStdDev

		var mutated float64
		if scales[label] == Log && v > 0 {
			logV := math.Log(v)
			logSpan := math.Log(r.Max) - math.Log(r.Min)
			mutated = math.Exp(logV + rng.NormFloat64()*logSpan*g.Config.MutationStdDev)
		} else {
			mutated = v + rng.NormFloat64()*sigma
		}

		mutated = math.Min(r.Max, math.Max(r.Min, mutated))
		vec.Set(label, r.Quantity(mutated))
	}
	return vec
}
