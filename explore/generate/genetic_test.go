package generate

import (
	"testing"

	"github.com/skirt-explorer/skirt-explorer/explore/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRanges() map[string]Range {
	return map[string]Range{
		"mass": {Label: "mass", Min: 1, Max: 10, Unit: units.Dimensionless},
		"dust": {Label: "dust", Min: 0.1, Max: 1.0, Unit: units.Dimensionless},
	}
}

func testConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize: 10,
		EliteCount:     2,
		TournamentSize: 3,
		MutationRate:   0.5,
		MutationStdDev: 0.1,
		RecurrenceRTol: 1e-6,
		RecurrenceATol: 1e-9,
	}
}

func TestGeneticGenerator_FirstGenerationSamplesWithinRanges(t *testing.T) {
	g := GeneticGenerator{Config: testConfig(), RNG: NewPartitionedRNG(1)}
	individuals, rows, recurrences, err := g.Generate("gen0", testRanges(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, individuals, 10)
	assert.Len(t, rows, 10)
	assert.Empty(t, recurrences)

	for _, row := range rows {
		assert.GreaterOrEqual(t, row.Values["mass"], 1.0)
		assert.LessOrEqual(t, row.Values["mass"], 10.0)
		assert.GreaterOrEqual(t, row.Values["dust"], 0.1)
		assert.LessOrEqual(t, row.Values["dust"], 1.0)
	}
}

func TestGeneticGenerator_Deterministic(t *testing.T) {
	g1 := GeneticGenerator{Config: testConfig(), RNG: NewPartitionedRNG(42)}
	g2 := GeneticGenerator{Config: testConfig(), RNG: NewPartitionedRNG(42)}

	ind1, _, _, err := g1.Generate("gen0", testRanges(), nil, nil, nil, nil)
	require.NoError(t, err)
	ind2, _, _, err := g2.Generate("gen0", testRanges(), nil, nil, nil, nil)
	require.NoError(t, err)

	for i := range ind1 {
		v1, _ := ind1[i].Vector.Get("mass")
		v2, _ := ind2[i].Vector.Get("mass")
		assert.Equal(t, v1.Value, v2.Value)
	}
}

func TestGeneticGenerator_FixedInitialSeeds(t *testing.T) {
	fixed := map[string][]float64{
		"mass": {5.0},
		"dust": {0.5},
	}
	g := GeneticGenerator{Config: testConfig(), RNG: NewPartitionedRNG(1)}
	_, rows, _, err := g.Generate("gen0", testRanges(), nil, fixed, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, rows[0].Values["mass"])
	assert.Equal(t, 0.5, rows[0].Values["dust"])
}

func TestGeneticGenerator_BreedsFromElites(t *testing.T) {
	ranges := testRanges()
	elites := []ScoredIndividual{
		{Individual: Individual{Name: "e0", Vector: mustVector(ranges, map[string]float64{"mass": 2, "dust": 0.2})}, ChiSquared: 0.1},
		{Individual: Individual{Name: "e1", Vector: mustVector(ranges, map[string]float64{"mass": 8, "dust": 0.8})}, ChiSquared: 0.5},
	}
	g := GeneticGenerator{Config: testConfig(), RNG: NewPartitionedRNG(7)}
	individuals, _, _, err := g.Generate("gen1", ranges, nil, nil, elites, nil)
	require.NoError(t, err)
	assert.Len(t, individuals, 10)
	// elite count preserved verbatim among the first entries
	v, _ := individuals[0].Vector.Get("mass")
	assert.Equal(t, 2.0, v.Value)
}

func TestGeneticGenerator_SuppressesRecurrence(t *testing.T) {
	ranges := testRanges()
	fixed := map[string][]float64{"mass": {5.0}, "dust": {0.5}}
	history := []ScoredIndividual{
		{Individual: Individual{Name: "past", Vector: mustVector(ranges, map[string]float64{"mass": 5.0, "dust": 0.5})}, ChiSquared: 3.14},
	}
	cfg := testConfig()
	cfg.PopulationSize = 1
	g := GeneticGenerator{Config: cfg, RNG: NewPartitionedRNG(1)}
	individuals, _, recurrences, err := g.Generate("gen0", ranges, nil, fixed, nil, history)
	require.NoError(t, err)
	assert.Empty(t, individuals, "population shrinks rather than resampling")
	require.Len(t, recurrences, 1)
	assert.Equal(t, 3.14, recurrences[0].ReusedChiSquared)
}

func mustVector(ranges map[string]Range, values map[string]float64) ParameterVector {
	vec := NewParameterVector(sortedLabels(ranges))
	for label, v := range values {
		vec.Set(label, ranges[label].Quantity(v))
	}
	return vec
}
