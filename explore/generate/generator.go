package generate

// Generator is the common contract of spec.md §4.D implemented by both
// GridGenerator and GeneticGenerator, adapted to each variant's distinct
// inputs (grid needs no history or elites; genetic needs both).
// explore/run drives whichever variant a FittingRun's GenerationInfo
// method selects.
type Generator interface {
	// Kind identifies the variant for logging and GenerationInfo.Method.
	Kind() string
}

func (GridGenerator) Kind() string    { return "grid" }
func (GeneticGenerator) Kind() string { return "genetic" }
