package scene

import "github.com/skirt-explorer/skirt-explorer/explore/units"

// MemoryEstimate is the serial/parallel memory split the planner
// consumes. Both fields are expressed in bytes (units.Byte) internally;
// the exported quantities carry whatever unit they were computed in.
type MemoryEstimate struct {
	Serial   units.Quantity
	Parallel units.Quantity
}

// Total returns serial + parallel memory.
func (m MemoryEstimate) Total() (units.Quantity, error) {
	return m.Serial.Add(m.Parallel)
}

// EstimateMemory derives a MemoryEstimate for a scene. A non-zero
// cellCountOverride (e.g. a cell count supplied externally by the
// dust-grid builder) is used in place of the scene's own cell count;
// when it is 0, the scene's CellCount is used if the scene records one.
// The model is linear in packages and, when present, cell count —
// mirroring the original MemoryEstimator's two dominant cost terms
// (photon package buffers scale with packages; the dust grid scales
// with cell count).
func EstimateMemory(s *SceneTemplate, bytesPerPackage, bytesPerCell float64, cellCountOverride int64) (MemoryEstimate, error) {
	packages, err := s.Packages()
	if err != nil {
		return MemoryEstimate{}, err
	}

	cells := cellCountOverride
	if cells == 0 {
		if n, ok, err := s.CellCount(); err != nil {
			return MemoryEstimate{}, err
		} else if ok {
			cells = n
		}
	}

	serialBytes := bytesPerCell * float64(cells)
	parallelBytes := bytesPerPackage * float64(packages)

	return MemoryEstimate{
		Serial:   units.New(serialBytes, units.Byte),
		Parallel: units.New(parallelBytes, units.Byte),
	}, nil
}
