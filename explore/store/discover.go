package store

import (
	"os"
	"path/filepath"
)

// OrphanSimulation is a simulation directory found on disk with no
// matching row in its generation's individuals table — e.g. left behind
// by a process that crashed between materializing the simulation
// directory and persisting its record.
type OrphanSimulation struct {
	Generation     string
	SimulationName string
	Dir            string
}

// DiscoverOrphans reconciles on-disk simulation directories against the
// individuals table for every known generation, surfacing any directory
// with no corresponding row. Supplements spec.md's restart/recovery path
// (grounded on the original's SimulationDiscoverer, which performs the
// same on-disk-vs-table reconciliation after an interrupted run).
func (s *Store) DiscoverOrphans() ([]OrphanSimulation, error) {
	table, err := s.GenerationsTable()
	if err != nil {
		return nil, err
	}

	var orphans []OrphanSimulation
	for _, g := range table {
		known, err := s.knownSimulations(g.Name)
		if err != nil {
			return nil, err
		}
		simsDir := filepath.Join(s.genDir(g.Name), "simulations")
		entries, err := os.ReadDir(simsDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if known[entry.Name()] {
				continue
			}
			orphans = append(orphans, OrphanSimulation{
				Generation:     g.Name,
				SimulationName: entry.Name(),
				Dir:            filepath.Join(simsDir, entry.Name()),
			})
		}
	}
	return orphans, nil
}

func (s *Store) knownSimulations(generation string) (map[string]bool, error) {
	f, err := os.Open(filepath.Join(s.genDir(generation), individualsFile))
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	known := make(map[string]bool)
	rows, err := readCSVRows(f)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if len(row) > 0 {
			known[row[0]] = true
		}
	}
	return known, nil
}
