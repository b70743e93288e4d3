package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

// shellAnalyser implements remotesync.Analyser by shelling out to an
// operator-supplied external program (spec.md's analyser callback is a
// Non-goal for output analysis itself; flux extraction and χ² computation
// stay outside this repo, the same way explore/remote shells out rather
// than reimplementing a transport). The command receives the simulation
// name and retrieved output directory as arguments and must print a
// single floating-point χ² value on stdout.
type shellAnalyser struct {
	Command string
}

func (a shellAnalyser) Analyse(ctx context.Context, sim store.SimulationRecord, outputDir string) (float64, error) {
	if a.Command == "" {
		return 0, fmt.Errorf("cmd: no analyser_command configured, cannot analyse %s", sim.SimulationName)
	}
	out, err := exec.CommandContext(ctx, a.Command, sim.SimulationName, outputDir).Output()
	if err != nil {
		return 0, fmt.Errorf("cmd: analyser command for %s: %w", sim.SimulationName, err)
	}
	chi2, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("cmd: parsing analyser output for %s: %w", sim.SimulationName, err)
	}
	return chi2, nil
}
