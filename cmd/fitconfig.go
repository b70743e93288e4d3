package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skirt-explorer/skirt-explorer/explore/generate"
	"github.com/skirt-explorer/skirt-explorer/explore/remotesync"
	"github.com/skirt-explorer/skirt-explorer/explore/units"
)

// rangeConfig is the per-label entry under the defaults file's ranges
// section.
type rangeConfig struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Unit  string  `yaml:"unit"`
	Scale string  `yaml:"scale"` // "linear" or "log", defaults to linear
}

// geneticConfigFile is the GA hyper-parameter block of the fitting-run
// defaults file.
type geneticConfigFile struct {
	PopulationSize int     `yaml:"population_size"`
	EliteCount     int     `yaml:"elite_count"`
	TournamentSize int     `yaml:"tournament_size"`
	MutationRate   float64 `yaml:"mutation_rate"`
	MutationStdDev float64 `yaml:"mutation_stdev"`
	RecurrenceRTol float64 `yaml:"recurrence_rtol"`
	RecurrenceATol float64 `yaml:"recurrence_atol"`
}

// retryConfigFile configures remotesync's retry policy.
type retryConfigFile struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// fitConfigFile is the full structure of a fitting run's defaults.yaml:
// free-parameter ranges/scales, GA hyper-parameters, and the scene/runtime
// settings that don't change across generations. Mirrors the teacher's
// defaults.yaml's "all top-level sections must be listed" strict-parsing
// convention.
type fitConfigFile struct {
	Ranges              map[string]rangeConfig `yaml:"ranges"`
	FixedInitial        map[string][]float64   `yaml:"fixed_initial"`
	Genetic             geneticConfigFile      `yaml:"genetic"`
	Retry               retryConfigFile        `yaml:"retry"`
	WavelengthGridLevel int                    `yaml:"wavelength_grid_level"`
	RepresentationName  string                 `yaml:"representation_name"`
	NPackages           int64                  `yaml:"npackages"`
	SelfAbsorption      bool                   `yaml:"self_absorption"`
	TransientHeating    bool                   `yaml:"transient_heating"`
	LocalWorkers        int                    `yaml:"local_workers"`
	SceneFile           string                 `yaml:"scene_file"`
	WavelengthGridFile  string                 `yaml:"wavelength_grid_file"`
	WorkDir             string                 `yaml:"work_dir"`
	StoreDir            string                 `yaml:"store_dir"`
	HostsFile           string                 `yaml:"hosts_file"`
	LocalArtifactDir    string                 `yaml:"local_artifact_dir"`
	KeepCrashedDirs     bool                   `yaml:"keep_crashed_dirs"`
	AnalyserCommand     string                 `yaml:"analyser_command"`
}

func loadFitConfig(path string) (fitConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fitConfigFile{}, fmt.Errorf("cmd: reading fitting-run config %s: %w", path, err)
	}
	var cfg fitConfigFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return fitConfigFile{}, fmt.Errorf("cmd: parsing fitting-run config %s: %w", path, err)
	}
	return cfg, nil
}

// ranges converts the wire-format range map into explore/generate's Range
// and Scale maps, resolving each label's unit name via explore/units.
func (c fitConfigFile) ranges() (map[string]generate.Range, map[string]generate.Scale, error) {
	ranges := make(map[string]generate.Range, len(c.Ranges))
	scales := make(map[string]generate.Scale, len(c.Ranges))
	for label, rc := range c.Ranges {
		unit, err := units.Lookup(rc.Unit)
		if err != nil {
			return nil, nil, fmt.Errorf("cmd: range %q: %w", label, err)
		}
		ranges[label] = generate.Range{Label: label, Min: rc.Min, Max: rc.Max, Unit: unit}
		scale := generate.Linear
		if rc.Scale == "log" {
			scale = generate.Log
		}
		scales[label] = scale
	}
	return ranges, scales, nil
}

func (c fitConfigFile) geneticConfig() generate.GeneticConfig {
	g := c.Genetic
	return generate.GeneticConfig{
		PopulationSize: g.PopulationSize,
		EliteCount:     g.EliteCount,
		TournamentSize: g.TournamentSize,
		MutationRate:   g.MutationRate,
		MutationStdDev: g.MutationStdDev,
		RecurrenceRTol: g.RecurrenceRTol,
		RecurrenceATol: g.RecurrenceATol,
	}
}

func (c fitConfigFile) retryPolicy() remotesync.RetryPolicy {
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	delayMS := c.Retry.BaseDelayMS
	if delayMS < 1 {
		delayMS = 500
	}
	return remotesync.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Duration(delayMS) * time.Millisecond}
}
