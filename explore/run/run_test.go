package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirt-explorer/skirt-explorer/explore/estimate"
	"github.com/skirt-explorer/skirt-explorer/explore/generate"
	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/launch"
	"github.com/skirt-explorer/skirt-explorer/explore/remotesync"
	"github.com/skirt-explorer/skirt-explorer/explore/scene"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
	"github.com/skirt-explorer/skirt-explorer/explore/units"
)

const testSki = `<?xml version="1.0"?>
<MonteCarloSimulation numPackages="100000">
  <DustSystem><DustMix dimension="2"/></DustSystem>
</MonteCarloSimulation>
`

type fakeAnalyser struct{ score float64 }

func (f fakeAnalyser) Analyse(ctx context.Context, sim store.SimulationRecord, outputDir string) (float64, error) {
	return f.score, nil
}

func testRangesRun() map[string]generate.Range {
	return map[string]generate.Range{
		"packages": {Label: "packages", Min: 1e5, Max: 1e6, Unit: units.Dimensionless},
	}
}

func newTestFittingRun(t *testing.T, ngen int, method store.GenerationMethod) (*FittingRun, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)

	hosts := []host.HostSpec{{ID: "local", Nodes: 1}}
	inv := host.NewInventory(nil, hosts...)

	sc := scene.New("galaxy", []byte(testSki))

	est := estimate.New(nil, 3)

	launcher := &launch.Launcher{
		Store:        st,
		Scene:        sc,
		WorkDir:      t.TempDir(),
		LocalWorkers: 2,
		LocalRun: func(ctx context.Context, simDir string) error {
			return nil
		},
	}

	sync := &remotesync.Synchronizer{
		Store:    st,
		Analyser: fakeAnalyser{score: 1.23},
	}

	cfg := Config{
		Name:         "fit",
		NGenerations: ngen,
		NSimulations: 3,
		Method:       method,
		Ranges:       testRangesRun(),
		Genetic: generate.GeneticConfig{
			PopulationSize: 3,
			EliteCount:     1,
			TournamentSize: 2,
			MutationRate:   0.5,
			MutationStdDev: 0.1,
			RecurrenceRTol: 1e-6,
			RecurrenceATol: 1e-9,
		},
		Seed: 1,
	}

	r := New(cfg, hosts, inv, sc, st, est, launcher, sync, nil)
	return r, st
}

func TestNew_PanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() {
		New(Config{}, nil, host.NewInventory(nil), scene.New("g", []byte(testSki)), nil, nil, nil, nil, nil)
	})
}

func TestFittingRun_Run_GridMethod(t *testing.T) {
	r, _ := newTestFittingRun(t, 1, store.MethodGrid)
	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Records)
	for _, rec := range results[0].Records {
		assert.Equal(t, store.StatusAnalyzed, rec.LastStatus)
		assert.Equal(t, 1.23, rec.Score)
	}
	assert.NotEmpty(t, results[0].Report)
}

func TestFittingRun_Run_GeneticMultiGeneration(t *testing.T) {
	r, _ := newTestFittingRun(t, 2, store.MethodGenetic)
	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, gen := range results {
		for _, rec := range gen.Records {
			assert.Equal(t, store.StatusAnalyzed, rec.LastStatus)
		}
	}
	// second generation bred from the first's history.
	assert.NotEmpty(t, r.history)
}

func TestFittingRun_Run_CalledTwicePanics(t *testing.T) {
	r, _ := newTestFittingRun(t, 1, store.MethodGrid)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Panics(t, func() {
		r.Run(context.Background())
	})
}

func TestFittingRun_Results_BeforeRunPanics(t *testing.T) {
	r, _ := newTestFittingRun(t, 1, store.MethodGrid)
	assert.Panics(t, func() {
		r.Results()
	})
}

func TestFittingRun_Run_NoAvailableHost(t *testing.T) {
	r, _ := newTestFittingRun(t, 1, store.MethodGrid)
	// Replace the inventory with one pointing at an unreachable remote host
	// so AvailableHosts() probes it away, leaving nothing available.
	unreachable := host.HostSpec{ID: "hpc01", Login: &host.LoginInfo{Addr: "unreachable.invalid"}}
	r.hosts = []host.HostSpec{unreachable}
	r.inventory = host.NewInventory(alwaysDownProber{}, unreachable)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hpc01")
}

type alwaysDownProber struct{}

func (alwaysDownProber) Probe(ctx context.Context, h host.HostSpec, timeout time.Duration) bool {
	return false
}

func TestFittingRun_Run_EmptyPopulationFinalizesImmediately(t *testing.T) {
	r, st := newTestFittingRun(t, 1, store.MethodGenetic)
	// Seed history so that every sampled candidate in a 1-wide range is a
	// guaranteed recurrence: population shrinks to zero, not an error.
	r.cfg.Genetic.PopulationSize = 1
	r.cfg.NSimulations = 1
	r.cfg.Ranges = map[string]generate.Range{
		"packages": {Label: "packages", Min: 5.0, Max: 5.0, Unit: units.Dimensionless},
	}
	vec := generate.NewParameterVector([]string{"packages"})
	vec.Set("packages", units.New(5.0, units.Dimensionless))
	r.history = []generate.ScoredIndividual{
		{Individual: generate.Individual{Name: "seed", Vector: vec}, ChiSquared: 9.9},
	}

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Records)

	info, err := st.GenerationsTable()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.False(t, info[0].FinishingTime.IsZero())
}
