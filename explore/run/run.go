// Package run implements the fitting runner (Component H): the
// orchestrator sequencing set parallelization → generate → estimate
// runtimes → launch → synchronize → score → repeat. The scene template
// is used as supplied: no step rewrites its packages, self-absorption,
// transient-heating, wavelength-grid or dust-grid settings between
// generations; Config's NPackages/SelfAbsorption/TransientHeating are
// only recorded in each generation's info. Grounded on the simulator's ClusterSimulator: a
// constructor-validates / Run()-once-panics / results-after-Run()-only
// shape, generalized from one discrete-event run to a multi-generation
// fitting loop.
package run

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/skirt-explorer/skirt-explorer/explore/errs"
	"github.com/skirt-explorer/skirt-explorer/explore/estimate"
	"github.com/skirt-explorer/skirt-explorer/explore/generate"
	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/launch"
	"github.com/skirt-explorer/skirt-explorer/explore/parallel"
	"github.com/skirt-explorer/skirt-explorer/explore/remote"
	"github.com/skirt-explorer/skirt-explorer/explore/remotesync"
	"github.com/skirt-explorer/skirt-explorer/explore/scene"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

// defaultSchedulerWallTime is used when the estimator has no historical
// timing sample yet for a given host/cluster/parallelization signature;
// the table grows as generations complete (see absorbTimingHistory), so
// this only bites on a host's first scheduler submission.
const defaultSchedulerWallTime = "04:00:00"

// Config holds everything a FittingRun needs to decide its generation
// sequence; the GA hyper-parameters it hands to the genetic generator
// live in GeneticConfig (spec.md: "supplied by the FittingRun").
type Config struct {
	Name            string
	NGenerations    int
	NSimulations    int
	Method          store.GenerationMethod
	Ranges          map[string]generate.Range
	Scales          map[string]generate.Scale
	FixedInitial    map[string][]float64
	Genetic         generate.GeneticConfig
	Seed            generate.RunSeed
	WavelengthGridLevel int
	RepresentationName  string
	NPackages           int64
	SelfAbsorption      bool
	TransientHeating    bool
	// Group packs a generation's simulations into one scheduler job per
	// host (spec.md §4.F), instead of one job per simulation. Only
	// affects hosts with HostSpec.Scheduler set.
	Group bool
	// NWavelengthsOverride supplies the wavelength grid's point count when
	// the scene references an external FileWavelengthGrid, whose row count
	// scene.WavelengthCount can't read without an I/O side-effect the
	// orchestrator doesn't perform; the caller reads it once via
	// scene.CountWavelengthGridFile at startup. Ignored when the scene's
	// own wavelength grid element records its count inline.
	NWavelengthsOverride int
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("run: Name must be set")
	}
	if c.NGenerations < 1 {
		return fmt.Errorf("run: NGenerations must be >= 1")
	}
	if c.NSimulations < 1 {
		return fmt.Errorf("run: NSimulations must be >= 1")
	}
	if len(c.Ranges) == 0 {
		return fmt.Errorf("run: at least one free-parameter range is required")
	}
	return nil
}

// GenerationResult is one completed generation's outcome, handed back to
// the caller after each iteration for reporting (spec.md §7's
// per-generation status table).
type GenerationResult struct {
	Info    store.GenerationInfo
	Records []store.SimulationRecord
	Report  []remotesync.HostStatusCounts
}

// FittingRun is Component H. Constructed via New (which validates
// config), driven once via Run.
type FittingRun struct {
	cfg Config

	hosts     []host.HostSpec
	inventory *host.Inventory
	scene     *scene.SceneTemplate
	st        *store.Store
	estimator *estimate.Estimator
	launcher  *launch.Launcher
	sync      *remotesync.Synchronizer
	rng       *generate.PartitionedRNG
	// openers backs non-local submission targets (ModeRemoteDirect and
	// ModeScheduler); for a host with a nil or missing entry the launcher
	// returns a "no session opener configured" error. The local host never needs
	// one (ModeLocal runs in-process).
	openers map[string]remote.Opener

	hasRun  bool
	results []GenerationResult
	history []generate.ScoredIndividual
}

// New validates cfg and wires a FittingRun over the given collaborators.
// Panics on invalid configuration, matching the simulator's
// constructor-validates convention — fitting-run configuration is
// operator error, not a runtime condition to recover from.
func New(cfg Config, hosts []host.HostSpec, inventory *host.Inventory, sceneTemplate *scene.SceneTemplate, st *store.Store, estimator *estimate.Estimator, launcher *launch.Launcher, sync *remotesync.Synchronizer, openers map[string]remote.Opener) *FittingRun {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return &FittingRun{
		cfg:       cfg,
		hosts:     hosts,
		inventory: inventory,
		scene:     sceneTemplate,
		st:        st,
		estimator: estimator,
		launcher:  launcher,
		sync:      sync,
		rng:       generate.NewPartitionedRNG(cfg.Seed),
		openers:   openers,
	}
}

// Run executes every generation in sequence. It must be called at most
// once per FittingRun.
func (r *FittingRun) Run(ctx context.Context) ([]GenerationResult, error) {
	if r.hasRun {
		panic("FittingRun.Run() called more than once")
	}
	r.hasRun = true

	for gen := 0; gen < r.cfg.NGenerations; gen++ {
		genName := fmt.Sprintf("%s_gen%d", r.cfg.Name, gen)
		result, err := r.runGeneration(ctx, genName, gen)
		if err != nil {
			return r.results, err
		}
		r.results = append(r.results, result)
		r.absorbHistory(result)
	}
	return r.results, nil
}

// Results returns every completed generation's outcome. Panics if called
// before Run(), matching the simulator's results-after-Run()-only rule.
func (r *FittingRun) Results() []GenerationResult {
	if !r.hasRun {
		panic("FittingRun.Results() called before Run()")
	}
	return r.results
}

func (r *FittingRun) runGeneration(ctx context.Context, genName string, genIndex int) (GenerationResult, error) {
	availableHosts, err := r.inventory.AvailableHosts(ctx)
	if err != nil {
		return GenerationResult{}, err
	}
	if len(availableHosts) == 0 {
		tried := make([]string, len(r.hosts))
		for i, h := range r.hosts {
			tried[i] = h.ID
		}
		return GenerationResult{}, &errs.NoAvailableHost{Tried: tried}
	}
	targetHost := availableHosts[0]

	sceneProfile, err := r.buildSceneProfile()
	if err != nil {
		return GenerationResult{}, err
	}
	plan, err := parallel.Plan(sceneProfile, targetHost, r.rng.ForSubsystem(genName+"/parallel"))
	if err != nil {
		return GenerationResult{}, err
	}

	individuals, rows, recurrences, err := r.generatePopulation(genName)
	if err != nil {
		return GenerationResult{}, err
	}

	info := store.GenerationInfo{
		Name: genName, Index: genIndex, Method: r.cfg.Method,
		WavelengthGridLevel: r.cfg.WavelengthGridLevel,
		RepresentationName:  r.cfg.RepresentationName,
		NPackages:           r.cfg.NPackages,
		SelfAbsorption:      r.cfg.SelfAbsorption,
		TransientHeating:    r.cfg.TransientHeating,
		NSimulations:        len(individuals),
		CreationTime:        time.Now(),
	}
	if err := r.st.CreateGeneration(info); err != nil {
		return GenerationResult{}, err
	}

	if len(individuals) == 0 {
		// spec.md §4.D: zero non-recurrent individuals -> "empty" terminal state.
		logrus.Infof("[run] generation %s produced zero non-recurrent individuals (empty)", genName)
		if err := r.st.Finalize(genName, time.Now()); err != nil {
			return GenerationResult{}, err
		}
		return GenerationResult{Info: info}, nil
	}
	// spec.md §8: "every chi-squared row's simulation_name appears in
	// parameters" — write every individual's parameters, recurrent and
	// not, before Launch submits anything.
	for _, row := range rows {
		if err := r.st.AppendParameters(genName, row.IndividualName, row.Values); err != nil {
			return GenerationResult{}, err
		}
	}

	for _, rec := range recurrences {
		if err := r.st.AppendIndividual(genName, rec.Individual.Name, rec.Individual.Name); err != nil {
			return GenerationResult{}, err
		}
		if err := r.st.AppendParameters(genName, rec.Individual.Name, vectorValues(rec.Individual.Vector)); err != nil {
			return GenerationResult{}, err
		}
		if err := r.st.AppendChiSquared(genName, rec.Individual.Name, rec.ReusedChiSquared); err != nil {
			return GenerationResult{}, err
		}
	}

	target := r.buildTarget(targetHost, plan, sceneProfile)

	submissions := make([]launch.Submission, len(individuals))
	for i, ind := range individuals {
		submissions[i] = launch.Submission{Individual: ind, Target: target}
	}

	records, err := r.launcher.Launch(ctx, genName, submissions)
	if err != nil {
		return GenerationResult{}, err
	}

	records, err = r.sync.Poll(ctx, records)
	if err != nil {
		return GenerationResult{}, err
	}
	if targetHost.IsLocal() {
		for i := range records {
			if records[i].LastStatus != store.StatusFinished {
				continue
			}
			chi2, err := r.sync.Analyser.Analyse(ctx, records[i], filepath.Join(r.launcher.WorkDir, records[i].SimulationName))
			if err != nil {
				logrus.Warnf("[run] analysing %s: %v", records[i].SimulationName, err)
				continue
			}
			records[i].Score, records[i].LastStatus = chi2, store.StatusAnalyzed
		}
	}

	r.absorbTimingHistory(targetHost, plan, sceneProfile, records)

	for _, rec := range records {
		if rec.LastStatus == store.StatusAnalyzed {
			if err := r.st.AppendChiSquared(genName, rec.SimulationName, rec.Score); err != nil {
				return GenerationResult{}, err
			}
		}
	}

	if err := r.st.Finalize(genName, time.Now()); err != nil {
		return GenerationResult{}, err
	}

	if r.cfg.Method == store.MethodGenetic {
		if err := r.saveMainState(genName); err != nil {
			return GenerationResult{}, err
		}
	}

	return GenerationResult{
		Info:    info,
		Records: records,
		Report:  remotesync.Report(records),
	}, nil
}

// buildTarget picks a generation's submission target for a host: local
// simulations run in-process, a scheduler-fronted host gets a scheduler
// job (optionally grouped per Config.Group), and any other remote host
// runs its simulations via direct exec over the same session opener.
func (r *FittingRun) buildTarget(h host.HostSpec, plan parallel.Parallelization, profile parallel.SceneProfile) launch.Target {
	target := launch.Target{Host: h.ID, Parallelization: plan}
	if h.IsLocal() {
		target.Mode = launch.ModeLocal
		return target
	}

	target.Opener = r.openers[h.ID]
	wallTime := r.estimateWallTime(h, plan, profile)
	if h.Scheduler {
		target.Mode = launch.ModeScheduler
		target.Scheduler = launch.SchedulerOptions{
			WallTime:     wallTime,
			NodesPerJob:  h.Nodes,
			Group:        r.cfg.Group,
			SafetyFactor: 1.2,
		}
	} else {
		target.Mode = launch.ModeRemoteDirect
	}
	return target
}

// estimateWallTime asks the runtime estimator (Component C) for this
// host/parallelization's predicted wall-time, falling back to a
// conservative default when the timing table has no matching sample yet
// (a fresh fitting run's estimator starts empty; absorbTimingHistory
// grows it generation by generation). Estimation failures are advisory,
// not fatal — spec.md §7 only treats per-simulation and analyser
// failures as recorded state, not control-flow exceptions.
func (r *FittingRun) estimateWallTime(h host.HostSpec, plan parallel.Parallelization, profile parallel.SceneProfile) string {
	sig := "task_parallel"
	if plan.DataParallel {
		sig = "data_parallel"
	}
	seconds, err := r.estimator.Estimate(estimate.Query{
		Host:                     h.ID,
		Cluster:                  h.ID,
		ParallelizationSignature: sig,
		Packages:                 r.cfg.NPackages,
		NWavelengths:             profile.NWavelengths,
		TotalCores:               plan.TotalCores,
	})
	if err != nil {
		logrus.Debugf("[run] no timing sample for host %s yet, using default wall-time %s", h.ID, defaultSchedulerWallTime)
		return defaultSchedulerWallTime
	}
	return formatWallTime(seconds)
}

// absorbTimingHistory feeds each finished remote simulation's observed
// wall-time back into the estimator, so later generations on the same
// host get a real prediction instead of the default fallback.
func (r *FittingRun) absorbTimingHistory(h host.HostSpec, plan parallel.Parallelization, profile parallel.SceneProfile, records []store.SimulationRecord) {
	if h.IsLocal() {
		return
	}
	sig := "task_parallel"
	if plan.DataParallel {
		sig = "data_parallel"
	}
	for _, rec := range records {
		if rec.RetrievalTime.IsZero() || rec.SubmissionTime.IsZero() {
			continue
		}
		wall := rec.RetrievalTime.Sub(rec.SubmissionTime).Seconds()
		if wall <= 0 {
			continue
		}
		r.estimator.Add(estimate.Row{
			Host:                     h.ID,
			Cluster:                  h.ID,
			ParallelizationSignature: sig,
			Packages:                 r.cfg.NPackages,
			NWavelengths:             profile.NWavelengths,
			WallSeconds:              wall,
		})
	}
}

// formatWallTime renders a seconds count as a scheduler-style HH:MM:SS
// wall-time request, rounded up to the next full minute.
func formatWallTime(seconds float64) string {
	total := int(math.Ceil(seconds/60)) * 60
	if total < 60 {
		total = 60
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (r *FittingRun) buildSceneProfile() (parallel.SceneProfile, error) {
	dim, err := r.scene.DustLibraryDimension()
	if err != nil {
		return parallel.SceneProfile{}, err
	}
	est, err := scene.EstimateMemory(r.scene, 1000, 200, 0)
	if err != nil {
		return parallel.SceneProfile{}, err
	}
	nwave, ok, err := r.scene.WavelengthCount()
	if err != nil {
		return parallel.SceneProfile{}, err
	}
	if !ok {
		nwave = r.cfg.NWavelengthsOverride
	}
	return parallel.SceneProfile{
		SerialBytes:   est.Serial.Value,
		ParallelBytes: est.Parallel.Value,
		NWavelengths:  nwave,
		DustLibDim:    dim,
	}, nil
}

func (r *FittingRun) generatePopulation(genName string) ([]generate.Individual, []generate.ModelParametersRow, []generate.Recurrence, error) {
	if r.cfg.Method == store.MethodGrid {
		// Smallest per-label point count whose Cartesian product covers
		// NSimulations; the generator truncates the product to that size.
		perLabel := 1
		for math.Pow(float64(perLabel), float64(len(r.cfg.Ranges))) < float64(r.cfg.NSimulations) {
			perLabel++
		}
		npoints := make(map[string]int, len(r.cfg.Ranges))
		for label := range r.cfg.Ranges {
			npoints[label] = perLabel
		}
		individuals, rows, err := generate.GridGenerator{NamePrefix: genName}.Generate(r.cfg.Ranges, r.cfg.Scales, npoints, r.cfg.NSimulations)
		return individuals, rows, nil, err
	}

	g := generate.GeneticGenerator{Config: r.cfg.Genetic, RNG: r.rng}
	g.Config.PopulationSize = r.cfg.NSimulations
	elites := r.eliteHistory()
	individuals, rows, recurrences, err := g.Generate(genName, r.cfg.Ranges, r.cfg.Scales, r.cfg.FixedInitial, elites, r.history)
	return individuals, rows, recurrences, err
}

// mainStateSnapshot is the yaml wire format for a finalized genetic
// generation's main-state files (spec.md §3/§4.E: "main_engine/main_prng/
// main_optimizer_config equals the last finalized genetic generation's
// snapshot").
type mainStateSnapshot struct {
	Genetic      generate.GeneticConfig `yaml:"genetic"`
	Ranges       map[string]generate.Range `yaml:"ranges"`
	Scales       map[string]generate.Scale `yaml:"scales"`
	FixedInitial map[string][]float64      `yaml:"fixed_initial"`
}

// saveMainState snapshots the GA engine config with the free-parameter
// ranges/scales/fixed initial values, the run's PRNG seed, and the
// optimizer's generation and simulation counts to genName's main-state
// files, so RestartFrom can later rewind to exactly this generation.
func (r *FittingRun) saveMainState(genName string) error {
	engine, err := yaml.Marshal(mainStateSnapshot{
		Genetic:      r.cfg.Genetic,
		Ranges:       r.cfg.Ranges,
		Scales:       r.cfg.Scales,
		FixedInitial: r.cfg.FixedInitial,
	})
	if err != nil {
		return fmt.Errorf("run: encoding engine state: %w", err)
	}
	prng, err := yaml.Marshal(struct {
		Seed generate.RunSeed `yaml:"seed"`
	}{Seed: r.cfg.Seed})
	if err != nil {
		return fmt.Errorf("run: encoding prng state: %w", err)
	}
	optimizerConfig, err := yaml.Marshal(struct {
		NGenerations int `yaml:"ngenerations"`
		NSimulations int `yaml:"nsimulations"`
	}{NGenerations: r.cfg.NGenerations, NSimulations: r.cfg.NSimulations})
	if err != nil {
		return fmt.Errorf("run: encoding optimizer config: %w", err)
	}
	return r.st.SaveMainState(genName, engine, prng, optimizerConfig)
}

// vectorValues flattens a parameter vector to the plain-float map the
// store's parameters table expects.
func vectorValues(vec generate.ParameterVector) map[string]float64 {
	out := make(map[string]float64, len(vec.Labels()))
	for _, label := range vec.Labels() {
		if q, ok := vec.Get(label); ok {
			out[label] = q.Value
		}
	}
	return out
}

// eliteHistory returns the previous generation's scored individuals,
// best-first, for tournament selection.
func (r *FittingRun) eliteHistory() []generate.ScoredIndividual {
	if len(r.results) == 0 {
		return nil
	}
	last := r.results[len(r.results)-1]
	out := make([]generate.ScoredIndividual, 0, len(last.Records))
	for _, rec := range last.Records {
		if rec.LastStatus != store.StatusAnalyzed {
			continue
		}
		vec := generate.NewParameterVector(sortedKeys(rec.ParameterValues))
		for label, v := range rec.ParameterValues {
			rng := r.cfg.Ranges[label]
			vec.Set(label, rng.Quantity(v))
		}
		out = append(out, generate.ScoredIndividual{
			Individual: generate.Individual{Name: rec.IndividualName, Vector: vec},
			ChiSquared: rec.Score,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChiSquared < out[j].ChiSquared })
	return out
}

func (r *FittingRun) absorbHistory(result GenerationResult) {
	for _, rec := range result.Records {
		if rec.LastStatus != store.StatusAnalyzed {
			continue
		}
		vec := generate.NewParameterVector(sortedKeys(rec.ParameterValues))
		for label, v := range rec.ParameterValues {
			rng := r.cfg.Ranges[label]
			vec.Set(label, rng.Quantity(v))
		}
		r.history = append(r.history, generate.ScoredIndividual{
			Individual: generate.Individual{Name: rec.IndividualName, Vector: vec},
			ChiSquared: rec.Score,
		})
	}
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
