// Package launch implements the simulation launcher (Component F): it
// materializes scene files, assembles SimulationInputs, enqueues
// SimulationRecords, and submits them locally (bounded worker pool),
// remotely via direct exec, or to a remote batch scheduler.
package launch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skirt-explorer/skirt-explorer/explore/generate"
	"github.com/skirt-explorer/skirt-explorer/explore/parallel"
	"github.com/skirt-explorer/skirt-explorer/explore/remote"
	"github.com/skirt-explorer/skirt-explorer/explore/scene"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
	"github.com/skirt-explorer/skirt-explorer/explore/units"
)

// SimulationInput is the full file set a simulation needs besides its
// materialized scene file.
type SimulationInput struct {
	SharedMapFiles       []string
	WavelengthGridFile   string
	DustGridTreeFile     string // empty when no file-tree dust grid is in use
}

// SubmissionMode selects how a simulation reaches its assigned host.
type SubmissionMode int

const (
	ModeLocal SubmissionMode = iota
	ModeRemoteDirect
	ModeScheduler
)

// SchedulerOptions configures scheduler job-script generation.
type SchedulerOptions struct {
	WallTime     string // negotiated wall-time, e.g. "04:00:00"
	NodesPerJob  int
	Group        bool // pack multiple simulations into one job
	SafetyFactor float64
}

// Target describes where and how one simulation is submitted.
type Target struct {
	Host            string
	Mode            SubmissionMode
	Parallelization parallel.Parallelization
	Opener          remote.Opener // nil for ModeLocal
	Scheduler       SchedulerOptions
}

// Launcher is Component F: given a scene, a population, and per-host
// targets, it produces and submits SimulationRecords.
type Launcher struct {
	Store         *store.Store
	Scene         *scene.SceneTemplate
	Input         SimulationInput
	WorkDir       string // local staging directory for materialized scenes
	LocalWorkers  int    // bounded-parallelism worker pool size for ModeLocal
	DryRun        bool
	// LocalRun executes a materialized scene locally (e.g. invoking the
	// external simulator binary); tests substitute a fake.
	LocalRun func(ctx context.Context, simDir string) error
}

// Submission pairs an Individual with the Target it will run on.
type Submission struct {
	Individual generate.Individual
	Target     Target
}

// Launch materializes, enqueues and submits every submission, returning
// the resulting SimulationRecords in submission order.
func (l *Launcher) Launch(ctx context.Context, generationName string, submissions []Submission) ([]store.SimulationRecord, error) {
	records := make([]store.SimulationRecord, len(submissions))
	for i, sub := range submissions {
		rec, err := l.prepare(generationName, sub)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}

	if l.DryRun {
		for i := range records {
			records[i].LastStatus = store.StatusDry
			if err := l.persist(generationName, records[i]); err != nil {
				return nil, err
			}
		}
		logrus.Infof("[launch] dry run: %d simulations recorded without submission", len(records))
		return records, nil
	}

	// Persist every individuals-table row before any submission (spec.md
	// §5: "appends to the individuals/parameters table precede any
	// submission of that simulation" — the caller appends parameters
	// before calling Launch at all), so a crash mid-submission never
	// leaves a running/queued simulation with no store row.
	for i := range records {
		if err := l.persist(generationName, records[i]); err != nil {
			return nil, err
		}
	}

	var local []int
	byHost := make(map[string][]int)
	for i, sub := range submissions {
		if sub.Target.Mode == ModeLocal {
			local = append(local, i)
		} else {
			byHost[sub.Target.Host] = append(byHost[sub.Target.Host], i)
		}
	}

	if len(local) > 0 {
		if err := l.submitLocal(ctx, submissions, records, local); err != nil {
			return nil, err
		}
	}
	for host, indices := range byHost {
		if err := l.submitToHost(ctx, host, submissions, records, indices); err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (l *Launcher) prepare(generationName string, sub Submission) (store.SimulationRecord, error) {
	simName := sub.Individual.Name
	values := make(map[string]units.Quantity, len(sub.Individual.Vector.Labels()))
	raw := make(map[string]float64, len(sub.Individual.Vector.Labels()))
	for _, label := range sub.Individual.Vector.Labels() {
		q, ok := sub.Individual.Vector.Get(label)
		if !ok {
			continue
		}
		values[label] = q
		raw[label] = q.Value
	}

	materialized, err := l.Scene.Substitute(values)
	if err != nil {
		return store.SimulationRecord{}, fmt.Errorf("launch: materializing scene for %s: %w", simName, err)
	}

	simDir := filepath.Join(l.WorkDir, simName)
	if err := os.MkdirAll(simDir, 0o755); err != nil {
		return store.SimulationRecord{}, fmt.Errorf("launch: creating simulation directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(simDir, "scene.ski"), materialized, 0o644); err != nil {
		return store.SimulationRecord{}, fmt.Errorf("launch: writing materialized scene: %w", err)
	}

	return store.SimulationRecord{
		SimulationName:  simName,
		IndividualName:  sub.Individual.Name,
		GenerationName:  generationName,
		ParameterValues: raw,
		AssignedHost:    sub.Target.Host,
		SubmissionTime:  now(),
		LastStatus:      store.StatusPending,
		LastStatusTime:  now(),
	}, nil
}

// persist writes the individuals-table row for rec. The parameters-table
// row is the caller's responsibility: the generator already produced the
// parameter values once, so the FittingRun appends them from that same
// data rather than have Launch recompute and write a second copy.
func (l *Launcher) persist(generationName string, rec store.SimulationRecord) error {
	return l.Store.AppendIndividual(generationName, rec.SimulationName, rec.IndividualName)
}

// submitLocal runs every local simulation through a bounded-parallelism
// worker pool: a buffered channel used as a counting semaphore, grounded
// on the corpus's semaphore-backed worker-pool shape.
func (l *Launcher) submitLocal(ctx context.Context, submissions []Submission, records []store.SimulationRecord, indices []int) error {
	workers := l.LocalWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, i := range indices {
		i := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			records[i].LastStatus = store.StatusQueued
			records[i].LastStatusTime = now()
			simDir := filepath.Join(l.WorkDir, submissions[i].Individual.Name)
			if l.LocalRun != nil {
				records[i].LastStatus = store.StatusRunning
				if err := l.LocalRun(gctx, simDir); err != nil {
					records[i].LastStatus = store.StatusCrashed
					return nil
				}
				records[i].LastStatus = store.StatusFinished
			}
			records[i].LastStatusTime = now()
			return nil
		})
	}
	return g.Wait()
}

// submitToHost submits every remote submission for one host, serially
// within the host (the remote.Session contract does not promise
// concurrent safety), either as direct-exec invocations or as a single
// grouped scheduler job.
func (l *Launcher) submitToHost(ctx context.Context, host string, submissions []Submission, records []store.SimulationRecord, indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	target := submissions[indices[0]].Target
	opener := target.Opener
	if opener == nil {
		return fmt.Errorf("launch: host %q has no session opener configured", host)
	}
	session, err := opener.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("launch: opening session to %s: %w", host, err)
	}
	defer session.Close()

	if target.Mode == ModeScheduler && target.Scheduler.Group && len(indices) > 1 {
		return l.submitGrouped(ctx, session, submissions, records, indices, target.Scheduler)
	}

	for _, i := range indices {
		simName := submissions[i].Individual.Name
		script := jobScript(simName, submissions[i].Target)
		if _, err := session.RunCommand(ctx, script); err != nil {
			records[i].LastStatus = store.StatusAborted
			continue
		}
		records[i].LastStatus = store.StatusQueued
		records[i].LastStatusTime = now()
	}
	return nil
}

// submitGrouped packs every indexed simulation into a single scheduler
// job whose wall-time is the sum of per-simulation estimates plus a
// safety factor (spec.md §4.F's grouping rule).
func (l *Launcher) submitGrouped(ctx context.Context, session remote.Session, submissions []Submission, records []store.SimulationRecord, indices []int, opts SchedulerOptions) error {
	names := make([]string, len(indices))
	for j, i := range indices {
		names[j] = submissions[i].Individual.Name
	}
	script := groupedJobScript(names, opts)
	if _, err := session.RunCommand(ctx, script); err != nil {
		for _, i := range indices {
			records[i].LastStatus = store.StatusAborted
		}
		return nil
	}
	for _, i := range indices {
		records[i].LastStatus = store.StatusQueued
		records[i].LastStatusTime = now()
	}
	return nil
}

func jobScript(simName string, target Target) string {
	return fmt.Sprintf("#!/bin/sh\n# simulation %s\n# wall-time %s, processes %d, threads/process %d\nrun_simulation %s\n",
		simName, target.Scheduler.WallTime, target.Parallelization.Processes, target.Parallelization.ThreadsPerProcess, simName)
}

func groupedJobScript(simNames []string, opts SchedulerOptions) string {
	out := "#!/bin/sh\n# grouped job\n"
	// Every grouped simulation shares opts.WallTime as its estimate, so the
	// job requests that estimate times the group size, scaled by
	// SafetyFactor (values below 1 count as 1).
	var h, m, s int
	if _, err := fmt.Sscanf(opts.WallTime, "%d:%d:%d", &h, &m, &s); err == nil {
		factor := opts.SafetyFactor
		if factor < 1 {
			factor = 1
		}
		total := int(float64((h*3600+m*60+s)*len(simNames)) * factor)
		out += fmt.Sprintf("# wall-time %02d:%02d:%02d\n", total/3600, (total%3600)/60, total%60)
	}
	for _, name := range simNames {
		out += fmt.Sprintf("run_simulation %s\n", name)
	}
	return out
}

// now is overridable in tests.
var now = time.Now
