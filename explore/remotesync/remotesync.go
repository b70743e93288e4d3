// Package remotesync implements the remote synchronizer (Component G):
// it polls remote hosts, transitions SimulationRecords through the
// status machine, retrieves finished artifacts, invokes the analyser,
// and reports per-host status counts. Grounded on the original
// RemoteSynchronizer's setup/retrieve/analyse/announce sequencing,
// adapted to poll hosts concurrently via errgroup.
package remotesync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skirt-explorer/skirt-explorer/explore/errs"
	"github.com/skirt-explorer/skirt-explorer/explore/remote"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

// Analyser scores a finished simulation's output, producing the
// chi-squared value the generation store persists.
type Analyser interface {
	Analyse(ctx context.Context, sim store.SimulationRecord, outputDir string) (chiSquared float64, err error)
}

// RetryPolicy bounds how many times a transient remote error is retried,
// and the backoff between attempts, before the affected simulation is
// marked aborted (spec.md §7's RemoteTransient handling).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Synchronizer polls a fixed set of remote hosts and drives their
// simulations' status transitions.
type Synchronizer struct {
	Openers  map[string]remote.Opener // host ID -> session opener
	Store    *store.Store
	Analyser Analyser
	Retry    RetryPolicy
	// LocalArtifactDir is where Retrieve copies finished simulation
	// output before Analyse reads it back.
	LocalArtifactDir string
	// KeepCrashedDirs, if false, removes a crashed simulation's remote
	// working directory (spec.md §7's SimulationCrashed handling).
	KeepCrashedDirs bool
}

// HostStatusCounts is one host's tally of simulation statuses, the
// per-host table spec.md §7 requires the runner to print after each
// generation (the supplemented Report feature).
type HostStatusCounts struct {
	Host   string
	Counts map[store.SimulationStatus]int
}

// Report builds the per-host status-count table for the given records,
// grouped by AssignedHost, in host-ID sorted order.
func Report(records []store.SimulationRecord) []HostStatusCounts {
	byHost := make(map[string]map[store.SimulationStatus]int)
	for _, r := range records {
		m, ok := byHost[r.AssignedHost]
		if !ok {
			m = make(map[store.SimulationStatus]int)
			byHost[r.AssignedHost] = m
		}
		m[r.LastStatus]++
	}
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	out := make([]HostStatusCounts, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, HostStatusCounts{Host: h, Counts: byHost[h]})
	}
	return out
}

// Poll drives one synchronization pass: for every record still in a
// non-terminal remote-facing status (queued/running), it queries the
// assigned host concurrently (one goroutine per host, polls within a
// host serialized) and advances the record's status, retrieving and
// analysing any simulation that finished. Returns the updated records.
func (s *Synchronizer) Poll(ctx context.Context, records []store.SimulationRecord) ([]store.SimulationRecord, error) {
	byHost := make(map[string][]int) // host -> indices into records
	for i, r := range records {
		if r.LastStatus == store.StatusQueued || r.LastStatus == store.StatusRunning {
			byHost[r.AssignedHost] = append(byHost[r.AssignedHost], i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for host, indices := range byHost {
		host, indices := host, indices
		g.Go(func() error {
			return s.pollHost(gctx, host, records, indices)
		})
	}
	if err := g.Wait(); err != nil {
		return records, err
	}
	return records, nil
}

func (s *Synchronizer) pollHost(ctx context.Context, host string, records []store.SimulationRecord, indices []int) error {
	opener, ok := s.Openers[host]
	if !ok {
		return &errs.ConfigurationError{Reason: fmt.Sprintf("no session opener configured for host %q", host)}
	}

	session, err := s.openWithRetry(ctx, opener)
	if err != nil {
		for _, i := range indices {
			records[i].LastStatus = store.StatusAborted
			records[i].LastStatusTime = now()
		}
		return nil
	}
	defer session.Close()

	simNames := make([]string, len(indices))
	for j, i := range indices {
		simNames[j] = records[i].SimulationName
	}

	// One batched call for every simulation on this host (spec.md §4.G:
	// "fetch status for all its simulations in one batch; never one per
	// simulation"), not a RunCommand round-trip per record.
	statuses, err := s.statusesWithRetry(ctx, session, simNames)
	if err != nil {
		for _, i := range indices {
			records[i].LastStatus = store.StatusAborted
			records[i].LastStatusTime = now()
		}
		return nil
	}

	for _, i := range indices {
		rec := &records[i]
		jobStatus, ok := statuses[rec.SimulationName]
		if !ok {
			rec.LastStatus = store.StatusAborted
			rec.LastStatusTime = now()
			continue
		}
		if err := s.advance(ctx, session, rec, jobStatus); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) advance(ctx context.Context, session remote.Session, rec *store.SimulationRecord, jobStatus remote.JobStatus) error {
	next := statusFromJobStatus(jobStatus)
	if next == rec.LastStatus {
		return nil
	}
	if err := store.CheckTransition(rec.LastStatus, next); err != nil {
		logrus.Warnf("[remotesync] %s: %v, forcing aborted", rec.SimulationName, err)
		next = store.StatusAborted
	}
	rec.LastStatus = next
	rec.LastStatusTime = now()

	switch next {
	case store.StatusFinished:
		if err := s.retrieveOne(ctx, session, rec); err != nil {
			return err
		}
	case store.StatusCrashed:
		if !s.KeepCrashedDirs {
			_ = session.RemoveDir(ctx, rec.SimulationName)
		}
	}
	return nil
}

func statusFromJobStatus(js remote.JobStatus) store.SimulationStatus {
	switch js {
	case remote.JobQueued:
		return store.StatusQueued
	case remote.JobRunning:
		return store.StatusRunning
	case remote.JobFinished:
		return store.StatusFinished
	case remote.JobCrashed:
		return store.StatusCrashed
	case remote.JobCancelled:
		return store.StatusCancelled
	default:
		return store.StatusAborted
	}
}

func (s *Synchronizer) retrieveOne(ctx context.Context, session remote.Session, rec *store.SimulationRecord) error {
	localDir := s.LocalArtifactDir + "/" + rec.SimulationName
	if err := session.Get(ctx, rec.SimulationName, localDir); err != nil {
		return fmt.Errorf("remotesync: retrieving %s: %w", rec.SimulationName, err)
	}
	rec.RetrievalTime = now()
	rec.LastStatus = store.StatusRetrieved
	rec.LastStatusTime = now()

	chi2, err := s.Analyser.Analyse(ctx, *rec, localDir)
	if err != nil {
		return fmt.Errorf("remotesync: analysing %s: %w", rec.SimulationName, err)
	}
	rec.Score = chi2
	rec.LastStatus = store.StatusAnalyzed
	rec.LastStatusTime = now()
	return nil
}

func (s *Synchronizer) openWithRetry(ctx context.Context, opener remote.Opener) (remote.Session, error) {
	var lastErr error
	attempts := s.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		session, err := opener.OpenSession(ctx)
		if err == nil {
			return session, nil
		}
		lastErr = &errs.RemoteTransient{Host: "", Err: err}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Retry.delay(attempt)):
		}
	}
	return nil, lastErr
}

func (s *Synchronizer) statusesWithRetry(ctx context.Context, session remote.Session, simNames []string) (map[string]remote.JobStatus, error) {
	var lastErr error
	attempts := s.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		st, err := session.JobStatuses(ctx, simNames)
		if err == nil {
			return st, nil
		}
		lastErr = &errs.RemoteTransient{Host: "", Err: err}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Retry.delay(attempt)):
		}
	}
	return nil, lastErr
}

// now is overridable in tests; wall-clock time otherwise.
var now = time.Now
