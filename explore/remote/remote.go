// Package remote implements the remote host interface (spec.md §6): a
// reconnectable session abstraction over shell command execution, file
// transfer, and scheduler job control. The only concrete implementation
// shells out via os/exec, since no SSH or remote-exec client library is
// wired by any example in the corpus — see DESIGN.md.
package remote

import (
	"context"
	"time"
)

// JobStatus mirrors the scheduler-facing subset of store.SimulationStatus
// that a remote host can report about a submitted job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobFinished  JobStatus = "finished"
	JobCrashed   JobStatus = "crashed"
	JobCancelled JobStatus = "cancelled"
	JobAborted   JobStatus = "aborted"
)

// CommandResult is the outcome of a single RunCommand call.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is a reconnectable remote execution/transfer session, per
// spec.md §6's remote host interface: open_session, run_command, put,
// get, remove_dir, kill_job, stop_job, job_status.
type Session interface {
	// RunCommand executes cmd on the remote host, honoring ctx's deadline.
	RunCommand(ctx context.Context, cmd string) (CommandResult, error)
	// Put copies a local file to a remote path.
	Put(ctx context.Context, localPath, remotePath string) error
	// Get copies a remote file to a local path.
	Get(ctx context.Context, remotePath, localPath string) error
	// RemoveDir recursively removes a remote directory.
	RemoveDir(ctx context.Context, remotePath string) error
	// KillJob forcibly terminates a remote job.
	KillJob(ctx context.Context, jobID string) error
	// StopJob requests a graceful stop of a remote job.
	StopJob(ctx context.Context, jobID string) error
	// JobStatuses queries every given job's current status in a single
	// remote call (spec.md §4.G: fetch status for all of a host's
	// simulations in one batch, never one call per simulation). Job IDs
	// absent from the returned map were not reported by the host.
	JobStatuses(ctx context.Context, jobIDs []string) (map[string]JobStatus, error)
	// Close releases any resources the session holds; reconnecting is
	// the caller's responsibility via OpenSession.
	Close() error
}

// Opener opens new Sessions against a single remote host.
type Opener interface {
	OpenSession(ctx context.Context) (Session, error)
}

// DefaultProbeTimeout is the same 10s that explore/host.Inventory.IsAvailable
// applies when HostSpec.ProbeTimeout is unset; no code in this module
// reads the constant.
const DefaultProbeTimeout = 10 * time.Second
