package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ShellConfig configures a ShellOpener: how to wrap a remote command in a
// local exec invocation. The default targets a plain `ssh user@host`
// session; a scheduler host typically overrides Command to route through
// a job-submission wrapper script instead.
type ShellConfig struct {
	// Command is the executable invoked for every remote operation,
	// e.g. "ssh". Args is prepended to the per-call argument list
	// (e.g. []string{"-p", "2222", "user@host"}).
	Command string
	Args    []string
}

// ShellSession is the only Session implementation in this module: it
// shells out to an external remote-exec command (ssh by default) via
// os/exec for every operation. There is no embedded SSH client; sessions
// are "reconnectable" in the sense that every call is a fresh process,
// so a transient network failure on one call does not poison the next.
type ShellSession struct {
	cfg ShellConfig
}

// ShellOpener opens ShellSessions for a single configured remote host.
type ShellOpener struct {
	Config ShellConfig
}

func (o ShellOpener) OpenSession(ctx context.Context) (Session, error) {
	return &ShellSession{cfg: o.Config}, nil
}

func (s *ShellSession) run(ctx context.Context, args ...string) (CommandResult, error) {
	full := append(append([]string{}, s.cfg.Args...), args...)
	cmd := exec.CommandContext(ctx, s.cfg.Command, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("remote: invoking %s: %w", s.cfg.Command, err)
	}
	return result, nil
}

// RunCommand runs cmd as the remote command argument to the configured
// exec wrapper, e.g. `ssh user@host '<cmd>'`.
func (s *ShellSession) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	return s.run(ctx, cmd)
}

// Put shells out to scp-style transfer via the same command family,
// assuming s.cfg.Command supports a transfer subcommand named by
// convention ("scp" for an "ssh" session). Configurations that don't
// follow this convention should supply their own Opener.
func (s *ShellSession) Put(ctx context.Context, localPath, remotePath string) error {
	_, err := s.run(ctx, "put", localPath, remotePath)
	return err
}

func (s *ShellSession) Get(ctx context.Context, remotePath, localPath string) error {
	_, err := s.run(ctx, "get", remotePath, localPath)
	return err
}

func (s *ShellSession) RemoveDir(ctx context.Context, remotePath string) error {
	_, err := s.run(ctx, fmt.Sprintf("rm -rf %s", remotePath))
	return err
}

func (s *ShellSession) KillJob(ctx context.Context, jobID string) error {
	_, err := s.run(ctx, fmt.Sprintf("scancel %s", jobID))
	return err
}

func (s *ShellSession) StopJob(ctx context.Context, jobID string) error {
	_, err := s.run(ctx, fmt.Sprintf("scancel --signal=TERM %s", jobID))
	return err
}

// JobStatuses fetches every job's status with a single squeue invocation
// (spec.md §4.G forbids one remote call per simulation).
func (s *ShellSession) JobStatuses(ctx context.Context, jobIDs []string) (map[string]JobStatus, error) {
	if len(jobIDs) == 0 {
		return map[string]JobStatus{}, nil
	}
	result, err := s.run(ctx, fmt.Sprintf("squeue -j %s -h -o %%i\\ %%T", strings.Join(jobIDs, ",")))
	if err != nil {
		return nil, err
	}
	return parseSchedulerStatuses(result.Stdout), nil
}

func (s *ShellSession) Close() error { return nil }

func parseSchedulerStatus(raw string) JobStatus {
	switch strings.TrimSpace(strings.ToUpper(raw)) {
	case "PENDING", "CONFIGURING":
		return JobQueued
	case "RUNNING", "COMPLETING":
		return JobRunning
	case "COMPLETED":
		return JobFinished
	case "FAILED", "NODE_FAIL", "TIMEOUT":
		return JobCrashed
	case "CANCELLED":
		return JobCancelled
	case "":
		return JobAborted
	default:
		return JobAborted
	}
}

// parseSchedulerStatuses parses squeue -h -o "%i %T"'s one-line-per-job
// output into a job ID -> status map.
func parseSchedulerStatuses(raw string) map[string]JobStatus {
	statuses := make(map[string]JobStatus)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		statuses[fields[0]] = parseSchedulerStatus(fields[1])
	}
	return statuses
}
