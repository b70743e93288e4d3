package remote

import (
	"context"
	"sync"
)

// FakeSession is an in-memory Session used by tests throughout the
// module that need a remote host without shelling out.
type FakeSession struct {
	mu       sync.Mutex
	Commands []string
	Files    map[string][]byte
	Statuses map[string]JobStatus
	// RunFunc, if set, overrides the default canned-success behavior of
	// RunCommand so tests can script specific outputs/errors.
	RunFunc func(ctx context.Context, cmd string) (CommandResult, error)
}

// NewFakeSession returns a ready-to-use FakeSession.
func NewFakeSession() *FakeSession {
	return &FakeSession{Files: make(map[string][]byte), Statuses: make(map[string]JobStatus)}
}

func (f *FakeSession) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.mu.Unlock()
	if f.RunFunc != nil {
		return f.RunFunc(ctx, cmd)
	}
	return CommandResult{ExitCode: 0}, nil
}

func (f *FakeSession) Put(ctx context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[remotePath] = f.Files[localPath]
	return nil
}

func (f *FakeSession) Get(ctx context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[localPath] = f.Files[remotePath]
	return nil
}

func (f *FakeSession) RemoveDir(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.Files {
		if len(k) >= len(remotePath) && k[:len(remotePath)] == remotePath {
			delete(f.Files, k)
		}
	}
	return nil
}

func (f *FakeSession) KillJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[jobID] = JobAborted
	return nil
}

func (f *FakeSession) StopJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[jobID] = JobCancelled
	return nil
}

// JobStatuses reports every requested job's status in one call, the same
// batched shape ShellSession.JobStatuses exposes over a real scheduler.
func (f *FakeSession) JobStatuses(ctx context.Context, jobIDs []string) (map[string]JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]JobStatus, len(jobIDs))
	for _, id := range jobIDs {
		if s, ok := f.Statuses[id]; ok {
			out[id] = s
			continue
		}
		out[id] = JobQueued
	}
	return out, nil
}

func (f *FakeSession) Close() error { return nil }

// FakeOpener always returns the same FakeSession, letting a test inspect
// state accumulated across multiple OpenSession calls (spec.md's
// "sessions are reconnectable").
type FakeOpener struct {
	Session *FakeSession
}

func (o FakeOpener) OpenSession(ctx context.Context) (Session, error) {
	return o.Session, nil
}
