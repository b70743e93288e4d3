package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skirt-explorer/skirt-explorer/explore/host"
)

func TestShellProber_ProbeSucceedsOnCleanExit(t *testing.T) {
	session := NewFakeSession()
	p := ShellProber{Openers: map[string]Opener{"hpc01": FakeOpener{Session: session}}}
	ok := p.Probe(context.Background(), host.HostSpec{ID: "hpc01"}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, []string{"true"}, session.Commands)
}

func TestShellProber_ProbeFailsOnNonZeroExit(t *testing.T) {
	session := NewFakeSession()
	session.RunFunc = func(ctx context.Context, cmd string) (CommandResult, error) {
		return CommandResult{ExitCode: 1}, nil
	}
	p := ShellProber{Openers: map[string]Opener{"hpc01": FakeOpener{Session: session}}}
	ok := p.Probe(context.Background(), host.HostSpec{ID: "hpc01"}, time.Second)
	assert.False(t, ok)
}

func TestShellProber_ProbeFailsOnUnknownHost(t *testing.T) {
	p := ShellProber{Openers: map[string]Opener{}}
	ok := p.Probe(context.Background(), host.HostSpec{ID: "unknown"}, time.Second)
	assert.False(t, ok)
}
