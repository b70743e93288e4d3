package remotesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirt-explorer/skirt-explorer/explore/remote"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

type fakeAnalyser struct {
	chi2 float64
	err  error
}

func (f fakeAnalyser) Analyse(ctx context.Context, sim store.SimulationRecord, outputDir string) (float64, error) {
	return f.chi2, f.err
}

func TestReport_GroupsByHostAndStatus(t *testing.T) {
	records := []store.SimulationRecord{
		{AssignedHost: "h1", LastStatus: store.StatusRunning},
		{AssignedHost: "h1", LastStatus: store.StatusFinished},
		{AssignedHost: "h2", LastStatus: store.StatusCrashed},
	}
	report := Report(records)
	require.Len(t, report, 2)
	assert.Equal(t, "h1", report[0].Host)
	assert.Equal(t, 1, report[0].Counts[store.StatusRunning])
	assert.Equal(t, 1, report[0].Counts[store.StatusFinished])
	assert.Equal(t, "h2", report[1].Host)
	assert.Equal(t, 1, report[1].Counts[store.StatusCrashed])
}

func TestSynchronizer_Poll_AdvancesFinishedToAnalyzed(t *testing.T) {
	session := remote.NewFakeSession()
	session.Statuses["sim0"] = remote.JobFinished

	dir := t.TempDir()
	sync := &Synchronizer{
		Openers:          map[string]remote.Opener{"h1": remote.FakeOpener{Session: session}},
		Analyser:         fakeAnalyser{chi2: 2.5},
		Retry:            RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		LocalArtifactDir: dir,
	}

	records := []store.SimulationRecord{
		{SimulationName: "sim0", AssignedHost: "h1", LastStatus: store.StatusRunning},
	}
	out, err := sync.Poll(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAnalyzed, out[0].LastStatus)
	assert.Equal(t, 2.5, out[0].Score)
}

func TestSynchronizer_Poll_MissingOpenerConfigurationError(t *testing.T) {
	sync := &Synchronizer{
		Openers: map[string]remote.Opener{},
		Retry:   RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}
	records := []store.SimulationRecord{
		{SimulationName: "sim0", AssignedHost: "missing", LastStatus: store.StatusQueued},
	}
	_, err := sync.Poll(context.Background(), records)
	assert.Error(t, err)
}

func TestSynchronizer_Poll_CrashedRemovesDirUnlessKept(t *testing.T) {
	session := remote.NewFakeSession()
	session.Statuses["sim0"] = remote.JobCrashed
	session.Files["sim0"] = []byte("leftover")

	sync := &Synchronizer{
		Openers: map[string]remote.Opener{"h1": remote.FakeOpener{Session: session}},
		Retry:   RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}
	records := []store.SimulationRecord{
		{SimulationName: "sim0", AssignedHost: "h1", LastStatus: store.StatusRunning},
	}
	out, err := sync.Poll(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCrashed, out[0].LastStatus)
	_, exists := session.Files["sim0"]
	assert.False(t, exists)
}
