package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

func newOrphanStore(t *testing.T, genName string, simNames ...string) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.CreateGeneration(store.GenerationInfo{Name: genName, CreationTime: time.Now()}))

	simsDir := filepath.Join(dir, "generations", genName, "simulations")
	for _, name := range simNames {
		require.NoError(t, os.MkdirAll(filepath.Join(simsDir, name), 0o755))
	}
	return st
}

func TestPendingRecords_SingleHostDefaultsAssignment(t *testing.T) {
	st := newOrphanStore(t, "gen0", "gen0_1", "gen0_2")
	hosts := []host.HostSpec{{ID: "hpc01"}}

	records, err := pendingRecords(st, hosts, nil)

	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "hpc01", rec.AssignedHost)
		assert.Equal(t, store.StatusQueued, rec.LastStatus)
	}
}

func TestPendingRecords_ExplicitIDsOverrideAssignment(t *testing.T) {
	st := newOrphanStore(t, "gen0", "gen0_1", "gen0_2")
	hosts := []host.HostSpec{{ID: "hpc01"}, {ID: "hpc02"}}

	records, err := pendingRecords(st, hosts, []string{"hpc01:1-1", "hpc02:2-2"})
	require.NoError(t, err)

	byName := make(map[string]string, len(records))
	for _, rec := range records {
		byName[rec.SimulationName] = rec.AssignedHost
	}
	assert.Equal(t, "hpc01", byName["gen0_1"])
	assert.Equal(t, "hpc02", byName["gen0_2"])
}

func TestPendingRecords_AmbiguousWithoutIDsErrors(t *testing.T) {
	st := newOrphanStore(t, "gen0", "gen0_1")
	hosts := []host.HostSpec{{ID: "hpc01"}, {ID: "hpc02"}}

	_, err := pendingRecords(st, hosts, nil)
	assert.Error(t, err)
}

func TestPendingRecords_NoOrphansReturnsEmpty(t *testing.T) {
	st := newOrphanStore(t, "gen0")
	hosts := []host.HostSpec{{ID: "hpc01"}}

	records, err := pendingRecords(st, hosts, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}
