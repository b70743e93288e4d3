package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	calls     int
	responses map[string]bool
}

func (p *fakeProber) Probe(ctx context.Context, h HostSpec, timeout time.Duration) bool {
	p.calls++
	return p.responses[h.ID]
}

func TestInventory_ListHostsPreservesOrder(t *testing.T) {
	inv := NewInventory(&fakeProber{}, HostSpec{ID: "local"}, HostSpec{ID: "hpc01"}, HostSpec{ID: "hpc02"})

	ids := []string{}
	for _, h := range inv.ListHosts() {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"local", "hpc01", "hpc02"}, ids)
}

func TestInventory_HostUnknown(t *testing.T) {
	inv := NewInventory(&fakeProber{})
	_, err := inv.Host("nope")
	assert.Error(t, err)
}

func TestInventory_IsAvailable_LocalAlwaysTrue(t *testing.T) {
	prober := &fakeProber{responses: map[string]bool{}}
	inv := NewInventory(prober, HostSpec{ID: "local"})

	ok, err := inv.IsAvailable(context.Background(), "local")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, prober.calls, "local host must not be probed")
}

func TestInventory_IsAvailable_CachesPerRun(t *testing.T) {
	prober := &fakeProber{responses: map[string]bool{"hpc01": true}}
	inv := NewInventory(prober, HostSpec{ID: "hpc01", Login: &LoginInfo{Addr: "hpc01.example.org"}})

	for i := 0; i < 5; i++ {
		ok, err := inv.IsAvailable(context.Background(), "hpc01")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, prober.calls, "probe result must be cached across repeated calls")
}

func TestInventory_AvailableHosts_FiltersUnreachable(t *testing.T) {
	prober := &fakeProber{responses: map[string]bool{"hpc01": true, "hpc02": false}}
	inv := NewInventory(prober,
		HostSpec{ID: "local"},
		HostSpec{ID: "hpc01", Login: &LoginInfo{Addr: "a"}},
		HostSpec{ID: "hpc02", Login: &LoginInfo{Addr: "b"}},
	)

	avail, err := inv.AvailableHosts(context.Background())
	require.NoError(t, err)

	ids := []string{}
	for _, h := range avail {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"local", "hpc01"}, ids)
}

func TestClusterSpec_ThreadsPerCore(t *testing.T) {
	c := ClusterSpec{Hyperthreading: false, HyperthreadDepth: 2}
	assert.Equal(t, 1, c.ThreadsPerCore())

	c.Hyperthreading = true
	assert.Equal(t, 2, c.ThreadsPerCore())
}

func TestClusterSpec_Cores(t *testing.T) {
	c := ClusterSpec{SocketsPerNode: 2, CoresPerSocket: 12}
	assert.Equal(t, 24, c.Cores())
}

func TestParseInventory(t *testing.T) {
	data := []byte(`
hosts:
  - id: local
  - id: hpc01
    addr: hpc01.example.org
    user: fitter
    scheduler: true
    mpi: true
    nodes: 4
    cluster:
      sockets_per_node: 2
      cores_per_socket: 12
      memory_per_node_gb: 64
      hyperthreading: true
      hyperthread_depth: 2
`)
	hosts, err := ParseInventory(data)
	require.NoError(t, err)
	require.Len(t, hosts, 2)

	assert.Equal(t, "local", hosts[0].ID)
	assert.True(t, hosts[0].IsLocal())
	assert.Equal(t, 1, hosts[0].Nodes)

	hpc := hosts[1]
	assert.Equal(t, "hpc01", hpc.ID)
	assert.False(t, hpc.IsLocal())
	assert.True(t, hpc.Scheduler)
	assert.True(t, hpc.MPI)
	assert.Equal(t, 4, hpc.Nodes)
	require.NotNil(t, hpc.Cluster)
	assert.Equal(t, 24, hpc.Cluster.Cores())
}

func TestParseInventory_DuplicateID(t *testing.T) {
	data := []byte(`
hosts:
  - id: dup
  - id: dup
`)
	_, err := ParseInventory(data)
	assert.Error(t, err)
}

func TestParseInventory_MissingID(t *testing.T) {
	data := []byte(`
hosts:
  - addr: foo
`)
	_, err := ParseInventory(data)
	assert.Error(t, err)
}
