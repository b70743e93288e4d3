package parallel

import (
	"math/rand"
	"testing"

	"github.com/skirt-explorer/skirt-explorer/explore/errs"
	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hpcHost(nodes int) host.HostSpec {
	return host.HostSpec{
		ID:  "hpc01",
		MPI: true,
		Nodes: nodes,
		Cluster: &host.ClusterSpec{
			SocketsPerNode:   2,
			CoresPerSocket:   12,
			MemoryPerNodeGB:  64,
			Hyperthreading:   false,
			HyperthreadDepth: 2,
		},
	}
}

func TestPlan_NoMPI(t *testing.T) {
	h := host.HostSpec{ID: "local", MPI: false, Cluster: &host.ClusterSpec{SocketsPerNode: 1, CoresPerSocket: 8}}
	p, err := Plan(SceneProfile{}, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Processes)
	assert.False(t, p.DataParallel)
	assert.Equal(t, 8, p.TotalCores)
}

func TestPlan_NoMPI_CapsAt12Cores(t *testing.T) {
	h := host.HostSpec{ID: "local", MPI: false, Cluster: &host.ClusterSpec{SocketsPerNode: 4, CoresPerSocket: 8}}
	p, err := Plan(SceneProfile{}, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 12, p.TotalCores)
}

// Scenario 3 from spec.md §8: scheduler host, S=2, C=12, Mn=64GiB;
// scene M_serial=10GiB, M_parallel=40GiB, L=200 wavelengths.
func TestPlan_FitsOnNode_Scenario3(t *testing.T) {
	h := hpcHost(1)
	scene := SceneProfile{
		SerialBytes:   10e9,
		ParallelBytes: 40e9,
		NWavelengths:  200,
		DustLibDim:    3,
	}
	p, err := Plan(scene, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, 1, p.Processes, "processes_per_node * N with N=1, processes_per_node=1")
	assert.Equal(t, 24, p.ThreadsPerProcess)
	assert.Equal(t, 24, p.TotalCores)
	assert.True(t, p.DataParallel)
}

func TestPlan_FitsOnNode_LowWavelengths_NotDataParallel(t *testing.T) {
	h := hpcHost(1)
	scene := SceneProfile{SerialBytes: 1e9, ParallelBytes: 1e9, NWavelengths: 5, DustLibDim: 3}
	p, err := Plan(scene, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.False(t, p.DataParallel)
}

// Scenario 4: same scene with M_parallel=200GiB, N=1 -> InsufficientMemory.
func TestPlan_InsufficientMemory_SingleNode(t *testing.T) {
	h := hpcHost(1)
	scene := SceneProfile{SerialBytes: 10e9, ParallelBytes: 200e9, NWavelengths: 200, DustLibDim: 3}
	_, err := Plan(scene, h, rand.New(rand.NewSource(1)))

	var im *errs.InsufficientMemory
	require.ErrorAs(t, err, &im)
}

func TestPlan_SplitAcrossNodes(t *testing.T) {
	h := hpcHost(4)
	scene := SceneProfile{SerialBytes: 10e9, ParallelBytes: 200e9, NWavelengths: 2000, DustLibDim: 3}
	p, err := Plan(scene, h, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	assert.Equal(t, p.Processes*p.ThreadsPerProcess/p.ThreadsPerCore, p.TotalCores)
	assert.LessOrEqual(t, p.TotalCores, h.Nodes*h.Cluster.Cores())
}

func TestPlan_SplitAcrossNodes_StillInsufficient(t *testing.T) {
	h := hpcHost(2)
	// Even split across 2 nodes, per-process memory still exceeds node memory.
	scene := SceneProfile{SerialBytes: 60e9, ParallelBytes: 400e9, NWavelengths: 2000, DustLibDim: 3}
	_, err := Plan(scene, h, rand.New(rand.NewSource(1)))

	var im *errs.InsufficientMemory
	require.ErrorAs(t, err, &im)
}

func TestPlan_FitsOnNode_HyperthreadingHoldsInvariant(t *testing.T) {
	h := hpcHost(1)
	h.Cluster.Hyperthreading = true
	h.Cluster.HyperthreadDepth = 2

	scene := SceneProfile{SerialBytes: 10e9, ParallelBytes: 40e9, NWavelengths: 200, DustLibDim: 3}
	p, err := Plan(scene, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, 2, p.ThreadsPerCore)
	assert.Equal(t, 24, p.TotalCores)
	assert.Equal(t, p.Processes*p.ThreadsPerProcess/p.ThreadsPerCore, p.TotalCores)
}

func TestDivisorsOf(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4, 6, 12}, divisorsOf(12))
	assert.Equal(t, []int{1}, divisorsOf(1))
}

func TestPlan_InvariantHolds_AcrossManySeeds(t *testing.T) {
	h := hpcHost(8)
	scene := SceneProfile{SerialBytes: 10e9, ParallelBytes: 400e9, NWavelengths: 5000, DustLibDim: 3}
	for seed := int64(0); seed < 50; seed++ {
		p, err := Plan(scene, h, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.Equal(t, p.Processes*p.ThreadsPerProcess/p.ThreadsPerCore, p.TotalCores)
		assert.LessOrEqual(t, p.TotalCores, h.Nodes*h.Cluster.Cores())
		assert.GreaterOrEqual(t, p.Processes, 1)
		if p.DataParallel {
			assert.Greater(t, p.Processes, 1)
			assert.GreaterOrEqual(t, scene.NWavelengths, 10*p.Processes)
		}
	}
}
