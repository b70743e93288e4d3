// Package parallel implements the parallelization planner (Component B):
// given a scene's memory/wavelength/dust-library profile and a host's
// hardware layout, it chooses a deterministic (processes, threads,
// data-parallel) scheme, modulo one random divisor pick in the
// memory-doesn't-fit-on-one-node case.
package parallel

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/skirt-explorer/skirt-explorer/explore/errs"
	"github.com/skirt-explorer/skirt-explorer/explore/host"
)

// Parallelization is the planner's output. Invariants (spec.md §3):
// TotalCores = Processes * ThreadsPerProcess / ThreadsPerCore;
// Processes >= 1; DataParallel implies NWavelengths >= 10*Processes.
// A scene that fits on one node can be planned data-parallel with a
// single process (case 2).
type Parallelization struct {
	TotalCores       int
	ThreadsPerCore   int
	ThreadsPerProcess int
	Processes        int
	DataParallel     bool
}

// SceneProfile is the subset of a scene's properties the planner needs,
// queried through explore/scene's SceneTemplate accessors by the caller.
type SceneProfile struct {
	SerialBytes   float64
	ParallelBytes float64
	NWavelengths  int
	DustLibDim    int
}

func (p SceneProfile) totalBytes() float64 { return p.SerialBytes + p.ParallelBytes }

// maxDivisorTries bounds the retry loop in case 3 that looks for a
// divisor giving data-parallel eligibility.
const maxDivisorTries = 8

// Plan chooses a Parallelization for the given scene on the given host,
// following spec.md §4.B's four cases. rng supplies the single random
// choice in case 3 (the divisor pick); callers should derive it from the
// run's partitioned RNG for determinism.
func Plan(scene SceneProfile, h host.HostSpec, rng *rand.Rand) (Parallelization, error) {
	if !h.MPI {
		return planNoMPI(h), nil
	}
	if h.Cluster == nil {
		return Parallelization{}, &errs.ConfigurationError{Reason: "MPI host " + h.ID + " has no cluster spec"}
	}

	nodeMemBytes := h.Cluster.MemoryPerNodeGB * 1e9
	if scene.totalBytes() <= nodeMemBytes {
		return planFitsOnNode(scene, h)
	}
	if h.Nodes > 1 {
		return planSplitAcrossNodes(scene, h, nodeMemBytes, rng)
	}
	return Parallelization{}, &errs.InsufficientMemory{RequiredBytes: scene.totalBytes(), AvailableBytes: nodeMemBytes}
}

// planNoMPI implements case 1: no MPI available.
func planNoMPI(h host.HostSpec) Parallelization {
	cores := 12
	if h.Cluster != nil {
		cores = minInt(h.Cluster.Cores(), 12)
	}
	threadsPerCore := 1
	if h.Cluster != nil {
		threadsPerCore = h.Cluster.ThreadsPerCore()
	}
	p := Parallelization{
		TotalCores:        cores,
		ThreadsPerCore:    threadsPerCore,
		ThreadsPerProcess: cores * threadsPerCore,
		Processes:         1,
		DataParallel:      false,
	}
	logrus.Debugf("[parallel] host %s: no MPI, using %d cores serial", h.ID, cores)
	return p
}

// planFitsOnNode implements case 2: MPI available, one copy of the
// scene's memory requirement fits on a single node.
func planFitsOnNode(scene SceneProfile, h host.HostSpec) (Parallelization, error) {
	nodeMemBytes := h.Cluster.MemoryPerNodeGB * 1e9
	socketCores := h.Cluster.Cores()

	processesPerNode := int(math.Floor(math.Min(nodeMemBytes/scene.totalBytes(), float64(socketCores))))
	if processesPerNode < 1 {
		processesPerNode = 1
	}
	processes := processesPerNode * h.Nodes
	coresPerProcess := socketCores / processesPerNode
	if coresPerProcess < 1 {
		coresPerProcess = 1
	}
	totalCores := processes * coresPerProcess

	dataParallel := scene.NWavelengths >= 10*processes && scene.DustLibDim == 3
	threadsPerCore := h.Cluster.ThreadsPerCore()

	p := Parallelization{
		TotalCores:        totalCores,
		ThreadsPerCore:    threadsPerCore,
		ThreadsPerProcess: coresPerProcess * threadsPerCore,
		Processes:         processes,
		DataParallel:      dataParallel,
	}
	logrus.Debugf("[parallel] host %s: scene fits on node, %d processes x %d cores/process, data_parallel=%v",
		h.ID, processes, coresPerProcess, dataParallel)
	return p, nil
}

// planSplitAcrossNodes implements case 3: the scene's memory requirement
// exceeds one node's memory but multiple nodes are available to split
// the parallel-memory term across.
func planSplitAcrossNodes(scene SceneProfile, h host.HostSpec, nodeMemBytes float64, rng *rand.Rand) (Parallelization, error) {
	requiredPerProcess := scene.SerialBytes + scene.ParallelBytes/float64(h.Nodes)
	if requiredPerProcess > nodeMemBytes {
		return Parallelization{}, &errs.InsufficientMemory{RequiredBytes: requiredPerProcess, AvailableBytes: nodeMemBytes}
	}

	cores := h.Cluster.CoresPerSocket
	divisors := divisorsOf(cores)
	socketCores := h.Cluster.Cores()
	threadsPerCore := h.Cluster.ThreadsPerCore()
	totalCores := h.Nodes * socketCores

	// coresPerProcess is the physical-core count assigned per MPI rank
	// (spec.md's "threads/process = min(C, d)"); the struct's
	// ThreadsPerProcess is expressed in actual threads so that the
	// Parallelization invariant (total_cores = processes *
	// threads_per_process / threads_per_core) holds uniformly whether or
	// not hyperthreading is enabled.
	buildFor := func(coresPerProcess int) Parallelization {
		processes := totalCores / coresPerProcess
		if processes < 1 {
			processes = 1
		}
		return Parallelization{
			TotalCores:        totalCores,
			ThreadsPerCore:    threadsPerCore,
			ThreadsPerProcess: coresPerProcess * threadsPerCore,
			Processes:         processes,
			DataParallel:      false,
		}
	}

	tried := make(map[int]bool, maxDivisorTries)
	var fallback Parallelization
	for attempt := 0; attempt < maxDivisorTries && len(tried) < len(divisors); attempt++ {
		d := divisors[rng.Intn(len(divisors))]
		if tried[d] {
			continue
		}
		tried[d] = true

		coresPerProcess := minInt(cores, d)
		if coresPerProcess < 1 {
			coresPerProcess = 1
		}
		p := buildFor(coresPerProcess)
		if attempt == 0 {
			fallback = p
		}

		if scene.NWavelengths >= 10*p.Processes {
			p.DataParallel = true
			logrus.Debugf("[parallel] host %s: split across %d nodes, divisor=%d, data_parallel=true", h.ID, h.Nodes, d)
			return p, nil
		}
	}

	logrus.Debugf("[parallel] host %s: split across %d nodes, exhausted divisor retries, data_parallel=false", h.ID, h.Nodes)
	return fallback, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// divisorsOf returns every positive divisor of n, sorted ascending.
func divisorsOf(n int) []int {
	if n <= 0 {
		return []int{1}
	}
	var out []int
	for i := 1; i*i <= n; i++ {
		if n%i == 0 {
			out = append(out, i)
			if j := n / i; j != i {
				out = append(out, j)
			}
		}
	}
	// simple insertion sort; divisor sets are small
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
