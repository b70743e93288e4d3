// Package host implements the host/cluster inventory: the set of compute
// targets (local machine, remote shell hosts, remote hosts fronted by a
// batch scheduler) available to a fitting run, along with a cached
// liveness probe.
package host

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClusterSpec describes one node's hardware layout. Immutable after load.
type ClusterSpec struct {
	SocketsPerNode    int
	CoresPerSocket    int
	MemoryPerNodeGB   float64
	HyperthreadDepth  int // threads per core when hyperthreading is enabled
	Hyperthreading    bool
}

// Cores returns the total physical cores available per node.
func (c ClusterSpec) Cores() int {
	return c.SocketsPerNode * c.CoresPerSocket
}

// ThreadsPerCore returns the effective thread count per core given the
// hyperthreading flag, matching the rule shared by planner cases 1-3.
func (c ClusterSpec) ThreadsPerCore() int {
	if c.Hyperthreading {
		return c.HyperthreadDepth
	}
	return 1
}

// LoginInfo carries the connection details for a remote host.
type LoginInfo struct {
	User string
	Addr string
	Port int
}

// HostSpec identifies one execution target. Immutable after load.
type HostSpec struct {
	ID        string
	Cluster   *ClusterSpec // nil for a plain (non-clustered) host
	Nodes     int          // number of nodes this host grants a job, >= 1
	Scheduler bool         // true if jobs must go through a batch scheduler
	Login     *LoginInfo   // nil for the local machine
	MPI       bool         // whether MPI is available on this host
	ProbeTimeout time.Duration
}

// IsLocal reports whether this HostSpec refers to the machine the fitting
// run itself executes on.
func (h HostSpec) IsLocal() bool {
	return h.Login == nil
}

// Prober probes a host's liveness. The local host always reports
// available; remote hosts are probed over whatever transport the
// concrete implementation wires in (see explore/remote).
type Prober interface {
	Probe(ctx context.Context, h HostSpec, timeout time.Duration) bool
}

// LocalMachineInfo reports the physical layout of the host process the
// fitting run itself runs on.
type LocalMachineInfo struct {
	PhysicalCores    int
	HyperthreadFactor int
	MemoryGB         float64
	MPI              bool
}

// LocalMachineProbe returns the local machine's physical layout. cores
// come from runtime.NumCPU (logical, teacher-style platform-abstracted
// probe); hyperthreadFactor and memoryGB are supplied by the caller
// because Go's standard library has no portable physical-core or
// installed-memory query.
func LocalMachineProbe(hyperthreadFactor int, memoryGB float64, mpi bool) LocalMachineInfo {
	logical := runtime.NumCPU()
	physical := logical
	if hyperthreadFactor > 1 {
		physical = logical / hyperthreadFactor
		if physical < 1 {
			physical = 1
		}
	}
	return LocalMachineInfo{
		PhysicalCores:     physical,
		HyperthreadFactor: hyperthreadFactor,
		MemoryGB:          memoryGB,
		MPI:               mpi,
	}
}

// Inventory holds the set of hosts known to a fitting run and caches
// liveness-probe results for the run's lifetime.
type Inventory struct {
	hosts  map[string]HostSpec
	order  []string
	prober Prober

	mu        sync.Mutex
	available map[string]bool
	probed    map[string]bool
}

// NewInventory builds an Inventory from a slice of host specs, in the
// order given (list_hosts preserves this order).
func NewInventory(prober Prober, hosts ...HostSpec) *Inventory {
	inv := &Inventory{
		hosts:     make(map[string]HostSpec, len(hosts)),
		prober:    prober,
		available: make(map[string]bool, len(hosts)),
		probed:    make(map[string]bool, len(hosts)),
	}
	for _, h := range hosts {
		inv.hosts[h.ID] = h
		inv.order = append(inv.order, h.ID)
	}
	return inv
}

// ListHosts returns every known host in registration order.
func (inv *Inventory) ListHosts() []HostSpec {
	out := make([]HostSpec, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, inv.hosts[id])
	}
	return out
}

// Host looks up a host by id.
func (inv *Inventory) Host(id string) (HostSpec, error) {
	h, ok := inv.hosts[id]
	if !ok {
		return HostSpec{}, fmt.Errorf("host: unknown host %q", id)
	}
	return h, nil
}

// IsScheduler reports whether the given host is fronted by a batch scheduler.
func (inv *Inventory) IsScheduler(id string) (bool, error) {
	h, err := inv.Host(id)
	if err != nil {
		return false, err
	}
	return h.Scheduler, nil
}

// IsAvailable probes a host's connectivity once per fitting-run and
// caches the result for every subsequent call. The local host is always
// available without a probe.
func (inv *Inventory) IsAvailable(ctx context.Context, id string) (bool, error) {
	h, err := inv.Host(id)
	if err != nil {
		return false, err
	}
	if h.IsLocal() {
		return true, nil
	}

	inv.mu.Lock()
	if inv.probed[id] {
		ok := inv.available[id]
		inv.mu.Unlock()
		return ok, nil
	}
	inv.mu.Unlock()

	timeout := h.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ok := inv.prober.Probe(ctx, h, timeout)

	inv.mu.Lock()
	inv.probed[id] = true
	inv.available[id] = ok
	inv.mu.Unlock()

	if !ok {
		logrus.Warnf("[host] liveness probe failed for %q within %s", id, timeout)
	} else {
		logrus.Debugf("[host] liveness probe succeeded for %q", id)
	}
	return ok, nil
}

// AvailableHosts probes every known host in turn (each result is cached
// individually) and returns the subset that responded.
func (inv *Inventory) AvailableHosts(ctx context.Context) ([]HostSpec, error) {
	var out []HostSpec
	for _, id := range inv.order {
		ok, err := inv.IsAvailable(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inv.hosts[id])
		}
	}
	return out, nil
}
