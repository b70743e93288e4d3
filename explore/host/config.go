package host

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileClusterSpec and fileHostSpec mirror HostSpec/ClusterSpec with
// yaml tags; kept separate from the domain types so the wire format can
// evolve without touching the types the rest of the module depends on.
type fileClusterSpec struct {
	SocketsPerNode   int     `yaml:"sockets_per_node"`
	CoresPerSocket   int     `yaml:"cores_per_socket"`
	MemoryPerNodeGB  float64 `yaml:"memory_per_node_gb"`
	Hyperthreading   bool    `yaml:"hyperthreading"`
	HyperthreadDepth int     `yaml:"hyperthread_depth"`
}

type fileHostSpec struct {
	ID             string           `yaml:"id"`
	Cluster        *fileClusterSpec `yaml:"cluster,omitempty"`
	Nodes          int              `yaml:"nodes"`
	Scheduler      bool             `yaml:"scheduler"`
	User           string           `yaml:"user,omitempty"`
	Addr           string           `yaml:"addr,omitempty"`
	Port           int              `yaml:"port,omitempty"`
	MPI            bool             `yaml:"mpi"`
	ProbeTimeoutMS int              `yaml:"probe_timeout_ms,omitempty"`
}

type fileInventory struct {
	Hosts []fileHostSpec `yaml:"hosts"`
}

// LoadInventoryFile parses a YAML host-inventory file into HostSpecs.
// The local host (scheduler=false, no addr) is recognized by the
// absence of an addr field.
func LoadInventoryFile(path string) ([]HostSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: reading inventory file %s: %w", path, err)
	}
	return ParseInventory(data)
}

// ParseInventory parses YAML inventory content into HostSpecs, applying
// the registered defaults (nodes=1, hyperthread depth 2) the way the
// teacher's default-config loader fills unset CLI flags. An unset probe
// timeout stays zero here; Inventory.IsAvailable substitutes 10s.
func ParseInventory(data []byte) ([]HostSpec, error) {
	var fi fileInventory
	if err := yaml.Unmarshal(data, &fi); err != nil {
		return nil, fmt.Errorf("host: parsing inventory YAML: %w", err)
	}

	out := make([]HostSpec, 0, len(fi.Hosts))
	seen := make(map[string]bool, len(fi.Hosts))
	for _, fh := range fi.Hosts {
		if fh.ID == "" {
			return nil, fmt.Errorf("host: inventory entry missing id")
		}
		if seen[fh.ID] {
			return nil, fmt.Errorf("host: duplicate host id %q in inventory", fh.ID)
		}
		seen[fh.ID] = true

		h := HostSpec{
			ID:        fh.ID,
			Nodes:     fh.Nodes,
			Scheduler: fh.Scheduler,
			MPI:       fh.MPI,
		}
		if h.Nodes == 0 {
			h.Nodes = 1
		}
		if fh.Cluster != nil {
			h.Cluster = &ClusterSpec{
				SocketsPerNode:   fh.Cluster.SocketsPerNode,
				CoresPerSocket:   fh.Cluster.CoresPerSocket,
				MemoryPerNodeGB:  fh.Cluster.MemoryPerNodeGB,
				Hyperthreading:   fh.Cluster.Hyperthreading,
				HyperthreadDepth: fh.Cluster.HyperthreadDepth,
			}
			if h.Cluster.HyperthreadDepth == 0 {
				h.Cluster.HyperthreadDepth = 2
			}
		}
		if fh.Addr != "" {
			h.Login = &LoginInfo{User: fh.User, Addr: fh.Addr, Port: fh.Port}
		}
		if fh.ProbeTimeoutMS > 0 {
			h.ProbeTimeout = time.Duration(fh.ProbeTimeoutMS) * time.Millisecond
		}
		out = append(out, h)
	}
	return out, nil
}
