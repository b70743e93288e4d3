package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/remotesync"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

var (
	syncConfigPath string
	syncRemotes    []string
	syncIDs        []string
	syncStatuses   []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Poll in-flight simulations and report status without starting a new generation",
	Run:   runSyncCmd,
}

func init() {
	syncCmd.Flags().StringVar(&syncConfigPath, "config", "fitconfig.yaml", "Path to the fitting-run defaults file")
	syncCmd.Flags().StringSliceVar(&syncRemotes, "remotes", nil, "Restrict polling to these host IDs (comma-separated)")
	syncCmd.Flags().StringSliceVar(&syncIDs, "ids", nil, "host:start-end simulation-index ranges to poll, e.g. hpc01:1-7 (default: every orphan found)")
	syncCmd.Flags().StringSliceVar(&syncStatuses, "statuses", nil, "Only report these statuses (comma-separated); default reports all")
}

func runSyncCmd(cmd *cobra.Command, args []string) {
	cfgFile, err := loadFitConfig(syncConfigPath)
	if err != nil {
		logrus.Fatalf("sync: %v", err)
	}

	hosts, err := host.LoadInventoryFile(cfgFile.HostsFile)
	if err != nil {
		logrus.Fatalf("sync: %v", err)
	}
	if len(syncRemotes) > 0 {
		hosts = filterHosts(hosts, syncRemotes)
	}
	openers := shellOpenersFor(hosts)

	st, err := store.Open(cfgFile.StoreDir)
	if err != nil {
		logrus.Fatalf("sync: opening generation store: %v", err)
	}

	synchronizer := &remotesync.Synchronizer{
		Openers:          openers,
		Store:            st,
		Analyser:         shellAnalyser{Command: cfgFile.AnalyserCommand},
		Retry:            cfgFile.retryPolicy(),
		LocalArtifactDir: cfgFile.LocalArtifactDir,
		KeepCrashedDirs:  cfgFile.KeepCrashedDirs,
	}

	records, err := pendingRecords(st, hosts, syncIDs)
	if err != nil {
		logrus.Fatalf("sync: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("sync: nothing to poll")
		return
	}

	records, err = synchronizer.Poll(context.Background(), records)
	if err != nil {
		logrus.Fatalf("sync: %v", err)
	}

	statusFilter := make(map[store.SimulationStatus]bool, len(syncStatuses))
	for _, s := range syncStatuses {
		statusFilter[store.SimulationStatus(s)] = true
	}
	for _, hc := range remotesync.Report(records) {
		fmt.Printf("%s:", hc.Host)
		for status, count := range hc.Counts {
			if len(statusFilter) > 0 && !statusFilter[status] {
				continue
			}
			fmt.Printf(" %s=%d", status, count)
		}
		fmt.Println()
	}
}

// pendingRecords reassembles SimulationRecords for the orphan simulations
// the store's per-generation directories still hold (spec.md §6: sessions
// are reconnectable, so a prior explore invocation's in-flight simulations
// can be resumed by a separate sync invocation). --ids assigns each
// orphan's host explicitly via host:start-end ranges; with no --ids, every
// discovered orphan is assigned to the sole host in the (possibly
// --remotes-filtered) inventory.
func pendingRecords(st *store.Store, hosts []host.HostSpec, ids []string) ([]store.SimulationRecord, error) {
	orphans, err := st.DiscoverOrphans()
	if err != nil {
		return nil, fmt.Errorf("discovering orphan simulations: %w", err)
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	hostForIndex, err := parseIDRanges(ids)
	if err != nil {
		return nil, err
	}

	var defaultHost string
	if len(hostForIndex) == 0 {
		if len(hosts) != 1 {
			return nil, fmt.Errorf("--ids is required to disambiguate host assignment when more than one host is in scope")
		}
		defaultHost = hosts[0].ID
	}

	records := make([]store.SimulationRecord, 0, len(orphans))
	for _, o := range orphans {
		h := defaultHost
		if idx, ok := simulationIndex(o.SimulationName); ok {
			if assigned, ok := hostForIndex[idx]; ok {
				h = assigned
			}
		}
		records = append(records, store.SimulationRecord{
			SimulationName: o.SimulationName,
			GenerationName: o.Generation,
			AssignedHost:   h,
			LastStatus:     store.StatusQueued,
		})
	}
	return records, nil
}

// simulationIndex extracts the trailing "_<n>" index a generator names
// individuals with (see explore/generate's "<prefix>_<index>" convention).
func simulationIndex(name string) (int, bool) {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseIDRanges parses "host:start-end,host2:start2-end2" into an
// index -> host map.
func parseIDRanges(ids []string) (map[int]string, error) {
	out := make(map[int]string)
	for _, spec := range ids {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --ids entry %q, want host:start-end", spec)
		}
		h, rng := parts[0], parts[1]
		bounds := strings.SplitN(rng, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid --ids range %q, want start-end", rng)
		}
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid --ids range start %q: %w", bounds[0], err)
		}
		end, err := strconv.Atoi(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid --ids range end %q: %w", bounds[1], err)
		}
		for i := start; i <= end; i++ {
			out[i] = h
		}
	}
	return out, nil
}
