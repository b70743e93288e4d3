package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skirt-explorer/skirt-explorer/explore/estimate"
	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/launch"
	"github.com/skirt-explorer/skirt-explorer/explore/remote"
	"github.com/skirt-explorer/skirt-explorer/explore/remotesync"
	"github.com/skirt-explorer/skirt-explorer/explore/run"
	"github.com/skirt-explorer/skirt-explorer/explore/scene"
	"github.com/skirt-explorer/skirt-explorer/explore/store"
)

var (
	exploreRunName          string
	exploreNGenerations     int
	exploreNSimulations     int
	exploreConfigPath       string
	exploreIncreasePackages float64
	exploreRefineSpectral   bool
	exploreRefineSpatial    bool
	exploreSelfAbsorption   string
	exploreTransientHeating string
	exploreRestartFrom      string
	exploreDryRun           bool
	exploreRemotes          []string
	exploreGroup            bool
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Run (or continue) a model-fitting exploration",
	Run:   runExploreCmd,
}

func init() {
	exploreCmd.Flags().StringVar(&exploreRunName, "run", "", "Fitting-run name")
	exploreCmd.Flags().IntVar(&exploreNGenerations, "ngenerations", 1, "Number of generations to run")
	exploreCmd.Flags().IntVar(&exploreNSimulations, "nsimulations", 0, "Population size per generation (0 = use config default)")
	exploreCmd.Flags().StringVar(&exploreConfigPath, "config", "fitconfig.yaml", "Path to the fitting-run defaults file")
	exploreCmd.Flags().Float64Var(&exploreIncreasePackages, "increase-packages", 1.0, "Multiply the scene's photon package count by this factor")
	exploreCmd.Flags().BoolVar(&exploreRefineSpectral, "refine-spectral", false, "Advance to the next wavelength-grid refinement level")
	exploreCmd.Flags().BoolVar(&exploreRefineSpatial, "refine-spatial", false, "Advance to the next spatial-grid representation level")
	exploreCmd.Flags().StringVar(&exploreSelfAbsorption, "selfabsorption", "", "Override self-absorption: on, off, or empty to keep the config default")
	exploreCmd.Flags().StringVar(&exploreTransientHeating, "transient-heating", "", "Override transient heating: on, off, or empty to keep the config default")
	exploreCmd.Flags().StringVar(&exploreRestartFrom, "restart-from", "", "Rewind the run's history to (and remove) the given generation onward")
	exploreCmd.Flags().BoolVar(&exploreDryRun, "dry", false, "Materialize scenes and report the plan without submitting")
	exploreCmd.Flags().StringSliceVar(&exploreRemotes, "remotes", nil, "Restrict submission to these host IDs (comma-separated); empty means every host in the inventory")
	exploreCmd.Flags().BoolVar(&exploreGroup, "group", false, "Pack a generation's simulations into one scheduler job per host")

	_ = exploreCmd.MarkFlagRequired("run")
}

func runExploreCmd(cmd *cobra.Command, args []string) {
	cfgFile, err := loadFitConfig(exploreConfigPath)
	if err != nil {
		logrus.Fatalf("explore: %v", err)
	}

	hosts, err := host.LoadInventoryFile(cfgFile.HostsFile)
	if err != nil {
		logrus.Fatalf("explore: %v", err)
	}
	if len(exploreRemotes) > 0 {
		hosts = filterHosts(hosts, exploreRemotes)
	}

	openers := shellOpenersFor(hosts)
	inventory := host.NewInventory(remote.ShellProber{Openers: openers}, hosts...)

	skiBytes, err := os.ReadFile(cfgFile.SceneFile)
	if err != nil {
		logrus.Fatalf("explore: reading scene file: %v", err)
	}
	sceneTemplate := scene.New(exploreRunName, skiBytes)
	if exploreIncreasePackages != 1.0 {
		packages, err := sceneTemplate.Packages()
		if err != nil {
			logrus.Fatalf("explore: %v", err)
		}
		if err := sceneTemplate.SetPackages(int64(float64(packages) * exploreIncreasePackages)); err != nil {
			logrus.Fatalf("explore: %v", err)
		}
	}

	st, err := store.Open(cfgFile.StoreDir)
	if err != nil {
		logrus.Fatalf("explore: opening generation store: %v", err)
	}

	if exploreRestartFrom != "" {
		if err := st.RestartFrom(exploreRestartFrom, confirmOnStdin); err != nil {
			logrus.Fatalf("explore: restart-from %s: %v", exploreRestartFrom, err)
		}
	}

	launcher := &launch.Launcher{
		Store:        st,
		Scene:        sceneTemplate,
		WorkDir:      cfgFile.WorkDir,
		LocalWorkers: cfgFile.LocalWorkers,
		DryRun:       exploreDryRun,
	}

	synchronizer := &remotesync.Synchronizer{
		Openers:          openers,
		Store:            st,
		Analyser:         shellAnalyser{Command: cfgFile.AnalyserCommand},
		Retry:            cfgFile.retryPolicy(),
		LocalArtifactDir: cfgFile.LocalArtifactDir,
		KeepCrashedDirs:  cfgFile.KeepCrashedDirs,
	}

	ranges, scales, err := cfgFile.ranges()
	if err != nil {
		logrus.Fatalf("explore: %v", err)
	}

	method := store.MethodGrid
	if cfgFile.Genetic.PopulationSize > 0 {
		method = store.MethodGenetic
	}

	nsim := exploreNSimulations
	if nsim == 0 {
		nsim = cfgFile.Genetic.PopulationSize
	}
	if nsim == 0 {
		nsim = len(ranges)
	}

	wavelengthGridLevel := cfgFile.WavelengthGridLevel
	if exploreRefineSpectral {
		wavelengthGridLevel++
	}

	var nwaveOverride int
	if cfgFile.WavelengthGridFile != "" {
		data, err := os.ReadFile(cfgFile.WavelengthGridFile)
		if err != nil {
			logrus.Fatalf("explore: reading wavelength grid file: %v", err)
		}
		n, err := scene.CountWavelengthGridFile(data)
		if err != nil {
			logrus.Fatalf("explore: %v", err)
		}
		nwaveOverride = n
	}
	representationName := cfgFile.RepresentationName
	if exploreRefineSpatial {
		representationName = nextRepresentation(representationName)
	}

	runCfg := run.Config{
		Name:                exploreRunName,
		NGenerations:        exploreNGenerations,
		NSimulations:        nsim,
		Method:              method,
		Ranges:              ranges,
		Scales:              scales,
		FixedInitial:        cfgFile.FixedInitial,
		Genetic:             cfgFile.geneticConfig(),
		WavelengthGridLevel:  wavelengthGridLevel,
		RepresentationName:   representationName,
		NWavelengthsOverride: nwaveOverride,
		NPackages:           cfgFile.NPackages,
		SelfAbsorption:      resolveTriState(exploreSelfAbsorption, cfgFile.SelfAbsorption),
		TransientHeating:    resolveTriState(exploreTransientHeating, cfgFile.TransientHeating),
		Group:               exploreGroup,
	}

	est := estimate.New(nil, 3)
	fittingRun := run.New(runCfg, hosts, inventory, sceneTemplate, st, est, launcher, synchronizer, openers)

	results, err := fittingRun.Run(context.Background())
	for _, result := range results {
		printGenerationReport(result)
	}
	if err != nil {
		logrus.Fatalf("explore: %v", err)
	}
}

// resolveTriState applies an "on"/"off"/"" CLI override on top of a
// config-file boolean default.
func resolveTriState(flag string, fallback bool) bool {
	switch flag {
	case "on":
		return true
	case "off":
		return false
	default:
		return fallback
	}
}

// nextRepresentation advances a spatial-grid representation name's trailing
// refinement counter (e.g. "coarse" -> "coarse_r1" -> "coarse_r2"), the
// naming convention GenerationInfo.RepresentationName round-trips verbatim
// across generations.
func nextRepresentation(name string) string {
	if name == "" {
		name = "default"
	}
	base := name
	level := 0
	if idx := strings.LastIndex(name, "_r"); idx >= 0 {
		if n, err := strconv.Atoi(name[idx+2:]); err == nil {
			base = name[:idx]
			level = n
		}
	}
	return fmt.Sprintf("%s_r%d", base, level+1)
}

func filterHosts(hosts []host.HostSpec, ids []string) []host.HostSpec {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []host.HostSpec
	for _, h := range hosts {
		if want[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

// shellOpenersFor builds a ShellOpener per non-local host, wrapping every
// remote operation in an ssh invocation against the host's login info.
func shellOpenersFor(hosts []host.HostSpec) map[string]remote.Opener {
	out := make(map[string]remote.Opener, len(hosts))
	for _, h := range hosts {
		if h.IsLocal() {
			continue
		}
		args := make([]string, 0, 3)
		if h.Login.Port != 0 {
			args = append(args, "-p", strconv.Itoa(h.Login.Port))
		}
		target := h.Login.Addr
		if h.Login.User != "" {
			target = h.Login.User + "@" + h.Login.Addr
		}
		args = append(args, target)
		out[h.ID] = remote.ShellOpener{Config: remote.ShellConfig{Command: "ssh", Args: args}}
	}
	return out
}

// confirmOnStdin implements restart_from's confirmation predicate (spec.md
// §7's RestartConfirmationRequired) by prompting the operator on stdin.
func confirmOnStdin(removedCount int) bool {
	fmt.Printf("restart-from will remove %d generation(s) and everything after them. Continue? [y/N] ", removedCount)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func printGenerationReport(result run.GenerationResult) {
	fmt.Printf("generation %s: %d simulations\n", result.Info.Name, result.Info.NSimulations)
	for _, hc := range result.Report {
		fmt.Printf("  %s:", hc.Host)
		for status, count := range hc.Counts {
			fmt.Printf(" %s=%d", status, count)
		}
		fmt.Println()
	}
}
