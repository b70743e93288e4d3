package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skirt-explorer/skirt-explorer/explore/errs"
)

const (
	generationsTableFile = "generations_table"
	infoFile             = "info"
	individualsFile      = "individuals"
	parametersFile       = "parameters"
	chiSquaredFile       = "chi_squared"
	mainEngineFile       = "main_engine"
	mainPRNGFile         = "main_prng"
	mainOptimizerFile    = "optimizer_config"
)

// Store is the on-disk generation store rooted at a fitting run's
// directory. Append operations serialize under a per-generation lock;
// reads take no lock (spec.md §4.E's stated concurrency contract).
type Store struct {
	root string

	mu    sync.Mutex // guards locks and the generations table file
	locks map[string]*sync.Mutex
}

// Open roots a Store at dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating run directory: %w", err)
	}
	return &Store{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) genLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) genDir(name string) string {
	return filepath.Join(s.root, "generations", name)
}

func (s *Store) simDir(generation, simName string) string {
	return filepath.Join(s.genDir(generation), "simulations", simName)
}

// CreateGeneration appends a row to the generations table and creates
// the generation's directory tree.
func (s *Store) CreateGeneration(info GenerationInfo) error {
	lock := s.genLock(info.Name)
	lock.Lock()
	defer lock.Unlock()

	dir := s.genDir(info.Name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("store: generation %q already exists", info.Name)
	}
	if err := os.MkdirAll(filepath.Join(dir, "simulations"), 0o755); err != nil {
		return fmt.Errorf("store: creating generation directory: %w", err)
	}
	if err := writeGenerationInfo(dir, info); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRow(filepath.Join(s.root, generationsTableFile), generationsTableHeader(), generationsTableRow(info))
}

func generationsTableHeader() []string {
	return []string{"name", "index", "method", "wavelength_level", "representation",
		"nsimulations", "npackages", "self_absorption", "transient_heating",
		"creation_time", "finishing_time", "ranges_blob", "scales_blob"}
}

func generationsTableRow(info GenerationInfo) []string {
	finishing := ""
	if !info.FinishingTime.IsZero() {
		finishing = info.FinishingTime.Format(time.RFC3339Nano)
	}
	return []string{
		info.Name,
		strconv.Itoa(info.Index),
		string(info.Method),
		strconv.Itoa(info.WavelengthGridLevel),
		info.RepresentationName,
		strconv.Itoa(info.NSimulations),
		strconv.FormatInt(info.NPackages, 10),
		strconv.FormatBool(info.SelfAbsorption),
		strconv.FormatBool(info.TransientHeating),
		info.CreationTime.Format(time.RFC3339Nano),
		finishing,
		info.RangesBlob,
		info.ScalesBlob,
	}
}

func writeGenerationInfo(dir string, info GenerationInfo) error {
	f, err := os.Create(filepath.Join(dir, infoFile))
	if err != nil {
		return fmt.Errorf("store: writing generation info: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write(generationsTableHeader()); err != nil {
		return err
	}
	return w.Write(generationsTableRow(info))
}

// AppendIndividual appends one (simulation_name, individual_name) row.
func (s *Store) AppendIndividual(generation, simulationName, individualName string) error {
	lock := s.genLock(generation)
	lock.Lock()
	defer lock.Unlock()
	return appendRow(
		filepath.Join(s.genDir(generation), individualsFile),
		[]string{"simulation_name", "individual_name"},
		[]string{simulationName, individualName},
	)
}

// AppendParameters appends one parameter row, keyed by simulation_name,
// with one column per label in a stable (sorted) order.
func (s *Store) AppendParameters(generation, simulationName string, values map[string]float64) error {
	lock := s.genLock(generation)
	lock.Lock()
	defer lock.Unlock()

	labels := make([]string, 0, len(values))
	for l := range values {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	header := append([]string{"simulation_name"}, labels...)
	row := make([]string, 0, len(labels)+1)
	row = append(row, simulationName)
	for _, l := range labels {
		row = append(row, strconv.FormatFloat(values[l], 'g', -1, 64))
	}
	return appendRow(filepath.Join(s.genDir(generation), parametersFile), header, row)
}

// AppendChiSquared appends one (simulation_name, chi2) row.
func (s *Store) AppendChiSquared(generation, simulationName string, chi2 float64) error {
	lock := s.genLock(generation)
	lock.Lock()
	defer lock.Unlock()
	return appendRow(
		filepath.Join(s.genDir(generation), chiSquaredFile),
		[]string{"simulation_name", "chi2"},
		[]string{simulationName, strconv.FormatFloat(chi2, 'g', -1, 64)},
	)
}

// Finalize sets a generation's finishing_time, making it read-only.
func (s *Store) Finalize(generation string, finishingTime time.Time) error {
	lock := s.genLock(generation)
	lock.Lock()
	defer lock.Unlock()

	info, err := s.readGenerationInfoLocked(generation)
	if err != nil {
		return err
	}
	if info.Finalized() {
		return fmt.Errorf("store: generation %q already finalized", generation)
	}
	info.FinishingTime = finishingTime
	if err := writeGenerationInfoAtomic(s.genDir(generation), info); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.GenerationsTable()
	if err != nil {
		return err
	}
	for i := range table {
		if table[i].Name == generation {
			table[i].FinishingTime = finishingTime
		}
	}
	return s.rewriteGenerationsTable(table)
}

// writeGenerationInfoAtomic implements spec.md §5's "write-temp + rename"
// rule for the main GA state files, applied here to the info file since
// finalize is the one mutation allowed after creation.
func writeGenerationInfoAtomic(dir string, info GenerationInfo) error {
	tmp := filepath.Join(dir, infoFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: writing generation info: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(generationsTableHeader()); err != nil {
		f.Close()
		return err
	}
	if err := w.Write(generationsTableRow(info)); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, infoFile))
}

func (s *Store) readGenerationInfoLocked(generation string) (GenerationInfo, error) {
	f, err := os.Open(filepath.Join(s.genDir(generation), infoFile))
	if err != nil {
		return GenerationInfo{}, fmt.Errorf("store: reading generation %q info: %w", generation, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return GenerationInfo{}, &errs.StoreCorruption{Table: "info", Reason: err.Error()}
	}
	if len(rows) < 2 {
		return GenerationInfo{}, &errs.StoreCorruption{Table: "info", Reason: "missing data row"}
	}
	return parseGenerationRow(rows[1])
}

func parseGenerationRow(row []string) (GenerationInfo, error) {
	if len(row) < 13 {
		return GenerationInfo{}, &errs.StoreCorruption{Table: "generations_table", Reason: "short row"}
	}
	idx, _ := strconv.Atoi(row[1])
	wl, _ := strconv.Atoi(row[3])
	nsim, _ := strconv.Atoi(row[5])
	npkg, _ := strconv.ParseInt(row[6], 10, 64)
	selfAbs, _ := strconv.ParseBool(row[7])
	transient, _ := strconv.ParseBool(row[8])
	created, _ := time.Parse(time.RFC3339Nano, row[9])
	var finishing time.Time
	if row[10] != "" {
		finishing, _ = time.Parse(time.RFC3339Nano, row[10])
	}
	return GenerationInfo{
		Name: row[0], Index: idx, Method: GenerationMethod(row[2]),
		WavelengthGridLevel: wl, RepresentationName: row[4],
		NSimulations: nsim, NPackages: npkg,
		SelfAbsorption: selfAbs, TransientHeating: transient,
		CreationTime: created, FinishingTime: finishing,
		RangesBlob: row[11], ScalesBlob: row[12],
	}, nil
}

// GenerationsTable reads the full generations table back, in append order.
func (s *Store) GenerationsTable() ([]GenerationInfo, error) {
	f, err := os.Open(filepath.Join(s.root, generationsTableFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading generations table: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &errs.StoreCorruption{Table: "generations_table", Reason: err.Error()}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]GenerationInfo, 0, len(rows)-1)
	for _, row := range rows[1:] {
		info, err := parseGenerationRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// readCSVRows reads every data row from an open CSV file, skipping the
// header. Shared by DiscoverOrphans and anything else that just needs
// the keyed rows without the typed GenerationInfo parsing above.
func readCSVRows(f *os.File) ([][]string, error) {
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

// appendRow appends one row to path, writing header first if the file
// doesn't yet exist.
func appendRow(path string, header, row []string) error {
	_, err := os.Stat(path)
	needHeader := os.IsNotExist(err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: opening %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// RestartFrom implements spec.md §4.E/§7's restart semantics: remove
// generation name and every strictly-later generation, then rewind the
// run's main GA state to the latest surviving genetic generation (or
// wipe it if the initial genetic generation is the one removed).
// confirm must return true or the restart aborts with
// RestartConfirmationRequired, leaving disk state untouched.
func (s *Store) RestartFrom(name string, confirm func(removedCount int) bool) error {
	table, err := s.GenerationsTable()
	if err != nil {
		return err
	}

	cut := -1
	for i, g := range table {
		if g.Name == name {
			cut = i
			break
		}
	}
	if cut < 0 {
		return fmt.Errorf("store: generation %q not found", name)
	}

	toRemove := table[cut:]
	if confirm == nil || !confirm(len(toRemove)) {
		return &errs.RestartConfirmationRequired{GenerationName: name}
	}

	// Compute the closure of directories to remove before mutating
	// anything, per spec.md §7's "atomic cleanup pattern".
	dirsToRemove := make([]string, 0, len(toRemove))
	for _, g := range toRemove {
		dirsToRemove = append(dirsToRemove, s.genDir(g.Name))
	}

	for _, dir := range dirsToRemove {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("store: removing generation directory %s: %w", dir, err)
		}
	}
	if err := s.rewriteGenerationsTable(table[:cut]); err != nil {
		return err
	}

	var lastGenetic *GenerationInfo
	for i := cut - 1; i >= 0; i-- {
		if table[i].Method == MethodGenetic {
			lastGenetic = &table[i]
			break
		}
	}
	if lastGenetic == nil {
		if err := s.wipeMainState(); err != nil {
			return err
		}
		logrus.Debugf("[store] restart_from %s: no surviving genetic generation, wiped main GA state", name)
	} else {
		if err := s.rewindMainState(*lastGenetic); err != nil {
			return err
		}
		logrus.Debugf("[store] restart_from %s: rewound main GA state to %s", name, lastGenetic.Name)
	}
	return nil
}

func (s *Store) rewriteGenerationsTable(keep []GenerationInfo) error {
	tmp := filepath.Join(s.root, generationsTableFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: rewriting generations table: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(generationsTableHeader()); err != nil {
		f.Close()
		return err
	}
	for _, g := range keep {
		if err := w.Write(generationsTableRow(g)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.root, generationsTableFile))
}

func (s *Store) wipeMainState() error {
	for _, name := range []string{mainEngineFile, mainPRNGFile, mainOptimizerFile} {
		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: wiping %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) rewindMainState(from GenerationInfo) error {
	for _, name := range []string{mainEngineFile, mainPRNGFile, mainOptimizerFile} {
		srcPath := filepath.Join(s.genDir(from.Name), name)
		dstPath := filepath.Join(s.root, name)
		data, err := os.ReadFile(srcPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store: reading %s from generation %s: %w", name, from.Name, err)
		}
		if err := atomicWrite(dstPath, data); err != nil {
			return err
		}
	}
	return nil
}

// atomicWrite implements spec.md §5's write-temp + rename rule.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// SaveMainState atomically persists the run's main GA state: once as the
// live root-level snapshot (what the next generation resumes from) and
// once more under generation's own directory, so a later RestartFrom can
// rewind the live snapshot back to exactly what this generation produced.
func (s *Store) SaveMainState(generation string, engine, prng, optimizerConfig []byte) error {
	blobs := map[string][]byte{
		mainEngineFile: engine, mainPRNGFile: prng, mainOptimizerFile: optimizerConfig,
	}
	for name, data := range blobs {
		if err := atomicWrite(filepath.Join(s.root, name), data); err != nil {
			return err
		}
		if err := atomicWrite(filepath.Join(s.genDir(generation), name), data); err != nil {
			return err
		}
	}
	return nil
}
