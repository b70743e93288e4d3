// Package scene implements SceneTemplate, the opaque handle over a
// labeled ski-style scene description that the rest of the module reads
// and mutates through a narrow query/mutator surface, never by parsing
// the XML-like tree directly.
package scene

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/skirt-explorer/skirt-explorer/explore/units"
)

// labelPattern matches a free-parameter placeholder like [[dust_mass]]
// embedded in an attribute value. Everything outside these spans is
// untouched text, which is how label substitution preserves the rest of
// the scene bit-exactly: substitution is a byte-span replace, never a
// reparse-and-reserialize round trip.
var labelPattern = regexp.MustCompile(`\[\[([A-Za-z_][A-Za-z0-9_]*)\]\]`)

// SceneTemplate is an opaque handle over a scene description's raw
// bytes. Queries read known attributes by scanning for their owning
// element; mutators rewrite the requested attribute in place on this
// handle (on every element of the owning tag), leaving every other byte
// identical.
type SceneTemplate struct {
	raw   []byte
	label string // human-readable handle name, for logging
}

// New wraps raw scene content under the given label (the handle name,
// not a free-parameter label).
func New(label string, raw []byte) *SceneTemplate {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &SceneTemplate{raw: cp, label: label}
}

// Label returns the handle's name.
func (s *SceneTemplate) Label() string { return s.label }

// Bytes returns the current raw scene content. Callers must not mutate
// the returned slice.
func (s *SceneTemplate) Bytes() []byte { return s.raw }

// Labels returns the set of free-parameter labels ([[name]] placeholders)
// still present in the scene, in order of first appearance.
func (s *SceneTemplate) Labels() []string {
	matches := labelPattern.FindAllSubmatch(s.raw, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Substitute replaces every [[label]] placeholder with its ParameterVector
// value, formatted as a plain number (strconv 'g' format; the unit is not
// written), and returns a new byte slice —
// the "materialized" scene file for one simulation. It is an error for
// any placeholder in the scene to lack a matching entry in values.
func (s *SceneTemplate) Substitute(values map[string]units.Quantity) ([]byte, error) {
	var missing error
	out := labelPattern.ReplaceAllFunc(s.raw, func(m []byte) []byte {
		name := string(labelPattern.FindSubmatch(m)[1])
		q, ok := values[name]
		if !ok {
			missing = fmt.Errorf("scene: no value supplied for label %q", name)
			return m
		}
		return []byte(strconv.FormatFloat(q.Value, 'g', -1, 64))
	})
	if missing != nil {
		return nil, missing
	}
	return out, nil
}

// attrPattern builds a regexp that finds `attr="value"` inside the first
// `<tag ...>` occurrence in the document. This is deliberately a
// shallow text scan rather than a full XML parse: the SceneTemplate
// contract only ever needs single named attributes, and a text-span
// approach is what lets mutators preserve every other byte exactly.
func attrPattern(tag, attr string) *regexp.Regexp {
	return regexp.MustCompile(`(<` + regexp.QuoteMeta(tag) + `\b[^>]*?\b` + regexp.QuoteMeta(attr) + `=")([^"]*)(")`)
}

func (s *SceneTemplate) readAttr(tag, attr string) (string, bool) {
	re := attrPattern(tag, attr)
	m := re.FindSubmatch(s.raw)
	if m == nil {
		return "", false
	}
	return string(m[2]), true
}

// attrPatternSuffix is attrPattern for a family of tags sharing a
// suffix, e.g. any of Log/Lin/NestedLogWavelengthGrid ending in
// "WavelengthGrid".
func attrPatternSuffix(tagSuffix, attr string) *regexp.Regexp {
	return regexp.MustCompile(`(<[A-Za-z]*` + regexp.QuoteMeta(tagSuffix) + `\b[^>]*?\b` + regexp.QuoteMeta(attr) + `=")([^"]*)(")`)
}

func (s *SceneTemplate) readAttrSuffix(tagSuffix, attr string) (string, bool) {
	re := attrPatternSuffix(tagSuffix, attr)
	m := re.FindSubmatch(s.raw)
	if m == nil {
		return "", false
	}
	return string(m[2]), true
}

func (s *SceneTemplate) writeAttr(tag, attr, value string) error {
	re := attrPattern(tag, attr)
	if !re.Match(s.raw) {
		return fmt.Errorf("scene: element <%s %s=...> not found", tag, attr)
	}
	// "$" is special in regexp.ReplaceAll's replacement text (group
	// references); double it so a literal "$" in value survives.
	escaped := bytes.ReplaceAll([]byte(value), []byte(`$`), []byte(`$$`))
	s.raw = re.ReplaceAll(s.raw, append(append([]byte(`${1}`), escaped...), []byte(`${3}`)...))
	return nil
}

// --- Queries ---

// Packages returns the configured photon package count.
func (s *SceneTemplate) Packages() (int64, error) {
	v, ok := s.readAttr("MonteCarloSimulation", "numPackages")
	if !ok {
		return 0, fmt.Errorf("scene: numPackages attribute not found")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("scene: parsing numPackages %q: %w", v, err)
	}
	return n, nil
}

// DustLibraryDimension returns the dust-library dimension D in {1,2,3}.
func (s *SceneTemplate) DustLibraryDimension() (int, error) {
	v, ok := s.readAttr("DustMix", "dimension")
	if !ok {
		return 0, fmt.Errorf("scene: DustMix dimension attribute not found")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("scene: parsing dust-library dimension %q: %w", v, err)
	}
	return n, nil
}

// WavelengthFileName returns the filename of the configured wavelength grid.
func (s *SceneTemplate) WavelengthFileName() (string, error) {
	v, ok := s.readAttr("FileWavelengthGrid", "filename")
	if !ok {
		return "", fmt.Errorf("scene: FileWavelengthGrid filename attribute not found")
	}
	return v, nil
}

// CellCount returns the configured dust-grid cell count, if the scene
// uses a tree dust grid that records one; ok is false otherwise.
func (s *SceneTemplate) CellCount() (count int64, ok bool, err error) {
	v, present := s.readAttr("FileTreeDustGrid", "numCells")
	if !present {
		return 0, false, nil
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("scene: parsing numCells %q: %w", v, perr)
	}
	return n, true, nil
}

// WavelengthCount returns the configured wavelength grid's point count, if
// the grid element records one inline (e.g. a Log/LinWavelengthGrid's
// numWavelengths attribute); ok is false for a FileWavelengthGrid, whose
// count lives in the referenced external file rather than the scene.
func (s *SceneTemplate) WavelengthCount() (count int, ok bool, err error) {
	v, present := s.readAttrSuffix("WavelengthGrid", "numWavelengths")
	if !present {
		return 0, false, nil
	}
	n, perr := strconv.Atoi(v)
	if perr != nil {
		return 0, false, fmt.Errorf("scene: parsing numWavelengths %q: %w", v, perr)
	}
	return n, true, nil
}

// CountWavelengthGridFile counts the wavelength rows in an externally
// referenced wavelength-grid file, for the FileWavelengthGrid case
// WavelengthCount can't resolve from the scene alone. SKIRT wavelength
// grid files are plain text: the first non-comment line holds the row
// count, the rest one wavelength (and optional relative-width) per line.
func CountWavelengthGridFile(data []byte) (int, error) {
	lines := bytes.Split(data, []byte("\n"))
	for _, line := range lines {
		t := bytes.TrimSpace(line)
		if len(t) == 0 || t[0] == '#' {
			continue
		}
		n, err := strconv.Atoi(string(t))
		if err != nil {
			return 0, fmt.Errorf("scene: parsing wavelength grid row count %q: %w", t, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("scene: wavelength grid file has no row-count line")
}

// SelfAbsorption reports whether dust self-absorption is enabled.
func (s *SceneTemplate) SelfAbsorption() (bool, error) {
	v, ok := s.readAttr("DustSystem", "selfAbsorption")
	if !ok {
		return false, fmt.Errorf("scene: DustSystem selfAbsorption attribute not found")
	}
	return strconv.ParseBool(v)
}

// TransientHeating reports whether transient (stochastic) dust heating is enabled.
func (s *SceneTemplate) TransientHeating() (bool, error) {
	v, ok := s.readAttr("transientHeating", "enabled")
	if !ok {
		return false, fmt.Errorf("scene: transientHeating enabled attribute not found")
	}
	return strconv.ParseBool(v)
}

// --- Mutators ---

// SetPackages rewrites the photon package count.
func (s *SceneTemplate) SetPackages(n int64) error {
	return s.writeAttr("MonteCarloSimulation", "numPackages", strconv.FormatInt(n, 10))
}

// SetWavelengthFileName rewrites the wavelength grid filename.
func (s *SceneTemplate) SetWavelengthFileName(name string) error {
	return s.writeAttr("FileWavelengthGrid", "filename", name)
}

// SetDustGridFile rewrites the precomputed file-tree dust-grid filename.
func (s *SceneTemplate) SetDustGridFile(name string) error {
	return s.writeAttr("FileTreeDustGrid", "filename", name)
}

// SetSelfAbsorption enables or disables dust self-absorption.
func (s *SceneTemplate) SetSelfAbsorption(enabled bool) error {
	return s.writeAttr("DustSystem", "selfAbsorption", strconv.FormatBool(enabled))
}

// SetTransientHeating enables or disables transient dust heating.
func (s *SceneTemplate) SetTransientHeating(enabled bool) error {
	return s.writeAttr("transientHeating", "enabled", strconv.FormatBool(enabled))
}

// Clone returns an independent copy sharing no backing array with s.
func (s *SceneTemplate) Clone() *SceneTemplate {
	return New(s.label, s.raw)
}
