// Package layout derives canonical storage paths from metadata records.
//
// The key order of a Composer is a frozen per-deployment contract: paths of
// already registered files are only reproducible with the order they were
// composed with. core.EnsureLayout persists the order in the index and
// refuses to start with a different one.
package layout

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cellrex/pkg/domain"
)

// Key names a metadata field that contributes one path segment.
type Key string

const (
	KeySpecies         Key = "species"
	KeyOrigin          Key = "origin"
	KeyOrganType       Key = "organType"
	KeyCellType        Key = "cellType"
	KeyBrainRegion     Key = "brainRegion"
	KeyCellID          Key = "cellID"
	KeyExperimenter    Key = "experimenter"
	KeyLab             Key = "lab"
	KeyDate            Key = "date"
	KeyExperimentName  Key = "experimentName"
	KeyInfluenceGroups Key = "influenceGroups"
	KeySampleID        Key = "sampleID"
	KeyAge             Key = "age"
	KeyLabDevice       Key = "labDevice"
)

// SidecarExt is appended to a file path to obtain its sidecar path.
const SidecarExt = ".json"

// NoneSegment stands in for an empty optional field.
const NoneSegment = "none"

const (
	sampleIDPrefix = "sID"
	agePrefixDAP   = "DAP"
	agePrefixDIV   = "DIV"
	listSep        = "-"
	influenceSep   = "_"
	signatureSep   = "/"
)

// DefaultKeyOrder is the segment order used when none is configured.
var DefaultKeyOrder = []Key{
	KeySpecies,
	KeyOrigin,
	KeyOrganType,
	KeyCellType,
	KeyExperimentName,
	KeyInfluenceGroups,
	KeySampleID,
	KeyAge,
	KeyLabDevice,
}

var knownKeys = map[Key]bool{
	KeySpecies: true, KeyOrigin: true, KeyOrganType: true, KeyCellType: true,
	KeyBrainRegion: true, KeyCellID: true, KeyExperimenter: true, KeyLab: true,
	KeyDate: true, KeyExperimentName: true, KeyInfluenceGroups: true,
	KeySampleID: true, KeyAge: true, KeyLabDevice: true,
}

var keyAliases = map[string]Key{
	"ageDIV": KeyAge,
	"ageDAP": KeyAge,
}

// Paths holds the slash-separated destination of a file and its sidecar,
// relative to the storage root.
type Paths struct {
	File    string `json:"file"`
	Sidecar string `json:"sidecar"`
}

// Composer maps records to Paths. It is immutable and safe for concurrent use.
type Composer struct {
	order []Key
	vocab map[Key]map[string]bool
}

// Option configures a Composer.
type Option func(*Composer)

// WithVocabulary restricts the accepted values of a key. Values outside the
// set make Compose fail with domain.ErrInvalidRecord.
func WithVocabulary(key Key, values ...string) Option {
	return func(c *Composer) {
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[strings.TrimSpace(v)] = true
		}
		c.vocab[key] = set
	}
}

// New builds a Composer for the given key order. An empty order selects
// DefaultKeyOrder.
func New(order []Key, opts ...Option) (*Composer, error) {
	if len(order) == 0 {
		order = DefaultKeyOrder
	}
	seen := make(map[Key]bool, len(order))
	resolved := make([]Key, 0, len(order))
	for _, k := range order {
		key, err := resolveKey(string(k))
		if err != nil {
			return nil, err
		}
		if seen[key] {
			return nil, fmt.Errorf("layout key %q listed twice", key)
		}
		seen[key] = true
		resolved = append(resolved, key)
	}
	c := &Composer{order: resolved, vocab: make(map[Key]map[string]bool)}
	for _, opt := range opts {
		opt(c)
	}
	for key := range c.vocab {
		if !knownKeys[key] {
			return nil, fmt.Errorf("vocabulary for unknown layout key %q", key)
		}
	}
	return c, nil
}

// Default returns a Composer using DefaultKeyOrder without vocabularies.
func Default() *Composer {
	c, err := New(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseKeys parses a comma or slash separated key list.
func ParseKeys(s string) ([]Key, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' })
	keys := make([]Key, 0, len(fields))
	for _, f := range fields {
		key, err := resolveKey(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func resolveKey(name string) (Key, error) {
	if alias, ok := keyAliases[name]; ok {
		return alias, nil
	}
	if !knownKeys[Key(name)] {
		return "", fmt.Errorf("unknown layout key %q", name)
	}
	return Key(name), nil
}

// KeyOrder returns a copy of the configured order.
func (c *Composer) KeyOrder() []Key {
	return append([]Key(nil), c.order...)
}

// Signature is the persisted form of the key order.
func (c *Composer) Signature() string {
	parts := make([]string, len(c.order))
	for i, k := range c.order {
		parts[i] = string(k)
	}
	return strings.Join(parts, signatureSep)
}

// Compose derives the destination of rec. It performs no I/O.
func (c *Composer) Compose(rec domain.MetadataRecord) (Paths, error) {
	var problems []string
	segments := make([]string, 0, len(c.order)+1)
	for _, key := range c.order {
		seg, err := c.segment(key, rec)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if err := checkSegment(key, seg); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		segments = append(segments, seg)
	}
	name := strings.TrimSpace(rec.FileName)
	if name == "" {
		problems = append(problems, "fileName is required")
	} else if err := checkSegment("fileName", name); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return Paths{}, &domain.InvalidRecordError{Problems: problems}
	}
	file := path.Join(append(segments, name)...)
	return Paths{File: file, Sidecar: SidecarPath(file)}, nil
}

// SidecarPath returns the sidecar path paired with a file path.
func SidecarPath(file string) string { return file + SidecarExt }

// IsSidecar reports whether name carries the sidecar extension.
func IsSidecar(name string) bool { return strings.HasSuffix(name, SidecarExt) }

// DataPath returns the file path paired with a sidecar path.
func DataPath(sidecar string) string { return strings.TrimSuffix(sidecar, SidecarExt) }

// Abs resolves a slash-separated relative path against the storage root.
func Abs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under root into the index path form.
func Rel(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return domain.CleanPath(filepath.ToSlash(rel))
}

func (c *Composer) segment(key Key, rec domain.MetadataRecord) (string, error) {
	switch key {
	case KeySpecies:
		return c.required(key, rec.Species)
	case KeyOrigin:
		return c.required(key, rec.Origin)
	case KeyOrganType:
		return c.required(key, rec.OrganType)
	case KeyCellType:
		return c.required(key, rec.CellType)
	case KeyBrainRegion:
		return c.list(key, rec.BrainRegions, false)
	case KeyCellID:
		if v := strings.TrimSpace(rec.CellID); v != "" {
			return v, nil
		}
		return NoneSegment, nil
	case KeyExperimenter:
		return c.list(key, rec.Experimenters, true)
	case KeyLab:
		return c.list(key, rec.Labs, true)
	case KeyDate:
		return c.required(key, rec.Date)
	case KeyExperimentName:
		if strings.TrimSpace(rec.FirstMeasurementDate()) == "" {
			return "", fmt.Errorf("experimentName requires a measurement date")
		}
		return rec.ExperimentName(), nil
	case KeyInfluenceGroups:
		names := domain.UniqueInfluenceNames(rec.InfluenceGroups)
		if len(names) == 0 {
			return "", fmt.Errorf("influenceGroups requires at least one named influence")
		}
		return strings.Join(names, influenceSep), nil
	case KeySampleID:
		if rec.SampleID == nil {
			return "", fmt.Errorf("sampleID is required")
		}
		return sampleIDPrefix + strconv.Itoa(*rec.SampleID), nil
	case KeyAge:
		switch {
		case rec.AgeDAP != nil:
			return agePrefixDAP + strconv.Itoa(*rec.AgeDAP), nil
		case rec.AgeDIV != nil:
			return agePrefixDIV + strconv.Itoa(*rec.AgeDIV), nil
		}
		return "", fmt.Errorf("age requires ageDAP or ageDIV")
	case KeyLabDevice:
		if rec.Device == nil {
			return "", fmt.Errorf("labDevice is required")
		}
		return c.required(key, rec.Device.DeviceName())
	}
	return "", fmt.Errorf("unknown layout key %q", key)
}

func (c *Composer) required(key Key, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	if err := c.allowed(key, v); err != nil {
		return "", err
	}
	return v, nil
}

func (c *Composer) list(key Key, values []string, required bool) (string, error) {
	var kept []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := c.allowed(key, v); err != nil {
			return "", err
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return NoneSegment, nil
	}
	return strings.Join(kept, listSep), nil
}

func (c *Composer) allowed(key Key, value string) error {
	set, ok := c.vocab[key]
	if !ok || set[value] {
		return nil
	}
	return fmt.Errorf("%s %q is not a known value", key, value)
}

func checkSegment(key Key, seg string) error {
	switch {
	case seg == "." || seg == "..":
		return fmt.Errorf("%s segment %q is not a valid path element", key, seg)
	case strings.ContainsAny(seg, "/\\\x00"):
		return fmt.Errorf("%s segment %q contains a path separator", key, seg)
	}
	return nil
}
