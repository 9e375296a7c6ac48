package domain

import (
	"fmt"
	"strings"
	"time"
)

// Query selects index entries. Each populated field is an any-of filter over
// its values; populated fields combine with AND. The zero Query matches
// everything. Matches is the reference semantics every Index backend mirrors.
type Query struct {
	Species       []string `json:"species,omitempty" yaml:"species,omitempty"`
	Origin        []string `json:"origin,omitempty" yaml:"origin,omitempty"`
	OrganType     []string `json:"organType,omitempty" yaml:"organType,omitempty"`
	CellType      []string `json:"cellType,omitempty" yaml:"cellType,omitempty"`
	BrainRegion   []string `json:"brainRegion,omitempty" yaml:"brainRegion,omitempty"`
	ProtocolNames []string `json:"protocolNames,omitempty" yaml:"protocolNames,omitempty"`
	Keywords      []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Experimenter  []string `json:"experimenter,omitempty" yaml:"experimenter,omitempty"`
	Lab           []string `json:"lab,omitempty" yaml:"lab,omitempty"`

	Control      []string `json:"control,omitempty" yaml:"control,omitempty"`
	Sham         []string `json:"sham,omitempty" yaml:"sham,omitempty"`
	Pharmacology []string `json:"pharmacology,omitempty" yaml:"pharmacology,omitempty"`
	Radiation    []string `json:"radiation,omitempty" yaml:"radiation,omitempty"`
	Stimulus     []string `json:"stimulus,omitempty" yaml:"stimulus,omitempty"`
	Disease      []string `json:"disease,omitempty" yaml:"disease,omitempty"`

	DeviceMEA        []string `json:"deviceMEA,omitempty" yaml:"deviceMEA,omitempty"`
	ChipTypeMEA      []string `json:"chipTypeMEA,omitempty" yaml:"chipTypeMEA,omitempty"`
	DeviceMicroscope []string `json:"deviceMicroscope,omitempty" yaml:"deviceMicroscope,omitempty"`
	TaskMicroscope   []string `json:"taskMicroscope,omitempty" yaml:"taskMicroscope,omitempty"`

	// DateFrom and DateTo bound the measurement date, inclusive (YYYY-MM-DD).
	DateFrom string `json:"date_from,omitempty" yaml:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty" yaml:"date_to,omitempty"`
	// ExperimentName matches case-insensitively as a substring.
	ExperimentName string      `json:"experimentName,omitempty" yaml:"experimentName,omitempty"`
	Review         ReviewState `json:"review,omitempty" yaml:"review,omitempty"`
	Fingerprint    Fingerprint `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	// PathPrefix restricts results to a directory of the storage tree.
	PathPrefix string `json:"pathPrefix,omitempty" yaml:"pathPrefix,omitempty"`

	Limit  int `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset int `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Validate rejects malformed bounds before a backend sees them.
func (q Query) Validate() error {
	for name, v := range map[string]string{"date_from": q.DateFrom, "date_to": q.DateTo} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, v); err != nil {
			return fmt.Errorf("%s %q is not YYYY-MM-DD", name, v)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	switch q.Review {
	case "", ReviewPending, ReviewReviewed:
	default:
		return fmt.Errorf("unknown review state %q", q.Review)
	}
	return nil
}

// InfluenceFilters returns the populated influence filters keyed by kind.
func (q Query) InfluenceFilters() map[InfluenceKind][]string {
	out := make(map[InfluenceKind][]string)
	for kind, values := range map[InfluenceKind][]string{
		InfluenceControl:      q.Control,
		InfluenceSham:         q.Sham,
		InfluencePharmacology: q.Pharmacology,
		InfluenceRadiation:    q.Radiation,
		InfluenceStimulus:     q.Stimulus,
		InfluenceDisease:      q.Disease,
	} {
		if len(values) > 0 {
			out[kind] = values
		}
	}
	return out
}

// NormalizedPathPrefix returns the cleaned prefix, or "" when unset.
func (q Query) NormalizedPathPrefix() string {
	if strings.TrimSpace(q.PathPrefix) == "" {
		return ""
	}
	p, err := CleanPath(strings.TrimSuffix(q.PathPrefix, "/"))
	if err != nil {
		return q.PathPrefix
	}
	return p
}

// Matches reports whether the entry satisfies every populated filter.
func (q Query) Matches(e StorageEntry) bool {
	r := e.Record
	if !anyOf(q.Species, r.Species) || !anyOf(q.Origin, r.Origin) ||
		!anyOf(q.OrganType, r.OrganType) || !anyOf(q.CellType, r.CellType) {
		return false
	}
	if !overlaps(q.BrainRegion, r.BrainRegions) || !overlaps(q.ProtocolNames, r.ProtocolNames) ||
		!overlaps(q.Keywords, r.Keywords) || !overlaps(q.Experimenter, r.Experimenters) ||
		!overlaps(q.Lab, r.Labs) {
		return false
	}
	for kind, values := range q.InfluenceFilters() {
		if !groupsMatch(r.InfluenceGroups, kind, values) {
			return false
		}
	}
	if len(q.DeviceMEA) > 0 || len(q.ChipTypeMEA) > 0 {
		mea, ok := r.Device.(MEA)
		if !ok || !anyOf(q.DeviceMEA, mea.Name) || !anyOf(q.ChipTypeMEA, mea.ChipType) {
			return false
		}
	}
	if len(q.DeviceMicroscope) > 0 || len(q.TaskMicroscope) > 0 {
		m, ok := r.Device.(Microscope)
		if !ok || !anyOf(q.DeviceMicroscope, m.Name) {
			return false
		}
		task := ""
		if m.Task != nil {
			task = m.Task.TaskName()
		}
		if !anyOf(q.TaskMicroscope, task) {
			return false
		}
	}
	if q.DateFrom != "" && r.Date < q.DateFrom {
		return false
	}
	if q.DateTo != "" && r.Date > q.DateTo {
		return false
	}
	if q.ExperimentName != "" &&
		!strings.Contains(strings.ToLower(e.ExperimentName), strings.ToLower(q.ExperimentName)) {
		return false
	}
	if q.Review != "" && e.Review != q.Review {
		return false
	}
	if q.Fingerprint != "" && e.Fingerprint != q.Fingerprint {
		return false
	}
	if prefix := q.NormalizedPathPrefix(); prefix != "" &&
		e.Path != prefix && !strings.HasPrefix(e.Path, prefix+"/") {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered result set.
func (q Query) Page(entries []StorageEntry) []StorageEntry {
	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			return nil
		}
		entries = entries[q.Offset:]
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries
}

func anyOf(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func overlaps(values, have []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, h := range have {
		if anyOf(values, h) {
			return true
		}
	}
	return false
}

func groupsMatch(groups []InfluenceGroup, kind InfluenceKind, values []string) bool {
	for _, g := range groups {
		if inf, ok := g.Get(kind); ok && anyOf(values, inf.InfluenceName()) {
			return true
		}
	}
	return false
}
