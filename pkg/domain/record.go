// Package domain defines the validated metadata records, index entries, query
// model and persistence contract shared by the cellrex registration core.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Bounds enforced on a MetadataRecord.
const (
	MaxKeywords        = 5
	MaxInfluenceGroups = 5
	MaxSmiley          = 10
)

// Date and time layouts accepted for session fields.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
	TimeLayoutLong  = "15:04:05"
	experimentTag   = "exp"
	listSeparator   = "-"
	nameSeparator   = "_"
	experimentWords = 3
)

// Subject describes the biological material a file was recorded from.
type Subject struct {
	Species       string
	Origin        string
	OrganType     string
	CellType      string
	BrainRegions  []string
	CellID        string
	ProtocolNames []string
}

// Session describes when, by whom and on which sample a measurement was taken.
type Session struct {
	Keywords      []string
	Experimenters []string
	Labs          []string
	// Date is the measurement date of this file (YYYY-MM-DD).
	Date string
	// Time is the optional measurement time (HH:MM or HH:MM:SS).
	Time string
	// ExperimentDate is the date of the first measurement of the experiment
	// this file belongs to. Empty means this file is the first measurement.
	ExperimentDate       string
	PrecursorExperiments []string
	SampleID             *int
	AgeDIV               *int
	AgeDAP               *int
}

// MetadataRecord is the validated, immutable description of one experimental
// file. Influence groups and devices are closed sum types; see Influence and
// Device.
type MetadataRecord struct {
	Subject
	Session
	InfluenceGroups []InfluenceGroup
	Device          Device
	Notes           string
	// Smiley is the 0-10 review rating; a non-nil value marks the raw data as reviewed.
	Smiley    *int
	FileName  string
	CreatedAt time.Time
}

// Int returns a pointer to v. It keeps record literals for optional integer
// fields readable.
func Int(v int) *int { return &v }

// FirstMeasurementDate returns the date that anchors the experiment name.
func (r MetadataRecord) FirstMeasurementDate() string {
	if d := strings.TrimSpace(r.ExperimentDate); d != "" {
		return d
	}
	return strings.TrimSpace(r.Date)
}

// ExperimentName derives the grouping key for the record.
func (r MetadataRecord) ExperimentName() string {
	return DeriveExperimentName(r.FirstMeasurementDate(), r.Experimenters, r.Keywords)
}

// Review reports the review state implied by the rating.
func (r MetadataRecord) Review() ReviewState {
	if r.Smiley != nil {
		return ReviewReviewed
	}
	return ReviewPending
}

// DeriveExperimentName builds "exp_<date>_<experimenters>_<keywords>" from the
// first measurement date, every experimenter and the first three keywords.
// The output is byte-stable for identical inputs.
func DeriveExperimentName(firstDate string, experimenters, keywords []string) string {
	kw := trimAll(keywords)
	if len(kw) > experimentWords {
		kw = kw[:experimentWords]
	}
	return strings.Join([]string{
		experimentTag,
		strings.TrimSpace(firstDate),
		strings.Join(trimAll(experimenters), listSeparator),
		strings.Join(kw, listSeparator),
	}, nameSeparator)
}

// Validate checks every record invariant and reports all violations at once.
func (r MetadataRecord) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for field, value := range map[string]string{
		"species":   r.Species,
		"origin":    r.Origin,
		"organType": r.OrganType,
		"cellType":  r.CellType,
	} {
		if strings.TrimSpace(value) == "" {
			add("%s is required", field)
		}
	}
	if n := len(nonEmpty(r.Keywords)); n < 1 || n > MaxKeywords {
		add("keywords must contain 1-%d entries, got %d", MaxKeywords, n)
	}
	if len(nonEmpty(r.Experimenters)) == 0 {
		add("at least one experimenter is required")
	}
	if len(nonEmpty(r.Labs)) == 0 {
		add("at least one lab is required")
	}
	if _, err := time.Parse(DateLayout, strings.TrimSpace(r.Date)); err != nil {
		add("date %q is not YYYY-MM-DD", r.Date)
	}
	if r.ExperimentDate != "" {
		first, err := time.Parse(DateLayout, strings.TrimSpace(r.ExperimentDate))
		if err != nil {
			add("experimentDate %q is not YYYY-MM-DD", r.ExperimentDate)
		} else if d, derr := time.Parse(DateLayout, strings.TrimSpace(r.Date)); derr == nil && d.Before(first) {
			add("date %s precedes experimentDate %s", r.Date, r.ExperimentDate)
		}
	}
	if r.Time != "" && !validTime(r.Time) {
		add("time %q is not HH:MM or HH:MM:SS", r.Time)
	}
	if r.SampleID == nil {
		add("sampleID is required")
	} else if *r.SampleID < 0 {
		add("sampleID must not be negative")
	}
	switch {
	case r.AgeDIV == nil && r.AgeDAP == nil:
		add("exactly one of ageDIV or ageDAP is required")
	case r.AgeDIV != nil && r.AgeDAP != nil:
		add("ageDIV and ageDAP are mutually exclusive")
	case r.AgeDIV != nil && *r.AgeDIV < 0, r.AgeDAP != nil && *r.AgeDAP < 0:
		add("age must not be negative")
	}
	if n := len(r.InfluenceGroups); n < 1 || n > MaxInfluenceGroups {
		add("influence groups must contain 1-%d groups, got %d", MaxInfluenceGroups, n)
	}
	for i, g := range r.InfluenceGroups {
		if err := g.validate(); err != nil {
			add("influence group %d: %v", i+1, err)
		}
	}
	if r.Device == nil {
		add("lab device is required")
	} else if err := r.Device.validate(); err != nil {
		add("lab device: %v", err)
	}
	if r.Smiley != nil && (*r.Smiley < 0 || *r.Smiley > MaxSmiley) {
		add("smiley must be within 0-%d", MaxSmiley)
	}
	if r.FileName != "" && !validFileName(r.FileName) {
		add("fileName %q must be a single path element", r.FileName)
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return &InvalidRecordError{Problems: problems}
}

// Clone returns a deep copy so callers can adjust a record without aliasing
// the original's slices.
func (r MetadataRecord) Clone() MetadataRecord {
	out := r
	out.BrainRegions = cloneStrings(r.BrainRegions)
	out.ProtocolNames = cloneStrings(r.ProtocolNames)
	out.Keywords = cloneStrings(r.Keywords)
	out.Experimenters = cloneStrings(r.Experimenters)
	out.Labs = cloneStrings(r.Labs)
	out.PrecursorExperiments = cloneStrings(r.PrecursorExperiments)
	out.SampleID = cloneInt(r.SampleID)
	out.AgeDIV = cloneInt(r.AgeDIV)
	out.AgeDAP = cloneInt(r.AgeDAP)
	out.Smiley = cloneInt(r.Smiley)
	if r.InfluenceGroups != nil {
		out.InfluenceGroups = make([]InfluenceGroup, len(r.InfluenceGroups))
		for i, g := range r.InfluenceGroups {
			out.InfluenceGroups[i] = g.clone()
		}
	}
	if r.Device != nil {
		out.Device = r.Device.clone()
	}
	return out
}

func validTime(v string) bool {
	v = strings.TrimSpace(v)
	if _, err := time.Parse(TimeLayout, v); err == nil {
		return true
	}
	_, err := time.Parse(TimeLayoutLong, v)
	return err == nil
}

func validFileName(name string) bool {
	switch {
	case name == "." || name == "..":
		return false
	case strings.ContainsAny(name, "/\\\x00"):
		return false
	case strings.TrimSpace(name) != name:
		return false
	}
	return true
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func nonEmpty(in []string) []string { return trimAll(in) }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
