package domain

import (
	"fmt"
	"strings"
)

// InfluenceKind names one variant of the Influence sum type.
type InfluenceKind string

// Supported influence kinds. InfluenceKinds fixes their canonical order.
const (
	InfluenceControl      InfluenceKind = "control"
	InfluenceSham         InfluenceKind = "sham"
	InfluencePharmacology InfluenceKind = "pharmacology"
	InfluenceRadiation    InfluenceKind = "radiation"
	InfluenceStimulus     InfluenceKind = "stimulus"
	InfluenceDisease      InfluenceKind = "disease"
)

// InfluenceKinds lists every kind in canonical order. Path segments and wire
// encodings iterate kinds in this order.
var InfluenceKinds = []InfluenceKind{
	InfluenceControl,
	InfluenceSham,
	InfluencePharmacology,
	InfluenceRadiation,
	InfluenceStimulus,
	InfluenceDisease,
}

// Influence is a named experimental condition applied to a sample. The set
// of implementations is closed to this package.
type Influence interface {
	Kind() InfluenceKind
	InfluenceName() string
	cloneInfluence() Influence
}

// Control is an untreated reference condition.
type Control struct {
	Name  string   `json:"name"`
	Wells []string `json:"wells,omitempty"`
}

// Sham is a mock treatment condition.
type Sham struct {
	Name  string   `json:"name"`
	Wells []string `json:"wells,omitempty"`
	Notes string   `json:"notes,omitempty"`
}

// Pharmacology is a compound applied at a concentration for an exposure time.
type Pharmacology struct {
	Name              string   `json:"name"`
	Concentration     *float64 `json:"concentration,omitempty"`
	ConcentrationUnit string   `json:"concentrationUnit,omitempty"`
	Exposure          *float64 `json:"exposure,omitempty"`
	ExposureUnit      string   `json:"exposureUnit,omitempty"`
	Wells             []string `json:"wells,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// Radiation is an irradiation dose.
type Radiation struct {
	Name              string   `json:"name"`
	Dosage            *float64 `json:"dosage,omitempty"`
	DosageUnit        string   `json:"dosageUnit,omitempty"`
	Exposure          *float64 `json:"exposure,omitempty"`
	ExposureUnit      string   `json:"exposureUnit,omitempty"`
	IrradiationDevice string   `json:"irradiationDevice,omitempty"`
	Wells             []string `json:"wells,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// Stimulus is an electrical or sensory stimulation protocol.
type Stimulus struct {
	Name string `json:"name"`
}

// Disease is a disease model applied to the sample.
type Disease struct {
	Name  string   `json:"name"`
	Wells []string `json:"wells,omitempty"`
	Notes string   `json:"notes,omitempty"`
}

func (Control) Kind() InfluenceKind      { return InfluenceControl }
func (Sham) Kind() InfluenceKind         { return InfluenceSham }
func (Pharmacology) Kind() InfluenceKind { return InfluencePharmacology }
func (Radiation) Kind() InfluenceKind    { return InfluenceRadiation }
func (Stimulus) Kind() InfluenceKind     { return InfluenceStimulus }
func (Disease) Kind() InfluenceKind      { return InfluenceDisease }

func (c Control) InfluenceName() string      { return c.Name }
func (s Sham) InfluenceName() string         { return s.Name }
func (p Pharmacology) InfluenceName() string { return p.Name }
func (r Radiation) InfluenceName() string    { return r.Name }
func (s Stimulus) InfluenceName() string     { return s.Name }
func (d Disease) InfluenceName() string      { return d.Name }

func (c Control) cloneInfluence() Influence {
	c.Wells = cloneStrings(c.Wells)
	return c
}

func (s Sham) cloneInfluence() Influence {
	s.Wells = cloneStrings(s.Wells)
	return s
}

func (p Pharmacology) cloneInfluence() Influence {
	p.Concentration = cloneFloat(p.Concentration)
	p.Exposure = cloneFloat(p.Exposure)
	p.Wells = cloneStrings(p.Wells)
	return p
}

func (r Radiation) cloneInfluence() Influence {
	r.Dosage = cloneFloat(r.Dosage)
	r.Exposure = cloneFloat(r.Exposure)
	r.Wells = cloneStrings(r.Wells)
	return r
}

func (s Stimulus) cloneInfluence() Influence { return s }

func (d Disease) cloneInfluence() Influence {
	d.Wells = cloneStrings(d.Wells)
	return d
}

// InfluenceGroup is one group of conditions applied together. A group holds
// at most one influence per kind.
type InfluenceGroup []Influence

// Get returns the influence of the given kind, if present.
func (g InfluenceGroup) Get(kind InfluenceKind) (Influence, bool) {
	for _, inf := range g {
		if inf != nil && inf.Kind() == kind {
			return inf, true
		}
	}
	return nil, false
}

// Names returns the influence names of the group in canonical kind order.
func (g InfluenceGroup) Names() []string {
	names := make([]string, 0, len(g))
	for _, kind := range InfluenceKinds {
		if inf, ok := g.Get(kind); ok {
			names = append(names, strings.TrimSpace(inf.InfluenceName()))
		}
	}
	return names
}

func (g InfluenceGroup) validate() error {
	if len(g) == 0 {
		return fmt.Errorf("must contain at least one influence")
	}
	seen := make(map[InfluenceKind]bool, len(g))
	for _, inf := range g {
		if inf == nil {
			return fmt.Errorf("nil influence")
		}
		if seen[inf.Kind()] {
			return fmt.Errorf("duplicate %s influence", inf.Kind())
		}
		seen[inf.Kind()] = true
		if strings.TrimSpace(inf.InfluenceName()) == "" {
			return fmt.Errorf("%s influence requires a name", inf.Kind())
		}
	}
	return nil
}

func (g InfluenceGroup) clone() InfluenceGroup {
	if g == nil {
		return nil
	}
	out := make(InfluenceGroup, len(g))
	for i, inf := range g {
		if inf != nil {
			out[i] = inf.cloneInfluence()
		}
	}
	return out
}

// UniqueInfluenceNames returns the influence names of all groups, groups in
// order and kinds in canonical order, keeping only the first occurrence.
func UniqueInfluenceNames(groups []InfluenceGroup) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, name := range g.Names() {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
