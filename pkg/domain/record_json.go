package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const influenceKeyPrefix = "influence"

// recordWire is the filecontext document written to sidecars and stored in
// the index record column.
type recordWire struct {
	Species                  string               `json:"species"`
	Origin                   string               `json:"origin"`
	OrganType                string               `json:"organType"`
	CellType                 string               `json:"cellType"`
	BrainRegion              []string             `json:"brainRegion,omitempty"`
	ProtocolNames            []string             `json:"protocolNames,omitempty"`
	CellID                   string               `json:"cellID,omitempty"`
	Keywords                 []string             `json:"keywords"`
	Experimenter             []string             `json:"experimenter"`
	Lab                      []string             `json:"lab"`
	Date                     string               `json:"date"`
	Time                     string               `json:"time,omitempty"`
	ExperimentDate           string               `json:"experimentDate,omitempty"`
	ExperimentName           string               `json:"experimentName,omitempty"`
	PrecursorExperimentNames []string             `json:"precursorExperimentNames,omitempty"`
	SampleID                 *int                 `json:"sampleID"`
	AgeDIV                   *int                 `json:"ageDIV,omitempty"`
	AgeDAP                   *int                 `json:"ageDAP,omitempty"`
	NumInfluenceGroups       int                  `json:"numInfluenceGroups"`
	InfluenceGroups          map[string]groupWire `json:"influenceGroups"`
	LabDeviceType            DeviceKind           `json:"labDeviceType"`
	LabDevice                deviceWire           `json:"labDevice"`
	Notes                    string               `json:"notes,omitempty"`
	Smiley                   *int                 `json:"smiley,omitempty"`
	FileName                 string               `json:"fileName,omitempty"`
	CreationDate             *time.Time           `json:"creationDate,omitempty"`
}

type groupWire struct {
	Control      *Control      `json:"control,omitempty"`
	Sham         *Sham         `json:"sham,omitempty"`
	Pharmacology *Pharmacology `json:"pharmacology,omitempty"`
	Radiation    *Radiation    `json:"radiation,omitempty"`
	Stimulus     *Stimulus     `json:"stimulus,omitempty"`
	Disease      *Disease      `json:"disease,omitempty"`
}

type deviceWire struct {
	MEA        *MEA            `json:"mea,omitempty"`
	Microscope *microscopeWire `json:"microscope,omitempty"`
}

type microscopeWire struct {
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	Magnification []string     `json:"magnification,omitempty"`
	Task          string       `json:"task"`
	IFStaining    *IFStaining  `json:"ifStaining,omitempty"`
	Ca2Imaging    *Ca2Imaging  `json:"ca2Imaging,omitempty"`
	Brightfield   *Brightfield `json:"brightfield,omitempty"`
}

// MarshalJSON encodes the record in the filecontext shape. The derived
// experiment name is included so sidecars stay self-describing.
func (r MetadataRecord) MarshalJSON() ([]byte, error) {
	w := recordWire{
		Species:                  r.Species,
		Origin:                   r.Origin,
		OrganType:                r.OrganType,
		CellType:                 r.CellType,
		BrainRegion:              r.BrainRegions,
		ProtocolNames:            r.ProtocolNames,
		CellID:                   r.CellID,
		Keywords:                 nonNil(r.Keywords),
		Experimenter:             nonNil(r.Experimenters),
		Lab:                      nonNil(r.Labs),
		Date:                     r.Date,
		Time:                     r.Time,
		ExperimentDate:           r.ExperimentDate,
		ExperimentName:           r.ExperimentName(),
		PrecursorExperimentNames: r.PrecursorExperiments,
		SampleID:                 r.SampleID,
		AgeDIV:                   r.AgeDIV,
		AgeDAP:                   r.AgeDAP,
		NumInfluenceGroups:       len(r.InfluenceGroups),
		InfluenceGroups:          make(map[string]groupWire, len(r.InfluenceGroups)),
		Notes:                    r.Notes,
		Smiley:                   r.Smiley,
		FileName:                 r.FileName,
	}
	if !r.CreatedAt.IsZero() {
		created := r.CreatedAt.UTC()
		w.CreationDate = &created
	}
	for i, g := range r.InfluenceGroups {
		gw, err := encodeGroup(g)
		if err != nil {
			return nil, fmt.Errorf("influence group %d: %w", i+1, err)
		}
		w.InfluenceGroups[influenceKeyPrefix+strconv.Itoa(i+1)] = gw
	}
	if r.Device != nil {
		w.LabDeviceType = r.Device.Kind()
		dw, err := encodeDevice(r.Device)
		if err != nil {
			return nil, err
		}
		w.LabDevice = dw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a filecontext document. Unknown keys and unknown
// influence or device variants are rejected.
func (r *MetadataRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w recordWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	out := MetadataRecord{
		Subject: Subject{
			Species:       w.Species,
			Origin:        w.Origin,
			OrganType:     w.OrganType,
			CellType:      w.CellType,
			BrainRegions:  w.BrainRegion,
			CellID:        w.CellID,
			ProtocolNames: w.ProtocolNames,
		},
		Session: Session{
			Keywords:             w.Keywords,
			Experimenters:        w.Experimenter,
			Labs:                 w.Lab,
			Date:                 w.Date,
			Time:                 w.Time,
			ExperimentDate:       w.ExperimentDate,
			PrecursorExperiments: w.PrecursorExperimentNames,
			SampleID:             w.SampleID,
			AgeDIV:               w.AgeDIV,
			AgeDAP:               w.AgeDAP,
		},
		Notes:    w.Notes,
		Smiley:   w.Smiley,
		FileName: w.FileName,
	}
	if w.CreationDate != nil {
		out.CreatedAt = w.CreationDate.UTC()
	}

	keys := make([]int, 0, len(w.InfluenceGroups))
	byIndex := make(map[int]groupWire, len(w.InfluenceGroups))
	for key, gw := range w.InfluenceGroups {
		n, err := strconv.Atoi(strings.TrimPrefix(key, influenceKeyPrefix))
		if !strings.HasPrefix(key, influenceKeyPrefix) || err != nil || n < 1 {
			return fmt.Errorf("unknown influence group key %q", key)
		}
		keys = append(keys, n)
		byIndex[n] = gw
	}
	sort.Ints(keys)
	for _, n := range keys {
		out.InfluenceGroups = append(out.InfluenceGroups, decodeGroup(byIndex[n]))
	}
	if w.NumInfluenceGroups != 0 && w.NumInfluenceGroups != len(out.InfluenceGroups) {
		return fmt.Errorf("numInfluenceGroups is %d but %d groups are present", w.NumInfluenceGroups, len(out.InfluenceGroups))
	}

	device, err := decodeDevice(w.LabDeviceType, w.LabDevice)
	if err != nil {
		return err
	}
	out.Device = device
	*r = out
	return nil
}

// CanonicalJSON returns the encoding used to compare records for equality.
// The creation timestamp is excluded so resubmitting identical metadata is
// recognised as unchanged.
func (r MetadataRecord) CanonicalJSON() ([]byte, error) {
	c := r
	c.CreatedAt = time.Time{}
	return json.Marshal(c)
}

// SameContent reports whether two records carry identical metadata.
func (r MetadataRecord) SameContent(other MetadataRecord) bool {
	a, err := r.CanonicalJSON()
	if err != nil {
		return false
	}
	b, err := other.CanonicalJSON()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func encodeGroup(g InfluenceGroup) (groupWire, error) {
	var gw groupWire
	for _, inf := range g {
		switch v := inf.(type) {
		case Control:
			gw.Control = &v
		case *Control:
			gw.Control = v
		case Sham:
			gw.Sham = &v
		case *Sham:
			gw.Sham = v
		case Pharmacology:
			gw.Pharmacology = &v
		case *Pharmacology:
			gw.Pharmacology = v
		case Radiation:
			gw.Radiation = &v
		case *Radiation:
			gw.Radiation = v
		case Stimulus:
			gw.Stimulus = &v
		case *Stimulus:
			gw.Stimulus = v
		case Disease:
			gw.Disease = &v
		case *Disease:
			gw.Disease = v
		default:
			return groupWire{}, fmt.Errorf("unsupported influence %T", inf)
		}
	}
	return gw, nil
}

func decodeGroup(gw groupWire) InfluenceGroup {
	var g InfluenceGroup
	if gw.Control != nil {
		g = append(g, *gw.Control)
	}
	if gw.Sham != nil {
		g = append(g, *gw.Sham)
	}
	if gw.Pharmacology != nil {
		g = append(g, *gw.Pharmacology)
	}
	if gw.Radiation != nil {
		g = append(g, *gw.Radiation)
	}
	if gw.Stimulus != nil {
		g = append(g, *gw.Stimulus)
	}
	if gw.Disease != nil {
		g = append(g, *gw.Disease)
	}
	return g
}

func encodeDevice(d Device) (deviceWire, error) {
	switch v := d.(type) {
	case MEA:
		return deviceWire{MEA: &v}, nil
	case Microscope:
		mw := &microscopeWire{Type: v.Type, Name: v.Name, Magnification: v.Magnification}
		switch task := v.Task.(type) {
		case IFStaining:
			mw.Task, mw.IFStaining = task.TaskName(), &task
		case Ca2Imaging:
			mw.Task, mw.Ca2Imaging = task.TaskName(), &task
		case Brightfield:
			mw.Task, mw.Brightfield = task.TaskName(), &task
		case nil:
		default:
			return deviceWire{}, fmt.Errorf("unsupported microscopy task %T", v.Task)
		}
		return deviceWire{Microscope: mw}, nil
	default:
		return deviceWire{}, fmt.Errorf("unsupported lab device %T", d)
	}
}

func decodeDevice(kind DeviceKind, dw deviceWire) (Device, error) {
	if dw.MEA != nil && dw.Microscope != nil {
		return nil, fmt.Errorf("labDevice must hold exactly one device")
	}
	switch kind {
	case DeviceMEA:
		if dw.MEA == nil {
			return nil, fmt.Errorf("labDeviceType %s without mea settings", kind)
		}
		return *dw.MEA, nil
	case DeviceMicroscope:
		if dw.Microscope == nil {
			return nil, fmt.Errorf("labDeviceType %s without microscope settings", kind)
		}
		mw := dw.Microscope
		m := Microscope{Type: mw.Type, Name: mw.Name, Magnification: mw.Magnification}
		set := 0
		if mw.IFStaining != nil {
			m.Task = *mw.IFStaining
			set++
		}
		if mw.Ca2Imaging != nil {
			m.Task = *mw.Ca2Imaging
			set++
		}
		if mw.Brightfield != nil {
			m.Task = *mw.Brightfield
			set++
		}
		if set > 1 {
			return nil, fmt.Errorf("microscope must hold exactly one task")
		}
		if m.Task != nil && mw.Task != "" && mw.Task != m.Task.TaskName() {
			return nil, fmt.Errorf("microscope task %q does not match %s settings", mw.Task, m.Task.TaskName())
		}
		return m, nil
	case "":
		if dw.MEA != nil || dw.Microscope != nil {
			return nil, fmt.Errorf("labDevice present without labDeviceType")
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown labDeviceType %q", kind)
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
