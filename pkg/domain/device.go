package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind names one variant of the Device sum type.
type DeviceKind string

// Supported lab devices.
const (
	DeviceMEA        DeviceKind = "MEA"
	DeviceMicroscope DeviceKind = "Microscope"
)

// MaxAntibodies bounds the antibody pairs of an immunofluorescence staining.
const MaxAntibodies = 5

// Device is the lab instrument that produced a file. The set of
// implementations is closed to this package.
type Device interface {
	Kind() DeviceKind
	DeviceName() string
	validate() error
	clone() Device
}

// MEA is a multi-electrode array recording.
type MEA struct {
	Name              string `json:"name"`
	ChipType          string `json:"chipType,omitempty"`
	ChipID            *int   `json:"chipId,omitempty"`
	RecordingDuration *int   `json:"recDur,omitempty"`
	Rate              *int   `json:"rate,omitempty"`
}

// Microscope is an imaging acquisition; Task selects the imaging modality.
type Microscope struct {
	Type          string
	Name          string
	Magnification []string
	Task          MicroscopyTask
}

func (MEA) Kind() DeviceKind        { return DeviceMEA }
func (Microscope) Kind() DeviceKind { return DeviceMicroscope }

func (m MEA) DeviceName() string        { return m.Name }
func (m Microscope) DeviceName() string { return m.Name }

func (m MEA) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("MEA name is required")
	}
	return nil
}

func (m Microscope) validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("microscope name is required")
	case strings.TrimSpace(m.Type) == "":
		return fmt.Errorf("microscope type is required")
	case m.Task == nil:
		return fmt.Errorf("microscope task is required")
	}
	return m.Task.validate()
}

func (m MEA) clone() Device {
	m.ChipID = cloneInt(m.ChipID)
	m.RecordingDuration = cloneInt(m.RecordingDuration)
	m.Rate = cloneInt(m.Rate)
	return m
}

func (m Microscope) clone() Device {
	m.Magnification = cloneStrings(m.Magnification)
	if m.Task != nil {
		m.Task = m.Task.cloneTask()
	}
	return m
}

// MicroscopyTask is the imaging modality of a Microscope acquisition.
type MicroscopyTask interface {
	TaskName() string
	validate() error
	cloneTask() MicroscopyTask
}

// Task names used on the wire and in queries.
const (
	TaskIFStaining  = "ifStaining"
	TaskCa2Imaging  = "ca2Imaging"
	TaskBrightfield = "brightfield"
)

// Antibody is a primary/secondary antibody pair.
type Antibody struct {
	Primary   string
	Secondary string
}

// IFStaining is an immunofluorescence staining.
type IFStaining struct {
	NumAntibodies *int
	Antibodies    []Antibody
	Concentration string
	OtherDye      string
}

// Ca2Imaging is calcium imaging with the given indicator dye.
type Ca2Imaging struct {
	Dye string `json:"dye,omitempty"`
}

// Brightfield is plain transmitted-light imaging.
type Brightfield struct {
	Settings map[string]string `json:"settings,omitempty"`
}

func (IFStaining) TaskName() string  { return TaskIFStaining }
func (Ca2Imaging) TaskName() string  { return TaskCa2Imaging }
func (Brightfield) TaskName() string { return TaskBrightfield }

func (s IFStaining) validate() error {
	if len(s.Antibodies) > MaxAntibodies {
		return fmt.Errorf("at most %d antibody pairs are supported", MaxAntibodies)
	}
	return nil
}

func (Ca2Imaging) validate() error  { return nil }
func (Brightfield) validate() error { return nil }

func (s IFStaining) cloneTask() MicroscopyTask {
	s.NumAntibodies = cloneInt(s.NumAntibodies)
	if s.Antibodies != nil {
		s.Antibodies = append([]Antibody(nil), s.Antibodies...)
	}
	return s
}

func (c Ca2Imaging) cloneTask() MicroscopyTask { return c }

func (b Brightfield) cloneTask() MicroscopyTask {
	if b.Settings != nil {
		settings := make(map[string]string, len(b.Settings))
		for k, v := range b.Settings {
			settings[k] = v
		}
		b.Settings = settings
	}
	return b
}

// MarshalJSON writes the numbered abPrimN/abSecN keys used by sidecars.
func (s IFStaining) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2*len(s.Antibodies)+3)
	if s.NumAntibodies != nil {
		out["numAntibodies"] = *s.NumAntibodies
	}
	for i, ab := range s.Antibodies {
		n := strconv.Itoa(i + 1)
		if ab.Primary != "" {
			out["abPrim"+n] = ab.Primary
		}
		if ab.Secondary != "" {
			out["abSec"+n] = ab.Secondary
		}
	}
	if s.Concentration != "" {
		out["abCon"] = s.Concentration
	}
	if s.OtherDye != "" {
		out["dyeOth"] = s.OtherDye
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the numbered abPrimN/abSecN keys used by sidecars.
func (s *IFStaining) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = IFStaining{}
	pairs := make([]Antibody, MaxAntibodies)
	used := 0
	for key, value := range raw {
		switch {
		case key == "numAntibodies":
			var n int
			if err := json.Unmarshal(value, &n); err != nil {
				return fmt.Errorf("numAntibodies: %w", err)
			}
			s.NumAntibodies = &n
		case key == "abCon":
			if err := json.Unmarshal(value, &s.Concentration); err != nil {
				return fmt.Errorf("abCon: %w", err)
			}
		case key == "dyeOth":
			if err := json.Unmarshal(value, &s.OtherDye); err != nil {
				return fmt.Errorf("dyeOth: %w", err)
			}
		case strings.HasPrefix(key, "abPrim"), strings.HasPrefix(key, "abSec"):
			primary := strings.HasPrefix(key, "abPrim")
			idx, err := strconv.Atoi(strings.TrimPrefix(strings.TrimPrefix(key, "abPrim"), "abSec"))
			if err != nil || idx < 1 || idx > MaxAntibodies {
				return fmt.Errorf("unknown staining field %q", key)
			}
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if primary {
				pairs[idx-1].Primary = v
			} else {
				pairs[idx-1].Secondary = v
			}
			if idx > used {
				used = idx
			}
		default:
			return fmt.Errorf("unknown staining field %q", key)
		}
	}
	if used > 0 {
		s.Antibodies = pairs[:used]
	}
	return nil
}
