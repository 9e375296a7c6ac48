package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"cellrex/pkg/domain"
)

// MEARecord returns a valid record for an MEA recording. Every call returns a
// fresh copy.
func MEARecord() domain.MetadataRecord {
	return domain.MetadataRecord{
		Subject: domain.Subject{
			Species:   "Mouse",
			Origin:    "Primary",
			OrganType: "Neuro",
			CellType:  "Neurospheres",
		},
		Session: domain.Session{
			Keywords:      []string{"mea", "lsd", "neuron"},
			Experimenters: []string{"KLee"},
			Labs:          []string{"LabA"},
			Date:          "2024-12-03",
			SampleID:      domain.Int(1),
			AgeDIV:        domain.Int(14),
		},
		InfluenceGroups: []domain.InfluenceGroup{
			{domain.Control{Name: "ctrl"}},
			{domain.Pharmacology{Name: "LSD", ConcentrationUnit: "uM"}},
		},
		Device:   domain.MEA{Name: "MEA2100", ChipType: "60MEA"},
		FileName: "rec.h5",
	}
}

// MicroscopeRecord returns a valid record for a calcium imaging acquisition.
func MicroscopeRecord() domain.MetadataRecord {
	rec := MEARecord()
	rec.Keywords = []string{"imaging", "calcium"}
	rec.Device = domain.Microscope{
		Type:          "widefield",
		Name:          "Axio",
		Magnification: []string{"10x"},
		Task:          domain.Ca2Imaging{Dye: "Fluo-4"},
	}
	rec.FileName = "stack.tif"
	return rec
}

// WriteFile creates a file with the given contents under dir and returns its
// path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}
