package domain

func sampleRecord() MetadataRecord {
	return MetadataRecord{
		Subject: Subject{
			Species:   "Mouse",
			Origin:    "Primary",
			OrganType: "Neuro",
			CellType:  "Neurospheres",
		},
		Session: Session{
			Keywords:      []string{"mea", "lsd", "neuron", "extra"},
			Experimenters: []string{"KLee"},
			Labs:          []string{"LabA"},
			Date:          "2024-12-03",
			SampleID:      Int(1),
			AgeDIV:        Int(14),
		},
		InfluenceGroups: []InfluenceGroup{
			{Control{Name: "ctrl", Wells: []string{"A1"}}},
			{Pharmacology{Name: "LSD", Concentration: float(1.5), ConcentrationUnit: "uM"}, Stimulus{Name: "pulse"}},
		},
		Device:   MEA{Name: "MEA2100", ChipType: "60MEA", ChipID: Int(7)},
		FileName: "rec.h5",
	}
}

func float(v float64) *float64 { return &v }
