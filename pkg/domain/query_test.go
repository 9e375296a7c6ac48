package domain

import "testing"

func TestQueryMatches(t *testing.T) {
	rec := sampleRecord()
	entry := StorageEntry{
		Path:           "Mouse/Primary/x/rec.h5",
		Fingerprint:    Fingerprint("ab"),
		ExperimentName: rec.ExperimentName(),
		Record:         rec,
		Review:         rec.Review(),
	}
	cases := []struct {
		name  string
		query Query
		want  bool
	}{
		{"empty", Query{}, true},
		{"species hit", Query{Species: []string{"Rat", "Mouse"}}, true},
		{"species miss", Query{Species: []string{"Rat"}}, false},
		{"keyword overlap", Query{Keywords: []string{"lsd"}}, true},
		{"pharmacology", Query{Pharmacology: []string{"LSD"}}, true},
		{"control miss", Query{Control: []string{"vehicle"}}, false},
		{"mea device", Query{DeviceMEA: []string{"MEA2100"}, ChipTypeMEA: []string{"60MEA"}}, true},
		{"microscope on mea", Query{DeviceMicroscope: []string{"LSM900"}}, false},
		{"date range", Query{DateFrom: "2024-12-01", DateTo: "2024-12-03"}, true},
		{"date after", Query{DateFrom: "2024-12-04"}, false},
		{"experiment substring", Query{ExperimentName: "KLEE_mea"}, true},
		{"review", Query{Review: ReviewReviewed}, false},
		{"path prefix", Query{PathPrefix: "Mouse/Primary/"}, true},
		{"path prefix partial segment", Query{PathPrefix: "Mouse/Prim"}, false},
		{"and semantics", Query{Species: []string{"Mouse"}, Lab: []string{"LabB"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.query.Matches(entry); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQueryValidate(t *testing.T) {
	if err := (Query{DateFrom: "2024-13-01"}).Validate(); err == nil {
		t.Fatalf("expected invalid date")
	}
	if err := (Query{Limit: -1}).Validate(); err == nil {
		t.Fatalf("expected invalid limit")
	}
	if err := (Query{Review: "maybe"}).Validate(); err == nil {
		t.Fatalf("expected invalid review")
	}
}

func TestQueryPage(t *testing.T) {
	entries := []StorageEntry{{Path: "a"}, {Path: "b"}, {Path: "c"}}
	got := Query{Offset: 1, Limit: 1}.Page(entries)
	if len(got) != 1 || got[0].Path != "b" {
		t.Fatalf("unexpected page %+v", got)
	}
	if got := (Query{Offset: 5}).Page(entries); len(got) != 0 {
		t.Fatalf("expected empty page")
	}
}
