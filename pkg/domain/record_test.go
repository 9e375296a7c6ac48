package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestExperimentNameUsesFirstThreeKeywords(t *testing.T) {
	rec := sampleRecord()
	if got, want := rec.ExperimentName(), "exp_2024-12-03_KLee_mea-lsd-neuron"; got != want {
		t.Fatalf("experiment name = %q, want %q", got, want)
	}
}

func TestExperimentNameAnchorsOnFirstMeasurement(t *testing.T) {
	first := sampleRecord()
	later := sampleRecord()
	later.Date = "2024-12-10"
	later.ExperimentDate = "2024-12-03"
	if first.ExperimentName() != later.ExperimentName() {
		t.Fatalf("expected shared experiment name, got %q and %q", first.ExperimentName(), later.ExperimentName())
	}
}

func TestDeriveExperimentNameStable(t *testing.T) {
	a := DeriveExperimentName("2024-01-01", []string{"A", "B"}, []string{"x", "y"})
	b := DeriveExperimentName("2024-01-01", []string{" A", "B "}, []string{"x", "y"})
	if a != b || a != "exp_2024-01-01_A-B_x-y" {
		t.Fatalf("unexpected names %q %q", a, b)
	}
}

func TestValidateAcceptsSample(t *testing.T) {
	if err := sampleRecord().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	rec := sampleRecord()
	rec.Species = ""
	rec.Keywords = nil
	rec.AgeDAP = Int(3)
	rec.InfluenceGroups = append(rec.InfluenceGroups, InfluenceGroup{Control{Name: "a"}, Control{Name: "b"}})
	rec.Device = MEA{}
	rec.Smiley = Int(11)
	rec.FileName = "../x"

	err := rec.Validate()
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	var invalid *InvalidRecordError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidRecordError, got %T", err)
	}
	for _, want := range []string{"species", "keywords", "mutually exclusive", "duplicate control", "MEA name", "smiley", "fileName"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing problem %q in %v", want, err)
		}
	}
}

func TestValidateAgeRequired(t *testing.T) {
	rec := sampleRecord()
	rec.AgeDIV = nil
	if err := rec.Validate(); err == nil || !strings.Contains(err.Error(), "exactly one of ageDIV or ageDAP") {
		t.Fatalf("expected age error, got %v", err)
	}
}

func TestValidateInfluenceGroupBounds(t *testing.T) {
	rec := sampleRecord()
	rec.InfluenceGroups = nil
	if err := rec.Validate(); err == nil {
		t.Fatalf("expected error for missing influence groups")
	}
	rec.InfluenceGroups = make([]InfluenceGroup, MaxInfluenceGroups+1)
	for i := range rec.InfluenceGroups {
		rec.InfluenceGroups[i] = InfluenceGroup{Control{Name: "c"}}
	}
	if err := rec.Validate(); err == nil || !strings.Contains(err.Error(), "1-5 groups") {
		t.Fatalf("expected bound error, got %v", err)
	}
}

func TestValidateDates(t *testing.T) {
	rec := sampleRecord()
	rec.Date = "03.12.2024"
	rec.Time = "25:00"
	rec.ExperimentDate = "2024-12-04"
	err := rec.Validate()
	if err == nil {
		t.Fatalf("expected date errors")
	}
	if !strings.Contains(err.Error(), "not YYYY-MM-DD") || !strings.Contains(err.Error(), "not HH:MM") {
		t.Fatalf("unexpected error %v", err)
	}

	rec = sampleRecord()
	rec.ExperimentDate = "2024-12-05"
	if err := rec.Validate(); err == nil || !strings.Contains(err.Error(), "precedes") {
		t.Fatalf("expected ordering error, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := sampleRecord()
	cp := rec.Clone()
	cp.Keywords[0] = "changed"
	*cp.SampleID = 99
	cp.InfluenceGroups[0][0] = Control{Name: "other"}
	if rec.Keywords[0] != "mea" || *rec.SampleID != 1 || rec.InfluenceGroups[0][0].InfluenceName() != "ctrl" {
		t.Fatalf("clone aliases original: %+v", rec)
	}
}

func TestReviewFollowsSmiley(t *testing.T) {
	rec := sampleRecord()
	if rec.Review() != ReviewPending {
		t.Fatalf("expected pending")
	}
	rec.Smiley = Int(0)
	if rec.Review() != ReviewReviewed {
		t.Fatalf("expected reviewed")
	}
}

func TestUniqueInfluenceNames(t *testing.T) {
	groups := []InfluenceGroup{
		{Stimulus{Name: "pulse"}, Control{Name: "ctrl"}},
		{Control{Name: "ctrl"}, Disease{Name: "AD"}},
	}
	got := strings.Join(UniqueInfluenceNames(groups), ",")
	if got != "ctrl,pulse,AD" {
		t.Fatalf("unexpected names %q", got)
	}
}
