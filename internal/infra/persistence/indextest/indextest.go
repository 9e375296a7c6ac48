// Package indextest holds the behavioural contract every domain.Index
// backend must satisfy. Backend packages call Run from their own tests.
package indextest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cellrex/pkg/domain"
)

// Factory opens a fresh, empty index for one subtest.
type Factory func(t *testing.T) domain.Index

// Fingerprints shared by the contract cases.
const (
	FingerprintA domain.Fingerprint = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	FingerprintB domain.Fingerprint = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// Record returns a valid MEA record; mutate the copy to vary it.
func Record() domain.MetadataRecord {
	conc := 10.0
	return domain.MetadataRecord{
		Subject: domain.Subject{
			Species:      "Mouse",
			Origin:       "Primary",
			OrganType:    "Neuro",
			CellType:     "Neurospheres",
			BrainRegions: []string{"Cortex"},
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
			{domain.Pharmacology{Name: "LSD", Concentration: &conc, ConcentrationUnit: "uM"}},
		},
		Device:   domain.MEA{Name: "MEA2100", ChipType: "60MEA"},
		FileName: "rec.h5",
	}
}

// Entry builds an entry for rec stored at path with fingerprint fp.
func Entry(path string, fp domain.Fingerprint, rec domain.MetadataRecord) domain.StorageEntry {
	return domain.StorageEntry{
		Path:           path,
		Fingerprint:    fp,
		Size:           42,
		ModTime:        time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC),
		FileType:       domain.FileTypeOf(path),
		ExperimentName: rec.ExperimentName(),
		Record:         rec,
		Review:         rec.Review(),
	}
}

// Run executes the contract against indexes produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, idx domain.Index)
	}{
		{"UpsertAssignsIDAndRoundTrips", testUpsertRoundTrip},
		{"UpsertReplacesByPath", testUpsertReplaces},
		{"FingerprintNotUnique", testFingerprintNotUnique},
		{"GetByExperiment", testGetByExperiment},
		{"NotFound", testNotFound},
		{"DeleteRemovesRowOnly", testDelete},
		{"QueryFilters", testQueryFilters},
		{"QueryPaging", testQueryPaging},
		{"WalkOrderedByPath", testWalk},
		{"Settings", testSettings},
		{"Ping", testPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := open(t)
			tc.fn(t, idx)
		})
	}
}

func testUpsertRoundTrip(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	rec := Record()
	rec.Notes = "first pass"
	stored, err := idx.Upsert(ctx, Entry("Mouse/a/rec.h5", FingerprintA, rec))
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	require.False(t, stored.CreatedAt.IsZero())
	require.False(t, stored.UpdatedAt.IsZero())

	got, err := idx.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, "Mouse/a/rec.h5", got.Path)
	require.Equal(t, FingerprintA, got.Fingerprint)
	require.Equal(t, int64(42), got.Size)
	require.True(t, got.ModTime.Equal(stored.ModTime))
	require.Equal(t, "h5", got.FileType)
	require.Equal(t, rec.ExperimentName(), got.ExperimentName)
	require.Equal(t, domain.ReviewPending, got.Review)
	require.True(t, rec.SameContent(got.Record), "record must round-trip")

	byPath, err := idx.GetByPath(ctx, "Mouse/a/rec.h5")
	require.NoError(t, err)
	require.Equal(t, stored.ID, byPath.ID)
}

func testUpsertReplaces(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	first, err := idx.Upsert(ctx, Entry("Mouse/a/rec.h5", FingerprintA, Record()))
	require.NoError(t, err)

	rec := Record()
	rec.Smiley = domain.Int(7)
	update := Entry("Mouse/a/rec.h5", FingerprintA, rec)
	second, err := idx.Upsert(ctx, update)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "path upsert keeps the row id")
	require.True(t, first.CreatedAt.Equal(second.CreatedAt), "path upsert keeps creation time")

	got, err := idx.GetByPath(ctx, "Mouse/a/rec.h5")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewReviewed, got.Review)
	require.NotNil(t, got.Record.Smiley)
	require.Equal(t, 7, *got.Record.Smiley)

	all, err := idx.Query(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testFingerprintNotUnique(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	for _, p := range []string{"b/empty.txt", "a/empty.txt"} {
		_, err := idx.Upsert(ctx, Entry(p, FingerprintA, Record()))
		require.NoError(t, err)
	}
	_, err := idx.Upsert(ctx, Entry("c/other.txt", FingerprintB, Record()))
	require.NoError(t, err)

	dupes, err := idx.GetByFingerprint(ctx, FingerprintA)
	require.NoError(t, err)
	require.Len(t, dupes, 2)
	require.Equal(t, "a/empty.txt", dupes[0].Path)
	require.Equal(t, "b/empty.txt", dupes[1].Path)

	none, err := idx.GetByFingerprint(ctx, "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testGetByExperiment(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	rec := Record()
	_, err := idx.Upsert(ctx, Entry("x/one.h5", FingerprintA, rec))
	require.NoError(t, err)
	other := Record()
	other.Keywords = []string{"imaging"}
	_, err = idx.Upsert(ctx, Entry("x/two.h5", FingerprintB, other))
	require.NoError(t, err)

	got, err := idx.GetByExperiment(ctx, rec.ExperimentName())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "x/one.h5", got[0].Path)
}

func testNotFound(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	_, err := idx.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = idx.GetByPath(ctx, "no/such/file.h5")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, idx.Delete(ctx, "missing"), domain.ErrNotFound)
}

func testDelete(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	stored, err := idx.Upsert(ctx, Entry("x/one.h5", FingerprintA, Record()))
	require.NoError(t, err)
	require.NoError(t, idx.Delete(ctx, stored.ID))
	_, err = idx.GetByPath(ctx, "x/one.h5")
	require.ErrorIs(t, err, domain.ErrNotFound)
	dupes, err := idx.GetByFingerprint(ctx, FingerprintA)
	require.NoError(t, err)
	require.Empty(t, dupes)
}

func seedQueryRows(t *testing.T, idx domain.Index) {
	t.Helper()
	ctx := context.Background()

	mea := Record()
	_, err := idx.Upsert(ctx, Entry("Mouse/mea/rec.h5", FingerprintA, mea))
	require.NoError(t, err)

	scope := Record()
	scope.Species = "Human"
	scope.Keywords = []string{"imaging", "calcium"}
	scope.Labs = []string{"LabB"}
	scope.Date = "2025-01-10"
	scope.Smiley = domain.Int(9)
	scope.InfluenceGroups = []domain.InfluenceGroup{{domain.Stimulus{Name: "pulse"}, domain.Sham{Name: "mock"}}}
	scope.Device = domain.Microscope{Type: "widefield", Name: "Axio", Task: domain.Ca2Imaging{Dye: "Fluo-4"}}
	scope.FileName = "stack.tif"
	_, err = idx.Upsert(ctx, Entry("Human/scope/stack.tif", FingerprintB, scope))
	require.NoError(t, err)

	third := Record()
	third.Date = "2024-06-01"
	third.Experimenters = []string{"JDoe", "KLee"}
	third.Device = domain.MEA{Name: "MEA1060", ChipType: "256MEA"}
	third.InfluenceGroups = []domain.InfluenceGroup{{domain.Disease{Name: "AD"}}}
	_, err = idx.Upsert(ctx, Entry("Mouse/mea100/old.h5", FingerprintA, third))
	require.NoError(t, err)
}

func paths(entries []domain.StorageEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func testQueryFilters(t *testing.T, idx domain.Index) {
	seedQueryRows(t, idx)
	ctx := context.Background()
	cases := []struct {
		name string
		q    domain.Query
		want []string
	}{
		{"all", domain.Query{}, []string{"Human/scope/stack.tif", "Mouse/mea/rec.h5", "Mouse/mea100/old.h5"}},
		{"species any-of", domain.Query{Species: []string{"Human", "Rat"}}, []string{"Human/scope/stack.tif"}},
		{"species and lab", domain.Query{Species: []string{"Mouse"}, Lab: []string{"LabB"}}, []string{}},
		{"keyword", domain.Query{Keywords: []string{"calcium"}}, []string{"Human/scope/stack.tif"}},
		{"experimenter", domain.Query{Experimenter: []string{"JDoe"}}, []string{"Mouse/mea100/old.h5"}},
		{"brain region", domain.Query{BrainRegion: []string{"Cortex"}}, []string{"Human/scope/stack.tif", "Mouse/mea/rec.h5", "Mouse/mea100/old.h5"}},
		{"pharmacology", domain.Query{Pharmacology: []string{"LSD"}}, []string{"Mouse/mea/rec.h5"}},
		{"stimulus and sham", domain.Query{Stimulus: []string{"pulse"}, Sham: []string{"mock"}}, []string{"Human/scope/stack.tif"}},
		{"disease", domain.Query{Disease: []string{"AD"}}, []string{"Mouse/mea100/old.h5"}},
		{"mea device", domain.Query{DeviceMEA: []string{"MEA2100"}}, []string{"Mouse/mea/rec.h5"}},
		{"chip type", domain.Query{ChipTypeMEA: []string{"256MEA"}}, []string{"Mouse/mea100/old.h5"}},
		{"microscope task", domain.Query{TaskMicroscope: []string{domain.TaskCa2Imaging}}, []string{"Human/scope/stack.tif"}},
		{"date range", domain.Query{DateFrom: "2024-07-01", DateTo: "2024-12-31"}, []string{"Mouse/mea/rec.h5"}},
		{"experiment substring", domain.Query{ExperimentName: "JDOE"}, []string{"Mouse/mea100/old.h5"}},
		{"review", domain.Query{Review: domain.ReviewReviewed}, []string{"Human/scope/stack.tif"}},
		{"fingerprint", domain.Query{Fingerprint: FingerprintA}, []string{"Mouse/mea/rec.h5", "Mouse/mea100/old.h5"}},
		{"path prefix is a directory", domain.Query{PathPrefix: "Mouse/mea/"}, []string{"Mouse/mea/rec.h5"}},
		{"like wildcards are literal", domain.Query{ExperimentName: "%"}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := idx.Query(ctx, tc.q)
			require.NoError(t, err)
			require.Equal(t, tc.want, paths(got))
			for _, e := range got {
				require.True(t, tc.q.Matches(e), "backend result must satisfy Query.Matches")
			}
		})
	}

	_, err := idx.Query(ctx, domain.Query{DateFrom: "yesterday"})
	require.Error(t, err)
}

func testQueryPaging(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := idx.Upsert(ctx, Entry(fmt.Sprintf("p/%d.h5", i), FingerprintA, Record()))
		require.NoError(t, err)
	}
	got, err := idx.Query(ctx, domain.Query{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"p/1.h5", "p/2.h5"}, paths(got))

	got, err = idx.Query(ctx, domain.Query{Keywords: []string{"lsd"}, Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Equal(t, []string{"p/4.h5"}, paths(got))
}

func testWalk(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	for _, p := range []string{"c/3.h5", "a/1.h5", "b/2.h5"} {
		_, err := idx.Upsert(ctx, Entry(p, FingerprintA, Record()))
		require.NoError(t, err)
	}
	var seen []string
	require.NoError(t, idx.Walk(ctx, func(e domain.StorageEntry) error {
		seen = append(seen, e.Path)
		// Callbacks may read from the index while walking.
		_, err := idx.GetByPath(ctx, e.Path)
		return err
	}))
	require.Equal(t, []string{"a/1.h5", "b/2.h5", "c/3.h5"}, seen)

	stop := errors.New("stop")
	count := 0
	err := idx.Walk(ctx, func(domain.StorageEntry) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, count)
}

func testSettings(t *testing.T, idx domain.Index) {
	ctx := context.Background()
	_, ok, err := idx.Setting(ctx, "layout.key_order")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, idx.PutSetting(ctx, "layout.key_order", "species/origin"))
	require.NoError(t, idx.PutSetting(ctx, "layout.key_order", "species/origin/cellType"))
	v, ok, err := idx.Setting(ctx, "layout.key_order")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "species/origin/cellType", v)
}

func testPing(t *testing.T, idx domain.Index) {
	require.NoError(t, idx.Ping(context.Background()))
}
