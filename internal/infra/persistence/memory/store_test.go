package memory

import (
	"context"
	"errors"
	"testing"

	"cellrex/internal/infra/persistence/indextest"
	"cellrex/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	indextest.Run(t, func(*testing.T) domain.Index { return NewStore() })
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stored, err := s.Upsert(ctx, indextest.Entry("a/rec.h5", indextest.FingerprintA, indextest.Record()))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stored.Record.Keywords[0] = "mutated"
	got, err := s.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Record.Keywords[0] != "mea" {
		t.Fatalf("store leaked internal slice: %v", got.Record.Keywords)
	}
}

func TestClosedStoreFails(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("expected ErrIndex after close, got %v", err)
	}
	if _, err := s.Upsert(ctx, indextest.Entry("a/rec.h5", indextest.FingerprintA, indextest.Record())); !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("expected ErrIndex on upsert after close, got %v", err)
	}
}

func TestUpsertRejectsEscapingPath(t *testing.T) {
	s := NewStore()
	_, err := s.Upsert(context.Background(), indextest.Entry("../x.h5", indextest.FingerprintA, indextest.Record()))
	if !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no rows")
	}
}
