package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cellrex/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"fingerprint": "abc"}
	if _, err := s.Put(ctx, "a.json", bytes.NewBufferString("{}"), core.PutOptions{ContentType: "application/json", Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["fingerprint"] = "mutated"
	info, rc, err := s.Get(ctx, "a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "{}" || info.Metadata["fingerprint"] != "abc" {
		t.Fatalf("unexpected blob %q %+v", body, info)
	}
	if _, err := s.Put(ctx, "a.json", bytes.NewBufferString(`{"v":2}`), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	head, err := s.Head(ctx, "a.json")
	if err != nil || head.Size != 7 {
		t.Fatalf("head after overwrite: %+v %v", head, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one blob, got %d", s.Len())
	}
	if ok, _ := s.Delete(ctx, "a.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if _, _, err := s.Get(ctx, "a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
