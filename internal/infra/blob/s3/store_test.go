package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cellrex/internal/blob/core"
)

func newFakeStore(t *testing.T, prefix string) (*Store, *FakeBucket) {
	t.Helper()
	fake := NewFakeBucket()
	store, err := New(context.Background(), Config{
		Bucket:          "test-bucket",
		Prefix:          prefix,
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      fake.Client(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, fake
}

func TestStore_FakeBucketFlow(t *testing.T) {
	store, fake := newFakeStore(t, "sidecars")
	ctx := context.Background()
	info, err := store.Put(ctx, "a/b.h5.json", bytes.NewReader([]byte(`{"v":1}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "a/b.h5.json" || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %#v", info)
	}
	if keys := fake.Keys(); len(keys) != 1 || keys[0] != "sidecars/a/b.h5.json" {
		t.Fatalf("prefix not applied: %v", keys)
	}
	if _, err := store.Put(ctx, "a/b.h5.json", bytes.NewReader([]byte(`{"v":2}`)), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := store.Get(ctx, "a/b.h5.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != `{"v":2}` {
		t.Fatalf("get mismatch: %q", data)
	}
	if ok, err := store.Delete(ctx, "a/b.h5.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "a/b.h5.json"); err != nil || ok {
		t.Fatalf("delete absent: %v %v", ok, err)
	}
}

func TestStore_MissingKeyIsNotFound(t *testing.T) {
	store, _ := newFakeStore(t, "")
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
}

func TestStore_NewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestDecodeChunked(t *testing.T) {
	body, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n\r\n"))
	if !ok || string(body) != "hello" {
		t.Fatalf("decode = %q %v", body, ok)
	}
	if _, ok := decodeChunked([]byte(`{"plain":true}`)); ok {
		t.Fatalf("plain payload must not decode")
	}
}
