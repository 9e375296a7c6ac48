package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"cellrex/pkg/domain"
)

const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestReaderMatchesStdlib(t *testing.T) {
	data := bytes.Repeat([]byte("cellrex"), 3*ChunkSize/7+11)
	fp, n, err := Reader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	sum := sha256.Sum256(data)
	if string(fp) != hex.EncodeToString(sum[:]) {
		t.Fatalf("fingerprint mismatch")
	}
	if n != int64(len(data)) {
		t.Fatalf("size = %d, want %d", n, len(data))
	}
	if Bytes(data) != fp {
		t.Fatalf("Bytes disagrees with Reader")
	}
}

func TestEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fp, n, err := File(context.Background(), p)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if fp != emptySHA || n != 0 {
		t.Fatalf("got %s/%d", fp, n)
	}
}

func TestFileMissingIsIOError(t *testing.T) {
	_, _, err := File(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, domain.ErrIO) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected IO not-exist error, got %v", err)
	}
}

// cancelAfter cancels the context once the first chunk has been read.
type cancelAfter struct {
	r      io.Reader
	cancel context.CancelFunc
	reads  int
}

func (c *cancelAfter) Read(p []byte) (int, error) {
	c.reads++
	if c.reads == 1 {
		defer c.cancel()
	}
	return c.r.Read(p)
}

func TestReaderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelAfter{r: bytes.NewReader(make([]byte, 4*ChunkSize)), cancel: cancel}
	_, n, err := Reader(ctx, src)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n != ChunkSize || src.reads != 1 {
		t.Fatalf("read %d bytes in %d reads after cancel", n, src.reads)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestReaderPropagatesReadErrors(t *testing.T) {
	if _, _, err := Reader(context.Background(), failingReader{}); err == nil {
		t.Fatalf("expected read error")
	}
}
