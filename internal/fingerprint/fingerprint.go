// Package fingerprint computes streaming SHA-256 content hashes of files.
package fingerprint

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/minio/sha256-simd"

	"cellrex/pkg/domain"
)

// ChunkSize is the read buffer size. Memory use is bounded by it regardless
// of input size.
const ChunkSize = 64 << 10

// Reader hashes r in a single pass, checking ctx between chunks. It returns
// the digest and the number of bytes read.
func Reader(ctx context.Context, r io.Reader) (domain.Fingerprint, int64, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, err
		}
	}
	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), total, nil
}

// File hashes the file at path. Read failures and cancellation are reported
// as *domain.IOError.
func File(ctx context.Context, path string) (domain.Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, &domain.IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	fp, n, err := Reader(ctx, f)
	if err != nil {
		return "", n, &domain.IOError{Op: "fingerprint", Path: path, Err: err}
	}
	return fp, n, nil
}

// Bytes hashes an in-memory buffer.
func Bytes(b []byte) domain.Fingerprint {
	sum := sha256.Sum256(b)
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}
