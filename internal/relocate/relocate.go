// Package relocate moves files into the storage tree so that a destination is
// either fully present or absent, even across volumes or when interrupted.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cellrex/pkg/domain"
)

// TempPrefix marks in-flight files. Leftovers after a crash are reported by
// the reconciliation sweep and never mistaken for registered data.
const TempPrefix = ".cellrex-tmp-"

const (
	dirPerm   = 0o750
	copyChunk = 1 << 20
)

// rename is replaced in tests to simulate cross-device moves.
var rename = renameNoReplace

// IsTemp reports whether a base name belongs to an in-flight temp file.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

// Move relocates src to dst, creating missing parent directories. dst must
// not exist, and a file that appears there while the move runs is left
// alone. A same-volume move is a single rename; a cross-volume move copies
// into a temp file next to dst, syncs it and renames it into place before
// removing src. Cancellation aborts the copy and leaves dst absent.
func Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return &domain.IOError{Op: "move", Path: dst, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return &domain.IOError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}
	if _, err := os.Lstat(dst); err == nil {
		return &domain.IOError{Op: "move", Path: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &domain.IOError{Op: "stat", Path: dst, Err: err}
	}
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return &domain.IOError{Op: "move", Path: dst, Err: fs.ErrExist}
	}
	if !isCrossDevice(err) {
		return &domain.IOError{Op: "rename", Path: src, Err: err}
	}
	if err := copyInto(ctx, src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return &domain.IOError{Op: "remove source", Path: src, Err: err}
	}
	return nil
}

func copyInto(ctx context.Context, src, dst string) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return &domain.IOError{Op: "open", Path: src, Err: err}
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return &domain.IOError{Op: "stat", Path: src, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), TempPrefix+"*")
	if err != nil {
		return &domain.IOError{Op: "create temp", Path: filepath.Dir(dst), Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return &domain.IOError{Op: "copy", Path: dst, Err: err}
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return &domain.IOError{Op: "write", Path: tmpName, Err: werr}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &domain.IOError{Op: "read", Path: src, Err: rerr}
		}
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return &domain.IOError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.IOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return &domain.IOError{Op: "chtimes", Path: tmpName, Err: err}
	}
	if err := renameNoReplace(tmpName, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			err = fs.ErrExist
		}
		return &domain.IOError{Op: "rename", Path: dst, Err: err}
	}
	return nil
}

// linkNoReplace moves src to dst through a hard link, which fails when dst
// exists. Filesystems without hard links get a plain rename after a final
// existence check.
func linkNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		return os.Remove(src)
	}
	if errors.Is(err, fs.ErrExist) || isCrossDevice(err) || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if _, serr := os.Lstat(dst); serr == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	return os.Rename(src, dst)
}

// WriteAtomic writes data to path through a synced temp file in the same
// directory, so readers never observe a partial document.
func WriteAtomic(path string, data []byte, perm fs.FileMode) (retErr error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &domain.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return &domain.IOError{Op: "create temp", Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return &domain.IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		return &domain.IOError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.IOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &domain.IOError{Op: "rename", Path: path, Err: fmt.Errorf("replace: %w", err)}
	}
	return nil
}
