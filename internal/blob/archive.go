package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cellrex/pkg/domain"
)

const (
	archivePrefix       = "sidecars/"
	archiveContentType  = "application/json"
	metaFingerprint     = "fingerprint"
	maxArchivedDocument = 4 << 20
)

// Archive mirrors sidecar documents into a blob store, keyed by their path
// relative to the storage root. A nil *Archive is a valid, disabled archive.
type Archive struct {
	store Store
}

// NewArchive wraps store. A nil store yields a nil (disabled) archive.
func NewArchive(store Store) *Archive {
	if store == nil {
		return nil
	}
	return &Archive{store: store}
}

// Enabled reports whether documents are mirrored.
func (a *Archive) Enabled() bool { return a != nil && a.store != nil }

// Driver names the backing store.
func (a *Archive) Driver() Driver {
	if !a.Enabled() {
		return DriverNone
	}
	return a.store.Driver()
}

func archiveKey(sidecarPath string) (string, error) {
	p, err := domain.CleanPath(sidecarPath)
	if err != nil {
		return "", err
	}
	return archivePrefix + p, nil
}

// Put stores the sidecar document for sidecarPath, tagging it with the data
// file's fingerprint.
func (a *Archive) Put(ctx context.Context, sidecarPath string, doc []byte, fp domain.Fingerprint) error {
	if !a.Enabled() {
		return nil
	}
	key, err := archiveKey(sidecarPath)
	if err != nil {
		return err
	}
	_, err = a.store.Put(ctx, key, bytes.NewReader(doc), PutOptions{
		ContentType: archiveContentType,
		Metadata:    map[string]string{metaFingerprint: string(fp)},
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", sidecarPath, err)
	}
	return nil
}

// Get returns the archived document and the fingerprint it was stored with.
// Absent documents yield an error wrapping ErrNotFound.
func (a *Archive) Get(ctx context.Context, sidecarPath string) ([]byte, domain.Fingerprint, error) {
	if !a.Enabled() {
		return nil, "", ErrNotFound
	}
	key, err := archiveKey(sidecarPath)
	if err != nil {
		return nil, "", err
	}
	info, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = rc.Close() }()
	doc, err := io.ReadAll(io.LimitReader(rc, maxArchivedDocument+1))
	if err != nil {
		return nil, "", fmt.Errorf("read archived %s: %w", sidecarPath, err)
	}
	if len(doc) > maxArchivedDocument {
		return nil, "", fmt.Errorf("archived %s exceeds %d bytes", sidecarPath, maxArchivedDocument)
	}
	return doc, domain.Fingerprint(lookupMeta(info.Metadata, metaFingerprint)), nil
}

// Delete removes the archived document, if any.
func (a *Archive) Delete(ctx context.Context, sidecarPath string) error {
	if !a.Enabled() {
		return nil
	}
	key, err := archiveKey(sidecarPath)
	if err != nil {
		return err
	}
	if _, err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// lookupMeta matches keys case-insensitively; S3 normalises metadata names.
func lookupMeta(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
