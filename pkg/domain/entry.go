package domain

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// Fingerprint is the lowercase hex SHA-256 digest of a file's bytes.
type Fingerprint string

// FingerprintHexLen is the length of an encoded Fingerprint.
const FingerprintHexLen = 64

// ParseFingerprint validates and normalises a hex digest.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != FingerprintHexLen {
		return "", fmt.Errorf("fingerprint must be %d hex characters, got %d", FingerprintHexLen, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("fingerprint is not hex: %w", err)
	}
	return Fingerprint(s), nil
}

func (f Fingerprint) String() string { return string(f) }

// Short returns an abbreviated form for log lines.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// ReviewState records whether the raw data of an entry has been reviewed.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewReviewed ReviewState = "reviewed"
)

// StorageEntry is one index row binding a canonical path, its content
// fingerprint and its metadata.
type StorageEntry struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Fingerprint    Fingerprint    `json:"fingerprint"`
	Size           int64          `json:"size"`
	ModTime        time.Time      `json:"modTime"`
	FileType       string         `json:"fileType"`
	ExperimentName string         `json:"experimentName"`
	Record         MetadataRecord `json:"record"`
	Review         ReviewState    `json:"review"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the entry.
func (e StorageEntry) Clone() StorageEntry {
	out := e
	out.Record = e.Record.Clone()
	return out
}

// FileTypeOf returns the lowercase extension of name without the dot, or
// "none" when the name carries no extension.
func FileTypeOf(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return "none"
	}
	return strings.ToLower(ext)
}

// CleanPath normalises an index path: slash-separated, relative, without
// dot segments. It returns an error for paths escaping the storage root.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be relative to the storage root", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the storage root", p)
	}
	return cleaned, nil
}
