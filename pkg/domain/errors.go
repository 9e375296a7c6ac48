package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks. Typed errors below match their
// sentinel through an Is method.
var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrConflict      = errors.New("conflict")
	ErrIO            = errors.New("io failure")
	ErrIndex         = errors.New("index failure")
	ErrNotFound      = errors.New("not found")
	ErrLayoutChanged = errors.New("layout key order changed")
)

// InvalidRecordError lists every problem found with a record. It is returned
// before any side effect takes place.
type InvalidRecordError struct {
	Problems []string
}

func (e *InvalidRecordError) Error() string {
	if len(e.Problems) == 0 {
		return ErrInvalidRecord.Error()
	}
	return ErrInvalidRecord.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }

// InvalidRecordf builds an InvalidRecordError with a single problem.
func InvalidRecordf(format string, args ...any) error {
	return &InvalidRecordError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// ConflictReason classifies a ConflictError.
type ConflictReason string

const (
	// ConflictPath: the destination is indexed with different bytes.
	ConflictPath ConflictReason = "path"
	// ConflictUnindexedFile: an unindexed file with different bytes occupies the destination.
	ConflictUnindexedFile ConflictReason = "unindexed-file"
	// ConflictExperimentName: the experiment name is already used by a different lab set.
	ConflictExperimentName ConflictReason = "experiment-name"
	// ConflictSidecarPath: the sidecar path is taken by a data file.
	ConflictSidecarPath ConflictReason = "sidecar-path"
)

// ConflictError describes a collision that needs a manual decision.
type ConflictError struct {
	Reason              ConflictReason `json:"reason"`
	Path                string         `json:"path"`
	ExistingID          string         `json:"existingId,omitempty"`
	ExistingPath        string         `json:"existingPath,omitempty"`
	ExistingFingerprint Fingerprint    `json:"existingFingerprint,omitempty"`
	Detail              string         `json:"detail,omitempty"`
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s conflict at %s", e.Reason, e.Path)
	if e.ExistingID != "" {
		fmt.Fprintf(&b, " (existing entry %s)", e.ExistingID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error        { return e.Err }
func (e *IOError) Is(target error) bool { return target == ErrIO }

// IndexError wraps a failure of the metadata index.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error        { return e.Err }
func (e *IndexError) Is(target error) bool { return target == ErrIndex }
