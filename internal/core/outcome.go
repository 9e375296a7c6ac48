package core

import (
	"cellrex/internal/layout"
	"cellrex/pkg/domain"
)

// Status classifies a registration outcome.
type Status string

const (
	// StatusCreated: a new row was written and the file placed at its path.
	StatusCreated Status = "created"
	// StatusUpdated: same path and bytes, new metadata; sidecar and row rewritten.
	StatusUpdated Status = "updated"
	// StatusUnchanged: identical bytes and metadata already registered.
	StatusUnchanged Status = "unchanged"
	// StatusConflict: nothing was touched; see Outcome.Conflict.
	StatusConflict Status = "conflict-warning"
)

// Outcome is the structured result of Register. Conflicts and duplicate
// advisories are reported here rather than as errors.
type Outcome struct {
	Status Status              `json:"status"`
	Entry  domain.StorageEntry `json:"entry"`
	Paths  layout.Paths        `json:"paths"`
	// Duplicates lists other indexed paths sharing the file's fingerprint.
	Duplicates []string              `json:"duplicates"`
	Conflict   *domain.ConflictError `json:"conflict,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
}
