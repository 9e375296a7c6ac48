// Package sidecar reads and writes the JSON documents that mirror a
// MetadataRecord next to its data file.
package sidecar

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"cellrex/internal/relocate"
	"cellrex/pkg/domain"
)

// ErrMalformed marks a sidecar that exists but cannot be turned into a valid
// record.
var ErrMalformed = errors.New("malformed sidecar")

const (
	schemaURL = "sidecar.schema.json"
	filePerm  = 0o644
)

//go:embed sidecar.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decode sidecar schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add sidecar schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Encode renders rec as an indented sidecar document.
func Encode(rec domain.MetadataRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode validates a sidecar document against the schema and the record
// invariants. Every failure wraps ErrMalformed.
func Decode(data []byte) (domain.MetadataRecord, error) {
	sch, err := compiledSchema()
	if err != nil {
		return domain.MetadataRecord{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var rec domain.MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := rec.Validate(); err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return rec, nil
}

// Write atomically replaces the sidecar at path.
func Write(path string, rec domain.MetadataRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return relocate.WriteAtomic(path, data, filePerm)
}

// Read loads and decodes the sidecar at path. A missing file is reported as a
// *domain.IOError wrapping fs.ErrNotExist.
func Read(path string) (domain.MetadataRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MetadataRecord{}, &domain.IOError{Op: "read sidecar", Path: path, Err: err}
	}
	rec, err := Decode(data)
	if err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}
