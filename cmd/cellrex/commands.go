package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cellrex/internal/core"
	"cellrex/internal/fingerprint"
	"cellrex/pkg/domain"
)

// readRecord loads a metadata record in sidecar (filecontext) form.
func readRecord(path string) (domain.MetadataRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("read record: %w", err)
	}
	var rec domain.MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.MetadataRecord{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidRecord, path, err)
	}
	return rec, nil
}

func newRegisterCmd(a *app) *cobra.Command {
	var fileName string
	var strict bool
	cmd := &cobra.Command{
		Use:   "register <record.json> <source-file>",
		Short: "Move a file into the storage tree and index it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecord(args[0])
			if err != nil {
				return err
			}
			if fileName != "" {
				rec.FileName = fileName
			}
			source, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				out, err := svc.Register(cmd.Context(), rec, source)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if strict && out.Conflict != nil {
					return out.Conflict
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fileName, "file-name", "", "store under this name instead of the record's fileName")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero on a conflict warning")
	return cmd
}

// errFindings marks a sweep that completed but flagged problems.
var errFindings = errors.New("reconcile reported findings")

func newReconcileCmd(a *app) *cobra.Command {
	var opts core.ReconcileOptions
	var failOnFindings bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the storage tree with the index and report differences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				report, err := svc.Reconcile(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if failOnFindings && !report.Clean() {
					return errFindings
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "rehash every file instead of trusting size and mtime")
	cmd.Flags().BoolVar(&opts.Restore, "restore", false, "recreate missing index rows from sidecars")
	cmd.Flags().BoolVar(&failOnFindings, "fail-on-findings", false, "exit non-zero unless the tree is clean")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var byPath bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one index entry by id, or by storage path with --path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				var entry domain.StorageEntry
				var err error
				if byPath {
					entry, err = svc.GetByPath(cmd.Context(), args[0])
				} else {
					entry, err = svc.Get(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
	cmd.Flags().BoolVar(&byPath, "path", false, "treat the argument as a path relative to the storage root")
	return cmd
}

func newFindHashCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find-hash <fingerprint|file>",
		Short: "List entries whose content matches a fingerprint or a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := domain.ParseFingerprint(args[0])
			if err != nil {
				if _, statErr := os.Stat(args[0]); statErr != nil {
					return err
				}
				if fp, _, err = fingerprint.File(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				entries, err := svc.GetByFingerprint(cmd.Context(), fp)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nonNilEntries(entries))
			})
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	var q domain.Query
	var file, review string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search the index; list filters match any value, filters combine with AND",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := buildQuery(file, q, review)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				entries, err := svc.Query(cmd.Context(), query)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nonNilEntries(entries))
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "YAML or JSON query document; flags are merged on top")
	f.StringSliceVar(&q.Species, "species", nil, "species")
	f.StringSliceVar(&q.Origin, "origin", nil, "origin")
	f.StringSliceVar(&q.OrganType, "organ-type", nil, "organ type")
	f.StringSliceVar(&q.CellType, "cell-type", nil, "cell type")
	f.StringSliceVar(&q.BrainRegion, "brain-region", nil, "brain region")
	f.StringSliceVar(&q.Keywords, "keyword", nil, "keyword")
	f.StringSliceVar(&q.Experimenter, "experimenter", nil, "experimenter")
	f.StringSliceVar(&q.Lab, "lab", nil, "lab")
	f.StringSliceVar(&q.Pharmacology, "pharmacology", nil, "pharmacology influence name")
	f.StringSliceVar(&q.DeviceMEA, "mea", nil, "MEA device name")
	f.StringSliceVar(&q.DeviceMicroscope, "microscope", nil, "microscope device name")
	f.StringVar(&q.DateFrom, "from", "", "earliest measurement date (YYYY-MM-DD)")
	f.StringVar(&q.DateTo, "to", "", "latest measurement date (YYYY-MM-DD)")
	f.StringVar(&q.ExperimentName, "experiment", "", "experiment name substring")
	f.StringVar(&q.PathPrefix, "prefix", "", "storage path prefix")
	f.StringVar(&review, "review", "", "review state: pending or reviewed")
	f.IntVar(&q.Limit, "limit", 0, "maximum number of results")
	f.IntVar(&q.Offset, "offset", 0, "number of results to skip")
	return cmd
}

// buildQuery loads the optional query document and overlays flag values.
func buildQuery(file string, flags domain.Query, review string) (domain.Query, error) {
	var q domain.Query
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return q, fmt.Errorf("read query: %w", err)
		}
		// YAML is a superset of JSON, so one decoder serves both forms.
		if err := yaml.Unmarshal(data, &q); err != nil {
			return q, fmt.Errorf("parse query %s: %w", file, err)
		}
	}
	overlay := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	overlay(&q.Species, flags.Species)
	overlay(&q.Origin, flags.Origin)
	overlay(&q.OrganType, flags.OrganType)
	overlay(&q.CellType, flags.CellType)
	overlay(&q.BrainRegion, flags.BrainRegion)
	overlay(&q.Keywords, flags.Keywords)
	overlay(&q.Experimenter, flags.Experimenter)
	overlay(&q.Lab, flags.Lab)
	overlay(&q.Pharmacology, flags.Pharmacology)
	overlay(&q.DeviceMEA, flags.DeviceMEA)
	overlay(&q.DeviceMicroscope, flags.DeviceMicroscope)
	str := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	str(&q.DateFrom, flags.DateFrom)
	str(&q.DateTo, flags.DateTo)
	str(&q.ExperimentName, flags.ExperimentName)
	str(&q.PathPrefix, flags.PathPrefix)
	if review != "" {
		q.Review = domain.ReviewState(review)
	}
	if flags.Limit != 0 {
		q.Limit = flags.Limit
	}
	if flags.Offset != 0 {
		q.Offset = flags.Offset
	}
	return q, q.Validate()
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an index entry; the file and its sidecar stay on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				if err := svc.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}

func newDuplicatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List fingerprints indexed at more than one path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				groups, err := svc.Duplicates(cmd.Context())
				if err != nil {
					return err
				}
				if groups == nil {
					groups = []core.DuplicateGroup{}
				}
				return printJSON(cmd.OutOrStdout(), groups)
			})
		},
	}
}

func newComposeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compose <record.json>",
		Short: "Print the storage path a record would be registered under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecord(args[0])
			if err != nil {
				return err
			}
			composer, err := a.cfg.Composer()
			if err != nil {
				return err
			}
			paths, err := composer.Compose(rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), paths)
		},
	}
}

func newFingerprintCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <file>...",
		Short: "Print the content fingerprint of local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				fp, size, err := fingerprint.File(cmd.Context(), p)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %d  %s\n", fp, size, p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func nonNilEntries(entries []domain.StorageEntry) []domain.StorageEntry {
	if entries == nil {
		return []domain.StorageEntry{}
	}
	return entries
}
