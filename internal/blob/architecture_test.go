package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// layerRule restricts which packages may import an infrastructure tree.
type layerRule struct {
	infra   string
	allowed []string
}

var layerRules = []layerRule{
	// Archive backends are reached through blob.Store only.
	{infra: "cellrex/internal/infra/blob", allowed: []string{"cellrex/internal/blob"}},
	// Index backends are chosen by core.OpenIndex; everything else sees domain.Index.
	{infra: "cellrex/internal/infra/persistence", allowed: []string{"cellrex/internal/core"}},
}

func TestInfraIsReachedThroughItsFacade(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the whole module")
	}
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "cellrex/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(strings.TrimSuffix(pkg.PkgPath, ".test"), "_test")
		for importPath := range pkg.Imports {
			for _, rule := range layerRules {
				if !within(importPath, rule.infra) || within(path, rule.infra) || allowedImporter(path, rule.allowed) {
					continue
				}
				seen[path+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
	}
}

func allowedImporter(path string, allowed []string) bool {
	for _, a := range allowed {
		if path == a {
			return true
		}
	}
	return false
}

func within(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
