package sqlindex

import (
	"strings"
	"testing"

	"cellrex/pkg/domain"
)

func TestSplitStatements(t *testing.T) {
	for _, d := range []Dialect{SQLite(), Postgres()} {
		stmts := SplitStatements(d.DDL)
		if len(stmts) != 6 {
			t.Fatalf("%s: expected 6 statements, got %d", d.Name, len(stmts))
		}
		for _, stmt := range stmts {
			if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
				t.Fatalf("statement unexpectedly starts with comment: %q", stmt)
			}
			if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
				t.Fatalf("statement missing semicolon terminator: %q", stmt)
			}
		}
	}
}

func TestPostgresSchemaUsesJSONB(t *testing.T) {
	if !strings.Contains(Postgres().DDL, "JSONB") {
		t.Fatal("expected postgres DDL to store records as JSONB")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM entries WHERE a = ? AND b IN (?, ?)`
	if got := SQLite().Rebind(q); got != q {
		t.Fatalf("sqlite must keep ? placeholders, got %q", got)
	}
	want := `SELECT 1 FROM entries WHERE a = $1 AND b IN ($2, $3)`
	if got := Postgres().Rebind(q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestPushdownBindsValues(t *testing.T) {
	where, args := pushdown(domain.Query{
		Species:    []string{"Mouse", "Rat'; DROP TABLE entries; --"},
		DateFrom:   "2024-01-01",
		PathPrefix: "Mouse/x/",
	})
	joined := strings.Join(where, " AND ")
	if strings.Contains(joined, "DROP") {
		t.Fatalf("values must be bound, not interpolated: %s", joined)
	}
	if !strings.Contains(joined, "species IN (?, ?)") {
		t.Fatalf("unexpected species predicate: %s", joined)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d: %v", len(args), args)
	}
	if args[3] != "Mouse/x" || args[4] != 8 || args[5] != "Mouse/x/" {
		t.Fatalf("unexpected path prefix args: %v", args[3:])
	}
}

func TestNeedsResidual(t *testing.T) {
	if needsResidual(domain.Query{Species: []string{"Mouse"}, Review: domain.ReviewPending}) {
		t.Fatal("scalar filters must be fully pushed down")
	}
	for _, q := range []domain.Query{
		{Keywords: []string{"mea"}},
		{Control: []string{"ctrl"}},
		{TaskMicroscope: []string{domain.TaskIFStaining}},
		{ExperimentName: "exp"},
	} {
		if !needsResidual(q) {
			t.Fatalf("expected residual evaluation for %+v", q)
		}
	}
}
