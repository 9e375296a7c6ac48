package testutil

import (
	"context"
	"testing"
)

func TestStubDBRecordsStatements(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE x (id TEXT)"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if got := conn.Statements(); len(got) != 1 || got[0] != "CREATE TABLE x (id TEXT)" {
		t.Fatalf("unexpected statements: %v", got)
	}

	conn.FailExec = true
	if _, err := db.ExecContext(ctx, "CREATE TABLE y (id TEXT)"); err == nil {
		t.Fatalf("expected exec failure")
	}
	conn.FailPing = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}
