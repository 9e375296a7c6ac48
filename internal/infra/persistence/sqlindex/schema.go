package sqlindex

import (
	"bufio"
	_ "embed"
	"strconv"
	"strings"
)

//go:embed schema/sqlite.sql
var sqliteDDL string

//go:embed schema/postgres.sql
var postgresDDL string

// Dialect captures what differs between the SQL engines behind the index.
type Dialect struct {
	Name string
	// DDL is the idempotent schema script applied on open.
	DDL string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
}

// SQLite is the embedded default dialect.
func SQLite() Dialect { return Dialect{Name: "sqlite", DDL: sqliteDDL} }

// Postgres is the optional server dialect.
func Postgres() Dialect { return Dialect{Name: "postgres", DDL: postgresDDL, Numbered: true} }

// Rebind rewrites "?" placeholders for dialects that number them. Queries in
// this package carry no "?" inside literals.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
