package migrate

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	sql := `
create table users (id text primary key);
-- a comment that should not count
insert into users(id) values ('a;b');
create index idx on users(id)`

	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'a;b'") {
		t.Fatalf("semicolon inside string literal split the statement: %q", stmts[1])
	}
	for _, s := range stmts {
		if strings.Contains(s, "-- a comment") {
			t.Fatalf("line comment leaked into statement: %q", s)
		}
	}
}

func TestSplitStatementsEmpty(t *testing.T) {
	if got := splitStatements("   \n\n-- only a comment\n"); len(got) != 0 {
		t.Fatalf("expected no statements, got %q", got)
	}
}
