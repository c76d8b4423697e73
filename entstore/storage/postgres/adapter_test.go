package postgres_test

import (
	"strings"
	"testing"

	"github.com/entstore/entstore/entstore/storage/postgres"
	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
)

func TestDialect(t *testing.T) {
	a := postgres.New("postgres://localhost/test", "entstore")

	if a.PlaceholderStyle() != sqlbuilder.PlaceholderDollar {
		t.Fatalf("expected dollar placeholders")
	}
	if got := a.ExtractText("props", []string{"title", "stringValue"}); got != "(props #>> '{title,stringValue}')" {
		t.Fatalf("ExtractText: %s", got)
	}
	if got := a.ExtractNumber("props", []string{"n", "integerValue"}); got != "(props #>> '{n,integerValue}')::numeric" {
		t.Fatalf("ExtractNumber: %s", got)
	}
	if got := a.ExtractTime("props", []string{"due", "timestampValue"}); !strings.Contains(got, "EXTRACT(EPOCH FROM") {
		t.Fatalf("ExtractTime: %s", got)
	}
	if a.BoolArg(true) != "true" || a.BoolArg(false) != "false" {
		t.Fatalf("BoolArg: %v %v", a.BoolArg(true), a.BoolArg(false))
	}
}

// Postgres needs two order terms per property: numbers and timestamps
// compare on the numeric term, strings on the text term.
func TestOrderTermsSplitNumericAndText(t *testing.T) {
	a := postgres.New("postgres://localhost/test", "entstore")
	terms := a.OrderTerms("props", []string{"priority"}, true)
	if len(terms) != 2 {
		t.Fatalf("terms: %v", terms)
	}
	if !strings.Contains(terms[0], "COALESCE") || !strings.HasSuffix(terms[0], " DESC") {
		t.Fatalf("numeric term: %s", terms[0])
	}
	if !strings.Contains(terms[1], "stringValue") || !strings.HasSuffix(terms[1], " DESC") {
		t.Fatalf("text term: %s", terms[1])
	}
}
