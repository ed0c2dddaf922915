package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, n := range names {
		b, err := fs.ReadFile(Migrations, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", n)
		}
	}
}
