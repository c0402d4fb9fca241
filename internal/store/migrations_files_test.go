package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
)

var migrationFilePattern = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.(up|down)\.sql$`)

// migrationPairs maps "<version>_<name>" to the directions present on disk.
func migrationPairs(t *testing.T) map[string]map[string]bool {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	pairs := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Errorf("unexpected file in migrations dir: %s", entry.Name())
			continue
		}
		key := match[1] + "_" + match[2]
		if pairs[key] == nil {
			pairs[key] = map[string]bool{}
		}
		pairs[key][match[3]] = true
	}
	return pairs
}

func TestMigrationsArePairedAndOrdered(t *testing.T) {
	pairs := migrationPairs(t)

	names := make([]string, 0, len(pairs))
	for name, dirs := range pairs {
		if !dirs["up"] || !dirs["down"] {
			t.Errorf("%s needs both up and down files, have %v", name, dirs)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	want := []string{"0001_core", "0002_chat"}
	if len(names) != len(want) {
		t.Fatalf("migrations = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("migration %d = %s, want %s", i+1, names[i], name)
		}
	}
}

func TestUpMigrationsMatchDiskOrder(t *testing.T) {
	versions, err := upMigrations(os.DirFS(filepath.Join("..", "..", "db", "migrations")))
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	if len(versions) != 2 || versions[0] != "0001_core.up.sql" || versions[1] != "0002_chat.up.sql" {
		t.Fatalf("unexpected apply order %v", versions)
	}
}
