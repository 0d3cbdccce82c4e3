package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "state.db")
}

// stores returns every Store implementation under test.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"sqlite": db,
		"memory": NewMemory(),
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, KeySyncVersion); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
			}

			if err := s.Set(ctx, KeySyncVersion, []byte(`"v1"`)); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			if err := s.Set(ctx, KeySyncVersion, []byte(`"v2"`)); err != nil {
				t.Fatalf("second Set() failed: %v", err)
			}

			got, err := s.Get(ctx, KeySyncVersion)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if string(got) != `"v2"` {
				t.Errorf("Get() = %s, want \"v2\"", got)
			}

			if err := s.Delete(ctx, KeySyncVersion); err != nil {
				t.Fatalf("Delete() failed: %v", err)
			}
			if err := s.Delete(ctx, KeySyncVersion); err != nil {
				t.Fatalf("Delete() of missing key failed: %v", err)
			}
			if _, err := s.Get(ctx, KeySyncVersion); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestLoadSave(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			enabled, err := Bool(ctx, s, KeySyncToolbar, true)
			if err != nil {
				t.Fatalf("Bool() failed: %v", err)
			}
			if !enabled {
				t.Error("Bool() on unset key ignored the default")
			}

			if err := Save(ctx, s, KeySyncToolbar, false); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			enabled, err = Bool(ctx, s, KeySyncToolbar, true)
			if err != nil {
				t.Fatalf("Bool() failed: %v", err)
			}
			if enabled {
				t.Error("Bool() = true after saving false")
			}

			type entry struct {
				A int    `json:"a"`
				B string `json:"b"`
			}
			if err := Save(ctx, s, KeyIDMappings, []entry{{1, "x"}, {2, "y"}}); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			entries, found, err := Load[[]entry](ctx, s, KeyIDMappings)
			if err != nil || !found {
				t.Fatalf("Load() = found %v, err %v", found, err)
			}
			if len(entries) != 2 || entries[1].B != "y" {
				t.Errorf("Load() = %+v", entries)
			}
		})
	}
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := Save(ctx, db, KeySyncEnabled, true); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	enabled, err := Bool(ctx, db, KeySyncEnabled, false)
	if err != nil {
		t.Fatalf("Bool() failed: %v", err)
	}
	if !enabled {
		t.Error("value lost across reopen")
	}
}
