package local

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "data", "nested"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	store := newTestStore(t)

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)

	want := record{Name: "control-flow", Value: 42}
	if err := store.Save("sessions", "abc", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var got record
	if err := store.Load("sessions", "abc", &got); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	// Overwrite replaces the document.
	want.Value = 7
	if err := store.Save("sessions", "abc", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Load("sessions", "abc", &got); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Value != 7 {
		t.Errorf("Value = %d, want 7", got.Value)
	}

	entries, _ := os.ReadDir(filepath.Join(store.Path(), "sessions"))
	if len(entries) != 1 {
		t.Errorf("collection holds %d files, want 1 (temp files left behind?)", len(entries))
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	var r record
	if err := store.Load("sessions", "missing", &r); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete("sessions", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if err := store.LoadDir("sessions", "missing", "submissions", "1", &r); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadDir() error = %v, want ErrNotFound", err)
	}
}

func TestStore_InvalidIDs(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", ".", "..", "../escape", `a\b`} {
		if err := store.Save("sessions", id, record{}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Save(%q) error = %v, want ErrInvalidID", id, err)
		}
		if store.Exists("sessions", id) {
			t.Errorf("Exists(%q) = true", id)
		}
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)

	ids, err := store.List("sessions")
	if err != nil || len(ids) != 0 {
		t.Fatalf("List() on empty collection = %v, %v", ids, err)
	}

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Save("sessions", id, record{Name: id}); err != nil {
			t.Fatalf("Save(%q) error = %v", id, err)
		}
	}
	if err := store.SaveDir("sessions", "a", "submissions", "1", record{Value: 1}); err != nil {
		t.Fatalf("SaveDir() error = %v", err)
	}

	ids, _ = store.List("sessions")
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("List() = %v, want [a b c]", ids)
	}

	if err := store.Delete("sessions", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Exists("sessions", "a") {
		t.Error("record still exists after Delete")
	}
	if _, err := os.Stat(filepath.Join(store.Path(), "sessions", "a")); !os.IsNotExist(err) {
		t.Error("record directory still exists after Delete")
	}
}

func TestStore_Dir(t *testing.T) {
	store := newTestStore(t)

	for i, name := range []string{"002", "001"} {
		if err := store.SaveDir("sessions", "s1", "submissions", name, record{Value: i}); err != nil {
			t.Fatalf("SaveDir() error = %v", err)
		}
	}

	names, err := store.ListDir("sessions", "s1", "submissions")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"001", "002"}) {
		t.Errorf("ListDir() = %v", names)
	}

	var got record
	if err := store.LoadDir("sessions", "s1", "submissions", "001", &got); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if got.Value != 1 {
		t.Errorf("Value = %d, want 1", got.Value)
	}

	empty, err := store.ListDir("sessions", "s2", "submissions")
	if err != nil || len(empty) != 0 {
		t.Errorf("ListDir() on missing record = %v, %v", empty, err)
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Save("sessions", "shared", record{Value: i}); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	var got record
	if err := store.Load("sessions", "shared", &got); err != nil {
		t.Fatalf("Load() after concurrent writes error = %v", err)
	}
}
