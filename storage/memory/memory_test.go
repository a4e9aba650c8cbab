package memory

import (
	"errors"
	"testing"

	"github.com/jmcleod/emporia/storage"
)

func TestMemoryStore(t *testing.T) {
	s := New()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := s.Set(storage.KeyCart, "[]"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(storage.KeyCart)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "[]" {
			t.Errorf("expected %q, got %q", "[]", got)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.Get("nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s.Set("k", "v1")
		s.Set("k", "v2")
		got, _ := s.Get("k")
		if got != "v2" {
			t.Errorf("expected v2, got %q", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s.Set("del", "x")
		if err := s.Delete("del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get("del"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete("never-existed"); err != nil {
			t.Errorf("Delete of missing key should succeed, got %v", err)
		}
	})
}

func TestMemoryStoreOriginIsolation(t *testing.T) {
	st := NewStore()
	a := st.Origin("http://a.example")
	b := st.Origin("http://b.example")

	a.Set(storage.KeyAuthToken, "token-a")
	if _, err := b.Get(storage.KeyAuthToken); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("origin b should not see origin a's entry, got %v", err)
	}

	// A second view on the same origin shares entries.
	a2 := st.Origin("http://a.example")
	got, err := a2.Get(storage.KeyAuthToken)
	if err != nil || got != "token-a" {
		t.Fatalf("expected shared entry, got %q, %v", got, err)
	}
}

func TestJSONHelpers(t *testing.T) {
	s := New()
	type entry struct {
		Name string `json:"name"`
	}

	if err := storage.SaveJSON(s, "e", entry{Name: "x"}); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}
	var got entry
	if err := storage.LoadJSON(s, "e", &got); err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}
	if got.Name != "x" {
		t.Errorf("expected name x, got %q", got.Name)
	}

	s.Set("bad", "{not json")
	if err := storage.LoadJSON(s, "bad", &got); !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}

	if err := storage.LoadJSON(s, "missing", &got); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
