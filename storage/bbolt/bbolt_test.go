package bbolt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmcleod/emporia/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*bbolt.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "emporia-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		os.Remove(path)
		t.Fatalf("could not open db: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func TestBBoltStore(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	s := NewStore(db, "http://127.0.0.1:8000")

	t.Run("GetBeforeAnyWrite", func(t *testing.T) {
		_, err := s.Get(storage.KeyCart)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		if err := s.Set(storage.KeyCart, `[{"id":1,"quantity":2}]`); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(storage.KeyCart)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != `[{"id":1,"quantity":2}]` {
			t.Errorf("unexpected value %q", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s.Set(storage.KeyAuthToken, "tok")
		if err := s.Delete(storage.KeyAuthToken); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(storage.KeyAuthToken); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete("never-existed"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		fresh := NewStore(db, "http://unused.example")
		if err := fresh.Delete("x"); err != nil {
			t.Errorf("delete on missing bucket should succeed, got %v", err)
		}
	})

	t.Run("OriginIsolation", func(t *testing.T) {
		other := NewStore(db, "http://other.example")
		if _, err := other.Get(storage.KeyCart); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("other origin should not see cart, got %v", err)
		}
	})
}

func TestBBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewStoreFromFile(path, "origin", nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Set(storage.KeyAuthToken, `{"access":"a","refresh":"r"}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewStoreFromFile(path, "origin", nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(storage.KeyAuthToken)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != `{"access":"a","refresh":"r"}` {
		t.Errorf("unexpected value after reopen: %q", got)
	}
}
