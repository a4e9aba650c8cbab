// Package bbolt provides a BBolt-backed storage.Store.
package bbolt

import (
	"fmt"

	"github.com/jmcleod/emporia/storage"
	"go.etcd.io/bbolt"
)

// Store implements storage.Store backed by a BBolt database. Each origin
// gets its own bucket, so several origins can share one state file.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store for origin backed by the given BBolt database.
// The caller keeps ownership of db.
func NewStore(db *bbolt.DB, origin string) *Store {
	return &Store{db: db, bucket: bucketName(origin)}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a Store for origin.
func NewStoreFromFile(path, origin string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s := NewStore(db, origin)
	s.owned = true
	return s, nil
}

// Close closes the underlying BBolt database when the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func bucketName(origin string) []byte {
	if origin == "" {
		origin = "default"
	}
	return []byte("origin:" + origin)
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		// data is only valid for the life of the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
