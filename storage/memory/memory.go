// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"fmt"
	"sync"

	"github.com/jmcleod/emporia/storage"
)

// Store is a thread-safe in-memory storage.Store.
// Suitable for testing, demos, and single-process use cases. Contents are
// lost when the process exits.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

var _ storage.Store = (*Origin)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string]map[string]string)}
}

// Origin returns the view of the store scoped to origin.
func (s *Store) Origin(origin string) *Origin {
	return &Origin{store: s, origin: origin}
}

// Origin is an origin-scoped view of a Store.
type Origin struct {
	store  *Store
	origin string
}

// New returns a fresh single-origin store, the common case in tests.
func New() *Origin {
	return NewStore().Origin("")
}

func (o *Origin) Get(key string) (string, error) {
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()
	v, ok := o.store.data[o.origin][key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

func (o *Origin) Set(key, value string) error {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	if _, ok := o.store.data[o.origin]; !ok {
		o.store.data[o.origin] = make(map[string]string)
	}
	o.store.data[o.origin][key] = value
	return nil
}

func (o *Origin) Delete(key string) error {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	delete(o.store.data[o.origin], key)
	return nil
}
