// Package storage provides the persisted key-value store used by the session
// and cart managers.
//
// A Store is scoped to a single origin (the remote API base URL). Entries
// survive process restarts for the durable backends, and two origins never
// observe each other's keys.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Keys owned by the managers. Each manager treats its key as exclusively owned.
const (
	KeyAuthToken = "authToken"
	KeyCart      = "cart"
)

var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("key not found")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("stored value is corrupt")
)

// Store is a string-keyed durable store. Writes are atomic per key.
type Store interface {
	// Get returns the value for key or an error wrapping ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, replacing any existing value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// LoadJSON reads key and decodes it into v. Decode failures wrap ErrCorrupt.
func LoadJSON(s Store, key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%s: %w: %v", key, ErrCorrupt, err)
	}
	return nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(key, string(data))
}
