// Package store provides the persistent key-value store behind the sync
// engine.
//
// Values are JSON documents addressed by a small fixed set of keys: the
// sync settings, the id-mapping table, the cached synced tree and the
// remote version token.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Key addresses a stored value.
type Key string

const (
	KeySyncEnabled       Key = "sync_enabled"
	KeySyncToolbar       Key = "sync_bookmarks_toolbar"
	KeyIDMappings        Key = "bookmark_id_mappings"
	KeyBookmarks         Key = "bookmarks"
	KeySyncVersion       Key = "sync_version"
	KeyLastUpdated       Key = "last_updated"
	KeyReconcileRequired Key = "reconcile_required"
	KeyPushPending       Key = "push_pending"
)

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("key not found")

// Store is a persistent key-value store.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Close releases the store's resources.
	Close() error
}

// Load decodes the JSON value under key into a T. A missing key yields
// the zero value and found == false.
func Load[T any](ctx context.Context, s Store, key Key) (value T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return value, true, nil
}

// Save encodes value as JSON and stores it under key.
func Save(ctx context.Context, s Store, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// Bool loads a boolean setting, returning def when it is unset.
func Bool(ctx context.Context, s Store, key Key, def bool) (bool, error) {
	v, found, err := Load[bool](ctx, s, key)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// String loads a string value, returning "" when it is unset.
func String(ctx context.Context, s Store, key Key) (string, error) {
	v, _, err := Load[string](ctx, s, key)
	return v, err
}
