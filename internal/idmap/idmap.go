// Package idmap maintains the durable association between native bookmark
// ids and synced bookmark ids.
//
// The table is persisted as one ordered JSON array. Every synced id and
// every native id appears in at most one mapping.
package idmap

import (
	"context"
	"fmt"
	"slices"

	"github.com/marksync/marksync/internal/store"
)

// Mapping links a synced id to a native id.
type Mapping struct {
	SyncedID int    `json:"syncedId"`
	NativeID string `json:"nativeId"`
}

// CreateMapping builds a Mapping.
func CreateMapping(syncedID int, nativeID string) Mapping {
	return Mapping{SyncedID: syncedID, NativeID: nativeID}
}

// Mapper reads and writes the mapping table through a store.Store.
type Mapper struct {
	store store.Store
}

// New returns a Mapper persisting to s.
func New(s store.Store) *Mapper {
	return &Mapper{store: s}
}

// All returns every mapping in stored order.
func (m *Mapper) All(ctx context.Context) ([]Mapping, error) {
	mappings, _, err := store.Load[[]Mapping](ctx, m.store, store.KeyIDMappings)
	if err != nil {
		return nil, fmt.Errorf("failed to load id mappings: %w", err)
	}
	return mappings, nil
}

// Get returns the mapping for a native id, or nil when there is none.
func (m *Mapper) Get(ctx context.Context, nativeID string) (*Mapping, error) {
	return m.find(ctx, func(mp Mapping) bool { return mp.NativeID == nativeID })
}

// GetBySyncedID returns the mapping for a synced id, or nil when there is
// none.
func (m *Mapper) GetBySyncedID(ctx context.Context, syncedID int) (*Mapping, error) {
	return m.find(ctx, func(mp Mapping) bool { return mp.SyncedID == syncedID })
}

func (m *Mapper) find(ctx context.Context, match func(Mapping) bool) (*Mapping, error) {
	mappings, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(mappings, match)
	if i < 0 {
		return nil, nil
	}
	found := mappings[i]
	return &found, nil
}

// Add stores mapping, first dropping any entry that shares its synced id
// or its native id.
func (m *Mapper) Add(ctx context.Context, mapping Mapping) error {
	mappings, err := m.All(ctx)
	if err != nil {
		return err
	}
	mappings = slices.DeleteFunc(mappings, func(mp Mapping) bool {
		return mp.SyncedID == mapping.SyncedID || mp.NativeID == mapping.NativeID
	})
	mappings = append(mappings, mapping)
	return m.save(ctx, mappings)
}

// Remove drops the mappings of the given synced ids. Unknown ids are
// ignored.
func (m *Mapper) Remove(ctx context.Context, syncedIDs ...int) error {
	if len(syncedIDs) == 0 {
		return nil
	}
	mappings, err := m.All(ctx)
	if err != nil {
		return err
	}
	remaining := slices.DeleteFunc(mappings, func(mp Mapping) bool {
		return slices.Contains(syncedIDs, mp.SyncedID)
	})
	return m.save(ctx, remaining)
}

// Set replaces the whole table in a single write. When mappings repeat an
// id the later entry wins.
func (m *Mapper) Set(ctx context.Context, mappings []Mapping) error {
	deduped := make([]Mapping, 0, len(mappings))
	for _, mp := range mappings {
		deduped = slices.DeleteFunc(deduped, func(existing Mapping) bool {
			return existing.SyncedID == mp.SyncedID || existing.NativeID == mp.NativeID
		})
		deduped = append(deduped, mp)
	}
	return m.save(ctx, deduped)
}

// Clear removes the whole table.
func (m *Mapper) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx, store.KeyIDMappings); err != nil {
		return fmt.Errorf("failed to clear id mappings: %w", err)
	}
	return nil
}

func (m *Mapper) save(ctx context.Context, mappings []Mapping) error {
	if err := store.Save(ctx, m.store, store.KeyIDMappings, mappings); err != nil {
		return fmt.Errorf("failed to save id mappings: %w", err)
	}
	return nil
}
