// Package containers maps the synced tree's four logical containers onto
// the native store and keeps the native layout they depend on.
//
// Other and Toolbar correspond to fixed native roots. Menu and Mobile have
// no native root: they are stored as folders inside native Other, kept in
// front of Other's regular content in priority order. Separators are
// native bookmarks carrying a sentinel title and the blank page url.
package containers

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/store"
)

// IDs holds the native ids of the four containers. Menu and Mobile are
// empty while their folders do not exist.
type IDs struct {
	Menu    string
	Mobile  string
	Other   string
	Toolbar string
}

// Get returns the native id of container c.
func (ids IDs) Get(c bookmark.Container) string {
	switch c {
	case bookmark.ContainerMenu:
		return ids.Menu
	case bookmark.ContainerMobile:
		return ids.Mobile
	case bookmark.ContainerOther:
		return ids.Other
	case bookmark.ContainerToolbar:
		return ids.Toolbar
	default:
		return ""
	}
}

// ContainerOf returns the container whose native id is nativeID.
func (ids IDs) ContainerOf(nativeID string) (bookmark.Container, bool) {
	if nativeID == "" {
		return "", false
	}
	for _, c := range bookmark.Containers {
		if ids.Get(c) == nativeID {
			return c, true
		}
	}
	return "", false
}

// Config holds configuration for a Resolver.
type Config struct {
	// OtherRootID and ToolbarRootID are the native ids of the fixed roots.
	OtherRootID   string
	ToolbarRootID string

	// Logger for resolver activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the ids used by the stores in package native.
func DefaultConfig() *Config {
	return &Config{
		OtherRootID:   native.OtherID,
		ToolbarRootID: native.ToolbarID,
		Logger:        log.New(os.Stderr, "[containers] ", log.LstdFlags),
	}
}

// Resolver locates containers in the native store and maintains separators
// and the unsupported-container layout.
type Resolver struct {
	native native.Store
	store  store.Store
	config *Config
}

// New creates a Resolver. A nil config uses DefaultConfig.
func New(nativeStore native.Store, kv store.Store, config *Config) *Resolver {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Resolver{native: nativeStore, store: kv, config: config}
}

// Native returns the native store the resolver operates on.
func (r *Resolver) Native() native.Store {
	return r.native
}

// NativeContainerIDs locates the four containers in the native store.
// Missing Other or Toolbar roots yield bookmark.ErrContainerNotFound.
func (r *Resolver) NativeContainerIDs(ctx context.Context) (IDs, error) {
	root, err := r.native.Tree(ctx)
	if err != nil {
		return IDs{}, fmt.Errorf("%w: %w", bookmark.ErrFailedGetNativeBookmarks, err)
	}

	var ids IDs
	var other *native.Node
	for _, n := range root.Children {
		switch n.ID {
		case r.config.OtherRootID:
			ids.Other = n.ID
			other = n
		case r.config.ToolbarRootID:
			ids.Toolbar = n.ID
		}
	}

	if ids.Other == "" {
		r.config.Logger.Printf("Other bookmarks root %q not found", r.config.OtherRootID)
	}
	if ids.Toolbar == "" {
		r.config.Logger.Printf("Toolbar root %q not found", r.config.ToolbarRootID)
	}
	if ids.Other == "" || ids.Toolbar == "" {
		return IDs{}, bookmark.ErrContainerNotFound
	}

	for _, n := range other.Children {
		if !n.IsFolder() {
			continue
		}
		switch bookmark.Container(n.Title) {
		case bookmark.ContainerMenu:
			if ids.Menu == "" {
				ids.Menu = n.ID
			}
		case bookmark.ContainerMobile:
			if ids.Mobile == "" {
				ids.Mobile = n.ID
			}
		}
	}
	return ids, nil
}

// SyncToolbar reports whether toolbar content is synced. Defaults to true.
func (r *Resolver) SyncToolbar(ctx context.Context) (bool, error) {
	return store.Bool(ctx, r.store, store.KeySyncToolbar, true)
}

// IsInToolbar reports whether node sits directly under the toolbar root.
func (r *Resolver) IsInToolbar(node *native.Node) bool {
	return node.ParentID == r.config.ToolbarRootID
}

// CountContainersBeforeIndex returns how many unsupported-container folders
// precede index under parentID. Only native Other holds them, so any other
// parent yields 0.
func (r *Resolver) CountContainersBeforeIndex(ctx context.Context, parentID string, index int) (int, error) {
	if parentID != r.config.OtherRootID {
		return 0, nil
	}
	children, err := r.native.Children(ctx, parentID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", bookmark.ErrFailedGetNativeBookmarks, err)
	}
	count := 0
	for i, c := range children {
		if i >= index {
			break
		}
		if c.IsFolder() && bookmark.IsUnsupportedContainerTitle(c.Title) {
			count++
		}
	}
	return count, nil
}

// UnsupportedContainerCounts returns how many folders under native Other
// carry each unsupported container title.
func (r *Resolver) UnsupportedContainerCounts(ctx context.Context) (map[bookmark.Container]int, error) {
	children, err := r.native.Children(ctx, r.config.OtherRootID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bookmark.ErrFailedGetNativeBookmarks, err)
	}
	counts := make(map[bookmark.Container]int)
	for _, c := range children {
		if c.IsFolder() && bookmark.IsUnsupportedContainerTitle(c.Title) {
			counts[bookmark.Container(c.Title)]++
		}
	}
	return counts, nil
}

// ReorderUnsupportedContainers moves each unsupported-container folder in
// native Other to the front, in priority order. Callers disable event
// listeners around this call.
func (r *Resolver) ReorderUnsupportedContainers(ctx context.Context) error {
	ids, err := r.NativeContainerIDs(ctx)
	if err != nil {
		return err
	}
	children, err := r.native.Children(ctx, ids.Other)
	if err != nil {
		return fmt.Errorf("%w: %w", bookmark.ErrFailedGetNativeBookmarks, err)
	}

	target := 0
	for _, c := range bookmark.UnsupportedContainers {
		id := ids.Get(c)
		if id == "" {
			continue
		}
		current := -1
		for i, child := range children {
			if child.ID == id {
				current = i
				break
			}
		}
		if current != target {
			if _, err := r.native.Move(ctx, id, native.Destination{ParentID: ids.Other, Index: target}); err != nil {
				return fmt.Errorf("%w: %w", bookmark.ErrFailedUpdateNativeBookmarks, err)
			}
			children, err = r.native.Children(ctx, ids.Other)
			if err != nil {
				return fmt.Errorf("%w: %w", bookmark.ErrFailedGetNativeBookmarks, err)
			}
		}
		target++
	}
	return nil
}
