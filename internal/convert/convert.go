// Package convert translates between the native bookmark store and the
// synced tree.
//
// In the native-to-synced direction it classifies single native mutations
// (add, modify, move, remove) and applies them to a copy of the synced
// tree, keeping the id mappings current. A change that does not concern
// the synced tree is skipped rather than treated as an error. In the other
// direction it materializes a whole synced tree into the native store and
// rebuilds the mappings.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
)

// Change is a native mutation to apply to the synced tree. Node carries
// the affected node for Add and Modify, and the removed subtree for
// Remove, with ParentID and Index set. Move carries the move data.
type Change struct {
	Type bookmark.ChangeType
	Node *native.Node
	Move *MoveData
}

// MoveData describes a native move.
type MoveData struct {
	ID          string
	ParentID    string
	Index       int
	OldParentID string
	OldIndex    int
}

// Converter applies native changes to synced trees and synced trees to the
// native store.
type Converter struct {
	native   native.Store
	resolver *containers.Resolver
	mapper   *idmap.Mapper
	logger   *log.Logger
}

// New creates a Converter. If logger is nil a stderr logger is used.
func New(resolver *containers.Resolver, mapper *idmap.Mapper, logger *log.Logger) *Converter {
	if logger == nil {
		logger = log.New(os.Stderr, "[convert] ", log.LstdFlags)
	}
	return &Converter{
		native:   resolver.Native(),
		resolver: resolver,
		mapper:   mapper,
		logger:   logger,
	}
}

// Resolver returns the container resolver the converter works with.
func (c *Converter) Resolver() *containers.Resolver {
	return c.resolver
}

// ProcessChange applies change to a copy of tree. It returns the updated
// copy and true when the change concerns the synced tree, or false when
// it should be skipped. tree itself is never modified.
//
// bookmark.ErrContainerChanged means the container structure was touched
// and the enclosing batch must be abandoned.
func (c *Converter) ProcessChange(ctx context.Context, change Change, tree bookmark.Bookmarks) (bookmark.Bookmarks, bool, error) {
	working := tree.Clone()
	if working == nil {
		working = bookmark.Bookmarks{}
	}

	var (
		synced bool
		err    error
	)
	switch change.Type {
	case bookmark.ChangeAdd:
		if change.Node == nil {
			return nil, false, fmt.Errorf("add without node: %w", bookmark.ErrAmbiguousSyncRequest)
		}
		synced, err = c.processAdd(ctx, change.Node, &working)
	case bookmark.ChangeModify:
		if change.Node == nil {
			return nil, false, fmt.Errorf("modify without node: %w", bookmark.ErrAmbiguousSyncRequest)
		}
		synced, err = c.processModify(ctx, change.Node, working)
	case bookmark.ChangeMove:
		if change.Move == nil {
			return nil, false, fmt.Errorf("move without move data: %w", bookmark.ErrAmbiguousSyncRequest)
		}
		synced, err = c.processMove(ctx, change.Move, &working)
	case bookmark.ChangeRemove:
		if change.Node == nil {
			return nil, false, fmt.Errorf("remove without node: %w", bookmark.ErrAmbiguousSyncRequest)
		}
		synced, err = c.processRemove(ctx, change.Node, &working)
	default:
		return nil, false, fmt.Errorf("change type %q: %w", change.Type, bookmark.ErrAmbiguousSyncRequest)
	}

	if err != nil || !synced {
		return nil, false, err
	}
	return working, true, nil
}

// metadata extracts synced metadata from a native node.
func metadata(n *native.Node) bookmark.Metadata {
	if containers.IsNativeSeparator(n) {
		return bookmark.Metadata{Title: bookmark.SeparatorTitle}
	}
	return bookmark.Metadata{Title: n.Title, URL: n.URL, Folder: n.IsFolder()}
}

// wasContainerChanged reports whether a change to a node titled title
// under nativeParentID touched the container structure: the node is itself
// a container, or it sits in native Other and the unsupported-container
// folders there no longer match the containers of the synced tree, each
// expected exactly once.
func (c *Converter) wasContainerChanged(ctx context.Context, title, nativeParentID string, ids containers.IDs, tree bookmark.Bookmarks) (bool, error) {
	if bookmark.IsContainerTitle(title) {
		return true, nil
	}
	if nativeParentID != ids.Other {
		return false, nil
	}
	counts, err := c.resolver.UnsupportedContainerCounts(ctx)
	if err != nil {
		return false, err
	}
	for _, container := range bookmark.UnsupportedContainers {
		expected := 0
		if tree.Container(container) != nil {
			expected = 1
		}
		if counts[container] != expected {
			return true, nil
		}
	}
	return false, nil
}

// checkContainerChanged wraps wasContainerChanged into an error.
func (c *Converter) checkContainerChanged(ctx context.Context, title, nativeParentID string, ids containers.IDs, tree bookmark.Bookmarks) error {
	changed, err := c.wasContainerChanged(ctx, title, nativeParentID, ids, tree)
	if err != nil {
		return err
	}
	if changed {
		return fmt.Errorf("%q under %q: %w", title, nativeParentID, bookmark.ErrContainerChanged)
	}
	return nil
}

// inSyncedContainer reports whether the node with synced id lives in a
// container that is currently synced.
func (c *Converter) inSyncedContainer(ctx context.Context, id int, tree bookmark.Bookmarks) (bool, error) {
	container := tree.ContainerOf(id)
	if container == nil {
		return false, fmt.Errorf("bookmark %d: %w", id, bookmark.ErrContainerNotFound)
	}
	if container.Title == string(bookmark.ContainerToolbar) {
		return c.resolver.SyncToolbar(ctx)
	}
	return true, nil
}

// resolveParent returns the synced folder standing for nativeParentID, or
// nil when the parent is not tracked. Container folders are created on
// demand; the toolbar is untracked while toolbar sync is off.
func (c *Converter) resolveParent(ctx context.Context, nativeParentID string, ids containers.IDs, tree *bookmark.Bookmarks) (*bookmark.Bookmark, error) {
	if container, ok := ids.ContainerOf(nativeParentID); ok {
		if container == bookmark.ContainerToolbar {
			syncToolbar, err := c.resolver.SyncToolbar(ctx)
			if err != nil {
				return nil, err
			}
			if !syncToolbar {
				return nil, nil
			}
		}
		return tree.EnsureContainer(container), nil
	}

	m, err := c.mapper.Get(ctx, nativeParentID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	parent := tree.FindByID(m.SyncedID)
	if parent == nil {
		c.logger.Printf("WARNING: mapping %d -> %s points outside the synced tree", m.SyncedID, nativeParentID)
		return nil, nil
	}
	return parent, nil
}

// syncedIndex converts a native index into the synced index by discounting
// unsupported-container folders in front of it.
func (c *Converter) syncedIndex(ctx context.Context, nativeParentID string, index int) (int, error) {
	n, err := c.resolver.CountContainersBeforeIndex(ctx, nativeParentID, index)
	if err != nil {
		return 0, err
	}
	return index - n, nil
}

func (c *Converter) processAdd(ctx context.Context, node *native.Node, tree *bookmark.Bookmarks) (bool, error) {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return false, err
	}
	if err := c.checkContainerChanged(ctx, node.Title, node.ParentID, ids, *tree); err != nil {
		return false, err
	}

	parent, err := c.resolveParent(ctx, node.ParentID, ids, tree)
	if err != nil {
		return false, err
	}
	if parent == nil {
		return false, nil
	}

	index, err := c.syncedIndex(ctx, node.ParentID, node.Index)
	if err != nil {
		return false, err
	}

	added := bookmark.New(tree.NewID(), metadata(node))
	if err := tree.Insert(parent.ID, index, added); err != nil {
		return false, err
	}

	if err := c.mapper.Add(ctx, idmap.CreateMapping(added.ID, node.ID)); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Converter) processModify(ctx context.Context, node *native.Node, tree bookmark.Bookmarks) (bool, error) {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return false, err
	}
	if err := c.checkContainerChanged(ctx, node.Title, node.ParentID, ids, tree); err != nil {
		return false, err
	}

	m, err := c.mapper.Get(ctx, node.ID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	target := tree.FindByID(m.SyncedID)
	if target == nil {
		c.logger.Printf("WARNING: mapping %d -> %s points outside the synced tree", m.SyncedID, node.ID)
		return false, nil
	}

	synced, err := c.inSyncedContainer(ctx, target.ID, tree)
	if err != nil || !synced {
		return false, err
	}

	target.Apply(metadata(node))
	return true, nil
}

func (c *Converter) processRemove(ctx context.Context, node *native.Node, tree *bookmark.Bookmarks) (bool, error) {
	if node.IsFolder() && bookmark.IsUnsupportedContainerTitle(node.Title) {
		return false, fmt.Errorf("removed %q: %w", node.Title, bookmark.ErrContainerChanged)
	}

	m, err := c.mapper.Get(ctx, node.ID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	if tree.FindByID(m.SyncedID) == nil {
		c.logger.Printf("WARNING: mapping %d -> %s points outside the synced tree", m.SyncedID, node.ID)
		return false, nil
	}

	synced, err := c.inSyncedContainer(ctx, m.SyncedID, *tree)
	if err != nil || !synced {
		return false, err
	}

	removed, err := tree.Remove(m.SyncedID)
	if err != nil {
		return false, err
	}
	if err := c.mapper.Remove(ctx, bookmark.IDs(removed)...); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Converter) processMove(ctx context.Context, mv *MoveData, tree *bookmark.Bookmarks) (bool, error) {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return false, err
	}

	node, err := c.native.Get(ctx, mv.ID)
	if err != nil {
		return false, nativeGetError(mv.ID, err)
	}
	for _, parentID := range []string{mv.OldParentID, mv.ParentID} {
		if err := c.checkContainerChanged(ctx, node.Title, parentID, ids, *tree); err != nil {
			return false, err
		}
	}

	// Source half: the moved node as currently tracked, if at all.
	var source *bookmark.Bookmark
	m, err := c.mapper.Get(ctx, mv.ID)
	if err != nil {
		return false, err
	}
	if m != nil {
		if b := tree.FindByID(m.SyncedID); b != nil {
			synced, err := c.inSyncedContainer(ctx, b.ID, *tree)
			if err != nil {
				return false, err
			}
			if synced {
				source = b
			}
		}
	}

	// Destination half.
	dest, err := c.resolveParent(ctx, mv.ParentID, ids, tree)
	if err != nil {
		return false, err
	}

	if source == nil && dest == nil {
		return false, nil
	}

	var moved *bookmark.Bookmark
	if source != nil {
		if moved, err = tree.Remove(source.ID); err != nil {
			return false, err
		}
	}

	if dest == nil {
		// Moved out of everything that is synced.
		if err := c.mapper.Remove(ctx, bookmark.IDs(moved)...); err != nil {
			return false, err
		}
		return true, nil
	}

	var added []idmap.Mapping
	if moved == nil {
		moved, added, err = c.BookmarkFromNative(ctx, mv.ID, tree.NewID())
		if err != nil {
			return false, err
		}
	}

	index, err := c.syncedIndex(ctx, mv.ParentID, mv.Index)
	if err != nil {
		return false, err
	}
	if err := tree.Insert(dest.ID, index, moved); err != nil {
		return false, err
	}

	for _, mapping := range added {
		if err := c.mapper.Add(ctx, mapping); err != nil {
			return false, err
		}
	}
	return true, nil
}

// nativeGetError wraps a native read failure.
func nativeGetError(id string, err error) error {
	if errors.Is(err, native.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", bookmark.ErrNativeBookmarkNotFound, id, err)
	}
	return fmt.Errorf("%w: %s: %w", bookmark.ErrFailedGetNativeBookmarks, id, err)
}
