package convert

import (
	"context"
	"fmt"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
)

// Edit is a change made directly to the synced tree rather than observed
// in the native store. ID names the target of Modify and Remove; ParentID
// names the folder an Add goes into, 0 meaning the Other container.
type Edit struct {
	Type     bookmark.ChangeType
	ID       int
	ParentID int
	Metadata bookmark.Metadata
}

// EditResult is the outcome of ApplyEdit.
type EditResult struct {
	// Tree is the edited copy of the synced tree.
	Tree bookmark.Bookmarks

	// Bookmark is the added or modified node, or the removed subtree.
	Bookmark *bookmark.Bookmark

	// ParentID is the synced folder holding Bookmark.
	ParentID int
}

// ApplyEdit applies e to a copy of tree.
func ApplyEdit(tree bookmark.Bookmarks, e Edit) (*EditResult, error) {
	working := tree.Clone()
	if working == nil {
		working = bookmark.Bookmarks{}
	}

	switch e.Type {
	case bookmark.ChangeAdd:
		parent := working.EnsureContainer(bookmark.ContainerOther)
		if e.ParentID != 0 {
			parent = working.FindByID(e.ParentID)
			if parent == nil {
				return nil, fmt.Errorf("parent %d: %w", e.ParentID, bookmark.ErrBookmarkNotFound)
			}
		}
		added := bookmark.New(working.NewID(), e.Metadata)
		if err := working.Insert(parent.ID, -1, added); err != nil {
			return nil, err
		}
		return &EditResult{Tree: working, Bookmark: added, ParentID: parent.ID}, nil

	case bookmark.ChangeModify:
		target := working.FindByID(e.ID)
		if target == nil {
			return nil, fmt.Errorf("bookmark %d: %w", e.ID, bookmark.ErrBookmarkNotFound)
		}
		if isContainer(working, e.ID) {
			return nil, fmt.Errorf("bookmark %d is a container: %w", e.ID, bookmark.ErrContainerChanged)
		}
		target.Apply(e.Metadata)
		return &EditResult{Tree: working, Bookmark: target, ParentID: parentOf(working, e.ID)}, nil

	case bookmark.ChangeRemove:
		if isContainer(working, e.ID) {
			return nil, fmt.Errorf("bookmark %d is a container: %w", e.ID, bookmark.ErrContainerChanged)
		}
		parentID := parentOf(working, e.ID)
		removed, err := working.Remove(e.ID)
		if err != nil {
			return nil, err
		}
		return &EditResult{Tree: working, Bookmark: removed, ParentID: parentID}, nil

	default:
		return nil, fmt.Errorf("edit type %q: %w", e.Type, bookmark.ErrAmbiguousSyncRequest)
	}
}

func isContainer(tree bookmark.Bookmarks, id int) bool {
	for _, c := range tree {
		if c.ID == id {
			return true
		}
	}
	return false
}

func parentOf(tree bookmark.Bookmarks, id int) int {
	parent := 0
	tree.Walk(func(b *bookmark.Bookmark) bool {
		for _, child := range b.Children {
			if child.ID == id {
				parent = b.ID
				return false
			}
		}
		return true
	})
	return parent
}

// ProcessNativeChange mirrors an applied edit into the native store and
// updates the id mappings. Edits inside the toolbar are ignored while
// toolbar sync is off. Callers disable event listeners first.
func (c *Converter) ProcessNativeChange(ctx context.Context, t bookmark.ChangeType, res *EditResult) error {
	container := res.Tree.ContainerOf(res.ParentID)
	if container != nil && container.Title == string(bookmark.ContainerToolbar) {
		syncToolbar, err := c.resolver.SyncToolbar(ctx)
		if err != nil {
			return err
		}
		if !syncToolbar {
			return nil
		}
	}

	switch t {
	case bookmark.ChangeAdd:
		parentID, err := c.nativeParentID(ctx, res.Tree, res.ParentID)
		if err != nil {
			return err
		}
		var created *native.Node
		if res.Bookmark.IsSeparator() {
			created, err = c.resolver.CreateSeparator(ctx, parentID, -1)
		} else {
			created, err = c.native.Create(ctx, native.CreateDetails{
				ParentID: parentID,
				Index:    -1,
				Title:    res.Bookmark.Title,
				URL:      nativeURL(res.Bookmark),
			})
		}
		if err != nil {
			return fmt.Errorf("%w: %w", bookmark.ErrFailedCreateNativeBookmarks, err)
		}
		return c.mapper.Add(ctx, idmap.CreateMapping(res.Bookmark.ID, created.ID))

	case bookmark.ChangeModify:
		m, err := c.mappingFor(ctx, res.Bookmark.ID)
		if err != nil {
			return err
		}
		if _, err := c.native.Update(ctx, m.NativeID, native.UpdateDetails{
			Title: res.Bookmark.Title,
			URL:   nativeURL(res.Bookmark),
		}); err != nil {
			return fmt.Errorf("%w: %w", bookmark.ErrFailedUpdateNativeBookmarks, err)
		}
		return nil

	case bookmark.ChangeRemove:
		m, err := c.mappingFor(ctx, res.Bookmark.ID)
		if err != nil {
			return err
		}
		if err := c.native.RemoveTree(ctx, m.NativeID); err != nil {
			return fmt.Errorf("%w: %w", bookmark.ErrFailedRemoveNativeBookmarks, err)
		}
		return c.mapper.Remove(ctx, bookmark.IDs(res.Bookmark)...)

	default:
		return fmt.Errorf("native change %q: %w", t, bookmark.ErrAmbiguousSyncRequest)
	}
}

func nativeURL(b *bookmark.Bookmark) string {
	if b.IsFolder() {
		return ""
	}
	return SupportedURL(b.URL)
}

func (c *Converter) mappingFor(ctx context.Context, syncedID int) (*idmap.Mapping, error) {
	m, err := c.mapper.GetBySyncedID(ctx, syncedID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("bookmark %d: %w", syncedID, bookmark.ErrBookmarkMappingNotFound)
	}
	return m, nil
}

// nativeParentID resolves the native folder for a synced folder id.
func (c *Converter) nativeParentID(ctx context.Context, tree bookmark.Bookmarks, syncedID int) (string, error) {
	for _, container := range tree {
		if container.ID != syncedID {
			continue
		}
		ids, err := c.resolver.NativeContainerIDs(ctx)
		if err != nil {
			return "", err
		}
		name := bookmark.Container(container.Title)
		if id := ids.Get(name); id != "" {
			return id, nil
		}
		if !bookmark.IsUnsupportedContainerTitle(container.Title) {
			return "", fmt.Errorf("%s: %w", container.Title, bookmark.ErrContainerNotFound)
		}
		folder, err := c.native.Create(ctx, native.CreateDetails{ParentID: ids.Other, Index: -1, Title: container.Title})
		if err != nil {
			return "", fmt.Errorf("%w: %w", bookmark.ErrFailedCreateNativeBookmarks, err)
		}
		if err := c.resolver.ReorderUnsupportedContainers(ctx); err != nil {
			return "", err
		}
		return folder.ID, nil
	}
	m, err := c.mappingFor(ctx, syncedID)
	if err != nil {
		return "", err
	}
	return m.NativeID, nil
}
