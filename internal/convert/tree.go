package convert

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
)

// supportedSchemes lists url schemes the native store accepts as is.
var supportedSchemes = []string{"http", "https", "ftp", "file", "mailto"}

// SupportedURL returns u when the native store accepts it and the blank
// page url otherwise. Empty urls are returned unchanged.
func SupportedURL(u string) string {
	if u == "" || u == bookmark.BlankPageURL {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil || !slices.Contains(supportedSchemes, strings.ToLower(parsed.Scheme)) {
		return bookmark.BlankPageURL
	}
	return u
}

// BookmarkFromNative converts the native subtree rooted at nativeID into a
// synced subtree, numbering nodes from firstID in pre-order. It returns the
// mappings for every converted node.
func (c *Converter) BookmarkFromNative(ctx context.Context, nativeID string, firstID int) (*bookmark.Bookmark, []idmap.Mapping, error) {
	node, err := c.native.SubTree(ctx, nativeID)
	if err != nil {
		return nil, nil, nativeGetError(nativeID, err)
	}
	next := firstID
	var mappings []idmap.Mapping
	b := convertNode(node, &next, &mappings)
	return b, mappings, nil
}

func convertNode(n *native.Node, next *int, mappings *[]idmap.Mapping) *bookmark.Bookmark {
	b := bookmark.New(*next, metadata(n))
	*next++
	*mappings = append(*mappings, idmap.CreateMapping(b.ID, n.ID))
	for _, child := range n.Children {
		b.Children = append(b.Children, convertNode(child, next, mappings))
	}
	return b
}

// syncedChildren returns the native children of a container that belong to
// it in the synced tree. Unsupported-container folders in Other are
// containers of their own.
func syncedChildren(c bookmark.Container, folder *native.Node) []*native.Node {
	if c != bookmark.ContainerOther {
		return folder.Children
	}
	return slices.DeleteFunc(slices.Clone(folder.Children), func(n *native.Node) bool {
		return n.IsFolder() && bookmark.IsUnsupportedContainerTitle(n.Title)
	})
}

// syncedContainers returns the containers currently present natively and
// synced, in canonical order.
func (c *Converter) syncedContainers(ctx context.Context, ids containers.IDs) ([]bookmark.Container, error) {
	syncToolbar, err := c.resolver.SyncToolbar(ctx)
	if err != nil {
		return nil, err
	}
	var out []bookmark.Container
	for _, container := range bookmark.Containers {
		if ids.Get(container) == "" {
			continue
		}
		if container == bookmark.ContainerToolbar && !syncToolbar {
			continue
		}
		out = append(out, container)
	}
	return out, nil
}

// NativeAsBookmarks builds a synced tree from the native store. Containers
// take the first ids; content ids follow the order in which the native
// nodes were added.
func (c *Converter) NativeAsBookmarks(ctx context.Context) (bookmark.Bookmarks, error) {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return nil, err
	}
	present, err := c.syncedContainers(ctx, ids)
	if err != nil {
		return nil, err
	}

	type entry struct {
		b     *bookmark.Bookmark
		added time.Time
	}
	var entries []entry
	var convert func(n *native.Node) *bookmark.Bookmark
	convert = func(n *native.Node) *bookmark.Bookmark {
		b := bookmark.New(0, metadata(n))
		entries = append(entries, entry{b: b, added: n.DateAdded})
		for _, child := range n.Children {
			b.Children = append(b.Children, convert(child))
		}
		return b
	}

	tree := make(bookmark.Bookmarks, 0, len(present))
	for i, container := range present {
		folder, err := c.native.SubTree(ctx, ids.Get(container))
		if err != nil {
			return nil, nativeGetError(ids.Get(container), err)
		}
		cb := bookmark.New(i+1, bookmark.Metadata{Title: string(container), Folder: true})
		for _, child := range syncedChildren(container, folder) {
			cb.Children = append(cb.Children, convert(child))
		}
		tree = append(tree, cb)
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return a.added.Compare(b.added)
	})
	next := len(tree) + 1
	for _, e := range entries {
		e.b.ID = next
		next++
	}
	return tree, nil
}

// BuildIDMappings pairs the synced tree with the native store position by
// position and replaces the mapping table with the result.
func (c *Converter) BuildIDMappings(ctx context.Context, tree bookmark.Bookmarks) error {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return err
	}
	present, err := c.syncedContainers(ctx, ids)
	if err != nil {
		return err
	}

	var mappings []idmap.Mapping
	for _, container := range present {
		synced := tree.Container(container)
		if synced == nil {
			continue
		}
		folder, err := c.native.SubTree(ctx, ids.Get(container))
		if err != nil {
			return nativeGetError(ids.Get(container), err)
		}
		mappings = pairChildren(syncedChildren(container, folder), synced.Children, mappings)
	}
	return c.mapper.Set(ctx, mappings)
}

func pairChildren(natives []*native.Node, synced []*bookmark.Bookmark, mappings []idmap.Mapping) []idmap.Mapping {
	for i := range min(len(natives), len(synced)) {
		mappings = append(mappings, idmap.CreateMapping(synced[i].ID, natives[i].ID))
		mappings = pairChildren(natives[i].Children, synced[i].Children, mappings)
	}
	return mappings
}

// ClearNative removes all content from native Other and, when toolbar sync
// is on, from the toolbar. Unsupported-container folders go with Other.
func (c *Converter) ClearNative(ctx context.Context) error {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return err
	}
	syncToolbar, err := c.resolver.SyncToolbar(ctx)
	if err != nil {
		return err
	}

	parents := []string{ids.Other}
	if syncToolbar {
		parents = append(parents, ids.Toolbar)
	}
	for _, parentID := range parents {
		children, err := c.native.Children(ctx, parentID)
		if err != nil {
			return nativeGetError(parentID, err)
		}
		for _, child := range children {
			if err := c.native.RemoveTree(ctx, child.ID); err != nil {
				return fmt.Errorf("%w: %s: %w", bookmark.ErrFailedRemoveNativeBookmarks, child.ID, err)
			}
		}
	}
	return nil
}

// PopulateNative materializes tree into the native store. Menu and Mobile
// become folders in native Other; the toolbar is only written when toolbar
// sync is on. Callers clear the native store and disable event listeners
// first.
func (c *Converter) PopulateNative(ctx context.Context, tree bookmark.Bookmarks) error {
	ids, err := c.resolver.NativeContainerIDs(ctx)
	if err != nil {
		return err
	}
	syncToolbar, err := c.resolver.SyncToolbar(ctx)
	if err != nil {
		return err
	}

	for _, container := range bookmark.UnsupportedContainers {
		synced := tree.Container(container)
		if synced == nil {
			continue
		}
		folderID := ids.Get(container)
		if folderID == "" {
			folder, err := c.native.Create(ctx, native.CreateDetails{ParentID: ids.Other, Index: -1, Title: string(container)})
			if err != nil {
				return fmt.Errorf("%w: %w", bookmark.ErrFailedCreateNativeBookmarks, err)
			}
			folderID = folder.ID
		}
		if err := c.createChildren(ctx, folderID, synced.Children); err != nil {
			return err
		}
	}

	if other := tree.Container(bookmark.ContainerOther); other != nil {
		if err := c.createChildren(ctx, ids.Other, other.Children); err != nil {
			return err
		}
	}
	if toolbar := tree.Container(bookmark.ContainerToolbar); toolbar != nil && syncToolbar {
		if err := c.createChildren(ctx, ids.Toolbar, toolbar.Children); err != nil {
			return err
		}
	}

	return c.resolver.ReorderUnsupportedContainers(ctx)
}

func (c *Converter) createChildren(ctx context.Context, parentID string, children []*bookmark.Bookmark) error {
	for _, child := range children {
		if child.IsSeparator() {
			if _, err := c.resolver.CreateSeparator(ctx, parentID, -1); err != nil {
				return err
			}
			continue
		}
		details := native.CreateDetails{ParentID: parentID, Index: -1, Title: child.Title}
		if !child.IsFolder() {
			details.URL = SupportedURL(child.URL)
		}
		created, err := c.native.Create(ctx, details)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", bookmark.ErrFailedCreateNativeBookmarks, child.Title, err)
		}
		if child.IsFolder() {
			if err := c.createChildren(ctx, created.ID, child.Children); err != nil {
				return err
			}
		}
	}
	return nil
}
