package containers

import (
	"context"
	"fmt"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/native"
)

// IsNativeSeparator reports whether node is a separator in native form:
// a sentinel-like title on the blank page url.
func IsNativeSeparator(node *native.Node) bool {
	return node.URL == bookmark.BlankPageURL && bookmark.IsSeparator(node.Title, node.URL)
}

// separatorTitle returns the sentinel for a separator under parentID.
func (r *Resolver) separatorTitle(parentID string) string {
	if parentID == r.config.ToolbarRootID {
		return bookmark.VerticalSeparatorTitle
	}
	return bookmark.HorizontalSeparatorTitle
}

// CreateSeparator creates a native separator under parentID at index.
func (r *Resolver) CreateSeparator(ctx context.Context, parentID string, index int) (*native.Node, error) {
	n, err := r.native.Create(ctx, native.CreateDetails{
		ParentID: parentID,
		Index:    index,
		Title:    r.separatorTitle(parentID),
		URL:      bookmark.BlankPageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bookmark.ErrFailedCreateNativeBookmarks, err)
	}
	return n, nil
}

// ConvertToSeparator brings node into canonical separator form for its
// position. A node already in the right form is returned unchanged. One in
// the other orientation only has its title updated. Anything else is
// removed and recreated at the same position, which gives it a new id.
// Callers disable event listeners around this call and remap the id.
func (r *Resolver) ConvertToSeparator(ctx context.Context, node *native.Node) (*native.Node, error) {
	title := r.separatorTitle(node.ParentID)

	if IsNativeSeparator(node) {
		if node.Title == title {
			return node, nil
		}
		if node.Title == bookmark.VerticalSeparatorTitle || node.Title == bookmark.HorizontalSeparatorTitle {
			updated, err := r.native.Update(ctx, node.ID, native.UpdateDetails{Title: title, URL: bookmark.BlankPageURL})
			if err != nil {
				return nil, fmt.Errorf("%w: %w", bookmark.ErrFailedUpdateNativeBookmarks, err)
			}
			return updated, nil
		}
	}

	if err := r.native.Remove(ctx, node.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", bookmark.ErrFailedRemoveNativeBookmarks, err)
	}
	return r.CreateSeparator(ctx, node.ParentID, node.Index)
}

// NeedsSeparatorConversion reports whether node denotes a separator that
// is not yet in canonical form for its position.
func (r *Resolver) NeedsSeparatorConversion(node *native.Node) bool {
	if node.IsFolder() || !bookmark.IsSeparator(node.Title, node.URL) {
		return false
	}
	return node.URL != bookmark.BlankPageURL || node.Title != r.separatorTitle(node.ParentID)
}
