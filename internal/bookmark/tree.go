package bookmark

import (
	"fmt"
	"slices"
)

// Bookmarks is a synced tree: the ordered list of top-level containers.
type Bookmarks []*Bookmark

// Clone returns a deep copy of the tree.
func (bs Bookmarks) Clone() Bookmarks {
	if bs == nil {
		return nil
	}
	out := make(Bookmarks, len(bs))
	for i, b := range bs {
		out[i] = b.Clone()
	}
	return out
}

// Walk calls fn for every node in depth-first pre-order. Walking stops
// when fn returns false.
func (bs Bookmarks) Walk(fn func(b *Bookmark) bool) {
	walk(bs, fn)
}

func walk(nodes []*Bookmark, fn func(b *Bookmark) bool) bool {
	for _, b := range nodes {
		if !fn(b) {
			return false
		}
		if !walk(b.Children, fn) {
			return false
		}
	}
	return true
}

// Container returns the top-level container with the given name, or nil.
func (bs Bookmarks) Container(c Container) *Bookmark {
	for _, b := range bs {
		if b.Title == string(c) {
			return b
		}
	}
	return nil
}

// EnsureContainer returns the named container, appending an empty one with
// a fresh id when it does not exist yet.
func (bs *Bookmarks) EnsureContainer(c Container) *Bookmark {
	if existing := bs.Container(c); existing != nil {
		return existing
	}
	container := New(bs.NewID(), Metadata{Title: string(c), Folder: true})
	*bs = append(*bs, container)
	return container
}

// FindByID returns the node with the given id, or nil.
func (bs Bookmarks) FindByID(id int) *Bookmark {
	var found *Bookmark
	bs.Walk(func(b *Bookmark) bool {
		if b.ID == id {
			found = b
			return false
		}
		return true
	})
	return found
}

// ContainerOf returns the top-level container holding the node with the
// given id, or nil. A container is its own container.
func (bs Bookmarks) ContainerOf(id int) *Bookmark {
	for _, c := range bs {
		if c.ID == id || Bookmarks(c.Children).FindByID(id) != nil {
			return c
		}
	}
	return nil
}

// MaxID returns the largest id in the tree, or 0 for an empty tree.
func (bs Bookmarks) MaxID() int {
	highest := 0
	bs.Walk(func(b *Bookmark) bool {
		highest = max(highest, b.ID)
		return true
	})
	return highest
}

// NewID returns the next id to assign.
func (bs Bookmarks) NewID() int {
	return bs.MaxID() + 1
}

// Count returns the number of nodes in the tree, containers included.
func (bs Bookmarks) Count() int {
	n := 0
	bs.Walk(func(*Bookmark) bool {
		n++
		return true
	})
	return n
}

// IDs returns the ids of b and all its descendants, in pre-order.
func IDs(b *Bookmark) []int {
	ids := []int{b.ID}
	Bookmarks(b.Children).Walk(func(child *Bookmark) bool {
		ids = append(ids, child.ID)
		return true
	})
	return ids
}

// Insert places b under the folder parentID at index. An index outside the
// children range appends.
func (bs Bookmarks) Insert(parentID, index int, b *Bookmark) error {
	parent := bs.FindByID(parentID)
	if parent == nil {
		return fmt.Errorf("parent %d: %w", parentID, ErrBookmarkNotFound)
	}
	if !parent.IsFolder() {
		return fmt.Errorf("parent %d is not a folder", parentID)
	}
	if index < 0 || index > len(parent.Children) {
		index = len(parent.Children)
	}
	parent.Children = slices.Insert(parent.Children, index, b)
	return nil
}

// Remove detaches the node with the given id and returns it. Top-level
// containers are removed from the tree itself.
func (bs *Bookmarks) Remove(id int) (*Bookmark, error) {
	for i, c := range *bs {
		if c.ID == id {
			*bs = slices.Delete(*bs, i, i+1)
			return c, nil
		}
	}
	if removed := removeFrom(*bs, id); removed != nil {
		return removed, nil
	}
	return nil, fmt.Errorf("bookmark %d: %w", id, ErrBookmarkNotFound)
}

func removeFrom(nodes []*Bookmark, id int) *Bookmark {
	for _, n := range nodes {
		for i, child := range n.Children {
			if child.ID == id {
				n.Children = slices.Delete(n.Children, i, i+1)
				return child
			}
		}
		if removed := removeFrom(n.Children, id); removed != nil {
			return removed
		}
	}
	return nil
}

// HasUniqueIDs reports whether every node carries a distinct, positive id.
func (bs Bookmarks) HasUniqueIDs() bool {
	seen := make(map[int]bool)
	unique := true
	bs.Walk(func(b *Bookmark) bool {
		if b.ID <= 0 || seen[b.ID] {
			unique = false
			return false
		}
		seen[b.ID] = true
		return true
	})
	return unique
}

// AssignIDs renumbers the whole tree from 1 in pre-order.
func (bs Bookmarks) AssignIDs() {
	next := 1
	bs.Walk(func(b *Bookmark) bool {
		b.ID = next
		next++
		return true
	})
}

// UpgradeContainers renames containers carrying legacy titles and merges
// duplicates produced by the rename into the first occurrence.
func UpgradeContainers(bs Bookmarks) Bookmarks {
	out := make(Bookmarks, 0, len(bs))
	for _, b := range bs {
		if current, ok := legacyContainers[b.Title]; ok {
			b.Title = string(current)
		}
		if existing := out.Container(Container(b.Title)); existing != nil && IsContainerTitle(b.Title) {
			existing.Children = append(existing.Children, b.Children...)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Normalize restores folder markers lost by formats that drop empty lists:
// a node with neither url nor children that is not a separator is a folder.
func (bs Bookmarks) Normalize() {
	bs.Walk(func(b *Bookmark) bool {
		if b.Children == nil && b.URL == "" && !IsSeparator(b.Title, b.URL) {
			b.Children = []*Bookmark{}
		}
		return true
	})
}
