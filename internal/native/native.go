// Package native models the host-native bookmark store the sync engine
// mirrors.
//
// A native store is a tree of nodes with opaque string ids and two fixed
// roots the engine cares about: the toolbar and "other bookmarks". It
// supports CRUD on nodes and delivers four mutation event streams (created,
// removed, changed, moved) to a single subscribed Handler.
package native

import (
	"context"
	"errors"
	"time"
)

// Fixed ids of the roots created by the stores in this package.
const (
	RootID    = "0"
	ToolbarID = "1"
	OtherID   = "2"
)

var (
	// ErrNotFound is returned when no node has the requested id.
	ErrNotFound = errors.New("native node not found")

	// ErrInvalidParent is returned when a destination is not a folder or
	// would create a cycle.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrRootModification is returned for attempts to modify a root.
	ErrRootModification = errors.New("cannot modify a root node")

	// ErrFolderNotEmpty is returned by Remove for a non-empty folder.
	ErrFolderNotEmpty = errors.New("folder not empty")
)

// Node is a native bookmark, folder or separator. Index is the position
// under ParentID at the time the node was read. Children is populated only
// by tree reads.
type Node struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Index     int       `json:"index"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	DateAdded time.Time `json:"dateAdded"`
	Children  []*Node   `json:"children,omitempty"`
}

// IsFolder reports whether n is a folder. Native separators carry a url so
// they are never folders.
func (n *Node) IsFolder() bool {
	return n.URL == ""
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// CreateDetails describes a node to create. A negative Index appends.
type CreateDetails struct {
	ParentID string
	Index    int
	Title    string
	URL      string
}

// UpdateDetails replaces a node's title and url.
type UpdateDetails struct {
	Title string
	URL   string
}

// Destination is the target of a move. A negative Index appends.
type Destination struct {
	ParentID string
	Index    int
}

// RemoveInfo describes a removed node. Node holds the removed subtree.
type RemoveInfo struct {
	ParentID string
	Index    int
	Node     *Node
}

// ChangeInfo carries the new title and url of a changed node.
type ChangeInfo struct {
	Title string
	URL   string
}

// MoveInfo carries the old and new positions of a moved node.
type MoveInfo struct {
	ParentID    string
	Index       int
	OldParentID string
	OldIndex    int
}

// Handler receives native mutation events.
type Handler interface {
	OnCreated(id string, node *Node)
	OnRemoved(id string, info RemoveInfo)
	OnChanged(id string, info ChangeInfo)
	OnMoved(id string, info MoveInfo)
}

// Subscription is returned by Store.Subscribe. Closing it stops delivery.
type Subscription interface {
	Close()
}

// Store is a native bookmark store.
type Store interface {
	// Tree returns the root with its full subtree.
	Tree(ctx context.Context) (*Node, error)

	// SubTree returns the node with its full subtree.
	SubTree(ctx context.Context, id string) (*Node, error)

	// Get returns the node without children.
	Get(ctx context.Context, id string) (*Node, error)

	// Children returns the direct children of a folder, without their
	// own children.
	Children(ctx context.Context, id string) ([]*Node, error)

	Create(ctx context.Context, details CreateDetails) (*Node, error)
	Update(ctx context.Context, id string, details UpdateDetails) (*Node, error)
	Move(ctx context.Context, id string, dest Destination) (*Node, error)

	// Remove deletes a bookmark, separator or empty folder.
	Remove(ctx context.Context, id string) error

	// RemoveTree deletes a node and its whole subtree.
	RemoveTree(ctx context.Context, id string) error

	// Subscribe installs h as the single event handler, replacing any
	// previous one.
	Subscribe(h Handler) Subscription
}

// Listeners switches delivery of native events to the sync engine on and
// off. Enabling is conditional on sync being enabled.
type Listeners interface {
	EnableEventListeners(ctx context.Context) error
	DisableEventListeners(ctx context.Context) error
}
