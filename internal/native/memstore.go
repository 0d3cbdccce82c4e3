package native

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemStore is an in-process native store. Events are delivered
// synchronously, after the mutation and outside the store lock.
type MemStore struct {
	mu     sync.RWMutex
	root   *Node
	nodes  map[string]*Node
	nextID int
	now    func() time.Time

	handlerMu sync.Mutex
	handler   Handler
	subSeq    int
}

// NewMemStore returns a store holding only the root, toolbar and other
// folders.
func NewMemStore() *MemStore {
	m := &MemStore{now: time.Now}
	m.reset(defaultRoot(m.now()))
	return m
}

// NewMemStoreFromTree returns a store holding a copy of root. Nodes
// without an id are assigned one.
func NewMemStoreFromTree(root *Node) *MemStore {
	m := &MemStore{now: time.Now}
	m.reset(root.Clone())
	return m
}

// SetClock overrides the clock used for DateAdded.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func defaultRoot(now time.Time) *Node {
	return &Node{
		ID:        RootID,
		DateAdded: now,
		Children: []*Node{
			{ID: ToolbarID, ParentID: RootID, Title: "Bookmarks Toolbar", DateAdded: now, Children: []*Node{}},
			{ID: OtherID, ParentID: RootID, Index: 1, Title: "Other Bookmarks", DateAdded: now, Children: []*Node{}},
		},
	}
}

// reset replaces the whole tree, reindexing it and assigning missing ids.
// It reports whether any id had to be assigned. Callers hold mu or own m
// exclusively.
func (m *MemStore) reset(root *Node) bool {
	m.root = root
	m.nodes = make(map[string]*Node)
	m.nextID = 0

	var index func(n *Node)
	index = func(n *Node) {
		if id, err := strconv.Atoi(n.ID); err == nil && id >= m.nextID {
			m.nextID = id + 1
		}
		for _, c := range n.Children {
			index(c)
		}
	}
	index(root)

	assigned := false
	var link func(n *Node, parentID string, i int)
	link = func(n *Node, parentID string, i int) {
		if n.ID == "" {
			n.ID = m.newID()
			assigned = true
		}
		if n.DateAdded.IsZero() {
			n.DateAdded = m.now()
		}
		n.ParentID = parentID
		n.Index = i
		if n.IsFolder() && n.Children == nil {
			n.Children = []*Node{}
		}
		m.nodes[n.ID] = n
		for ci, c := range n.Children {
			link(c, n.ID, ci)
		}
	}
	link(root, "", 0)
	return assigned
}

func (m *MemStore) newID() string {
	id := strconv.Itoa(m.nextID)
	m.nextID++
	return id
}

// snapshot returns a copy of the whole tree.
func (m *MemStore) snapshot() *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root.Clone()
}

func isRoot(id string) bool {
	return id == RootID || id == ToolbarID || id == OtherID
}

// copyNode returns a copy of n, with its subtree when deep is set.
func copyNode(n *Node, deep bool) *Node {
	if deep {
		return n.Clone()
	}
	c := *n
	c.Children = nil
	return &c
}

func (m *MemStore) lookup(id string) (*Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	return n, nil
}

func reindex(parent *Node) {
	for i, c := range parent.Children {
		c.Index = i
	}
}

func (m *MemStore) Tree(ctx context.Context) (*Node, error) {
	return m.SubTree(ctx, RootID)
}

func (m *MemStore) SubTree(_ context.Context, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return copyNode(n, true), nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return copyNode(n, false), nil
}

func (m *MemStore) Children(_ context.Context, id string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		out[i] = copyNode(c, false)
	}
	return out, nil
}

func (m *MemStore) Create(_ context.Context, details CreateDetails) (*Node, error) {
	m.mu.Lock()
	parent, err := m.lookup(details.ParentID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !parent.IsFolder() || details.ParentID == RootID {
		m.mu.Unlock()
		return nil, fmt.Errorf("node %q: %w", details.ParentID, ErrInvalidParent)
	}

	n := &Node{
		ID:        m.newID(),
		ParentID:  parent.ID,
		Title:     details.Title,
		URL:       details.URL,
		DateAdded: m.now(),
	}
	if n.IsFolder() {
		n.Children = []*Node{}
	}
	index := details.Index
	if index < 0 || index > len(parent.Children) {
		index = len(parent.Children)
	}
	parent.Children = slices.Insert(parent.Children, index, n)
	reindex(parent)
	m.nodes[n.ID] = n
	created := copyNode(n, false)
	m.mu.Unlock()

	m.emit(func(h Handler) { h.OnCreated(created.ID, copyNode(created, false)) })
	return created, nil
}

func (m *MemStore) Update(_ context.Context, id string, details UpdateDetails) (*Node, error) {
	m.mu.Lock()
	if isRoot(id) {
		m.mu.Unlock()
		return nil, ErrRootModification
	}
	n, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if n.IsFolder() && details.URL != "" {
		m.mu.Unlock()
		return nil, fmt.Errorf("cannot set a url on folder %q", id)
	}
	n.Title = details.Title
	n.URL = details.URL
	updated := copyNode(n, false)
	m.mu.Unlock()

	m.emit(func(h Handler) { h.OnChanged(id, ChangeInfo{Title: updated.Title, URL: updated.URL}) })
	return updated, nil
}

func (m *MemStore) Move(_ context.Context, id string, dest Destination) (*Node, error) {
	m.mu.Lock()
	if isRoot(id) {
		m.mu.Unlock()
		return nil, ErrRootModification
	}
	n, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	target, err := m.lookup(dest.ParentID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !target.IsFolder() || target.ID == RootID || m.isWithin(target, n) {
		m.mu.Unlock()
		return nil, fmt.Errorf("node %q: %w", dest.ParentID, ErrInvalidParent)
	}

	oldParent := m.nodes[n.ParentID]
	oldIndex := n.Index
	oldParent.Children = slices.Delete(oldParent.Children, oldIndex, oldIndex+1)
	reindex(oldParent)

	index := dest.Index
	if index < 0 || index > len(target.Children) {
		index = len(target.Children)
	}
	target.Children = slices.Insert(target.Children, index, n)
	n.ParentID = target.ID
	reindex(target)
	moved := copyNode(n, false)
	m.mu.Unlock()

	info := MoveInfo{ParentID: moved.ParentID, Index: moved.Index, OldParentID: oldParent.ID, OldIndex: oldIndex}
	m.emit(func(h Handler) { h.OnMoved(id, info) })
	return moved, nil
}

// isWithin reports whether n is ancestor or equal to target.
func (m *MemStore) isWithin(target, n *Node) bool {
	for cur := target; cur != nil; cur = m.nodes[cur.ParentID] {
		if cur.ID == n.ID {
			return true
		}
		if cur.ParentID == "" {
			break
		}
	}
	return false
}

func (m *MemStore) Remove(ctx context.Context, id string) error {
	return m.remove(id, false)
}

func (m *MemStore) RemoveTree(ctx context.Context, id string) error {
	return m.remove(id, true)
}

func (m *MemStore) remove(id string, recursive bool) error {
	m.mu.Lock()
	if isRoot(id) {
		m.mu.Unlock()
		return ErrRootModification
	}
	n, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !recursive && len(n.Children) > 0 {
		m.mu.Unlock()
		return fmt.Errorf("node %q: %w", id, ErrFolderNotEmpty)
	}

	parent := m.nodes[n.ParentID]
	index := n.Index
	parent.Children = slices.Delete(parent.Children, index, index+1)
	reindex(parent)

	var forget func(n *Node)
	forget = func(n *Node) {
		delete(m.nodes, n.ID)
		for _, c := range n.Children {
			forget(c)
		}
	}
	forget(n)
	removed := copyNode(n, true)
	m.mu.Unlock()

	info := RemoveInfo{ParentID: parent.ID, Index: index, Node: removed}
	m.emit(func(h Handler) { h.OnRemoved(id, info) })
	return nil
}

// Subscribe implements Store.Subscribe.
func (m *MemStore) Subscribe(h Handler) Subscription {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.subSeq++
	m.handler = h
	return &subscription{store: m, seq: m.subSeq}
}

func (m *MemStore) emit(fn func(h Handler)) {
	m.handlerMu.Lock()
	h := m.handler
	m.handlerMu.Unlock()
	if h != nil {
		fn(h)
	}
}

type subscription struct {
	store *MemStore
	seq   int
	once  sync.Once
}

// Close removes the handler unless a later Subscribe replaced it.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.store.handlerMu.Lock()
		defer s.store.handlerMu.Unlock()
		if s.store.subSeq == s.seq {
			s.store.handler = nil
		}
	})
}
