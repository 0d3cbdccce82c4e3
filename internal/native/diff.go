package native

import "slices"

// event is one mutation recovered by comparing two trees.
type event struct {
	id      string
	created *Node
	removed *RemoveInfo
	changed *ChangeInfo
	moved   *MoveInfo
}

func (e event) deliver(h Handler) {
	switch {
	case e.created != nil:
		h.OnCreated(e.id, e.created)
	case e.removed != nil:
		h.OnRemoved(e.id, *e.removed)
	case e.changed != nil:
		h.OnChanged(e.id, *e.changed)
	case e.moved != nil:
		h.OnMoved(e.id, *e.moved)
	}
}

type position struct {
	node     *Node
	parentID string
	index    int
}

// flatten indexes every node of a tree by id, in pre-order.
func flatten(root *Node) (map[string]position, []string) {
	positions := make(map[string]position)
	var order []string
	var visit func(n *Node, parentID string, index int)
	visit = func(n *Node, parentID string, index int) {
		positions[n.ID] = position{node: n, parentID: parentID, index: index}
		order = append(order, n.ID)
		for i, c := range n.Children {
			visit(c, n.ID, i)
		}
	}
	visit(root, "", 0)
	return positions, order
}

// diffTrees returns the events that turn before into after: removals of
// top-most vanished nodes, creations in pre-order, moves, then changes.
// Reordering within a parent yields a move for every surviving child whose
// rank among surviving siblings changed.
func diffTrees(before, after *Node) []event {
	oldPos, oldOrder := flatten(before)
	newPos, newOrder := flatten(after)

	var events []event

	for _, id := range oldOrder {
		if _, kept := newPos[id]; kept {
			continue
		}
		p := oldPos[id]
		if _, parentGone := newPos[p.parentID]; !parentGone {
			continue
		}
		events = append(events, event{id: id, removed: &RemoveInfo{
			ParentID: p.parentID,
			Index:    p.index,
			Node:     p.node.Clone(),
		}})
	}

	for _, id := range newOrder {
		if _, existed := oldPos[id]; existed {
			continue
		}
		p := newPos[id]
		created := copyNode(p.node, false)
		created.ParentID = p.parentID
		created.Index = p.index
		events = append(events, event{id: id, created: created})
	}

	for _, id := range newOrder {
		np := newPos[id]
		op, existed := oldPos[id]
		if !existed || id == RootID {
			continue
		}
		if np.parentID != op.parentID || rank(oldPos, id, newPos) != rank(newPos, id, oldPos) {
			events = append(events, event{id: id, moved: &MoveInfo{
				ParentID:    np.parentID,
				Index:       np.index,
				OldParentID: op.parentID,
				OldIndex:    op.index,
			}})
		}
	}

	for _, id := range newOrder {
		np := newPos[id]
		op, existed := oldPos[id]
		if !existed {
			continue
		}
		if np.node.Title != op.node.Title || np.node.URL != op.node.URL {
			events = append(events, event{id: id, changed: &ChangeInfo{
				Title: np.node.Title,
				URL:   np.node.URL,
			}})
		}
	}

	return events
}

// rank returns the position of id among its siblings in self, counting
// only siblings that sit under the same parent in other.
func rank(self map[string]position, id string, other map[string]position) int {
	p := self[id]
	parent, ok := self[p.parentID]
	if !ok {
		return -1
	}
	r := 0
	for _, sibling := range parent.node.Children {
		if sibling.ID == id {
			return r
		}
		if o, ok := other[sibling.ID]; ok && o.parentID == p.parentID {
			r++
		}
	}
	return -1
}

// sameTree reports whether two trees have identical ids, order and content.
func sameTree(a, b *Node) bool {
	if a.ID != b.ID || a.Title != b.Title || a.URL != b.URL || len(a.Children) != len(b.Children) {
		return false
	}
	return slices.EqualFunc(a.Children, b.Children, sameTree)
}
