package native

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recorder is a Handler that records every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func newRecorder() *recorder {
	return &recorder{last: make(map[string]any)}
}

func (r *recorder) record(kind, id string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+id)
	r.last[kind] = payload
}

func (r *recorder) OnCreated(id string, node *Node)       { r.record("created", id, node) }
func (r *recorder) OnRemoved(id string, info RemoveInfo)  { r.record("removed", id, info) }
func (r *recorder) OnChanged(id string, info ChangeInfo)  { r.record("changed", id, info) }
func (r *recorder) OnMoved(id string, info MoveInfo)      { r.record("moved", id, info) }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestMemStore_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	folder, err := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "Work"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if !folder.IsFolder() {
		t.Error("node without url is not a folder")
	}

	link, err := s.Create(ctx, CreateDetails{ParentID: folder.ID, Index: -1, Title: "Go", URL: "https://go.dev"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	first, err := s.Create(ctx, CreateDetails{ParentID: folder.ID, Index: 0, Title: "First", URL: "https://first.example"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	children, err := s.Children(ctx, folder.ID)
	if err != nil {
		t.Fatalf("Children() failed: %v", err)
	}
	if len(children) != 2 || children[0].ID != first.ID || children[1].ID != link.ID {
		t.Fatalf("Children() order wrong: %+v", children)
	}
	if children[1].Index != 1 {
		t.Errorf("index = %d, want 1", children[1].Index)
	}

	tree, err := s.Tree(ctx)
	if err != nil {
		t.Fatalf("Tree() failed: %v", err)
	}
	if len(tree.Children) != 2 || len(tree.Children[1].Children) != 1 {
		t.Errorf("unexpected tree shape: %+v", tree)
	}

	if _, err := s.Create(ctx, CreateDetails{ParentID: link.ID, Title: "bad"}); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("Create() under a bookmark error = %v, want ErrInvalidParent", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemStore_Events(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	rec := newRecorder()
	sub := s.Subscribe(rec)

	a, _ := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "A", URL: "https://a.example"})
	b, _ := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "B", URL: "https://b.example"})

	if _, err := s.Update(ctx, a.ID, UpdateDetails{Title: "A2", URL: "https://a.example"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if _, err := s.Move(ctx, b.ID, Destination{ParentID: ToolbarID, Index: 0}); err != nil {
		t.Fatalf("Move() failed: %v", err)
	}
	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	want := []string{
		"created:" + a.ID,
		"created:" + b.ID,
		"changed:" + a.ID,
		"moved:" + b.ID,
		"removed:" + a.ID,
	}
	got := rec.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	move := rec.last["moved"].(MoveInfo)
	if move.OldParentID != OtherID || move.OldIndex != 1 || move.ParentID != ToolbarID || move.Index != 0 {
		t.Errorf("move info = %+v", move)
	}
	removed := rec.last["removed"].(RemoveInfo)
	if removed.ParentID != OtherID || removed.Index != 0 || removed.Node.Title != "A2" {
		t.Errorf("remove info = %+v", removed)
	}

	sub.Close()
	if _, err := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "C", URL: "https://c.example"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if n := len(rec.Events()); n != len(want) {
		t.Errorf("received %d events after Close(), want %d", n, len(want))
	}
}

func TestMemStore_StaleSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	first := s.Subscribe(newRecorder())
	current := newRecorder()
	s.Subscribe(current)

	// Closing an older subscription must not detach the current handler.
	first.Close()

	if _, err := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "x", URL: "https://x.example"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if len(current.Events()) != 1 {
		t.Errorf("current handler got %d events, want 1", len(current.Events()))
	}
}

func TestMemStore_RemoveRules(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	folder, _ := s.Create(ctx, CreateDetails{ParentID: OtherID, Index: -1, Title: "F"})
	child, _ := s.Create(ctx, CreateDetails{ParentID: folder.ID, Index: -1, Title: "c", URL: "https://c.example"})

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{name: "root", run: func() error { return s.Remove(ctx, OtherID) }, wantErr: ErrRootModification},
		{name: "non-empty folder", run: func() error { return s.Remove(ctx, folder.ID) }, wantErr: ErrFolderNotEmpty},
		{name: "move into own child", run: func() error {
			_, err := s.Move(ctx, folder.ID, Destination{ParentID: child.ID})
			return err
		}, wantErr: ErrInvalidParent},
		{name: "tree", run: func() error { return s.RemoveTree(ctx, folder.ID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := s.Get(ctx, child.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("child still present after RemoveTree(): %v", err)
	}
}
