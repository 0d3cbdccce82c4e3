package bookmark

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// sampleTree returns a small tree with Other and Toolbar containers.
func sampleTree() Bookmarks {
	return Bookmarks{
		{ID: 1, Title: string(ContainerOther), Children: []*Bookmark{
			{ID: 2, Title: "News", Children: []*Bookmark{
				{ID: 3, Title: "Example", URL: "https://example.com"},
			}},
			{ID: 4, Title: SeparatorTitle},
		}},
		{ID: 5, Title: string(ContainerToolbar), Children: []*Bookmark{
			{ID: 6, Title: "Go", URL: "https://go.dev"},
		}},
	}
}

func TestBookmarks_FindByID(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		name      string
		id        int
		wantTitle string
		wantNil   bool
	}{
		{name: "container", id: 1, wantTitle: string(ContainerOther)},
		{name: "nested", id: 3, wantTitle: "Example"},
		{name: "toolbar child", id: 6, wantTitle: "Go"},
		{name: "missing", id: 42, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tree.FindByID(tt.id)
			if tt.wantNil {
				if got != nil {
					t.Errorf("FindByID(%d) = %+v, want nil", tt.id, got)
				}
				return
			}
			if got == nil || got.Title != tt.wantTitle {
				t.Errorf("FindByID(%d) = %+v, want title %q", tt.id, got, tt.wantTitle)
			}
		})
	}
}

func TestBookmarks_ContainerOf(t *testing.T) {
	tree := sampleTree()

	if c := tree.ContainerOf(3); c == nil || c.Title != string(ContainerOther) {
		t.Errorf("ContainerOf(3) = %+v, want Other", c)
	}
	if c := tree.ContainerOf(5); c == nil || c.Title != string(ContainerToolbar) {
		t.Errorf("ContainerOf(5) = %+v, want Toolbar", c)
	}
	if c := tree.ContainerOf(99); c != nil {
		t.Errorf("ContainerOf(99) = %+v, want nil", c)
	}
}

func TestBookmarks_EnsureContainer(t *testing.T) {
	tree := sampleTree()

	existing := tree.EnsureContainer(ContainerOther)
	if existing.ID != 1 {
		t.Errorf("EnsureContainer(Other) id = %d, want 1", existing.ID)
	}

	menu := tree.EnsureContainer(ContainerMenu)
	if menu.ID != 7 {
		t.Errorf("new container id = %d, want 7", menu.ID)
	}
	if !menu.IsFolder() {
		t.Error("new container is not a folder")
	}
	if len(tree) != 3 {
		t.Errorf("len(tree) = %d, want 3", len(tree))
	}
}

func TestBookmarks_InsertAndRemove(t *testing.T) {
	tree := sampleTree()

	if err := tree.Insert(2, 0, &Bookmark{ID: 7, Title: "First", URL: "https://first.example"}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	news := tree.FindByID(2)
	if news.Children[0].ID != 7 || news.Children[1].ID != 3 {
		t.Errorf("children order = [%d %d], want [7 3]", news.Children[0].ID, news.Children[1].ID)
	}

	// Out of range index appends.
	if err := tree.Insert(2, 99, &Bookmark{ID: 8, Title: "Last"}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if news.Children[2].ID != 8 {
		t.Errorf("appended id = %d, want 8", news.Children[2].ID)
	}

	if err := tree.Insert(3, 0, &Bookmark{ID: 9}); err == nil {
		t.Error("Insert() under a leaf succeeded, want error")
	}

	removed, err := tree.Remove(2)
	if err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if got := IDs(removed); !cmp.Equal(got, []int{2, 7, 3, 8}) {
		t.Errorf("IDs(removed) = %v", got)
	}
	if tree.FindByID(3) != nil {
		t.Error("descendant still present after Remove()")
	}

	if _, err := tree.Remove(2); !errors.Is(err, ErrBookmarkNotFound) {
		t.Errorf("second Remove() error = %v, want ErrBookmarkNotFound", err)
	}
}

func TestBookmarks_CloneIsDeep(t *testing.T) {
	tree := sampleTree()
	clone := tree.Clone()

	clone.FindByID(3).Title = "Changed"
	if tree.FindByID(3).Title != "Example" {
		t.Error("mutating clone changed the original")
	}
	if diff := cmp.Diff(sampleTree(), tree); diff != "" {
		t.Errorf("original modified (-want +got):\n%s", diff)
	}
}

func TestBookmarks_UniqueIDs(t *testing.T) {
	tree := sampleTree()
	if !tree.HasUniqueIDs() {
		t.Fatal("sample tree reported duplicate ids")
	}

	tree.FindByID(6).ID = 3
	if tree.HasUniqueIDs() {
		t.Fatal("duplicate ids not detected")
	}

	tree.AssignIDs()
	if !tree.HasUniqueIDs() {
		t.Error("AssignIDs() left duplicates")
	}
	if got := tree.MaxID(); got != 6 {
		t.Errorf("MaxID() = %d, want 6", got)
	}
}

func TestUpgradeContainers(t *testing.T) {
	tree := Bookmarks{
		{ID: 1, Title: "_other_", Children: []*Bookmark{{ID: 2, Title: "a", URL: "https://a.example"}}},
		{ID: 3, Title: string(ContainerOther), Children: []*Bookmark{{ID: 4, Title: "b", URL: "https://b.example"}}},
		{ID: 5, Title: "_toolbar_", Children: []*Bookmark{}},
	}

	got := UpgradeContainers(tree)

	want := Bookmarks{
		{ID: 1, Title: string(ContainerOther), Children: []*Bookmark{
			{ID: 2, Title: "a", URL: "https://a.example"},
			{ID: 4, Title: "b", URL: "https://b.example"},
		}},
		{ID: 5, Title: string(ContainerToolbar), Children: []*Bookmark{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UpgradeContainers() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsSeparator(t *testing.T) {
	tests := []struct {
		name  string
		title string
		url   string
		want  bool
	}{
		{name: "synced", title: SeparatorTitle, want: true},
		{name: "horizontal native", title: HorizontalSeparatorTitle, url: BlankPageURL, want: true},
		{name: "vertical native", title: VerticalSeparatorTitle, url: BlankPageURL, want: true},
		{name: "dashes", title: "-----", want: true},
		{name: "dashes with real url", title: "---", url: "https://example.com", want: false},
		{name: "empty title", title: "", want: false},
		{name: "normal folder", title: "Work", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSeparator(tt.title, tt.url); got != tt.want {
				t.Errorf("IsSeparator(%q, %q) = %v, want %v", tt.title, tt.url, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tree := Bookmarks{
		{ID: 1, Title: string(ContainerOther), Children: []*Bookmark{
			{ID: 2, Title: "Empty folder"},
			{ID: 3, Title: SeparatorTitle},
			{ID: 4, Title: "Link", URL: "https://example.com"},
		}},
	}
	tree.Normalize()

	if !tree.FindByID(2).IsFolder() {
		t.Error("empty folder not restored")
	}
	if tree.FindByID(3).IsFolder() {
		t.Error("separator turned into a folder")
	}
	if tree.FindByID(4).IsFolder() {
		t.Error("link turned into a folder")
	}
}

func TestErrorCode(t *testing.T) {
	wrapped := errors.Join(ErrFailedCreateNativeBookmarks, errors.New("quota exceeded"))
	if got := ErrorCode(wrapped); got != CodeFailedCreateNative {
		t.Errorf("ErrorCode() = %q, want %q", got, CodeFailedCreateNative)
	}
	if got := ErrorCode(nil); got != CodeNone {
		t.Errorf("ErrorCode(nil) = %q", got)
	}
	if got := ErrorCode(errors.New("other")); got != CodeUnknown {
		t.Errorf("ErrorCode(other) = %q, want %q", got, CodeUnknown)
	}
}
