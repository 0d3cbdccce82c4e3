package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/convert"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	engine "github.com/marksync/marksync/internal/sync"
)

// gatedRemote holds pulls while a gate is set.
type gatedRemote struct {
	*remote.Memory

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRemote) Pull(ctx context.Context) (*remote.Payload, error) {
	r.mu.Lock()
	entered, release := r.entered, r.release
	r.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return r.Memory.Pull(ctx)
}

// holdPulls makes pulls wait until the returned release is closed.
func (r *gatedRemote) holdPulls() (entered chan struct{}, release chan struct{}) {
	entered = make(chan struct{}, 4)
	release = make(chan struct{})
	r.mu.Lock()
	r.entered, r.release = entered, release
	r.mu.Unlock()
	return entered, release
}

type recordingNotifier struct {
	mu        sync.Mutex
	responses []engine.Response
}

func (n *recordingNotifier) SyncFinished(resp engine.Response) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses = append(n.responses, resp)
}

func (n *recordingNotifier) all() []engine.Response {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]engine.Response(nil), n.responses...)
}

type fixture struct {
	ns     *native.MemStore
	kv     store.Store
	remote *remote.Memory
	gate   *gatedRemote
	mapper *idmap.Mapper
	conv   *convert.Converter
	orch   *engine.Orchestrator
	d      *Daemon
}

// setupDaemon wires a daemon over in-memory stores. A zero debounce means
// the timer never fires during the test and drains are explicit.
func setupDaemon(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	ns := native.NewMemStore()
	kv := store.NewMemory()
	mapper := idmap.New(kv)

	cconfig := containers.DefaultConfig()
	cconfig.Logger = logger
	conv := convert.New(containers.New(ns, kv, cconfig), mapper, logger)

	client := &gatedRemote{Memory: remote.NewMemory()}
	oconfig := engine.DefaultConfig()
	oconfig.Logger = logger
	orch := engine.New(kv, client, conv, mapper, oconfig)

	if debounce == 0 {
		debounce = time.Hour
	}
	d, err := NewWithConfig(orch, conv, mapper, kv, &Config{
		DebounceInterval: debounce,
		CheckInterval:    time.Hour,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	return &fixture{ns: ns, kv: kv, remote: client.Memory, gate: client, mapper: mapper, conv: conv, orch: orch, d: d}
}

func (f *fixture) create(t *testing.T, parentID, title, url string) *native.Node {
	t.Helper()
	n, err := f.ns.Create(context.Background(), native.CreateDetails{ParentID: parentID, Index: -1, Title: title, URL: url})
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", title, err)
	}
	return n
}

func (f *fixture) enable(t *testing.T, direction engine.Direction) {
	t.Helper()
	if resp := f.orch.EnableSync(context.Background(), direction); resp.Err != nil {
		t.Fatalf("EnableSync(%s) failed: %v", direction, resp.Err)
	}
}

func (f *fixture) remoteTree(t *testing.T) bookmark.Bookmarks {
	t.Helper()
	payload, err := f.remote.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	var tree bookmark.Bookmarks
	if err := json.Unmarshal(payload.Data, &tree); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return tree
}

func (f *fixture) seedRemote(t *testing.T, tree bookmark.Bookmarks) {
	t.Helper()
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if _, err := f.remote.Push(context.Background(), data, f.remote.Version()); err != nil {
		t.Fatalf("seed Push() failed: %v", err)
	}
}

type shape struct {
	Title    string
	URL      string
	Children []shape
}

func shapeOf(bs []*bookmark.Bookmark) []shape {
	var out []shape
	for _, b := range bs {
		out = append(out, shape{Title: b.Title, URL: b.URL, Children: shapeOf(b.Children)})
	}
	return out
}

func titles(nodes []*native.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Title)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewWithConfig(t *testing.T) {
	f := setupDaemon(t, 0)

	tests := []struct {
		name    string
		orch    *engine.Orchestrator
		conv    *convert.Converter
		mapper  *idmap.Mapper
		kv      store.Store
		wantErr bool
	}{
		{name: "valid configuration", orch: f.orch, conv: f.conv, mapper: f.mapper, kv: f.kv},
		{name: "nil orchestrator", conv: f.conv, mapper: f.mapper, kv: f.kv, wantErr: true},
		{name: "nil converter", orch: f.orch, mapper: f.mapper, kv: f.kv, wantErr: true},
		{name: "nil mapper", orch: f.orch, conv: f.conv, kv: f.kv, wantErr: true},
		{name: "nil store", orch: f.orch, conv: f.conv, mapper: f.mapper, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.orch, tt.conv, tt.mapper, tt.kv, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				if d.config.DebounceInterval != 200*time.Millisecond {
					t.Errorf("default debounce = %v", d.config.DebounceInterval)
				}
				d.Stop()
			}
		})
	}
	// The last valid daemon took over the orchestrator; hand it back.
	f.orch.SetListeners(f.d)
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreated, "created"},
		{OpRemoved, "removed"},
		{OpChanged, "changed"},
		{OpMoved, "moved"},
		{EventOp(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestEnableEventListeners_FollowsSyncEnabled(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)

	if err := f.d.EnableEventListeners(ctx); err != nil {
		t.Fatalf("EnableEventListeners() failed: %v", err)
	}
	if f.d.Listening() {
		t.Fatal("listening while sync is disabled")
	}
	f.create(t, native.OtherID, "ignored", "https://ignored.example")
	if f.d.Pending() != 0 {
		t.Errorf("queued %d events while sync is disabled", f.d.Pending())
	}

	f.enable(t, engine.DirectionUpload)
	if !f.d.Listening() {
		t.Fatal("not listening after enabling sync")
	}
	f.create(t, native.OtherID, "seen", "https://seen.example")
	if f.d.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.d.Pending())
	}

	if err := f.d.DisableEventListeners(ctx); err != nil {
		t.Fatalf("DisableEventListeners() failed: %v", err)
	}
	f.create(t, native.OtherID, "unseen", "https://unseen.example")
	if f.d.Pending() != 1 {
		t.Errorf("Pending() = %d after disabling, want 1", f.d.Pending())
	}
}

func TestProcessEvents_TreesStayIsomorphic(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)
	old := f.create(t, native.OtherID, "old", "https://old.example")
	f.enable(t, engine.DirectionUpload)
	pushesBefore, _ := f.remote.Counts()

	dev := f.create(t, native.OtherID, "Dev", "")
	gopher := f.create(t, dev.ID, "Go", "https://go.dev")
	docs, err := f.ns.Create(ctx, native.CreateDetails{ParentID: dev.ID, Index: 0, Title: "Docs", URL: "https://pkg.go.dev"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := f.ns.Update(ctx, gopher.ID, native.UpdateDetails{Title: "Golang", URL: "https://go.dev"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if _, err := f.ns.Move(ctx, docs.ID, native.Destination{ParentID: native.ToolbarID, Index: -1}); err != nil {
		t.Fatalf("Move() failed: %v", err)
	}
	f.create(t, native.OtherID, "-", bookmark.BlankPageURL)
	if err := f.ns.Remove(ctx, old.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	if got := f.d.Pending(); got != 7 {
		t.Fatalf("Pending() = %d, want 7", got)
	}
	f.d.ProcessEvents(ctx)

	if pushes, _ := f.remote.Counts(); pushes != pushesBefore+1 {
		t.Errorf("drain pushed %d times, want 1", pushes-pushesBefore)
	}

	fromNative, err := f.conv.NativeAsBookmarks(ctx)
	if err != nil {
		t.Fatalf("NativeAsBookmarks() failed: %v", err)
	}
	if diff := cmp.Diff(shapeOf(fromNative), shapeOf(f.remoteTree(t))); diff != "" {
		t.Errorf("remote tree differs from native (-native +remote):\n%s", diff)
	}

	want := []shape{
		{Title: "Dev", Children: []shape{{Title: "Golang", URL: "https://go.dev"}}},
		{Title: bookmark.SeparatorTitle},
	}
	if diff := cmp.Diff(want, shapeOf(f.remoteTree(t).Container(bookmark.ContainerOther).Children)); diff != "" {
		t.Errorf("remote Other mismatch (-want +got):\n%s", diff)
	}
	if f.d.Pending() != 0 {
		t.Errorf("drain left %d events behind", f.d.Pending())
	}
}

func TestProcessEvents_Debounce(t *testing.T) {
	f := setupDaemon(t, 100*time.Millisecond)
	f.enable(t, engine.DirectionUpload)
	pushesBefore, _ := f.remote.Counts()
	version := f.remote.Version()
	notifier := &recordingNotifier{}
	f.orch.SetNotifier(notifier)

	for _, title := range []string{"a", "b", "c"} {
		f.create(t, native.OtherID, title, "https://"+title+".example")
	}

	waitFor(t, "debounced push", func() bool {
		return f.remote.Version() != version && f.d.Pending() == 0 && len(notifier.all()) > 0
	})
	if pushes, _ := f.remote.Counts(); pushes != pushesBefore+1 {
		t.Errorf("three quick events caused %d pushes, want 1", pushes-pushesBefore)
	}

	want := []shape{
		{Title: "a", URL: "https://a.example"},
		{Title: "b", URL: "https://b.example"},
		{Title: "c", URL: "https://c.example"},
	}
	if diff := cmp.Diff(want, shapeOf(f.remoteTree(t).Container(bookmark.ContainerOther).Children)); diff != "" {
		t.Errorf("remote Other mismatch (-want +got):\n%s", diff)
	}

	responses := notifier.all()
	if len(responses) != 1 {
		t.Fatalf("drain ran %d syncs, want 1", len(responses))
	}
	if !responses[0].Success {
		t.Fatalf("sync failed: %v", responses[0].Err)
	}
	if diff := cmp.Diff(want, shapeOf(responses[0].Bookmarks.Container(bookmark.ContainerOther).Children)); diff != "" {
		t.Errorf("synced Other mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessEvents_WaitsForRunningPull(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)
	f.create(t, native.OtherID, "A", "https://a.example")
	f.enable(t, engine.DirectionUpload)

	other := bookmark.New(1, bookmark.Metadata{Title: string(bookmark.ContainerOther), Folder: true})
	other.Children = append(other.Children,
		bookmark.New(2, bookmark.Metadata{Title: "B", URL: "https://b.example"}),
		bookmark.New(3, bookmark.Metadata{Title: "C", URL: "https://c.example"}),
	)
	f.seedRemote(t, bookmark.Bookmarks{other})
	pushesBefore, _ := f.remote.Counts()

	f.create(t, native.OtherID, "N", "https://n.example")
	entered, release := f.gate.holdPulls()

	pulled := make(chan error, 1)
	go func() {
		pulled <- f.orch.GetLatestUpdates(ctx)
	}()
	<-entered
	if f.d.Listening() {
		t.Fatal("listening while a pull runs")
	}

	drained := make(chan struct{})
	go func() {
		f.d.ProcessEvents(ctx)
		close(drained)
	}()
	select {
	case <-drained:
		t.Fatal("drain finished while a pull was running")
	case <-time.After(50 * time.Millisecond):
	}
	if f.d.Listening() {
		t.Error("drain turned listeners on under a running pull")
	}

	close(release)
	if err := <-pulled; err != nil {
		t.Fatalf("GetLatestUpdates() failed: %v", err)
	}
	<-drained

	if f.d.Pending() != 0 {
		t.Errorf("pull was observed as %d events", f.d.Pending())
	}
	children, _ := f.ns.Children(ctx, native.OtherID)
	if diff := cmp.Diff([]string{"B", "C"}, titles(children)); diff != "" {
		t.Errorf("native Other mismatch (-want +got):\n%s", diff)
	}
	fromNative, err := f.conv.NativeAsBookmarks(ctx)
	if err != nil {
		t.Fatalf("NativeAsBookmarks() failed: %v", err)
	}
	if diff := cmp.Diff(shapeOf(fromNative), shapeOf(f.remoteTree(t))); diff != "" {
		t.Errorf("remote tree differs from native (-native +remote):\n%s", diff)
	}
	if pushes, _ := f.remote.Counts(); pushes != pushesBefore {
		t.Errorf("change made before the pull was pushed %d times", pushes-pushesBefore)
	}
	if !f.d.Listening() {
		t.Error("listeners not restored")
	}
}

func TestProcessEvents_ContainerChangeThenAdd(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)
	f.create(t, native.OtherID, "A", "https://a.example")
	f.enable(t, engine.DirectionUpload)

	f.create(t, native.OtherID, string(bookmark.ContainerMobile), "")
	f.d.ProcessEvents(ctx)
	if reconcile, _ := store.Bool(ctx, f.kv, store.KeyReconcileRequired, false); !reconcile {
		t.Fatal("container change did not flag a reconcile")
	}

	y := f.create(t, native.OtherID, "Y", "https://y.example")
	f.d.ProcessEvents(ctx)

	children, _ := f.ns.Children(ctx, native.OtherID)
	if diff := cmp.Diff([]string{"A"}, titles(children)); diff != "" {
		t.Errorf("native Other mismatch (-want +got):\n%s", diff)
	}
	var remoteOther []string
	for _, b := range f.remoteTree(t).Container(bookmark.ContainerOther).Children {
		remoteOther = append(remoteOther, b.Title)
	}
	if diff := cmp.Diff([]string{"A"}, remoteOther); diff != "" {
		t.Errorf("remote Other mismatch (-want +got):\n%s", diff)
	}
	if m, _ := f.mapper.Get(ctx, y.ID); m != nil {
		t.Errorf("mapping survived for replaced bookmark: %+v", m)
	}
	mappings, _ := f.mapper.All(ctx)
	for _, m := range mappings {
		if _, err := f.ns.Get(ctx, m.NativeID); err != nil {
			t.Errorf("mapping %+v points at a missing native bookmark: %v", m, err)
		}
	}
	if reconcile, _ := store.Bool(ctx, f.kv, store.KeyReconcileRequired, false); reconcile {
		t.Error("reconcile flag survived")
	}
	if f.d.Pending() != 0 {
		t.Errorf("reconcile was observed as %d events", f.d.Pending())
	}
}

func TestProcessEvents_SeparatorRemap(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)
	a := f.create(t, native.OtherID, "a", "https://a.example")
	f.enable(t, engine.DirectionUpload)

	before, err := f.mapper.Get(ctx, a.ID)
	if err != nil || before == nil {
		t.Fatalf("no mapping for %s: %v", a.ID, err)
	}

	if _, err := f.ns.Update(ctx, a.ID, native.UpdateDetails{Title: "---", URL: bookmark.BlankPageURL}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	f.d.ProcessEvents(ctx)

	other, _ := f.ns.Children(ctx, native.OtherID)
	if len(other) != 1 || other[0].Title != bookmark.HorizontalSeparatorTitle {
		t.Fatalf("native Other = %v", titles(other))
	}
	if other[0].ID == a.ID {
		t.Fatal("separator was not recreated")
	}

	after, err := f.mapper.Get(ctx, other[0].ID)
	if err != nil || after == nil || after.SyncedID != before.SyncedID {
		t.Errorf("mapping for recreated separator = %+v, want synced id %d", after, before.SyncedID)
	}
	if stale, _ := f.mapper.Get(ctx, a.ID); stale != nil {
		t.Errorf("stale mapping survived: %+v", stale)
	}

	got := f.remoteTree(t).Container(bookmark.ContainerOther).Children
	if len(got) != 1 || !got[0].IsSeparator() {
		t.Errorf("remote Other = %+v", shapeOf(got))
	}
	if f.d.Pending() != 0 {
		t.Errorf("conversion was observed as %d events", f.d.Pending())
	}
}

func TestProcessEvents_ToolbarSeparator(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)
	f.enable(t, engine.DirectionUpload)

	sep := f.create(t, native.ToolbarID, bookmark.HorizontalSeparatorTitle, bookmark.BlankPageURL)
	f.d.ProcessEvents(ctx)

	toolbar, _ := f.ns.Children(ctx, native.ToolbarID)
	if len(toolbar) != 1 || toolbar[0].Title != bookmark.VerticalSeparatorTitle || toolbar[0].ID != sep.ID {
		t.Errorf("native toolbar = %+v", toolbar)
	}
	got := f.remoteTree(t).Container(bookmark.ContainerToolbar).Children
	if len(got) != 1 || got[0].Title != bookmark.SeparatorTitle {
		t.Errorf("remote toolbar = %+v", shapeOf(got))
	}
}

func TestProcessEvents_ReordersContainers(t *testing.T) {
	ctx := context.Background()
	f := setupDaemon(t, 0)

	menu := bookmark.New(3, bookmark.Metadata{Title: string(bookmark.ContainerMenu), Folder: true})
	menu.Children = append(menu.Children, bookmark.New(4, bookmark.Metadata{Title: "menu item", URL: "https://menu.example"}))
	other := bookmark.New(1, bookmark.Metadata{Title: string(bookmark.ContainerOther), Folder: true})
	other.Children = append(other.Children,
		bookmark.New(5, bookmark.Metadata{Title: "a", URL: "https://a.example"}),
		bookmark.New(6, bookmark.Metadata{Title: "b", URL: "https://b.example"}),
	)
	f.seedRemote(t, bookmark.Bookmarks{menu, other})
	f.enable(t, engine.DirectionDownload)

	children, _ := f.ns.Children(ctx, native.OtherID)
	if got := titles(children); len(got) != 3 || got[0] != string(bookmark.ContainerMenu) {
		t.Fatalf("native Other after download = %v", got)
	}

	// Put b in front of the Menu folder.
	if _, err := f.ns.Move(ctx, children[2].ID, native.Destination{ParentID: native.OtherID, Index: 0}); err != nil {
		t.Fatalf("Move() failed: %v", err)
	}
	f.d.ProcessEvents(ctx)

	children, _ = f.ns.Children(ctx, native.OtherID)
	want := []string{string(bookmark.ContainerMenu), "b", "a"}
	if diff := cmp.Diff(want, titles(children)); diff != "" {
		t.Errorf("native Other mismatch (-want +got):\n%s", diff)
	}
	var remoteOther []string
	for _, b := range f.remoteTree(t).Container(bookmark.ContainerOther).Children {
		remoteOther = append(remoteOther, b.Title)
	}
	if diff := cmp.Diff([]string{"b", "a"}, remoteOther); diff != "" {
		t.Errorf("remote Other mismatch (-want +got):\n%s", diff)
	}
	if f.d.Pending() != 0 {
		t.Errorf("reorder was observed as %d events", f.d.Pending())
	}
}

func TestCheckForUpdates(t *testing.T) {
	ctx := context.Background()

	t.Run("pulls remote changes unobserved", func(t *testing.T) {
		f := setupDaemon(t, 0)
		f.enable(t, engine.DirectionUpload)

		other := bookmark.New(1, bookmark.Metadata{Title: string(bookmark.ContainerOther), Folder: true})
		other.Children = append(other.Children, bookmark.New(2, bookmark.Metadata{Title: "remote", URL: "https://remote.example"}))
		f.seedRemote(t, bookmark.Bookmarks{other})

		f.d.CheckForUpdates(ctx)

		children, _ := f.ns.Children(ctx, native.OtherID)
		if got := titles(children); len(got) != 1 || got[0] != "remote" {
			t.Errorf("native Other = %v", got)
		}
		if !f.d.Listening() {
			t.Error("listeners not restored after the pull")
		}
		if f.d.Pending() != 0 {
			t.Errorf("pull was observed as %d events", f.d.Pending())
		}
	})

	t.Run("missing remote data disables sync", func(t *testing.T) {
		f := setupDaemon(t, 0)
		if err := store.Save(ctx, f.kv, store.KeySyncEnabled, true); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		if err := store.Save(ctx, f.kv, store.KeySyncVersion, "v9"); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}

		f.d.CheckForUpdates(ctx)

		if enabled, _ := store.Bool(ctx, f.kv, store.KeySyncEnabled, true); enabled {
			t.Error("sync still enabled")
		}
		if f.d.Listening() {
			t.Error("still listening after sync was disabled")
		}
	})
}

func TestDaemon_StartStop(t *testing.T) {
	f := setupDaemon(t, 0)
	f.enable(t, engine.DirectionUpload)
	if err := f.d.DisableEventListeners(context.Background()); err != nil {
		t.Fatalf("DisableEventListeners() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.d.Start(ctx)
	}()

	waitFor(t, "listeners", f.d.Listening)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if f.d.Listening() {
		t.Error("still listening after Stop")
	}
}
