package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/convert"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
)

// Config holds configuration for an Orchestrator.
type Config struct {
	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger

	// Notifier receives every finished sync (optional)
	Notifier Notifier

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Now:    time.Now,
	}
}

// typeHousekeeping marks the slot while Exclusive runs.
const typeHousekeeping RequestType = "housekeeping"

// Orchestrator runs syncs one at a time. Changes queued while a sync runs
// are picked up by that sync before it finishes.
//
// Event listeners are only switched by whoever holds the sync slot, so a
// sync that writes native bookmarks never has them turned back on under it.
type Orchestrator struct {
	store  store.Store
	remote remote.Client
	conv   *convert.Converter
	mapper *idmap.Mapper
	config *Config

	mu         gosync.Mutex
	current    *Request
	idle       chan struct{} // closed when the slot is released
	queue      []Request
	generation uint64
	listeners  native.Listeners
	notifier   Notifier
}

// New creates an Orchestrator. A nil config uses DefaultConfig.
func New(kv store.Store, client remote.Client, conv *convert.Converter, mapper *idmap.Mapper, config *Config) *Orchestrator {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	return &Orchestrator{
		store:      kv,
		remote:     client,
		conv:       conv,
		mapper:     mapper,
		config:     config,
		generation: 1,
		listeners:  noListeners{},
		notifier:   config.Notifier,
	}
}

// SetListeners installs the switch for native event delivery.
func (o *Orchestrator) SetListeners(l native.Listeners) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l == nil {
		l = noListeners{}
	}
	o.listeners = l
}

// SetNotifier installs the receiver of finished syncs.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

// CurrentSync returns a copy of the running request, or nil.
func (o *Orchestrator) CurrentSync() *Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	current := *o.current
	return &current
}

// IsSyncing reports whether a sync is running.
func (o *Orchestrator) IsSyncing() bool {
	return o.CurrentSync() != nil
}

// Generation returns the current native tree generation. It advances every
// time a sync rebuilds the native tree, which makes changes observed
// earlier stale.
func (o *Orchestrator) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

// Queue appends req to the pending changes without running a sync.
func (o *Orchestrator) Queue(req Request) {
	if req.UniqueID == "" {
		req.UniqueID = newUniqueID()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, req)
}

// Queued returns the number of pending changes.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// ExecuteSync runs the queued changes. When a sync is already running it
// waits for it to finish; if that sync drained the queue there is nothing
// left to do.
func (o *Orchestrator) ExecuteSync(ctx context.Context) Response {
	req := Request{Type: TypeRemote, UniqueID: newUniqueID()}
	waited, err := o.acquire(ctx, req, true)
	if err != nil {
		return Response{Err: err, UniqueID: req.UniqueID}
	}
	if waited && o.Queued() == 0 {
		o.release()
		return Response{Success: true, UniqueID: req.UniqueID}
	}
	return o.runHeld(ctx, req)
}

// SyncBookmarks runs req after any queued changes and pushes the result
// once. A push rejected as out of sync triggers a single refresh pull; the
// original error is still returned. Event listeners are re-evaluated
// afterwards whatever the outcome.
//
// When another sync is running, req is refused with ErrSyncInProgress
// without touching listeners or notifying.
func (o *Orchestrator) SyncBookmarks(ctx context.Context, req Request) Response {
	if req.UniqueID == "" {
		req.UniqueID = newUniqueID()
	}
	if _, err := o.acquire(ctx, req, false); err != nil {
		return Response{Err: err, UniqueID: req.UniqueID}
	}
	return o.runHeld(ctx, req)
}

// Exclusive runs fn holding the sync slot with event listeners off, so
// native writes made by fn are not seen as user changes. It waits for a
// running sync to finish first.
func (o *Orchestrator) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	if _, err := o.acquire(ctx, Request{Type: typeHousekeeping}, true); err != nil {
		return err
	}
	defer o.release()

	o.disableListeners(ctx)
	err := fn(ctx)
	o.enableListeners(ctx)
	return err
}

// acquire claims the sync slot for req. Without wait it fails with
// ErrSyncInProgress when the slot is taken. It reports whether it had to
// wait.
func (o *Orchestrator) acquire(ctx context.Context, req Request, wait bool) (bool, error) {
	waited := false
	for {
		o.mu.Lock()
		if o.current == nil {
			o.current = &req
			o.idle = make(chan struct{})
			o.mu.Unlock()
			return waited, nil
		}
		idle := o.idle
		o.mu.Unlock()

		if !wait {
			return false, ErrSyncInProgress
		}
		waited = true
		select {
		case <-idle:
		case <-ctx.Done():
			return waited, ctx.Err()
		}
	}
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = nil
	if o.idle != nil {
		close(o.idle)
		o.idle = nil
	}
}

// runHeld executes req in the slot already held, re-evaluates listeners,
// gives the slot up and then notifies.
func (o *Orchestrator) runHeld(ctx context.Context, req Request) Response {
	resp := o.execute(ctx, req)
	o.enableListeners(ctx)
	o.release()
	o.notify(resp)
	return resp
}

func (o *Orchestrator) execute(ctx context.Context, req Request) Response {
	if req.Type == TypePull || req.Type == TypeBoth {
		o.disableListeners(ctx)
	}

	tree, err := o.run(ctx, &req)
	resp := Response{Success: err == nil, Bookmarks: tree, Err: err, UniqueID: req.UniqueID}

	if errors.Is(err, remote.ErrDataOutOfSync) && req.Type != TypePull {
		o.config.Logger.Printf("Remote data changed since the last sync, refreshing local data")
		refresh := o.execute(ctx, Request{Type: TypePull, UniqueID: newUniqueID()})
		if refresh.Err != nil {
			o.config.Logger.Printf("WARNING: refresh after rejected push failed: %v", refresh.Err)
		}
		o.notify(refresh)
	}

	switch {
	case err == nil:
	case errors.Is(err, remote.ErrNetwork):
		o.config.Logger.Printf("Sync %s deferred while offline: %v", req.Type, err)
	default:
		o.config.Logger.Printf("WARNING: sync %s failed: %v", req.Type, err)
	}
	return resp
}

// run processes req and then whatever is queued until the queue is empty.
// The caller holds the slot.
func (o *Orchestrator) run(ctx context.Context, req *Request) (bookmark.Bookmarks, error) {
	enabled, err := store.Bool(ctx, o.store, store.KeySyncEnabled, false)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrSyncDisabled
	}

	reconcile, err := store.Bool(ctx, o.store, store.KeyReconcileRequired, false)
	if err != nil {
		return nil, err
	}
	if reconcile && req.Type != TypePull && req.Type != TypeBoth {
		o.config.Logger.Printf("Container structure changed, reconciling with remote")
		o.disableListeners(ctx)
		if _, err := o.pull(ctx); err != nil {
			return nil, fmt.Errorf("failed to reconcile: %w", err)
		}
	}

	tree, _, err := store.Load[bookmark.Bookmarks](ctx, o.store, store.KeyBookmarks)
	if err != nil {
		return nil, err
	}
	dirty, err := store.Bool(ctx, o.store, store.KeyPushPending, false)
	if err != nil {
		return nil, err
	}

	pending := req
	for {
		batch := o.takeQueue()
		if pending != nil {
			batch = append(batch, *pending)
			pending = nil
		}
		for i := range batch {
			tree, dirty, err = o.apply(ctx, &batch[i], tree, dirty)
			if err != nil {
				if errors.Is(err, bookmark.ErrContainerChanged) && batch[i].Type != TypeLocal {
					o.abandon(ctx)
				}
				return nil, err
			}
		}

		if dirty {
			if err := o.push(ctx, tree); err != nil {
				return nil, err
			}
			dirty = false
		}

		if o.Queued() == 0 {
			return tree, nil
		}
	}
}

func (o *Orchestrator) takeQueue() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.queue
	o.queue = nil
	return batch
}

// abandon drops the pending changes after a container change and marks
// the next sync to start from the remote tree.
func (o *Orchestrator) abandon(ctx context.Context) {
	o.mu.Lock()
	dropped := len(o.queue)
	o.queue = nil
	o.mu.Unlock()

	o.config.Logger.Printf("WARNING: container structure changed, dropped %d queued changes", dropped)
	if err := store.Save(ctx, o.store, store.KeyReconcileRequired, true); err != nil {
		o.config.Logger.Printf("WARNING: failed to flag reconcile: %v", err)
	}
}

// isFatal reports whether a per-change error aborts the batch.
func isFatal(err error) bool {
	return errors.Is(err, bookmark.ErrContainerChanged) ||
		errors.Is(err, bookmark.ErrContainerNotFound) ||
		errors.Is(err, bookmark.ErrAmbiguousSyncRequest)
}

// apply processes one request against tree. It returns the new tree and
// whether it differs from the last pushed one.
func (o *Orchestrator) apply(ctx context.Context, r *Request, tree bookmark.Bookmarks, dirty bool) (bookmark.Bookmarks, bool, error) {
	switch r.Type {
	case TypeRemote, TypePush:
		if r.Change != nil && r.Generation != 0 && r.Generation != o.Generation() {
			o.config.Logger.Printf("WARNING: dropping %s change observed before the bookmarks were rebuilt", r.Change.Type)
			return tree, dirty, nil
		}
		if r.Change == nil {
			if r.Type == TypeRemote {
				return tree, dirty, nil
			}
			full, err := o.conv.NativeAsBookmarks(ctx)
			if err != nil {
				return nil, false, err
			}
			if err := o.conv.BuildIDMappings(ctx, full); err != nil {
				return nil, false, err
			}
			return full, true, nil
		}

		updated, synced, err := o.conv.ProcessChange(ctx, *r.Change, tree)
		if err != nil {
			if isFatal(err) {
				return nil, false, err
			}
			o.config.Logger.Printf("WARNING: skipping %s change: %v", r.Change.Type, err)
			return tree, dirty, nil
		}
		if !synced {
			return tree, dirty, nil
		}
		return updated, true, nil

	case TypeLocal:
		if r.Edit == nil {
			return nil, false, fmt.Errorf("local sync without edit: %w", bookmark.ErrAmbiguousSyncRequest)
		}
		res, err := convert.ApplyEdit(tree, *r.Edit)
		if err != nil {
			return nil, false, err
		}
		o.disableListeners(ctx)
		if err := o.conv.ProcessNativeChange(ctx, r.Edit.Type, res); err != nil {
			return nil, false, err
		}
		return res.Tree, true, nil

	case TypePull:
		if dirty {
			err := o.push(ctx, tree)
			switch {
			case errors.Is(err, remote.ErrDataOutOfSync):
				o.config.Logger.Printf("WARNING: discarding local changes rejected by remote: %v", err)
			case err != nil:
				return nil, false, err
			}
		}
		pulled, err := o.pull(ctx)
		return pulled, false, err

	case TypeBoth:
		source, err := o.bothSource(ctx, r.Bookmarks)
		if err != nil {
			return nil, false, err
		}
		if err := o.push(ctx, source); err != nil {
			return nil, false, err
		}
		if err := o.rebuildNative(ctx, source); err != nil {
			return nil, false, err
		}
		return source, false, nil

	default:
		return nil, false, fmt.Errorf("request type %q: %w", r.Type, bookmark.ErrAmbiguousSyncRequest)
	}
}

// bothSource returns the tree a Both sync pushes: a supplied tree with
// containers upgraded and ids repaired, or the native tree.
func (o *Orchestrator) bothSource(ctx context.Context, supplied bookmark.Bookmarks) (bookmark.Bookmarks, error) {
	if supplied == nil {
		return o.conv.NativeAsBookmarks(ctx)
	}
	source := bookmark.UpgradeContainers(supplied.Clone())
	if !source.HasUniqueIDs() {
		source.AssignIDs()
	}
	return source, nil
}

// push uploads tree based on the stored version. The tree is cached before
// the upload so that ids handed out for it stay reserved if the push fails.
func (o *Orchestrator) push(ctx context.Context, tree bookmark.Bookmarks) error {
	if tree == nil {
		tree = bookmark.Bookmarks{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode bookmarks: %w", err)
	}
	version, err := store.String(ctx, o.store, store.KeySyncVersion)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, o.store, store.KeyBookmarks, tree); err != nil {
		return err
	}

	newVersion, err := o.remote.Push(ctx, data, version)
	if err != nil {
		// A rejected push is superseded by the refresh pull; anything else
		// is retried later.
		if !errors.Is(err, remote.ErrDataOutOfSync) {
			if serr := store.Save(ctx, o.store, store.KeyPushPending, true); serr != nil {
				o.config.Logger.Printf("WARNING: failed to flag pending push: %v", serr)
			}
		}
		return fmt.Errorf("failed to push bookmarks: %w", err)
	}

	o.config.Logger.Printf("Pushed %d bookmarks, version %s", tree.Count(), newVersion)
	return o.saveSynced(ctx, tree, newVersion)
}

// pull replaces the native tree with the remote one and rebuilds the
// mappings. Callers disable event listeners first.
func (o *Orchestrator) pull(ctx context.Context) (bookmark.Bookmarks, error) {
	payload, err := o.remote.Pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pull bookmarks: %w", err)
	}

	var tree bookmark.Bookmarks
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &tree); err != nil {
			return nil, fmt.Errorf("failed to decode remote bookmarks: %w", err)
		}
	}
	tree = bookmark.UpgradeContainers(tree)

	if err := o.rebuildNative(ctx, tree); err != nil {
		return nil, err
	}

	o.config.Logger.Printf("Pulled %d bookmarks, version %s", tree.Count(), payload.Version)
	if err := o.saveSynced(ctx, tree, payload.Version); err != nil {
		return nil, err
	}
	return tree, nil
}

// rebuildNative replaces the native tree with tree and starts a new
// generation.
func (o *Orchestrator) rebuildNative(ctx context.Context, tree bookmark.Bookmarks) error {
	o.mu.Lock()
	o.generation++
	o.mu.Unlock()

	if err := o.conv.ClearNative(ctx); err != nil {
		return err
	}
	if err := o.conv.PopulateNative(ctx, tree); err != nil {
		return err
	}
	return o.conv.BuildIDMappings(ctx, tree)
}

// saveSynced records tree as matching the remote at version.
func (o *Orchestrator) saveSynced(ctx context.Context, tree bookmark.Bookmarks, version string) error {
	if tree == nil {
		tree = bookmark.Bookmarks{}
	}
	if err := store.Save(ctx, o.store, store.KeyBookmarks, tree); err != nil {
		return err
	}
	if err := store.Save(ctx, o.store, store.KeySyncVersion, version); err != nil {
		return err
	}
	if err := store.Save(ctx, o.store, store.KeyLastUpdated, o.config.Now().UTC()); err != nil {
		return err
	}
	return errors.Join(
		o.store.Delete(ctx, store.KeyPushPending),
		o.store.Delete(ctx, store.KeyReconcileRequired),
	)
}

// CheckForUpdates asks the remote whether it holds a newer version than
// the one last synced.
func (o *Orchestrator) CheckForUpdates(ctx context.Context) (bool, error) {
	version, err := store.String(ctx, o.store, store.KeySyncVersion)
	if err != nil {
		return false, err
	}
	return o.remote.CheckForUpdates(ctx, version)
}

// GetLatestUpdates pulls when the remote has changed. It does nothing while
// a sync runs or sync is disabled. A push left pending by an earlier
// failure is retried instead.
func (o *Orchestrator) GetLatestUpdates(ctx context.Context) error {
	if o.IsSyncing() {
		return nil
	}
	enabled, err := store.Bool(ctx, o.store, store.KeySyncEnabled, false)
	if err != nil || !enabled {
		return err
	}

	pending, err := store.Bool(ctx, o.store, store.KeyPushPending, false)
	if err != nil {
		return err
	}
	if pending {
		return o.ExecuteSync(ctx).Err
	}

	updates, err := o.CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if !updates {
		return nil
	}
	err = o.SyncBookmarks(ctx, Request{Type: TypePull}).Err
	if errors.Is(err, ErrSyncInProgress) {
		return nil
	}
	return err
}

// EnableSync turns sync on and performs the first sync in direction. Sync
// is turned off again when that sync fails.
func (o *Orchestrator) EnableSync(ctx context.Context, direction Direction) Response {
	if err := store.Save(ctx, o.store, store.KeySyncEnabled, true); err != nil {
		return Response{Err: err}
	}

	resp := o.firstSync(ctx, direction)
	if resp.Err != nil {
		if err := o.DisableSync(ctx); err != nil {
			o.config.Logger.Printf("WARNING: failed to disable sync after failed enable: %v", err)
		}
	}
	return resp
}

func (o *Orchestrator) firstSync(ctx context.Context, direction Direction) Response {
	switch direction {
	case DirectionDownload:
		return o.SyncBookmarks(ctx, Request{Type: TypePull})

	case DirectionUpload:
		// Adopt the current remote version so the upload replaces it.
		payload, err := o.remote.Pull(ctx)
		switch {
		case err == nil:
			if err := store.Save(ctx, o.store, store.KeySyncVersion, payload.Version); err != nil {
				return Response{Err: err}
			}
		case errors.Is(err, remote.ErrNoDataFound):
			if err := o.store.Delete(ctx, store.KeySyncVersion); err != nil {
				return Response{Err: err}
			}
		default:
			return Response{Err: fmt.Errorf("failed to read remote version: %w", err)}
		}
		return o.SyncBookmarks(ctx, Request{Type: TypePush})

	default:
		return Response{Err: fmt.Errorf("direction %q: %w", direction, bookmark.ErrAmbiguousSyncRequest)}
	}
}

// DisableSync turns sync off, drops queued changes and forgets the cached
// tree, the version and the id mappings.
func (o *Orchestrator) DisableSync(ctx context.Context) error {
	o.mu.Lock()
	o.queue = nil
	o.mu.Unlock()

	errs := []error{store.Save(ctx, o.store, store.KeySyncEnabled, false)}
	for _, key := range []store.Key{
		store.KeyBookmarks,
		store.KeySyncVersion,
		store.KeyLastUpdated,
		store.KeyReconcileRequired,
		store.KeyPushPending,
	} {
		errs = append(errs, o.store.Delete(ctx, key))
	}
	errs = append(errs, o.mapper.Clear(ctx))
	o.disableListeners(ctx)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to disable sync: %w", err)
	}
	o.config.Logger.Printf("Sync disabled")
	return nil
}

// Status reports the current engine state.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	o.mu.Lock()
	if o.current != nil {
		st.Syncing = true
		st.Current = o.current.Type
	}
	st.Queued = len(o.queue)
	o.mu.Unlock()

	if st.Enabled, err = store.Bool(ctx, o.store, store.KeySyncEnabled, false); err != nil {
		return st, err
	}
	if st.Version, err = store.String(ctx, o.store, store.KeySyncVersion); err != nil {
		return st, err
	}
	if st.LastUpdated, _, err = store.Load[time.Time](ctx, o.store, store.KeyLastUpdated); err != nil {
		return st, err
	}
	if st.Reconcile, err = store.Bool(ctx, o.store, store.KeyReconcileRequired, false); err != nil {
		return st, err
	}
	if st.PushPending, err = store.Bool(ctx, o.store, store.KeyPushPending, false); err != nil {
		return st, err
	}
	tree, _, err := store.Load[bookmark.Bookmarks](ctx, o.store, store.KeyBookmarks)
	if err != nil {
		return st, err
	}
	st.Bookmarks = tree.Count()
	return st, nil
}

// Bookmarks returns the cached synced tree.
func (o *Orchestrator) Bookmarks(ctx context.Context) (bookmark.Bookmarks, error) {
	tree, _, err := store.Load[bookmark.Bookmarks](ctx, o.store, store.KeyBookmarks)
	return tree, err
}

func (o *Orchestrator) currentListeners() native.Listeners {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listeners
}

func (o *Orchestrator) disableListeners(ctx context.Context) {
	if err := o.currentListeners().DisableEventListeners(ctx); err != nil {
		o.config.Logger.Printf("WARNING: failed to disable event listeners: %v", err)
	}
}

// enableListeners re-evaluates listeners; they only come on while sync is
// enabled.
func (o *Orchestrator) enableListeners(ctx context.Context) {
	if err := o.currentListeners().EnableEventListeners(ctx); err != nil {
		o.config.Logger.Printf("WARNING: failed to enable event listeners: %v", err)
	}
}

func (o *Orchestrator) notify(resp Response) {
	o.mu.Lock()
	n := o.notifier
	o.mu.Unlock()
	if n != nil {
		n.SyncFinished(resp)
	}
}

type noListeners struct{}

func (noListeners) EnableEventListeners(context.Context) error  { return nil }
func (noListeners) DisableEventListeners(context.Context) error { return nil }

func newUniqueID() string {
	return uuid.NewString()
}
