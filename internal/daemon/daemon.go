package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/convert"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	engine "github.com/marksync/marksync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the event queue must stay quiet before
	// it is drained. This batches rapid native changes together.
	DebounceInterval time.Duration

	// CheckInterval is how often the remote is asked for updates
	CheckInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		CheckInterval:    15 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// EventOp is the kind of a native event.
type EventOp int

const (
	OpCreated EventOp = iota
	OpRemoved
	OpChanged
	OpMoved
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpRemoved:
		return "removed"
	case OpChanged:
		return "changed"
	case OpMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// event is a native event waiting in the queue. generation is the native
// tree generation it was observed in.
type event struct {
	op         EventOp
	id         string
	node       *native.Node
	remove     native.RemoveInfo
	move       native.MoveInfo
	generation uint64
}

// Daemon listens to native events, turns them into changes for the
// orchestrator and periodically pulls remote updates.
//
// It implements native.Handler and native.Listeners.
type Daemon struct {
	native   native.Store
	resolver *containers.Resolver
	mapper   *idmap.Mapper
	orch     *engine.Orchestrator
	store    store.Store
	config   *Config

	eventsMu sync.Mutex
	events   []event
	timer    *time.Timer

	subMu sync.Mutex
	sub   native.Subscription

	drainMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon with the default configuration.
func New(orch *engine.Orchestrator, conv *convert.Converter, mapper *idmap.Mapper, kv store.Store) (*Daemon, error) {
	return NewWithConfig(orch, conv, mapper, kv, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. The daemon is
// installed as the orchestrator's event listener switch.
func NewWithConfig(orch *engine.Orchestrator, conv *convert.Converter, mapper *idmap.Mapper, kv store.Store, config *Config) (*Daemon, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if conv == nil {
		return nil, fmt.Errorf("converter cannot be nil")
	}
	if mapper == nil {
		return nil, fmt.Errorf("mapper cannot be nil")
	}
	if kv == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	resolver := conv.Resolver()
	d := &Daemon{
		native:   resolver.Native(),
		resolver: resolver,
		mapper:   mapper,
		orch:     orch,
		store:    kv,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
	orch.SetListeners(d)
	return d, nil
}

// Start enables event listeners, runs an immediate update check and then
// checks periodically. Nothing happens while sync is disabled other than
// the periodic check being a no-op.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.EnableEventListeners(ctx); err != nil {
		return fmt.Errorf("failed to enable event listeners: %w", err)
	}

	d.wg.Add(1)
	go d.checkLoop()

	d.CheckForUpdates(ctx)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop disables event listeners, drains pending events and stops the
// periodic check. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		if err := d.DisableEventListeners(context.Background()); err != nil {
			d.config.Logger.Printf("Error disabling listeners: %v", err)
		}

		d.eventsMu.Lock()
		if d.timer != nil {
			d.timer.Stop()
		}
		d.eventsMu.Unlock()

		d.ProcessEvents(context.Background())

		// The drain re-evaluates listeners; leave them off.
		if err := d.DisableEventListeners(context.Background()); err != nil {
			d.config.Logger.Printf("Error disabling listeners: %v", err)
		}

		d.cancel()
		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// EnableEventListeners subscribes the daemon to native events when sync is
// enabled. An existing subscription is closed first.
func (d *Daemon) EnableEventListeners(ctx context.Context) error {
	if err := d.DisableEventListeners(ctx); err != nil {
		return err
	}
	enabled, err := store.Bool(ctx, d.store, store.KeySyncEnabled, false)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.sub = d.native.Subscribe(d)
	return nil
}

// DisableEventListeners stops delivery of native events.
func (d *Daemon) DisableEventListeners(context.Context) error {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	if d.sub != nil {
		d.sub.Close()
		d.sub = nil
	}
	return nil
}

// Listening reports whether the daemon is subscribed to native events.
func (d *Daemon) Listening() bool {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return d.sub != nil
}

func (d *Daemon) OnCreated(id string, node *native.Node) {
	d.enqueue(event{op: OpCreated, id: id, node: node})
}

func (d *Daemon) OnRemoved(id string, info native.RemoveInfo) {
	d.enqueue(event{op: OpRemoved, id: id, remove: info})
}

func (d *Daemon) OnChanged(id string, _ native.ChangeInfo) {
	d.enqueue(event{op: OpChanged, id: id})
}

func (d *Daemon) OnMoved(id string, info native.MoveInfo) {
	d.enqueue(event{op: OpMoved, id: id, move: info})
}

// enqueue appends e and restarts the debounce timer.
func (d *Daemon) enqueue(e event) {
	e.generation = d.orch.Generation()

	d.eventsMu.Lock()
	defer d.eventsMu.Unlock()

	d.events = append(d.events, e)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.config.DebounceInterval, func() {
		d.ProcessEvents(d.ctx)
	})
}

// Pending returns the number of queued events.
func (d *Daemon) Pending() int {
	d.eventsMu.Lock()
	defer d.eventsMu.Unlock()
	return len(d.events)
}

// ProcessEvents drains the event queue in arrival order, queues the
// resulting changes on the orchestrator and runs one sync, waiting for a
// sync already in flight. Afterwards the unsupported-container folders are
// put back in front. Drains never overlap.
func (d *Daemon) ProcessEvents(ctx context.Context) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	d.eventsMu.Lock()
	events := d.events
	d.events = nil
	d.eventsMu.Unlock()

	if len(events) == 0 {
		return
	}
	d.config.Logger.Printf("Processing %d native events", len(events))

	for _, e := range events {
		change, err := d.toChange(ctx, e)
		if err != nil {
			d.config.Logger.Printf("WARNING: dropping %s event for %s: %v", e.op, e.id, err)
			continue
		}
		d.orch.Queue(engine.Request{Type: engine.TypeRemote, Change: change, Generation: e.generation})
	}

	d.orch.ExecuteSync(ctx)

	if err := d.orch.Exclusive(ctx, d.resolver.ReorderUnsupportedContainers); err != nil {
		d.config.Logger.Printf("WARNING: failed to reorder containers: %v", err)
	}
}

// toChange builds the change for e, bringing separators into canonical
// form first.
func (d *Daemon) toChange(ctx context.Context, e event) (*convert.Change, error) {
	switch e.op {
	case OpCreated:
		node, err := d.canonicalSeparator(ctx, e.node)
		if err != nil {
			return nil, err
		}
		// The synced tree replays events in order, so the add goes where
		// the node was created, not where a recreated separator ended up.
		added := node.Clone()
		added.ParentID, added.Index = e.node.ParentID, e.node.Index
		return &convert.Change{Type: bookmark.ChangeAdd, Node: added}, nil

	case OpRemoved:
		node := e.remove.Node.Clone()
		if node == nil {
			node = &native.Node{ID: e.id}
		}
		node.ParentID = e.remove.ParentID
		node.Index = e.remove.Index
		return &convert.Change{Type: bookmark.ChangeRemove, Node: node}, nil

	case OpChanged, OpMoved:
		current, err := d.native.Get(ctx, e.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", bookmark.ErrNativeBookmarkNotFound, e.id, err)
		}
		node, err := d.canonicalSeparator(ctx, current)
		if err != nil {
			return nil, err
		}
		if node.ID != e.id {
			if err := d.remap(ctx, e.id, node.ID); err != nil {
				return nil, err
			}
		}
		if e.op == OpChanged {
			return &convert.Change{Type: bookmark.ChangeModify, Node: node}, nil
		}
		return &convert.Change{Type: bookmark.ChangeMove, Move: &convert.MoveData{
			ID:          node.ID,
			ParentID:    e.move.ParentID,
			Index:       e.move.Index,
			OldParentID: e.move.OldParentID,
			OldIndex:    e.move.OldIndex,
		}}, nil

	default:
		return nil, fmt.Errorf("event %s: %w", e.op, bookmark.ErrAmbiguousSyncRequest)
	}
}

// canonicalSeparator converts node into a canonical separator when it
// denotes one. The conversion runs exclusively with listeners off so it is
// not seen as a change of its own.
func (d *Daemon) canonicalSeparator(ctx context.Context, node *native.Node) (*native.Node, error) {
	if !d.resolver.NeedsSeparatorConversion(node) {
		return node, nil
	}
	var converted *native.Node
	err := d.orch.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		converted, err = d.resolver.ConvertToSeparator(ctx, node)
		return err
	})
	if err != nil {
		return nil, err
	}
	return converted, nil
}

// remap points the mapping of a recreated node at its new native id.
func (d *Daemon) remap(ctx context.Context, oldID, newID string) error {
	m, err := d.mapper.Get(ctx, oldID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("native %s: %w", oldID, bookmark.ErrBookmarkMappingNotFound)
	}
	return d.mapper.Add(ctx, idmap.CreateMapping(m.SyncedID, newID))
}

// checkLoop runs CheckForUpdates every CheckInterval.
func (d *Daemon) checkLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.CheckForUpdates(d.ctx)
		}
	}
}

// CheckForUpdates pulls remote updates if there are any. Being offline is
// not an error; remote data having disappeared disables sync.
func (d *Daemon) CheckForUpdates(ctx context.Context) {
	err := d.orch.GetLatestUpdates(ctx)
	switch {
	case err == nil:
	case errors.Is(err, remote.ErrNetwork):
		d.config.Logger.Printf("Update check skipped while offline: %v", err)
	case errors.Is(err, remote.ErrNoDataFound):
		d.config.Logger.Printf("WARNING: no remote data found, disabling sync")
		if err := d.orch.DisableSync(ctx); err != nil {
			d.config.Logger.Printf("Error disabling sync: %v", err)
		}
	default:
		d.config.Logger.Printf("Error checking for updates: %v", err)
	}
}
