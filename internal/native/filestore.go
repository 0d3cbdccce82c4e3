package native

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore is a native store persisted as a JSON snapshot file. Every
// mutation rewrites the file atomically. Watch picks up edits made to the
// file by other programs and replays them as native events.
type FileStore struct {
	*MemStore

	path   string
	logger *log.Logger

	// writeMu serializes mutations, saves and reloads so the file always
	// matches memory when a reload compares them.
	writeMu     sync.Mutex
	lastWritten []byte

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// OpenFile loads the snapshot at path, creating it with empty roots when it
// does not exist. If logger is nil a stderr logger is used.
func OpenFile(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[native] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f := &FileStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f.MemStore = NewMemStore()
	case err != nil:
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	default:
		root, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		f.MemStore = NewMemStoreFromTree(root)
	}

	if err := f.save(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the snapshot file path.
func (f *FileStore) Path() string {
	return f.path
}

func decodeSnapshot(data []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if root.ID != RootID {
		return nil, fmt.Errorf("snapshot root id is %q, want %q", root.ID, RootID)
	}
	for _, id := range []string{ToolbarID, OtherID} {
		if !slices.ContainsFunc(root.Children, func(n *Node) bool { return n.ID == id }) {
			return nil, fmt.Errorf("snapshot is missing root folder %q", id)
		}
	}
	return &root, nil
}

// save writes the current tree through a temp file and rename.
func (f *FileStore) save() error {
	data, err := json.MarshalIndent(f.MemStore.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	f.lastWritten = data
	return nil
}

// persist runs a mutation and saves the result.
func (f *FileStore) persist(mutate func() error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := mutate(); err != nil {
		return err
	}
	return f.save()
}

func (f *FileStore) Create(ctx context.Context, details CreateDetails) (*Node, error) {
	var n *Node
	err := f.persist(func() (err error) {
		n, err = f.MemStore.Create(ctx, details)
		return err
	})
	return n, err
}

func (f *FileStore) Update(ctx context.Context, id string, details UpdateDetails) (*Node, error) {
	var n *Node
	err := f.persist(func() (err error) {
		n, err = f.MemStore.Update(ctx, id, details)
		return err
	})
	return n, err
}

func (f *FileStore) Move(ctx context.Context, id string, dest Destination) (*Node, error) {
	var n *Node
	err := f.persist(func() (err error) {
		n, err = f.MemStore.Move(ctx, id, dest)
		return err
	})
	return n, err
}

func (f *FileStore) Remove(ctx context.Context, id string) error {
	return f.persist(func() error { return f.MemStore.Remove(ctx, id) })
}

func (f *FileStore) RemoveTree(ctx context.Context, id string) error {
	return f.persist(func() error { return f.MemStore.RemoveTree(ctx, id) })
}

// Reload reads the snapshot file and, if another program changed it,
// replaces the in-memory tree and delivers the recovered events.
func (f *FileStore) Reload() error {
	f.writeMu.Lock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		f.writeMu.Unlock()
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if bytes.Equal(data, f.lastWritten) {
		f.writeMu.Unlock()
		return nil
	}

	root, err := decodeSnapshot(data)
	if err != nil {
		f.writeMu.Unlock()
		return err
	}

	before := f.MemStore.snapshot()
	f.MemStore.mu.Lock()
	assigned := f.MemStore.reset(root)
	after := f.MemStore.root.Clone()
	f.MemStore.mu.Unlock()

	if assigned {
		// Ids handed out to new nodes must reach the file, or the next
		// reload would see those nodes as new again.
		if err := f.save(); err != nil {
			f.writeMu.Unlock()
			return err
		}
	} else {
		f.lastWritten = data
	}
	f.writeMu.Unlock()

	if sameTree(before, after) {
		return nil
	}
	events := diffTrees(before, after)
	f.logger.Printf("Snapshot changed externally: %d events", len(events))
	for _, e := range events {
		f.MemStore.emit(e.deliver)
	}
	return nil
}

// Watch starts watching the snapshot file for external edits.
func (f *FileStore) Watch() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the directory: atomic replacement swaps the file's inode.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	f.running = true
	f.wg.Add(1)
	go f.processEvents()

	return nil
}

// Stop stops watching. It blocks until the event loop has exited.
func (f *FileStore) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	close(f.done)
	if err := f.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	f.wg.Wait()
	return nil
}

// IsRunning reports whether the watcher is active.
func (f *FileStore) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FileStore) processEvents() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Printf("WARNING: failed to reload snapshot: %v", err)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Printf("Watcher error: %v", err)
		}
	}
}
