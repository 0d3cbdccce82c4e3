package sync

import (
	"errors"
	"time"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/convert"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrSyncDisabled is returned when a sync is requested while sync is off.
var ErrSyncDisabled = errors.New("sync is disabled")

func init() {
	bookmark.RegisterCode(ErrSyncInProgress, "SYNC_IN_PROGRESS")
	bookmark.RegisterCode(ErrSyncDisabled, "SYNC_DISABLED")
}

// RequestType selects what a sync does.
type RequestType string

const (
	// TypeRemote applies a native change to the synced tree and pushes it.
	TypeRemote RequestType = "remote"

	// TypePush pushes a change, or the whole native tree when no change is
	// given.
	TypePush RequestType = "push"

	// TypePull replaces the native tree with the remote one.
	TypePull RequestType = "pull"

	// TypeBoth pushes a tree (a restored backup, or the native tree) and
	// then rebuilds the native tree from it.
	TypeBoth RequestType = "both"

	// TypeLocal applies an edit to the synced tree, pushes it and mirrors
	// it into the native store.
	TypeLocal RequestType = "local"
)

// Request describes one sync.
type Request struct {
	Type RequestType `json:"type"`

	// Change is the native change for TypeRemote and TypePush.
	Change *convert.Change `json:"-"`

	// Edit is the synced-tree edit for TypeLocal.
	Edit *convert.Edit `json:"-"`

	// Bookmarks is the tree to push for TypeBoth. Nil means the native tree.
	Bookmarks bookmark.Bookmarks `json:"-"`

	// Generation is the native tree generation Change was observed in. A
	// change from an older generation refers to bookmarks that a pull has
	// since replaced and is dropped. Zero skips the check.
	Generation uint64 `json:"-"`

	// UniqueID identifies the request in notifications. Assigned when empty.
	UniqueID string `json:"uniqueId"`
}

// Response is the outcome of a sync.
type Response struct {
	Success   bool               `json:"success"`
	Bookmarks bookmark.Bookmarks `json:"-"`
	Err       error              `json:"-"`
	UniqueID  string             `json:"uniqueId,omitempty"`
}

// Notifier is told about every finished sync, whether or not the caller
// waits for the response.
type Notifier interface {
	SyncFinished(resp Response)
}

// Direction selects how enabling sync treats existing remote data.
type Direction string

const (
	// DirectionUpload replaces the remote tree with the native one.
	DirectionUpload Direction = "upload"

	// DirectionDownload replaces the native tree with the remote one.
	DirectionDownload Direction = "download"
)

// Status summarizes the engine for status displays.
type Status struct {
	Enabled     bool        `json:"enabled"`
	Syncing     bool        `json:"syncing"`
	Current     RequestType `json:"current,omitempty"`
	Queued      int         `json:"queued"`
	Version     string      `json:"version,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated,omitzero"`
	Bookmarks   int         `json:"bookmarks"`
	Reconcile   bool        `json:"reconcileRequired"`
	PushPending bool        `json:"pushPending"`
}
