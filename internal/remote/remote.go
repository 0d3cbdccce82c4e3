// Package remote defines the remote sync service the engine pushes to and
// pulls from.
//
// The service stores one opaque payload per sync id together with a
// version token. A push must present the version it was based on; a stale
// version is rejected with ErrDataOutOfSync.
package remote

import (
	"context"
	"errors"

	"github.com/marksync/marksync/internal/bookmark"
)

var (
	// ErrDataOutOfSync is returned when a push is based on a version that
	// is no longer current.
	ErrDataOutOfSync = errors.New("data out of sync")

	// ErrNetwork marks transient transport failures. They are expected
	// while offline and are not reported as errors.
	ErrNetwork = errors.New("network unavailable")

	// ErrNoDataFound is returned when nothing is stored remotely.
	ErrNoDataFound = errors.New("no data found")
)

func init() {
	bookmark.RegisterCode(ErrDataOutOfSync, "DATA_OUT_OF_SYNC")
	bookmark.RegisterCode(ErrNetwork, "NETWORK_OFFLINE")
	bookmark.RegisterCode(ErrNoDataFound, "NO_DATA_FOUND")
}

// Payload is the stored data and its version.
type Payload struct {
	Data    []byte
	Version string
}

// Client talks to the remote sync service.
type Client interface {
	// Push stores data, provided version is still current. An empty version
	// is accepted only when nothing is stored yet. Returns the new version.
	Push(ctx context.Context, data []byte, version string) (string, error)

	// Pull returns the current payload, or ErrNoDataFound.
	Pull(ctx context.Context) (*Payload, error)

	// CheckForUpdates reports whether the stored version differs from
	// version.
	CheckForUpdates(ctx context.Context, version string) (bool, error)
}
