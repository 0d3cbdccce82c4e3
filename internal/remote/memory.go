package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process Client. Versions are "v1", "v2", ...
type Memory struct {
	mu      sync.Mutex
	data    []byte
	version string
	seq     int

	pushes int
	pulls  int
}

// NewMemory returns an empty Memory client.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Push(_ context.Context, data []byte, version string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes++

	if version != m.version {
		return "", fmt.Errorf("push based on %q, current is %q: %w", version, m.version, ErrDataOutOfSync)
	}
	m.seq++
	m.data = slices.Clone(data)
	m.version = fmt.Sprintf("v%d", m.seq)
	return m.version, nil
}

func (m *Memory) Pull(_ context.Context) (*Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls++

	if m.version == "" {
		return nil, ErrNoDataFound
	}
	return &Payload{Data: slices.Clone(m.data), Version: m.version}, nil
}

func (m *Memory) CheckForUpdates(_ context.Context, version string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version == "" {
		return false, ErrNoDataFound
	}
	return m.version != version, nil
}

// Version returns the current version.
func (m *Memory) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Counts returns how many pushes and pulls were served.
func (m *Memory) Counts() (pushes, pulls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes, m.pulls
}
