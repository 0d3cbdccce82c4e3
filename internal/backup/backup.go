// Package backup reads and writes bookmark backups as JSON or YAML.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marksync/marksync/internal/bookmark"
)

// Format is a backup encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown backup format %q", s)
}

// FormatFor picks the format from a file extension, defaulting to JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Backup is the content of a backup file.
type Backup struct {
	Date      time.Time          `json:"date" yaml:"date"`
	Version   string             `json:"syncVersion,omitempty" yaml:"syncVersion,omitempty"`
	Bookmarks bookmark.Bookmarks `json:"bookmarks" yaml:"bookmarks"`
}

// envelope is the on-disk layout.
type envelope struct {
	Marksync *Backup `json:"marksync" yaml:"marksync"`
}

// Encode renders b in format.
func Encode(b *Backup, format Format) ([]byte, error) {
	env := envelope{Marksync: b}
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal backup: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(env); err != nil {
			return nil, fmt.Errorf("failed to marshal backup: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to marshal backup: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown backup format %q", format)
}

// Decode parses data in format. Besides the envelope, a bare list of
// bookmarks is accepted. The result is ready to restore: legacy container
// titles upgraded, folder markers restored and ids made unique.
func Decode(data []byte, format Format) (*Backup, error) {
	var (
		env envelope
		bs  bookmark.Bookmarks
		err error
	)
	trimmed := bytes.TrimSpace(data)

	switch format {
	case FormatJSON:
		if bytes.HasPrefix(trimmed, []byte("[")) {
			err = json.Unmarshal(trimmed, &bs)
		} else {
			err = json.Unmarshal(trimmed, &env)
		}
	case FormatYAML:
		if bytes.HasPrefix(trimmed, []byte("- ")) {
			err = yaml.Unmarshal(trimmed, &bs)
		} else {
			err = yaml.Unmarshal(trimmed, &env)
		}
	default:
		return nil, fmt.Errorf("unknown backup format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s backup: %w", format, err)
	}

	b := env.Marksync
	if b == nil {
		if bs == nil {
			return nil, fmt.Errorf("backup contains no bookmarks")
		}
		b = &Backup{Bookmarks: bs}
	}
	b.Bookmarks = Prepare(b.Bookmarks)
	return b, nil
}

// Prepare readies a tree for restore.
func Prepare(bs bookmark.Bookmarks) bookmark.Bookmarks {
	bs = bookmark.UpgradeContainers(bs)
	bs.Normalize()
	if !bs.HasUniqueIDs() {
		bs.AssignIDs()
	}
	return bs
}

// Read loads a backup from path, choosing the format by extension.
func Read(path string) (*Backup, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return Decode(data, FormatFor(path))
}

// Write stores b at path atomically.
func Write(path string, b *Backup, format Format) error {
	data, err := Encode(b, format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
