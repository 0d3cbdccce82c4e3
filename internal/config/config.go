// Package config loads marksync settings from a YAML file, MARKSYNC_*
// environment variables and built-in defaults, in that order of precedence
// after explicit flags.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/store"
	engine "github.com/marksync/marksync/internal/sync"
)

// EnvPrefix is prepended to every environment override, for example
// MARKSYNC_REMOTE_BUCKET.
const EnvPrefix = "MARKSYNC"

var envReplacer = strings.NewReplacer(".", "_")

// Remote types.
const (
	RemoteMemory = "memory"
	RemoteBucket = "bucket"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Native    NativeConfig    `mapstructure:"native"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// NativeConfig locates the native bookmark snapshot and its fixed roots.
type NativeConfig struct {
	Path        string `mapstructure:"path"`
	OtherRoot   string `mapstructure:"other_root"`
	ToolbarRoot string `mapstructure:"toolbar_root"`
}

type RemoteConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Object    string `mapstructure:"object"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SyncConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Toolbar       bool          `mapstructure:"toolbar"`
}

// DashboardConfig sets the dashboard port. Zero disables the dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Dir returns the default configuration and data directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marksync"
	}
	return filepath.Join(home, ".marksync")
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("store.path", filepath.Join(dir, "marksync.db"))
	v.SetDefault("native.path", filepath.Join(dir, "bookmarks.json"))
	v.SetDefault("native.other_root", native.OtherID)
	v.SetDefault("native.toolbar_root", native.ToolbarID)
	v.SetDefault("remote.type", RemoteMemory)
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.access_key", "")
	v.SetDefault("remote.secret_key", "")
	v.SetDefault("remote.object", "bookmarks.json")
	v.SetDefault("remote.use_ssl", true)
	v.SetDefault("sync.debounce", 200*time.Millisecond)
	v.SetDefault("sync.check_interval", 15*time.Minute)
	v.SetDefault("sync.toolbar", true)
	v.SetDefault("dashboard.port", 0)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// New builds a viper instance with defaults and environment overrides and
// reads file. An empty file means config.yaml in Dir(); a missing default
// file is not an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	dir := Dir()
	setDefaults(v, dir)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Remote.Type {
	case RemoteMemory:
	case RemoteBucket:
		if c.Remote.Endpoint == "" || c.Remote.Bucket == "" {
			return fmt.Errorf("remote.endpoint and remote.bucket are required for the bucket remote")
		}
	default:
		return fmt.Errorf("unknown remote.type %q", c.Remote.Type)
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive, got %v", c.Sync.Debounce)
	}
	if c.Sync.CheckInterval <= 0 {
		return fmt.Errorf("sync.check_interval must be positive, got %v", c.Sync.CheckInterval)
	}
	return nil
}

// Watch calls fn with the re-decoded config whenever the config file
// changes. Invalid edits are reported through onErr and otherwise ignored.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("%s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// Syncer runs syncs on behalf of a settings change.
type Syncer interface {
	SyncBookmarks(ctx context.Context, req engine.Request) engine.Response
}

// ApplyToolbar stores the toolbar setting. Turning toolbar sync on while
// sync is enabled pulls, so the native toolbar takes the synced content.
// It reports whether the stored value changed.
func ApplyToolbar(ctx context.Context, kv store.Store, orch Syncer, toolbar bool) (bool, error) {
	current, err := store.Bool(ctx, kv, store.KeySyncToolbar, true)
	if err != nil {
		return false, err
	}
	if current == toolbar {
		return false, nil
	}
	if err := store.Save(ctx, kv, store.KeySyncToolbar, toolbar); err != nil {
		return false, err
	}

	enabled, err := store.Bool(ctx, kv, store.KeySyncEnabled, false)
	if err != nil {
		return true, err
	}
	if enabled && toolbar {
		if resp := orch.SyncBookmarks(ctx, engine.Request{Type: engine.TypePull}); resp.Err != nil {
			return true, fmt.Errorf("failed to pull toolbar: %w", resp.Err)
		}
	}
	return true, nil
}
