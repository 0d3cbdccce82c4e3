package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/convert"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/logging"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	engine "github.com/marksync/marksync/internal/sync"
)

// app is the wired component graph shared by every command.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logs   *logging.Factory
	kv     *store.SQLite
	native *native.FileStore
	remote remote.Client
	mapper *idmap.Mapper
	conv   *convert.Converter
	orch   *engine.Orchestrator
}

func openApp(ctx context.Context) (*app, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}

	a := &app{v: v, cfg: cfg}
	a.logs = logging.New(logging.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Quiet:      quiet,
	})

	if a.kv, err = store.OpenContext(ctx, cfg.Store.Path); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if a.native, err = native.OpenFile(cfg.Native.Path, a.logs.Logger("native")); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open bookmarks: %w", err)
	}
	if a.remote, err = openRemote(ctx, cfg, a.logs); err != nil {
		a.close()
		return nil, err
	}

	// Keep the stored toolbar setting in line with the config.
	if err := store.Save(ctx, a.kv, store.KeySyncToolbar, cfg.Sync.Toolbar); err != nil {
		a.close()
		return nil, err
	}

	a.mapper = idmap.New(a.kv)
	a.conv = convert.New(containers.New(a.native, a.kv, &containers.Config{
		OtherRootID:   cfg.Native.OtherRoot,
		ToolbarRootID: cfg.Native.ToolbarRoot,
		Logger:        a.logs.Logger("containers"),
	}), a.mapper, a.logs.Logger("convert"))

	oconfig := engine.DefaultConfig()
	oconfig.Logger = a.logs.Logger("sync")
	a.orch = engine.New(a.kv, a.remote, a.conv, a.mapper, oconfig)
	return a, nil
}

func openRemote(ctx context.Context, cfg *config.Config, logs *logging.Factory) (remote.Client, error) {
	switch cfg.Remote.Type {
	case config.RemoteBucket:
		b, err := remote.NewBucket(remote.BucketConfig{
			Endpoint:  cfg.Remote.Endpoint,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
			UseSSL:    cfg.Remote.UseSSL,
			Bucket:    cfg.Remote.Bucket,
			Object:    cfg.Remote.Object,
			Logger:    logs.Logger("remote"),
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	default:
		logs.Logger("remote").Println("WARNING: using the in-memory remote; synced data is lost on exit")
		return remote.NewMemory(), nil
	}
}

func (a *app) close() error {
	var errs []error
	if a.native != nil {
		errs = append(errs, a.native.Stop())
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
