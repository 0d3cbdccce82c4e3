package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/daemon"
	"github.com/marksync/marksync/internal/dashboard"
	"github.com/marksync/marksync/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Watch the bookmarks file for edits made by other programs
  2. Batch local edits and push them once things go quiet
  3. Check the remote for updates on a schedule and pull them
  4. Serve the dashboard, if dashboard.port is set
  5. Follow changes to the config file's sync.toolbar setting`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var handler *dashboard.Handler
		if port := a.cfg.Dashboard.Port; port > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Status: a.orch,
				Logger: a.logs.Logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			handler = dashboard.NewHandler(server, a.logs.Logger("dashboard"))
			a.orch.SetNotifier(handler)
			fmt.Printf("   Dashboard: ws://%s/ws\n", server.GetAddr())
		}

		d, err := daemon.NewWithConfig(a.orch, a.conv, a.mapper, a.kv, &daemon.Config{
			DebounceInterval: a.cfg.Sync.Debounce,
			CheckInterval:    a.cfg.Sync.CheckInterval,
			Logger:           a.logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}

		if err := a.native.Watch(); err != nil {
			return err
		}

		if a.v.ConfigFileUsed() != "" {
			logger := a.logs.Logger("config")
			config.Watch(a.v, func(cfg *config.Config) {
				changed, err := config.ApplyToolbar(context.Background(), a.kv, a.orch, cfg.Sync.Toolbar)
				if err != nil {
					logger.Printf("WARNING: failed to apply sync.toolbar: %v", err)
					return
				}
				if changed {
					logger.Printf("sync.toolbar is now %v", cfg.Sync.Toolbar)
				}
			}, func(err error) {
				logger.Printf("WARNING: ignoring config change: %v", err)
			})
		}

		fmt.Printf("%s Starting marksync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Bookmarks: %s\n", a.native.Path())
		fmt.Printf("   Remote: %s\n", a.cfg.Remote.Type)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks until the context is cancelled.
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		if handler != nil {
			finished, failed := handler.Counts()
			fmt.Printf("%s Stopped after %d syncs (%d failed)\n", ui.RenderMuted("■"), finished, failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
