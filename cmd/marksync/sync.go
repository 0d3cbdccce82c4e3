package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/bookmark"
	engine "github.com/marksync/marksync/internal/sync"
	"github.com/marksync/marksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a sync now",
	Long: `Run one sync in the foreground.

Types:
  push   upload the whole local tree, replacing the remote copy
  pull   replace the local tree with the remote copy
  both   upload the local tree and rebuild the local tree from it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")

		var req engine.Request
		switch typ {
		case "push":
			req.Type = engine.TypePush
		case "pull":
			req.Type = engine.TypePull
		case "both":
			req.Type = engine.TypeBoth
		default:
			return fmt.Errorf("unknown sync type %q (want push, pull or both)", typ)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		start := time.Now()
		resp := a.orch.SyncBookmarks(ctx, req)
		if resp.Err != nil {
			return syncError(resp.Err)
		}
		fmt.Printf("%s %s sync complete in %v (%d bookmarks)\n",
			ui.RenderPass("✓"), typ, time.Since(start).Round(time.Millisecond), resp.Bookmarks.Count())
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "sync",
	Short:   "Check the remote for updates and pull them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		before, err := a.orch.Status(ctx)
		if err != nil {
			return err
		}
		if err := a.orch.GetLatestUpdates(ctx); err != nil {
			return syncError(err)
		}
		after, err := a.orch.Status(ctx)
		if err != nil {
			return err
		}

		if after.Version == before.Version {
			fmt.Printf("%s Up to date (%s)\n", ui.RenderPass("✓"), orNone(after.Version))
			return nil
		}
		fmt.Printf("%s Updated %s → %s\n", ui.RenderAccent("↓"), orNone(before.Version), after.Version)
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:     "enable",
	GroupID: "sync",
	Short:   "Enable sync",
	Long: `Enable sync and run the first sync.

By default the local tree is uploaded and replaces any remote data. With
--download the remote tree replaces the local one instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		download, _ := cmd.Flags().GetBool("download")
		direction := engine.DirectionUpload
		if download {
			direction = engine.DirectionDownload
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		resp := a.orch.EnableSync(ctx, direction)
		if resp.Err != nil {
			return syncError(resp.Err)
		}
		fmt.Printf("%s Sync enabled (%s, %d bookmarks)\n", ui.RenderPass("✓"), direction, resp.Bookmarks.Count())
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:     "disable",
	GroupID: "sync",
	Short:   "Disable sync and forget sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.orch.DisableSync(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Sync disabled\n", ui.RenderWarn("■"))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		st, err := a.orch.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		ui.WriteFields(os.Stdout, "Sync status", []ui.Field{
			{Label: "Enabled", Value: ui.YesNo(st.Enabled)},
			{Label: "Version", Value: orNone(st.Version)},
			{Label: "Last updated", Value: ui.Since(st.LastUpdated, time.Now())},
			{Label: "Bookmarks", Value: fmt.Sprint(st.Bookmarks)},
			{Label: "Toolbar", Value: ui.YesNo(a.cfg.Sync.Toolbar)},
			{Label: "Push pending", Value: ui.YesNo(st.PushPending)},
			{Label: "Reconcile", Value: ui.YesNo(st.Reconcile)},
			{Label: "Remote", Value: a.cfg.Remote.Type},
			{Label: "Bookmarks file", Value: a.native.Path()},
		})
		return nil
	},
}

// syncError adds the stable error code to a sync failure.
func syncError(err error) error {
	if code := bookmark.ErrorCode(err); code != bookmark.CodeNone && code != bookmark.CodeUnknown {
		return fmt.Errorf("%w [%s]", err, code)
	}
	return err
}

func orNone(s string) string {
	if s == "" {
		return ui.RenderMuted("none")
	}
	return s
}

func init() {
	syncCmd.Flags().String("type", "push", "Sync type: push, pull or both")
	enableCmd.Flags().Bool("download", false, "Replace local bookmarks with the remote copy")
	statusCmd.Flags().Bool("json", false, "Output status as JSON")

	rootCmd.AddCommand(syncCmd, checkCmd, enableCmd, disableCmd, statusCmd)
}
