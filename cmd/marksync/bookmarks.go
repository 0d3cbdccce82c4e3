package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/backup"
	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/convert"
	engine "github.com/marksync/marksync/internal/sync"
	"github.com/marksync/marksync/internal/ui"
)

var restoreCmd = &cobra.Command{
	Use:     "restore FILE",
	GroupID: "data",
	Short:   "Restore bookmarks from a backup",
	Long: `Restore bookmarks from a JSON or YAML backup.

The backup replaces the remote copy and then the local tree. Legacy
container names are upgraded and ids are reassigned when they clash.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := backup.Read(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		resp := a.orch.SyncBookmarks(ctx, engine.Request{Type: engine.TypeBoth, Bookmarks: b.Bookmarks})
		if resp.Err != nil {
			return syncError(resp.Err)
		}
		fmt.Printf("%s Restored %d bookmarks from %s\n", ui.RenderPass("✓"), resp.Bookmarks.Count(), args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export FILE",
	GroupID: "data",
	Short:   "Write the synced bookmarks to a backup file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := backup.FormatFor(args[0])
		if cmd.Flags().Changed("format") {
			name, _ := cmd.Flags().GetString("format")
			f, err := backup.ParseFormat(name)
			if err != nil {
				return err
			}
			format = f
		}

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
		tree, err := a.orch.Bookmarks(ctx)
		if err != nil {
			return err
		}
		if !st.Enabled || tree == nil {
			// Without sync state, export what is on disk.
			if tree, err = a.conv.NativeAsBookmarks(ctx); err != nil {
				return err
			}
		}

		b := &backup.Backup{Date: time.Now().UTC(), Version: st.Version, Bookmarks: tree}
		if err := backup.Write(args[0], b, format); err != nil {
			return err
		}
		fmt.Printf("%s Exported %d bookmarks to %s (%s)\n", ui.RenderPass("✓"), tree.Count(), args[0], format)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "ls",
	GroupID: "data",
	Short:   "List the synced bookmarks with their ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		tree, err := a.orch.Bookmarks(ctx)
		if err != nil {
			return err
		}
		if tree == nil {
			fmt.Printf("%s Nothing synced yet; run 'marksync enable'\n", ui.RenderWarn("⚠"))
			return nil
		}
		printTree(tree, 0)
		return nil
	},
}

func printTree(nodes []*bookmark.Bookmark, depth int) {
	for _, b := range nodes {
		title := fmt.Sprintf("%s %s", ui.RenderMuted(strconv.Itoa(b.ID)), b.Title)
		ui.Tree(os.Stdout, depth, title, b.URL, b.IsFolder())
		printTree(b.Children, depth+1)
	}
}

var addCmd = &cobra.Command{
	Use:     "add TITLE [URL]",
	GroupID: "data",
	Short:   "Add a bookmark, or a folder when no url is given",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt("parent")
		m := bookmark.Metadata{Title: args[0], Folder: len(args) == 1}
		if len(args) == 2 {
			m.URL = args[1]
		}
		return runEdit(cmd, convert.Edit{Type: bookmark.ChangeAdd, ParentID: parent, Metadata: m}, "Added")
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm ID",
	GroupID: "data",
	Short:   "Remove a bookmark or folder by synced id",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return runEdit(cmd, convert.Edit{Type: bookmark.ChangeRemove, ID: id}, "Removed")
	},
}

func runEdit(cmd *cobra.Command, e convert.Edit, verb string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	resp := a.orch.SyncBookmarks(ctx, engine.Request{Type: engine.TypeLocal, Edit: &e})
	if resp.Err != nil {
		return syncError(resp.Err)
	}
	fmt.Printf("%s %s (%d bookmarks)\n", ui.RenderPass("✓"), verb, resp.Bookmarks.Count())
	return nil
}

func init() {
	exportCmd.Flags().String("format", "json", "Backup format: json or yaml (default from the file extension)")
	addCmd.Flags().Int("parent", 0, "Synced id of the folder to add into (default: Other)")

	rootCmd.AddCommand(restoreCmd, exportCmd, listCmd, addCmd, rmCmd)
}
