package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configFile string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Keep a local bookmark tree in sync with a remote copy",
	Long: `marksync mirrors a local bookmark tree to a remote store and back.

Local edits are batched and pushed as one update; remote updates are pulled
on a schedule and replace the local tree. Configuration is read from
~/.marksync/config.yaml and MARKSYNC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.marksync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log to the log file")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Bookmark Commands:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
