package daemon_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/marksync/marksync/internal/bookmark"
	"github.com/marksync/marksync/internal/containers"
	"github.com/marksync/marksync/internal/convert"
	"github.com/marksync/marksync/internal/daemon"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	engine "github.com/marksync/marksync/internal/sync"
)

// Example shows native edits being debounced into a single push.
func Example() {
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	ns := native.NewMemStore()
	kv := store.NewMemory()
	mapper := idmap.New(kv)
	rconfig := containers.DefaultConfig()
	rconfig.Logger = quiet
	conv := convert.New(containers.New(ns, kv, rconfig), mapper, quiet)

	client := remote.NewMemory()
	oconfig := engine.DefaultConfig()
	oconfig.Logger = quiet
	orch := engine.New(kv, client, conv, mapper, oconfig)

	d, err := daemon.NewWithConfig(orch, conv, mapper, kv, &daemon.Config{
		DebounceInterval: time.Hour,
		CheckInterval:    time.Hour,
		Logger:           quiet,
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer d.Stop()

	if resp := orch.EnableSync(ctx, engine.DirectionUpload); resp.Err != nil {
		fmt.Println(resp.Err)
		return
	}

	ns.Create(ctx, native.CreateDetails{ParentID: native.OtherID, Index: -1, Title: "Go", URL: "https://go.dev"})
	ns.Create(ctx, native.CreateDetails{ParentID: native.OtherID, Index: -1, Title: "-", URL: bookmark.BlankPageURL})
	fmt.Println("pending:", d.Pending())

	d.ProcessEvents(ctx)

	payload, _ := client.Pull(ctx)
	var tree bookmark.Bookmarks
	json.Unmarshal(payload.Data, &tree)
	fmt.Println("version:", payload.Version)
	for _, b := range tree.Container(bookmark.ContainerOther).Children {
		fmt.Printf("%q %q\n", b.Title, b.URL)
	}

	// Output:
	// pending: 2
	// version: v2
	// "Go" "https://go.dev"
	// "-" ""
}
