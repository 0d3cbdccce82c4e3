// Package sync keeps the native bookmark store and the remote synced tree
// in step.
//
// Overview
//
// The Orchestrator owns the cached synced tree, the version it was last
// pushed or pulled at, and a queue of native changes waiting to be pushed.
// Only one sync runs at a time:
//
//	native events ──► daemon ──► Queue ──┐
//	                                     ▼
//	                      SyncBookmarks / ExecuteSync
//	                                     │
//	                ┌────────────────────┼─────────────────────┐
//	                ▼                    ▼                     ▼
//	         convert.ProcessChange   remote.Push          remote.Pull
//	         (cached tree, ids)      (one per batch)      (replace native)
//
// Request types
//
//   - TypeRemote and TypePush apply a native change to the cached tree.
//     TypePush without a change uploads the whole native tree.
//   - TypePull replaces the native tree with the remote tree.
//   - TypeBoth uploads a restored backup, or the native tree, and then
//     rebuilds the native tree from it.
//   - TypeLocal applies an edit to the synced tree and mirrors it natively.
//
// Conflicts
//
// Slot
//
// A sync holds the slot from admission until listeners have been
// re-evaluated. SyncBookmarks refuses to start while the slot is taken;
// ExecuteSync and Exclusive wait for it. Only the holder switches event
// listeners, so native writes made by a sync are never observed as user
// changes. Every native rebuild starts a new Generation, and queued changes
// observed in an older one are dropped.
//
// Pushes carry the version they were based on. When the remote rejects a
// push as out of sync, the orchestrator pulls once to refresh local data
// and then reports the original error. A native change to the container
// structure abandons the batch; the next sync starts with a pull.
//
// Usage
//
//	orch := sync.New(kv, client, conv, mapper, nil)
//	orch.SetListeners(d) // the daemon
//
//	resp := orch.EnableSync(ctx, sync.DirectionUpload)
//	if resp.Err != nil {
//	    return resp.Err
//	}
//
//	// Later, from the event queue:
//	orch.Queue(sync.Request{Type: sync.TypeRemote, Change: &change})
//	orch.ExecuteSync(ctx)
package sync
