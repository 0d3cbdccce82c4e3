// Package daemon turns native bookmark events into syncs.
//
// # Architecture
//
// The Daemon subscribes to the native store as its single event handler.
// Events are appended to a FIFO queue and a debounce timer is restarted on
// every arrival:
//
//	native store ──events──► FIFO ──(quiet for DebounceInterval)──► drain
//	                                                                 │
//	                        orchestrator.Queue(change) ◄─────────────┤
//	                        orchestrator.ExecuteSync   ◄─────────────┤
//	                        ReorderUnsupportedContainers ◄───────────┘
//
// While draining, each event becomes one change:
//
//   - created: separators are brought into canonical form, then Add
//   - changed, moved: the node is re-read and separators converted; a
//     separator recreated under a new id has its mapping moved over
//   - removed: Remove of the removed subtree
//
// Self-inflicted native mutations (separator conversion, container
// reordering, pulls) happen with the subscription closed and the
// orchestrator's sync slot held, so they never come back as events and a
// drain never reopens the subscription under a running pull. Each event is
// stamped with the orchestrator's generation on arrival; changes from
// before a pull rebuilt the tree are dropped.
//
// # Update checks
//
// Start runs an immediate remote update check and then one every
// CheckInterval. Offline checks are logged and skipped; if the remote no
// longer holds any data, sync is disabled.
//
// # Usage
//
//	d, err := daemon.NewWithConfig(orch, conv, mapper, kv, &daemon.Config{
//	    DebounceInterval: 200 * time.Millisecond,
//	    CheckInterval:    15 * time.Minute,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
package daemon
