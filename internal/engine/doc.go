// Package engine implements the locket sync engine.
//
// The engine scans the store for signed local records, anchors them as one
// batch through the control-plane and writes the anchored status back in a
// single SaveEvents call.
//
// ARCHITECTURE:
//
// Mutual exclusion:
// One atomic "syncing" flag guards the scan -> submit -> write-back
// critical section. A sync requested while another is in flight is a
// silent no-op reported as Report.Skipped. Status listeners observe every
// transition of the flag.
//
// Triggering:
// Callers on the write path never run a sync themselves. They call
// Request, which parks a wake-up in a single-slot channel. Run is the only
// consumer: it drains requests and fires a threshold-gated sync on a
// ticker. Bursts of requests coalesce into one sync.
//
// Partitioning:
// Loaded records split into anchored (ignored), pending (local with a
// signature) and orphans (local without a signature, logged and counted).
// Dummy records never reach the engine because LoadEvents excludes them.
//
// CRITICAL PATTERNS:
//
// Write-back is all or nothing. On any anchor failure no record changes
// status and the next sync retries the same batch. Each batch item carries
// "asset-<record id>" as its asset id, so the ledger's existence check
// deduplicates a batch re-submitted after a crash between the remote
// commit and the local write-back.
package engine
