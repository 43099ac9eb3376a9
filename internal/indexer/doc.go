// Package indexer implements the asynchronous indexing work queue.
//
// Accepted work items are deduplicated against pending work, driven through
// a bounded queue of background workers and, on failure, moved through a
// durable retry lifecycle until they either succeed or end up on the dead
// list. Both lists persist across restarts; items still queued at shutdown
// are snapshotted and re-queued on the next start.
package indexer
