// =============================================================================
// PRIORITY QUEUE - THE PER-STRIPE MULTI-INDEX CONTAINER
// =============================================================================
//
// WHAT IS THIS?
// Each stripe queues pending messages indexed three ways:
//
//   1. By priority, FIFO within a level  -> dispatch scan order
//   2. By bucket                         -> remap / fail / abort lookups
//   3. By insertion                      -> append order breaks priority
//                                           ties in arrival order
//
// HOW IT IS BUILT:
// Priority is a uint8, so index 1 is simply an array of 256 FIFO slices; a
// dispatch scan walks levels 0..255 and inside a level left to right. That
// gives the exact ordering guarantee the dispatcher needs (priority first,
// then arrival) with O(1) enqueue and no heap bookkeeping. Index 2 is a
// bucket -> entries map maintained alongside.
//
// Removal from the middle of a level is a linear splice. Queue depth per
// stripe is bounded by upstream flow control to at most a few thousand
// entries, and removals outside the scan path happen on maintenance events
// (remap, abort), not per message.
//
// NOT thread safe. The owning stripe serializes access under its monitor.
//
// =============================================================================

package filestor

import (
	"filestor/internal/document"
)

// numPriorityLevels spans the full uint8 priority range.
const numPriorityLevels = 256

type priorityQueue struct {
	// levels holds the per-priority FIFO slices.
	levels [numPriorityLevels][]*MessageEntry

	// byBucket indexes the same entries by their current bucket, in
	// insertion order.
	byBucket map[document.BucketID][]*MessageEntry

	// size is the live entry count across all levels.
	size int
}

func newPriorityQueue() priorityQueue {
	return priorityQueue{byBucket: make(map[document.BucketID][]*MessageEntry)}
}

// push appends the entry to its priority level and bucket index. Appending
// is what makes equal-priority order arrival order. A remap re-enqueue
// appends too: entries moved together keep their relative order and queue
// behind the entries already at the destination.
func (q *priorityQueue) push(e *MessageEntry) {
	q.levels[e.priority] = append(q.levels[e.priority], e)
	q.byBucket[e.bucket] = append(q.byBucket[e.bucket], e)
	q.size++
}

// remove unlinks the entry from both indexes. The entry must be present;
// removing an unknown entry corrupts the size count, so it panics.
func (q *priorityQueue) remove(e *MessageEntry) {
	level := q.levels[e.priority]
	li := indexOf(level, e)
	if li < 0 {
		panic("filestor: queue entry missing from priority index")
	}
	q.levels[e.priority] = append(level[:li], level[li+1:]...)

	bucketed := q.byBucket[e.bucket]
	bi := indexOf(bucketed, e)
	if bi < 0 {
		panic("filestor: queue entry missing from bucket index")
	}
	if len(bucketed) == 1 {
		delete(q.byBucket, e.bucket)
	} else {
		q.byBucket[e.bucket] = append(bucketed[:bi], bucketed[bi+1:]...)
	}
	q.size--
}

func indexOf(entries []*MessageEntry, e *MessageEntry) int {
	for i, candidate := range entries {
		if candidate == e {
			return i
		}
	}
	return -1
}

// entriesFor returns the queued entries for a bucket in insertion order.
// The returned slice is a copy; removing through it is safe.
func (q *priorityQueue) entriesFor(bucket document.BucketID) []*MessageEntry {
	entries := q.byBucket[bucket]
	if len(entries) == 0 {
		return nil
	}
	out := make([]*MessageEntry, len(entries))
	copy(out, entries)
	return out
}

// takeBucket removes and returns every entry for a bucket, in insertion
// order.
func (q *priorityQueue) takeBucket(bucket document.BucketID) []*MessageEntry {
	entries := q.entriesFor(bucket)
	for _, e := range entries {
		q.remove(e)
	}
	return entries
}

// inPriorityOrder returns all entries in dispatch order: ascending priority,
// arrival order within a level. The slice is a copy.
func (q *priorityQueue) inPriorityOrder() []*MessageEntry {
	out := make([]*MessageEntry, 0, q.size)
	for p := 0; p < numPriorityLevels; p++ {
		out = append(out, q.levels[p]...)
	}
	return out
}

func (q *priorityQueue) len() int {
	return q.size
}
