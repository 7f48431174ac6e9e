// =============================================================================
// REMAP - MOVING QUEUED WORK WHEN BUCKET IDENTITY CHANGES
// =============================================================================
//
// WHAT IS A REMAP?
// A split, join or move changes which bucket queued operations belong to
// while they are still waiting to run. Remap walks the source bucket's
// queued entries and, atomically under the involved stripe monitors:
//
//   MOVE   retargets everything to the single target bucket
//   SPLIT  routes each document operation to whichever child covers its
//          document id; entries with no document id no longer apply to any
//          child and are rejected with BUCKET_NOT_FOUND
//   JOIN   retargets everything to the parent
//
// The target bucket may hash to a different stripe, or even a different
// disk, so the rehash happens per entry and the entry is re-enqueued there.
//
// Merge-protocol messages are the exception: a merge cannot survive a split
// or join, so instead of remapping them the tracked merge is aborted with
// BUCKET_DELETED.
//
// LOCKING:
// All involved stripe monitors (source plus targets) are taken together, in
// ascending (disk, stripe) order, so concurrent remaps cannot deadlock.
// Locked (in-flight) messages are never remapped; callers quiesce them first
// via abort + waitInactive if they need to.
//
// =============================================================================

package filestor

import (
	"fmt"
	"sort"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// Operation is the kind of bucket identity change driving a remap.
type Operation int

const (
	OpMove Operation = iota
	OpSplit
	OpJoin
)

func (o Operation) String() string {
	switch o {
	case OpMove:
		return "move"
	case OpSplit:
		return "split"
	case OpJoin:
		return "join"
	default:
		return "invalid"
	}
}

// pastTense is for reply messages ("bucket was just split").
func (o Operation) pastTense() string {
	switch o {
	case OpMove:
		return "moved"
	case OpSplit:
		return "split"
	case OpJoin:
		return "joined"
	default:
		return "changed"
	}
}

// RemapInfo names one bucket involved in a remap and the disk it lives on.
// FoundInQueue is set when at least one queued entry was routed to this
// target, which callers use to decide whether bucket info must be rechecked.
type RemapInfo struct {
	Bucket       document.BucketID
	DiskIndex    int
	FoundInQueue bool
}

// RemapQueue remaps the source bucket's queued entries to a single target
// (MOVE or JOIN).
func (h *Handler) RemapQueue(source RemapInfo, target *RemapInfo, op Operation) {
	if op == OpSplit {
		panic("filestor: split remap requires two targets")
	}
	h.remapQueue(source, []*RemapInfo{target}, op)
}

// RemapQueueTwoTargets remaps the source bucket's queued entries across the
// two children of a SPLIT.
func (h *Handler) RemapQueueTwoTargets(source RemapInfo, target1, target2 *RemapInfo, op Operation) {
	if op != OpSplit {
		panic(fmt.Sprintf("filestor: two-target remap only applies to split, got %s", op))
	}
	h.remapQueue(source, []*RemapInfo{target1, target2}, op)
}

func (h *Handler) remapQueue(source RemapInfo, targets []*RemapInfo, op Operation) {
	srcStripe := h.disk(source.DiskIndex).stripeFor(source.Bucket)

	// Collect every stripe monitor involved and take them in a fixed
	// order. Source and target stripes may coincide.
	stripes := []*stripe{srcStripe}
	for _, t := range targets {
		if t == nil || t.Bucket.IsZero() {
			continue
		}
		stripes = append(stripes, h.disk(t.DiskIndex).stripeFor(t.Bucket))
	}
	stripes = dedupeStripes(stripes)
	for _, s := range stripes {
		s.mu.Lock()
	}

	// Failure replies are delivered after the stripe monitors are dropped.
	var failures []storageapi.Reply
	var abortedMerges []document.BucketID

	for _, e := range srcStripe.queue.takeBucket(source.Bucket) {
		newBucket, targetDisk, result, mergeAborted := h.remapMessage(e.msg, source, targets, op)

		if mergeAborted {
			abortedMerges = append(abortedMerges, source.Bucket)
		}
		if result.Failed() {
			h.logger.Debug("remap failed for queued message",
				"bucket", source.Bucket, "type", e.msg.Type().String(),
				"msg_id", e.msg.MsgID(), "result", result.String())
			reply := e.msg.MakeReply()
			reply.SetResult(result)
			failures = append(failures, reply)
			continue
		}

		e.msg.RemapBucketID(newBucket)
		e.bucket = newBucket
		dst := h.disk(targetDisk).stripeFor(newBucket)
		dst.queue.push(e)
		dst.cond.Broadcast()
		h.metrics.Remapped(op.String())
	}

	for _, s := range stripes {
		s.mu.Unlock()
	}

	// Merge aborts and failure replies run outside every stripe monitor;
	// both end up in foreign code (the message sender).
	for _, bucket := range abortedMerges {
		result := storageapi.NewResult(storageapi.BucketDeleted,
			fmt.Sprintf("bucket was just %s, cannot remap merge, aborting it", op.pastTense()))
		h.ClearMergeStatus(bucket, &result)
	}
	for _, reply := range failures {
		h.sender.SendReply(reply)
	}
}

// dedupeStripes sorts the stripes into the fixed global lock order and drops
// duplicates.
func dedupeStripes(stripes []*stripe) []*stripe {
	sort.Slice(stripes, func(i, j int) bool {
		if stripes[i].diskIdx != stripes[j].diskIdx {
			return stripes[i].diskIdx < stripes[j].diskIdx
		}
		return stripes[i].idx < stripes[j].idx
	})
	out := stripes[:0]
	var prev *stripe
	for _, s := range stripes {
		if s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}

// remapMessage decides where one queued message goes. It returns the new
// bucket and its disk on success, or a failing result. mergeAborted is set
// when the message belongs to the merge family and the tracked merge must be
// aborted by the caller (outside the stripe monitors).
func (h *Handler) remapMessage(msg storageapi.Command, source RemapInfo, targets []*RemapInfo,
	op Operation) (document.BucketID, int, storageapi.Result, bool) {

	ok := storageapi.Result{Code: storageapi.OK}

	switch {
	case msg.Type().IsDocumentOperation():
		if op != OpSplit {
			targets[0].FoundInQueue = true
			return targets[0].Bucket, targets[0].DiskIndex, ok, false
		}
		idx := h.targetIndexForDocument(msg.DocumentID(), targets)
		if idx < 0 {
			return 0, 0, storageapi.NewResult(storageapi.BucketNotFound,
				"document belongs in neither split target"), false
		}
		targets[idx].FoundInQueue = true
		return targets[idx].Bucket, targets[idx].DiskIndex, ok, false

	case msg.Type().IsMergeRelated():
		if op == OpMove {
			targets[0].FoundInQueue = true
			return targets[0].Bucket, targets[0].DiskIndex, ok, false
		}
		return 0, 0, storageapi.NewResult(storageapi.BucketDeleted,
			fmt.Sprintf("bucket was just %s, merge no longer applies", op.pastTense())), true

	default:
		// Bucket-level commands carry no document id, so a split has no
		// child they can apply to. Moves and joins have a sole target.
		if op == OpSplit {
			return 0, 0, storageapi.NewResult(storageapi.BucketNotFound,
				fmt.Sprintf("bucket was just split, %s no longer applies", msg.Type())), false
		}
		targets[0].FoundInQueue = true
		return targets[0].Bucket, targets[0].DiskIndex, ok, false
	}
}

// targetIndexForDocument returns which target covers the document, or -1
// when the message has no document id or neither target covers it. The
// bucket id factory recomputes the document's placement the same way the
// distributor did when it routed the original operation.
func (h *Handler) targetIndexForDocument(docID document.DocumentID, targets []*RemapInfo) int {
	if docID.IsZero() {
		return -1
	}
	location := docID.Location()
	if h.factory != nil {
		location = h.factory.BucketIDFor(docID).Raw()
	}
	for i, t := range targets {
		if t != nil && !t.Bucket.IsZero() && t.Bucket.ContainsLocation(location) {
			return i
		}
	}
	return -1
}
