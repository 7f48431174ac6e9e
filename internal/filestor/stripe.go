// =============================================================================
// STRIPE - ONE INDEPENDENT DISPATCH SHARD
// =============================================================================
//
// WHAT IS A STRIPE?
// A stripe owns one slice of a disk's dispatch state: a multi-index queue, a
// bucket lock table and a monitor (mutex + condition variable). Buckets hash
// to exactly one stripe, so all ordering and locking decisions for a bucket
// are local to a single monitor and worker threads on different stripes never
// contend with each other.
//
// THE DISPATCH CONTRACT (GetNextMessage):
// Under the monitor, scan the queue in priority order (arrival order within a
// level). For each entry:
//
//   - if it has sat in the queue past its own timeout, reap it: remove and
//     synthesize a TIMEOUT reply instead of running it
//   - if its bucket admits the required lock mode, move it from the queue to
//     the lock table in the same critical section and hand it out with a
//     BucketLock handle
//   - otherwise skip it and keep scanning
//
// If nothing is runnable, wait on the monitor (bounded) and rescan once; the
// bounded wait is what lets worker run loops tick at regular intervals
// instead of parking forever. A closed disk or a paused handler ends the
// scan immediately so workers can drain.
//
// Synthetic replies are always delivered after the monitor is dropped; the
// message sender is foreign code and must not run under a stripe lock.
//
// =============================================================================

package filestor

import (
	"log/slog"
	"sync"
	"time"

	"filestor/internal/document"
	"filestor/internal/metrics"
	"filestor/internal/storageapi"
)

// LockedMessage pairs a dispatched command with its held bucket lock. The
// zero value means "nothing dispatched" (timeout, closed or paused).
type LockedMessage struct {
	Msg  storageapi.Command
	Lock *BucketLock
}

// Empty reports whether the dispatch produced nothing.
func (lm LockedMessage) Empty() bool {
	return lm.Msg == nil
}

// pauseChecker is the one piece of handler state a stripe consults during
// dispatch. Constructing stripes against this interface instead of the
// Handler keeps the dependency one-way.
type pauseChecker interface {
	isPaused() bool
}

type stripe struct {
	owner   pauseChecker
	sender  storageapi.MessageSender
	metrics *metrics.HandlerMetrics
	logger  *slog.Logger
	diskIdx int
	idx     int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  priorityQueue
	locks  lockTable
	closed bool
}

func newStripe(owner pauseChecker, sender storageapi.MessageSender, m *metrics.HandlerMetrics,
	logger *slog.Logger, diskIdx, idx int) *stripe {
	s := &stripe{
		owner:   owner,
		sender:  sender,
		metrics: m,
		logger:  logger,
		diskIdx: diskIdx,
		idx:     idx,
		queue:   newPriorityQueue(),
		locks:   make(lockTable),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// timedWait blocks on the stripe condition for at most d. The caller must
// hold s.mu. Wakes on broadcast or when d elapses; either way the caller
// rechecks its predicate.
func (s *stripe) timedWait(d time.Duration) {
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer t.Stop()
	s.cond.Wait()
}

// schedule enqueues the entry and wakes a waiter. Returns false only when the
// stripe has been closed; the caller turns that into a rejection upstream.
func (s *stripe) schedule(e *MessageEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue.push(e)
	s.cond.Broadcast()
	return true
}

// getNextMessage blocks until a runnable message is found, the timeout
// elapses, the disk closes, or the handler pauses. At most one bounded wait
// happens per call: scan, wait, scan again, give up.
func (s *stripe) getNextMessage(timeout time.Duration, d *disk) LockedMessage {
	var reaped []storageapi.Reply
	var lm LockedMessage

	s.mu.Lock()
	for attempt := 0; attempt < 2 && !d.isClosed() && !s.owner.isPaused(); attempt++ {
		lm, reaped = s.dispatchLocked(reaped)
		if !lm.Empty() {
			break
		}
		if attempt == 0 {
			s.timedWait(timeout)
		}
	}
	s.mu.Unlock()

	for _, reply := range reaped {
		s.sender.SendReply(reply)
	}
	return lm
}

// dispatchLocked runs one scan over the queue in priority order. Expired
// entries are reaped into TIMEOUT replies (returned for delivery outside the
// lock); the first runnable entry is moved into the lock table and returned.
// Caller must hold s.mu.
func (s *stripe) dispatchLocked(reaped []storageapi.Reply) (LockedMessage, []storageapi.Reply) {
	now := time.Now()
	for p := 0; p < numPriorityLevels; p++ {
		i := 0
		for i < len(s.queue.levels[p]) {
			e := s.queue.levels[p][i]
			if e.timedOut(now) {
				s.queue.remove(e)
				s.metrics.QueueTimeout(s.diskIdx, e.waitTime(now).Seconds())
				reply := e.msg.MakeReply()
				reply.SetResult(storageapi.NewResult(storageapi.Timeout,
					"message waited too long in storage queue"))
				reaped = append(reaped, reply)
				continue
			}
			if !s.locks.isLocked(e.bucket, e.msg.LockMode()) {
				s.queue.remove(e)
				s.metrics.Dispatched(s.diskIdx, e.waitTime(now).Seconds())
				lock := s.lockForEntryLocked(e.bucket, e.msg.LockMode(), lockEntry{
					acquired: now,
					priority: e.priority,
					msgType:  e.msg.Type(),
					msgID:    e.msg.MsgID(),
				})
				return LockedMessage{Msg: e.msg, Lock: lock}, reaped
			}
			i++
		}
	}
	return LockedMessage{}, reaped
}

// lockForEntryLocked installs a holder and builds its handle. Zero buckets
// get a handle without a table entry. Caller must hold s.mu.
func (s *stripe) lockForEntryLocked(bucket document.BucketID, mode storageapi.LockMode, holder lockEntry) *BucketLock {
	if !bucket.IsZero() {
		s.locks.lock(bucket, mode, holder)
		s.metrics.LockAcquired(s.diskIdx, mode.String())
	}
	return &BucketLock{stripe: s, bucket: bucket, msgID: holder.msgID, mode: mode}
}

// lock acquires an out-of-band bucket lock, blocking while the bucket is
// held in a conflicting mode. Used by maintenance code that needs a bucket
// pinned without going through the queue.
func (s *stripe) lock(bucket document.BucketID, mode storageapi.LockMode, msgID uint64) *BucketLock {
	s.mu.Lock()
	for s.locks.isLocked(bucket, mode) {
		s.logger.Debug("contending for out-of-band bucket lock",
			"bucket", bucket, "mode", mode.String())
		s.timedWait(100 * time.Millisecond)
	}
	handle := s.lockForEntryLocked(bucket, mode, lockEntry{
		acquired: time.Now(),
		priority: 255,
		msgType:  storageapi.MessageTypeInternal,
		msgID:    msgID,
	})
	s.cond.Broadcast()
	s.mu.Unlock()
	return handle
}

// release drops a holder and wakes the stripe; a previously blocked entry
// for this bucket may now be runnable.
func (s *stripe) release(bucket document.BucketID, mode storageapi.LockMode, msgID uint64) {
	s.mu.Lock()
	if !bucket.IsZero() {
		s.locks.release(bucket, mode, msgID)
		s.metrics.LockReleased(s.diskIdx, mode.String())
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// failOperations flushes every queued entry for the bucket with the given
// result. Active (locked) work is untouched, and DeleteBucket entries stay
// queued: the bucket database has already been updated for those and the
// provider must still observe them.
func (s *stripe) failOperations(bucket document.BucketID, result storageapi.Result) {
	var replies []storageapi.Reply

	s.mu.Lock()
	for _, e := range s.queue.entriesFor(bucket) {
		if e.msg.Type() == storageapi.MessageTypeDeleteBucket {
			continue
		}
		s.queue.remove(e)
		s.metrics.FailedOperation(s.diskIdx)
		reply := e.msg.MakeReply()
		reply.SetResult(result)
		replies = append(replies, reply)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, reply := range replies {
		s.sender.SendReply(reply)
	}
}

// abort removes every queued entry the command matches and whose type is
// abortable, and returns the synthesized replies for the caller to finish
// and send. Locked (in-flight) work is never aborted here.
func (s *stripe) abort(cmd *storageapi.AbortBucketOperationsCommand) []storageapi.Reply {
	var replies []storageapi.Reply

	s.mu.Lock()
	for _, e := range s.queue.inPriorityOrder() {
		if e.msg.Type().MayBeAborted() && cmd.ShouldAbort(e.bucket) {
			s.queue.remove(e)
			replies = append(replies, e.msg.MakeReply())
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	return replies
}

// waitInactive blocks until no held lock belongs to a bucket the command
// matches. Combined with abort this gives callers a quiescent point before
// re-partitioning a bucket set.
func (s *stripe) waitInactive(cmd *storageapi.AbortBucketOperationsCommand) {
	s.mu.Lock()
	for s.hasActiveLocked(cmd) {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *stripe) hasActiveLocked(cmd *storageapi.AbortBucketOperationsCommand) bool {
	for bucket := range s.locks {
		if cmd.ShouldAbort(bucket) {
			return true
		}
	}
	return false
}

// waitUntilNoLocks blocks until every held lock is released.
func (s *stripe) waitUntilNoLocks() {
	s.mu.Lock()
	for len(s.locks) > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// flush blocks until the stripe is fully drained: empty queue, no locks.
func (s *stripe) flush() {
	s.mu.Lock()
	for s.queue.len() > 0 || len(s.locks) > 0 {
		s.logger.Debug("flushing stripe",
			"disk", s.diskIdx, "stripe", s.idx,
			"queued", s.queue.len(), "locked_buckets", len(s.locks))
		s.timedWait(100 * time.Millisecond)
	}
	s.mu.Unlock()
}

// markClosed stops the stripe from accepting new work and wakes all waiters
// so they can observe the closed disk.
func (s *stripe) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// broadcast wakes every waiter on the stripe monitor.
func (s *stripe) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *stripe) queueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}
