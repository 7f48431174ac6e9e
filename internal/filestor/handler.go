// =============================================================================
// FILESTOR HANDLER - THE SHARED DISPATCH AND LOCKING CORE
// =============================================================================
//
// WHAT IS THE HANDLER?
// The handler sits between the node's message source and the worker threads
// doing bucket I/O. Producers push decoded storage commands in with Schedule;
// workers pull them back out with GetNextMessage, which hands each one over
// together with an acquired bucket lock. Everything the node needs to reason
// about concurrent bucket access funnels through here:
//
//   ┌───────────────┐ Schedule  ┌───────────────────────────┐ GetNextMessage
//   │ RPC receive   │──────────►│ Handler                   │◄───────────────┐
//   │ threads       │           │  disk[0]: stripes + locks │                │
//   └───────────────┘           │  disk[1]: stripes + locks │   ┌──────────┐ │
//                               │  merge status, pause gate │   │ workers  │─┘
//                               └───────────────────────────┘   └──────────┘
//
// LOCK HIERARCHY:
// At most one stripe monitor is held at a time, except during remap, which
// locks the source and target stripes together in a fixed (disk, stripe)
// order. The pause monitor and the merge mutex are leaf locks on their own
// paths: neither is ever held while entering a stripe, and remap defers its
// merge aborts until every stripe monitor is dropped. The message sender is
// likewise never called under any internal lock.
//
// =============================================================================

package filestor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"filestor/internal/document"
	"filestor/internal/metrics"
	"filestor/internal/spi"
	"filestor/internal/storageapi"
)

// Config holds the handler's tunables. A plain record is enough; everything
// is fixed after construction.
type Config struct {
	// NumStripes is the stripe count per disk. Should be at least the
	// per-disk worker count so workers can spread out.
	NumStripes int

	// GetNextMessageTimeout bounds one dispatch wait. Workers use this as
	// their tick interval when idle.
	GetNextMessageTimeout time.Duration
}

// DefaultConfig returns the defaults used by the daemon.
func DefaultConfig() Config {
	return Config{
		NumStripes:            8,
		GetNextMessageTimeout: 100 * time.Millisecond,
	}
}

// ErrNoDisks is returned when the partition snapshot contains no disks.
var ErrNoDisks = errors.New("filestor: no disks configured")

// outOfBandIDBase tags message ids generated for out-of-band locks so they
// can never collide with upstream-assigned ids.
const outOfBandIDBase = uint64(1) << 63

// Handler owns all dispatch state for one storage node.
type Handler struct {
	cfg     Config
	logger  *slog.Logger
	sender  storageapi.MessageSender
	metrics *metrics.HandlerMetrics
	factory *document.BucketIDFactory

	disks []*disk

	// mergeMu protects merges only and is never held across a call into
	// a stripe.
	mergeMu sync.Mutex
	merges  map[document.BucketID]*MergeStatus

	// pauseMu/pauseCond gate workers while the node is paused for
	// coordinated maintenance.
	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    atomic.Bool

	nextOutOfBandID atomic.Uint64
}

// NewHandler builds a handler with one disk per partition in the snapshot.
// Partitions reported down start out DISABLED_BY_MAINTENANCE.
func NewHandler(cfg Config, sender storageapi.MessageSender, m *metrics.HandlerMetrics,
	partitions *spi.PartitionStateList, factory *document.BucketIDFactory,
	logger *slog.Logger) (*Handler, error) {

	if partitions.Len() == 0 {
		return nil, ErrNoDisks
	}
	if cfg.NumStripes <= 0 {
		cfg.NumStripes = DefaultConfig().NumStripes
	}
	if cfg.GetNextMessageTimeout <= 0 {
		cfg.GetNextMessageTimeout = DefaultConfig().GetNextMessageTimeout
	}
	if m == nil {
		m = metrics.NopHandlerMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		cfg:     cfg,
		logger:  logger,
		sender:  sender,
		metrics: m,
		factory: factory,
		merges:  make(map[document.BucketID]*MergeStatus),
	}
	h.pauseCond = sync.NewCond(&h.pauseMu)
	h.nextOutOfBandID.Store(outOfBandIDBase)

	h.disks = make([]*disk, partitions.Len())
	for i := range h.disks {
		h.disks[i] = newDisk(h, sender, m, logger, i, cfg.NumStripes)
		if !partitions.IsUp(i) {
			h.disks[i].setState(DiskDisabledByMaintenance)
		}
	}
	return h, nil
}

// NumDisks returns the disk count.
func (h *Handler) NumDisks() int { return len(h.disks) }

// NumStripes returns the per-disk stripe count.
func (h *Handler) NumStripes() int { return h.cfg.NumStripes }

func (h *Handler) disk(idx int) *disk {
	if idx < 0 || idx >= len(h.disks) {
		panic(fmt.Sprintf("filestor: disk index %d out of range [0,%d)", idx, len(h.disks)))
	}
	return h.disks[idx]
}

// =============================================================================
// SCHEDULING AND DISPATCH
// =============================================================================

// Schedule queues a command on a disk. Returns false when the disk is not
// open; the caller is expected to answer the message with a disk-down reply.
func (h *Handler) Schedule(cmd storageapi.Command, diskIdx int) bool {
	d := h.disk(diskIdx)
	if !d.schedule(cmd, time.Now()) {
		h.metrics.Rejected(diskIdx)
		return false
	}
	h.metrics.Scheduled(diskIdx)
	return true
}

// GetNextMessage returns the next runnable message on the given stripe
// together with its acquired bucket lock, or an empty LockedMessage after
// the configured timeout, on pause, or when the disk is closed.
func (h *Handler) GetNextMessage(diskIdx, stripeID int) LockedMessage {
	d := h.disk(diskIdx)
	if stripeID < 0 || stripeID >= len(d.stripes) {
		panic(fmt.Sprintf("filestor: stripe index %d out of range [0,%d)", stripeID, len(d.stripes)))
	}
	if !h.tryHandlePause(d) {
		return LockedMessage{} // still paused, let the worker tick
	}
	return d.getNextMessage(stripeID, h.cfg.GetNextMessageTimeout)
}

// NextStripeID returns a round-robin starting stripe for workers without a
// preference. Workers should still try every stripe before blocking so a
// deep stripe cannot starve while others idle.
func (h *Handler) NextStripeID(diskIdx int) int {
	return h.disk(diskIdx).nextStripeID()
}

// Lock takes an out-of-band lock on a bucket, blocking until compatible.
// The handle must be released like any dispatch lock.
func (h *Handler) Lock(bucket document.BucketID, diskIdx int, mode storageapi.LockMode) *BucketLock {
	return h.disk(diskIdx).lock(bucket, mode, h.nextOutOfBandID.Add(1))
}

// isPaused is read by stripes during dispatch. Plain atomic load; there are
// no data dependencies hanging off the flag.
func (h *Handler) isPaused() bool {
	return h.paused.Load()
}

// tryHandlePause waits a single bounded time for an unpause when the handler
// is paused, then reports whether dispatch may proceed.
func (h *Handler) tryHandlePause(d *disk) bool {
	if !h.isPaused() {
		return true
	}
	if !d.isClosed() {
		h.pauseMu.Lock()
		if h.paused.Load() {
			h.pauseTimedWaitLocked(100 * time.Millisecond)
		}
		h.pauseMu.Unlock()
	}
	return !h.isPaused()
}

// pauseTimedWaitLocked waits on the pause condition for at most d. Caller
// must hold pauseMu.
func (h *Handler) pauseTimedWaitLocked(d time.Duration) {
	t := time.AfterFunc(d, func() {
		h.pauseMu.Lock()
		h.pauseCond.Broadcast()
		h.pauseMu.Unlock()
	})
	defer t.Stop()
	h.pauseCond.Wait()
}

// =============================================================================
// PAUSE / RESUME
// =============================================================================

// ResumeGuard resumes the handler when released. Releasing more than once is
// harmless; never releasing wedges every worker, so guards should be handled
// like held mutexes.
type ResumeGuard struct {
	h    *Handler
	once sync.Once
}

// Resume lifts the pause.
func (g *ResumeGuard) Resume() {
	g.once.Do(g.h.resume)
}

// Pause gates all dispatch and waits for in-flight operations to finish, so
// the caller observes a node with no bucket activity. Scheduling stays open;
// queues simply grow until the guard is released.
func (h *Handler) Pause() *ResumeGuard {
	h.paused.Store(true)
	h.logger.Info("filestor handler paused")
	h.waitUntilNoLocks()
	return &ResumeGuard{h: h}
}

func (h *Handler) resume() {
	h.pauseMu.Lock()
	h.paused.Store(false)
	h.pauseCond.Broadcast()
	h.pauseMu.Unlock()
	h.logger.Info("filestor handler resumed")
}

func (h *Handler) waitUntilNoLocks() {
	for _, d := range h.disks {
		d.waitUntilNoLocks()
	}
}

// =============================================================================
// DISK STATE / SHUTDOWN
// =============================================================================

// GetDiskState returns the disk's current state.
func (h *Handler) GetDiskState(diskIdx int) DiskState {
	return h.disk(diskIdx).getState()
}

// SetDiskState transitions a disk. Disabling drains the disk before
// returning (dispatch keeps running, only new work is refused, so the drain
// terminates). Closing wakes everything instead: queued work on a closed
// disk is discarded and upstream retries re-drive it.
func (h *Handler) SetDiskState(diskIdx int, state DiskState) {
	d := h.disk(diskIdx)
	d.setState(state)
	switch state {
	case DiskClosed:
		d.markClosed()
		d.broadcast()
	case DiskDisabledByMaintenance:
		d.flush()
	}
}

// Close transitions every open disk to CLOSED and wakes all stripe waiters
// so blocked workers observe the close and return empty.
func (h *Handler) Close() {
	for i, d := range h.disks {
		if d.getState() == DiskOpen {
			h.logger.Debug("closing disk", "disk", i)
			d.setState(DiskClosed)
		}
		d.markClosed()
		d.broadcast()
	}
}

// Flush drains every disk (queues empty, all locks released). With
// killPendingMerges, every reply a tracked merge still owes is answered
// ABORTED and the merge map is cleared.
func (h *Handler) Flush(killPendingMerges bool) {
	for i, d := range h.disks {
		h.logger.Debug("flushing disk", "disk", i)
		d.flush()
	}

	if killPendingMerges {
		result := storageapi.NewResult(storageapi.Aborted, "storage node is shutting down")

		h.mergeMu.Lock()
		var owed []storageapi.Reply
		for _, status := range h.merges {
			owed = append(owed, status.pendingReplies()...)
		}
		h.merges = make(map[document.BucketID]*MergeStatus)
		h.mergeMu.Unlock()

		for _, reply := range owed {
			reply.SetResult(result)
			h.sender.SendReply(reply)
		}
	}
}

// =============================================================================
// QUEUE MAINTENANCE
// =============================================================================

// FailOperations flushes queued operations for a bucket on one disk with the
// given result. In-flight work is untouched.
func (h *Handler) FailOperations(bucket document.BucketID, diskIdx int, result storageapi.Result) {
	h.disk(diskIdx).failOperations(bucket, result)
}

// AbortQueuedOperations flushes every queued, abortable operation the
// command matches across all disks, answers them ABORTED, and then waits for
// matching in-flight operations to drain. Queue clearing and draining happen
// in two passes so workers can retire running operations in parallel.
func (h *Handler) AbortQueuedOperations(cmd *storageapi.AbortBucketOperationsCommand) {
	result := storageapi.NewResult(storageapi.Aborted,
		"sending distributor no longer owns the bucket the operation was bound to")

	aborted := 0
	for _, d := range h.disks {
		for _, reply := range d.abort(cmd) {
			reply.SetResult(result)
			h.sender.SendReply(reply)
			aborted++
		}
	}
	h.metrics.Aborted(aborted)

	for _, d := range h.disks {
		d.waitInactive(cmd)
	}
}

// QueueSize returns the total queued message count across all disks.
func (h *Handler) QueueSize() int {
	sum := 0
	for _, d := range h.disks {
		sum += d.queueSize()
	}
	return sum
}

// QueueSizeDisk returns the queued message count for one disk.
func (h *Handler) QueueSizeDisk(diskIdx int) int {
	return h.disk(diskIdx).queueSize()
}

// =============================================================================
// MERGE STATUS TRACKING
// =============================================================================

// AddMergeStatus starts tracking a merge for the bucket. An existing status
// is overwritten; that normally signals an upstream retry racing the old
// merge, so it is logged.
func (h *Handler) AddMergeStatus(bucket document.BucketID, status *MergeStatus) {
	h.mergeMu.Lock()
	if _, exists := h.merges[bucket]; exists {
		h.logger.Warn("merge status already exists, overwriting", "bucket", bucket)
	}
	h.merges[bucket] = status
	h.mergeMu.Unlock()
}

// ErrNoMergeStatus is returned when editing a merge that is not tracked.
var ErrNoMergeStatus = errors.New("filestor: no merge status for bucket")

// EditMergeStatus runs edit on the tracked status under the merge mutex.
// The callback must not call back into the handler.
func (h *Handler) EditMergeStatus(bucket document.BucketID, edit func(*MergeStatus)) error {
	h.mergeMu.Lock()
	defer h.mergeMu.Unlock()
	status, ok := h.merges[bucket]
	if !ok {
		return ErrNoMergeStatus
	}
	edit(status)
	return nil
}

// IsMerging reports whether the bucket has a tracked merge.
func (h *Handler) IsMerging(bucket document.BucketID) bool {
	h.mergeMu.Lock()
	defer h.mergeMu.Unlock()
	_, ok := h.merges[bucket]
	return ok
}

// NumActiveMerges returns the tracked merge count.
func (h *Handler) NumActiveMerges() int {
	h.mergeMu.Lock()
	defer h.mergeMu.Unlock()
	return len(h.merges)
}

// ClearMergeStatus stops tracking the bucket's merge. With a non-nil result,
// every reply the merge still owes is answered with it. Replies go out after
// the merge mutex is dropped.
func (h *Handler) ClearMergeStatus(bucket document.BucketID, result *storageapi.Result) {
	h.mergeMu.Lock()
	status, ok := h.merges[bucket]
	if !ok {
		h.mergeMu.Unlock()
		h.logger.Debug("no merge status to clear", "bucket", bucket)
		return
	}
	delete(h.merges, bucket)
	h.mergeMu.Unlock()

	if result == nil {
		return
	}
	for _, reply := range status.pendingReplies() {
		reply.SetResult(*result)
		h.logger.Debug("aborting merge, replying",
			"bucket", bucket, "type", reply.Type().String(), "result", result.String())
		h.sender.SendReply(reply)
	}
}

// =============================================================================
// METRICS PUBLICATION
// =============================================================================

// UpdateMetrics publishes the sampled gauges (queue depths, merge count).
// The daemon calls this on a short ticker, mirroring the metric update hook
// the counters alone cannot cover.
func (h *Handler) UpdateMetrics() {
	for i, d := range h.disks {
		h.metrics.SetQueueSize(i, d.queueSize())
		for j, s := range d.stripes {
			h.metrics.SetStripeQueueSize(i, j, s.queueSize())
		}
	}
	h.metrics.SetActiveMerges(h.NumActiveMerges())
}
