// =============================================================================
// DISK - A FIXED VECTOR OF STRIPES PLUS A STATE
// =============================================================================
//
// One Disk fronts one backing persistence partition. It owns N stripes (N is
// fixed at startup, typically at least the worker count for the disk) and a
// coarse state:
//
//   OPEN      accepting and dispatching work
//   CLOSED    terminal; queues flushed, workers told to exit
//   DISABLED  disabled by maintenance; rejects new work, may reopen
//
// STRIPE ROUTING:
// stripeIndex = (bucketId * FNV-1 prime) mod N. Bucket ids have strongly
// biased bit patterns (depth in the high bits, sibling structure in the low
// bits), so adjacent siblings would pile onto one stripe under a raw modulo.
// Multiplying by the 64-bit FNV-1 prime disperses the bits first.
//
// The state lives in an atomic read without ordering obligations; paths that
// need close-then-wake causality re-check under the stripe monitor after the
// close broadcast.
//
// =============================================================================

package filestor

import (
	"log/slog"
	"sync/atomic"
	"time"

	"filestor/internal/document"
	"filestor/internal/metrics"
	"filestor/internal/storageapi"
)

// DiskState is the coarse availability state of one disk.
type DiskState int32

const (
	// DiskOpen accepts and dispatches work.
	DiskOpen DiskState = iota

	// DiskClosed is terminal for the process lifetime.
	DiskClosed

	// DiskDisabledByMaintenance rejects new work but may reopen.
	DiskDisabledByMaintenance
)

func (s DiskState) String() string {
	switch s {
	case DiskOpen:
		return "OPEN"
	case DiskClosed:
		return "CLOSED"
	case DiskDisabledByMaintenance:
		return "DISABLED_BY_MAINTENANCE"
	default:
		return "INVALID"
	}
}

// fnv1Prime64 is the 64-bit FNV-1 prime used to disperse bucket bits before
// the stripe modulo.
const fnv1Prime64 = 1099511628211

// stripeIndexFor is the pure bucket -> stripe mapping.
func stripeIndexFor(bucket document.BucketID, numStripes int) int {
	return int((uint64(bucket) * fnv1Prime64) % uint64(numStripes))
}

type disk struct {
	idx     int
	stripes []*stripe

	// state transitions OPEN -> CLOSED (terminal) and
	// OPEN <-> DISABLED_BY_MAINTENANCE.
	state atomic.Int32

	// nextStripe hands out starting points for workers with no stripe
	// preference.
	nextStripe atomic.Uint32
}

func newDisk(owner pauseChecker, sender storageapi.MessageSender, m *metrics.HandlerMetrics,
	logger *slog.Logger, idx, numStripes int) *disk {
	d := &disk{idx: idx, stripes: make([]*stripe, numStripes)}
	for i := range d.stripes {
		d.stripes[i] = newStripe(owner, sender, m, logger, idx, i)
	}
	return d
}

func (d *disk) getState() DiskState {
	return DiskState(d.state.Load())
}

func (d *disk) setState(s DiskState) {
	d.state.Store(int32(s))
}

func (d *disk) isClosed() bool {
	return d.getState() == DiskClosed
}

// stripeFor routes a bucket to its stripe.
func (d *disk) stripeFor(bucket document.BucketID) *stripe {
	return d.stripes[stripeIndexFor(bucket, len(d.stripes))]
}

// schedule enqueues the command on the owning stripe, or reports false when
// the disk is not open.
func (d *disk) schedule(cmd storageapi.Command, now time.Time) bool {
	if d.getState() != DiskOpen {
		return false
	}
	entry := newMessageEntry(cmd, now)
	return d.stripeFor(entry.bucket).schedule(entry)
}

// getNextMessage delegates to one stripe.
func (d *disk) getNextMessage(stripeID int, timeout time.Duration) LockedMessage {
	return d.stripes[stripeID].getNextMessage(timeout, d)
}

// lock takes an out-of-band lock on the bucket's stripe.
func (d *disk) lock(bucket document.BucketID, mode storageapi.LockMode, msgID uint64) *BucketLock {
	return d.stripeFor(bucket).lock(bucket, mode, msgID)
}

// nextStripeID returns a round-robin starting stripe for a worker.
func (d *disk) nextStripeID() int {
	return int(d.nextStripe.Add(1)-1) % len(d.stripes)
}

func (d *disk) queueSize() int {
	sum := 0
	for _, s := range d.stripes {
		sum += s.queueSize()
	}
	return sum
}

func (d *disk) broadcast() {
	for _, s := range d.stripes {
		s.broadcast()
	}
}

func (d *disk) markClosed() {
	for _, s := range d.stripes {
		s.markClosed()
	}
}

func (d *disk) flush() {
	for _, s := range d.stripes {
		s.flush()
	}
}

func (d *disk) waitUntilNoLocks() {
	for _, s := range d.stripes {
		s.waitUntilNoLocks()
	}
}

func (d *disk) waitInactive(cmd *storageapi.AbortBucketOperationsCommand) {
	for _, s := range d.stripes {
		s.waitInactive(cmd)
	}
}

func (d *disk) abort(cmd *storageapi.AbortBucketOperationsCommand) []storageapi.Reply {
	var replies []storageapi.Reply
	for _, s := range d.stripes {
		replies = append(replies, s.abort(cmd)...)
	}
	return replies
}

func (d *disk) failOperations(bucket document.BucketID, result storageapi.Result) {
	d.stripeFor(bucket).failOperations(bucket, result)
}
