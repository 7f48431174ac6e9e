// =============================================================================
// BUCKET LOCK TABLE - WHO IS ALLOWED TO TOUCH A BUCKET RIGHT NOW
// =============================================================================
//
// Each stripe tracks, for every bucket with in-flight work, either one
// exclusive holder or any number of shared holders keyed by unique message
// id. A bucket absent from the table is unlocked. The table is the other
// half of the stripe's dispatch invariant: an entry leaves the queue and
// enters this table in one step under the stripe monitor.
//
// The mutation methods panic on violations (double lock, release of an
// absent lock, mixed modes). Those are not runtime conditions to recover
// from; they mean the dispatch algorithm itself is broken.
//
// NOT thread safe. The owning stripe serializes access under its monitor.
//
// =============================================================================

package filestor

import (
	"fmt"
	"time"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// lockEntry describes one lock holder.
type lockEntry struct {
	acquired time.Time
	priority storageapi.Priority
	msgType  storageapi.MessageType
	msgID    uint64
}

// multiLockEntry is the lock state of one bucket: an exclusive holder or a
// set of shared holders, never both.
type multiLockEntry struct {
	exclusive *lockEntry
	shared    map[uint64]lockEntry
}

// lockTable maps locked buckets to their holders.
type lockTable map[document.BucketID]*multiLockEntry

// isLocked reports whether taking a lock of the given mode on the bucket
// would conflict with current holders. The zero bucket is never locked.
func (t lockTable) isLocked(bucket document.BucketID, mode storageapi.LockMode) bool {
	if bucket.IsZero() {
		return false
	}
	entry, ok := t[bucket]
	if !ok {
		return false
	}
	if entry.exclusive != nil {
		return true
	}
	// Shared holders admit more shared holders but block exclusive.
	return mode == storageapi.LockExclusive && len(entry.shared) > 0
}

// lock installs a holder. The caller must have checked isLocked first.
func (t lockTable) lock(bucket document.BucketID, mode storageapi.LockMode, holder lockEntry) {
	entry, ok := t[bucket]
	if !ok {
		entry = &multiLockEntry{}
		t[bucket] = entry
	}
	if entry.exclusive != nil {
		panic(fmt.Sprintf("filestor: locking %v which already has an exclusive holder", bucket))
	}
	if mode == storageapi.LockExclusive {
		if len(entry.shared) > 0 {
			panic(fmt.Sprintf("filestor: exclusive lock on %v with shared holders present", bucket))
		}
		holderCopy := holder
		entry.exclusive = &holderCopy
		return
	}
	if entry.shared == nil {
		entry.shared = make(map[uint64]lockEntry)
	}
	if _, dup := entry.shared[holder.msgID]; dup {
		panic(fmt.Sprintf("filestor: message %d already holds a shared lock on %v", holder.msgID, bucket))
	}
	entry.shared[holder.msgID] = holder
}

// release drops the holder identified by mode and message id. Panics if the
// bucket or holder is not in the table: a double release is a programming
// error, not a condition.
func (t lockTable) release(bucket document.BucketID, mode storageapi.LockMode, msgID uint64) {
	entry, ok := t[bucket]
	if !ok {
		panic(fmt.Sprintf("filestor: releasing %v which holds no locks", bucket))
	}
	if mode == storageapi.LockExclusive {
		if entry.exclusive == nil || entry.exclusive.msgID != msgID {
			panic(fmt.Sprintf("filestor: message %d releasing exclusive lock it does not hold on %v", msgID, bucket))
		}
		entry.exclusive = nil
	} else {
		if entry.exclusive != nil {
			panic(fmt.Sprintf("filestor: shared release of %v while exclusively locked", bucket))
		}
		if _, held := entry.shared[msgID]; !held {
			panic(fmt.Sprintf("filestor: message %d releasing shared lock it does not hold on %v", msgID, bucket))
		}
		delete(entry.shared, msgID)
	}
	if entry.exclusive == nil && len(entry.shared) == 0 {
		delete(t, bucket)
	}
}
