package filestor

import (
	"fmt"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// BucketLock is the handle a worker holds while operating on a bucket. It is
// the single source of truth that an operation is in flight: the lock table
// entry exists exactly as long as the handle is unreleased.
//
// Release must be called exactly once when the operation finishes. The
// release re-notifies the stripe so a blocked entry for the same bucket can
// dispatch, and the stripe monitor inside it is the synchronization edge that
// publishes this worker's writes to the next holder. Releasing twice panics.
//
// Handles are created by the stripe only and must not be copied.
type BucketLock struct {
	stripe   *stripe
	bucket   document.BucketID
	msgID    uint64
	mode     storageapi.LockMode
	released bool
}

// Bucket returns the locked bucket.
func (l *BucketLock) Bucket() document.BucketID {
	return l.bucket
}

// LockMode returns the mode the lock was granted in.
func (l *BucketLock) LockMode() storageapi.LockMode {
	return l.mode
}

// Release drops the lock and wakes the stripe. Messages with no bucket are
// dispatched without a table entry, so their handles release as a no-op
// besides the wakeup.
func (l *BucketLock) Release() {
	if l.released {
		panic(fmt.Sprintf("filestor: bucket lock for %v (msg %d) released twice", l.bucket, l.msgID))
	}
	l.released = true
	l.stripe.release(l.bucket, l.mode, l.msgID)
}
