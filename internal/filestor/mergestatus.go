package filestor

import (
	"time"

	"filestor/internal/storageapi"
)

// MergeStatus tracks one in-progress cross-replica merge. The merge state
// machine itself lives elsewhere; the handler only keeps the bookkeeping that
// must outlive individual messages, so a failed merge can answer everything
// it still owes.
//
// Merges are cooperative with the lock system through the messages they
// enqueue; a tracked merge does not itself occupy the bucket lock table.
type MergeStatus struct {
	// Reply answers the original MergeBucket command when the merge
	// completes or is aborted.
	Reply storageapi.Reply

	// PendingGetDiff and PendingApplyDiff are replies owed to the merge
	// protocol peers for diff exchanges in flight.
	PendingGetDiff   storageapi.Reply
	PendingApplyDiff storageapi.Reply

	// StartedAt is when the merge began, for the status page.
	StartedAt time.Time
}

// pendingReplies returns the non-nil replies the merge still owes.
func (m *MergeStatus) pendingReplies() []storageapi.Reply {
	var out []storageapi.Reply
	for _, r := range []storageapi.Reply{m.Reply, m.PendingGetDiff, m.PendingApplyDiff} {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
