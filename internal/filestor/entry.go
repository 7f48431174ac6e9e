package filestor

import (
	"time"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// MessageEntry wraps one queued command with the envelope fields the queue
// indexes on. The bucket is copied out of the command because a remap changes
// it while the entry sits in a queue, and the enqueue time is what both the
// wait-time metric and timeout reaping measure from.
type MessageEntry struct {
	msg      storageapi.Command
	bucket   document.BucketID
	priority storageapi.Priority
	enqueued time.Time
}

func newMessageEntry(cmd storageapi.Command, now time.Time) *MessageEntry {
	return &MessageEntry{
		msg:      cmd,
		bucket:   cmd.BucketID(),
		priority: cmd.Priority(),
		enqueued: now,
	}
}

// waitTime is how long the entry has been queued.
func (e *MessageEntry) waitTime(now time.Time) time.Duration {
	return now.Sub(e.enqueued)
}

// timedOut reports whether the entry exceeded its command's queue timeout.
func (e *MessageEntry) timedOut(now time.Time) bool {
	return e.waitTime(now) >= e.msg.Timeout()
}
