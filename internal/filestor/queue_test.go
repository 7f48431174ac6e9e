package filestor

import (
	"testing"
	"time"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

func queueEntry(t storageapi.MessageType, bucket document.BucketID, pri storageapi.Priority, msgID uint64) *MessageEntry {
	cmd := storageapi.NewCommand(t, bucket, msgID)
	cmd.Pri = pri
	return newMessageEntry(cmd, time.Now())
}

func TestPriorityQueue_PriorityOrderWithFIFOTieBreak(t *testing.T) {
	q := newPriorityQueue()
	bucket := document.NewBucketID(16, 0x40)

	first := queueEntry(storageapi.MessageTypePut, bucket, 100, 1)
	second := queueEntry(storageapi.MessageTypePut, bucket, 100, 2)
	urgent := queueEntry(storageapi.MessageTypePut, bucket, 50, 3)

	q.push(first)
	q.push(second)
	q.push(urgent)

	ordered := q.inPriorityOrder()
	if len(ordered) != 3 {
		t.Fatalf("inPriorityOrder() returned %d entries, want 3", len(ordered))
	}

	wantIDs := []uint64{3, 1, 2} // priority 50 first, then arrival order
	for i, want := range wantIDs {
		if got := ordered[i].msg.MsgID(); got != want {
			t.Errorf("ordered[%d].MsgID() = %d, want %d", i, got, want)
		}
	}
}

func TestPriorityQueue_BucketIndex(t *testing.T) {
	q := newPriorityQueue()
	a := document.NewBucketID(16, 0x1)
	b := document.NewBucketID(16, 0x2)

	e1 := queueEntry(storageapi.MessageTypePut, a, 120, 1)
	e2 := queueEntry(storageapi.MessageTypeGet, b, 120, 2)
	e3 := queueEntry(storageapi.MessageTypeRemove, a, 80, 3)

	q.push(e1)
	q.push(e2)
	q.push(e3)

	forA := q.entriesFor(a)
	if len(forA) != 2 {
		t.Fatalf("entriesFor(a) returned %d entries, want 2", len(forA))
	}
	// Bucket index is insertion ordered, not priority ordered.
	if forA[0] != e1 || forA[1] != e3 {
		t.Error("entriesFor(a) not in insertion order")
	}

	taken := q.takeBucket(a)
	if len(taken) != 2 {
		t.Fatalf("takeBucket(a) returned %d entries, want 2", len(taken))
	}
	if q.len() != 1 {
		t.Errorf("len() after takeBucket = %d, want 1", q.len())
	}
	if got := q.entriesFor(a); got != nil {
		t.Errorf("entriesFor(a) after take = %v entries, want none", len(got))
	}
	if got := q.entriesFor(b); len(got) != 1 {
		t.Errorf("entriesFor(b) = %d entries, want 1", len(got))
	}
}

func TestPriorityQueue_RemoveKeepsIndexesConsistent(t *testing.T) {
	q := newPriorityQueue()
	bucket := document.NewBucketID(16, 0x7)

	entries := make([]*MessageEntry, 5)
	for i := range entries {
		entries[i] = queueEntry(storageapi.MessageTypePut, bucket, 120, uint64(i+1))
		q.push(entries[i])
	}

	q.remove(entries[2])

	if q.len() != 4 {
		t.Errorf("len() = %d, want 4", q.len())
	}
	for _, e := range q.entriesFor(bucket) {
		if e == entries[2] {
			t.Error("removed entry still present in bucket index")
		}
	}
	for _, e := range q.inPriorityOrder() {
		if e == entries[2] {
			t.Error("removed entry still present in priority index")
		}
	}
}

func TestPriorityQueue_RemoveUnknownPanics(t *testing.T) {
	q := newPriorityQueue()
	stray := queueEntry(storageapi.MessageTypePut, document.NewBucketID(16, 0x9), 120, 1)

	defer func() {
		if recover() == nil {
			t.Error("remove of unknown entry did not panic")
		}
	}()
	q.remove(stray)
}

func TestPriorityQueue_ReenqueueAfterTakePreservesArrivalOrder(t *testing.T) {
	// A remap takes entries from one queue and pushes them into another;
	// equal-priority entries must keep their relative order.
	src := newPriorityQueue()
	dst := newPriorityQueue()
	bucket := document.NewBucketID(16, 0x11)

	for i := 1; i <= 3; i++ {
		src.push(queueEntry(storageapi.MessageTypePut, bucket, 120, uint64(i)))
	}
	for _, e := range src.takeBucket(bucket) {
		dst.push(e)
	}

	ordered := dst.inPriorityOrder()
	for i, want := range []uint64{1, 2, 3} {
		if got := ordered[i].msg.MsgID(); got != want {
			t.Errorf("ordered[%d].MsgID() = %d, want %d", i, got, want)
		}
	}
}
