package filestor

import (
	"testing"
	"time"

	"filestor/internal/document"
	"filestor/internal/metrics"
	"filestor/internal/spi"
	"filestor/internal/storageapi"
)

func TestNewHandler_NoDisks(t *testing.T) {
	_, err := NewHandler(DefaultConfig(), &captureSender{}, metrics.NopHandlerMetrics(),
		spi.AllUp(0), document.NewBucketIDFactory(16), testLogger())
	if err != ErrNoDisks {
		t.Errorf("NewHandler() error = %v, want ErrNoDisks", err)
	}
}

func TestNewHandler_DownPartitionStartsDisabled(t *testing.T) {
	parts := spi.NewPartitionStateList(spi.PartitionUp, spi.PartitionDown)
	h, err := NewHandler(DefaultConfig(), &captureSender{}, metrics.NopHandlerMetrics(),
		parts, document.NewBucketIDFactory(16), testLogger())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	if got := h.GetDiskState(0); got != DiskOpen {
		t.Errorf("disk 0 state = %v, want OPEN", got)
	}
	if got := h.GetDiskState(1); got != DiskDisabledByMaintenance {
		t.Errorf("disk 1 state = %v, want DISABLED_BY_MAINTENANCE", got)
	}
}

// Scenario 1: equal priority on one bucket dispatches in arrival order, and
// the second message only dispatches once the first releases its lock.
func TestDispatch_FIFOAtEqualPriority(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x40)

	first := put(bucket, 1)
	first.Pri = 100
	second := put(bucket, 2)
	second.Pri = 100
	schedule(t, h, first, 0)
	schedule(t, h, second, 0)

	lm1 := mustDispatch(t, h, 0)
	if got := lm1.Msg.MsgID(); got != 1 {
		t.Fatalf("first dispatch MsgID = %d, want 1", got)
	}

	// The second put targets the held bucket, so nothing is runnable.
	if lm := tryDispatch(h, 0); !lm.Empty() {
		t.Fatalf("dispatch while bucket locked returned %d, want empty", lm.Msg.MsgID())
	}

	lm1.Lock.Release()

	lm2 := mustDispatch(t, h, 0)
	if got := lm2.Msg.MsgID(); got != 2 {
		t.Errorf("second dispatch MsgID = %d, want 2", got)
	}
	lm2.Lock.Release()
}

// Scenario 2: a later, higher-priority message for another bucket preempts.
func TestDispatch_PriorityPreemption(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	x := document.NewBucketID(16, 0x1)
	y := document.NewBucketID(16, 0x2)

	slow := put(x, 1)
	slow.Pri = 200
	urgent := put(y, 2)
	urgent.Pri = 100
	schedule(t, h, slow, 0)
	schedule(t, h, urgent, 0)

	lm := mustDispatch(t, h, 0)
	if got := lm.Msg.MsgID(); got != 2 {
		t.Errorf("dispatch MsgID = %d, want 2 (priority 100 before 200)", got)
	}
	lm.Lock.Release()
}

// P2: with an idle bucket, strictly increasing priorities dispatch in order,
// one per release.
func TestDispatch_PriorityMonotonicityPerBucket(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x55)

	for i, pri := range []storageapi.Priority{120, 60, 180} {
		cmd := put(bucket, uint64(i+1))
		cmd.Pri = pri
		schedule(t, h, cmd, 0)
	}

	// Expected dispatch order by priority: 60 (id 2), 120 (id 1), 180 (id 3).
	for _, wantID := range []uint64{2, 1, 3} {
		lm := mustDispatch(t, h, 0)
		if got := lm.Msg.MsgID(); got != wantID {
			t.Fatalf("dispatch MsgID = %d, want %d", got, wantID)
		}
		lm.Lock.Release()
	}
}

// Scenario 4: shared readers coexist on one bucket.
func TestDispatch_SharedModeConcurrency(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x200)

	for i := 1; i <= 3; i++ {
		schedule(t, h, get(bucket, uint64(i)), 0)
	}

	var locks []*BucketLock
	for i := 0; i < 3; i++ {
		lm := mustDispatch(t, h, 0)
		if got := lm.Lock.LockMode(); got != storageapi.LockShared {
			t.Errorf("lock mode = %v, want shared", got)
		}
		locks = append(locks, lm.Lock)
	}

	snap := h.Snapshot()
	if got := len(snap.Disks[0].Stripes[0].Locks); got != 3 {
		t.Errorf("held locks = %d, want 3 shared holders", got)
	}

	for _, l := range locks {
		l.Release()
	}
}

func TestDispatch_SharedDoesNotAdmitWriter(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x201)

	schedule(t, h, get(bucket, 1), 0)
	schedule(t, h, put(bucket, 2), 0)

	reader := mustDispatch(t, h, 0)
	if got := reader.Msg.MsgID(); got != 1 {
		t.Fatalf("first dispatch MsgID = %d, want 1", got)
	}

	if lm := tryDispatch(h, 0); !lm.Empty() {
		t.Fatalf("writer dispatched alongside shared holder (MsgID %d)", lm.Msg.MsgID())
	}

	reader.Lock.Release()
	writer := mustDispatch(t, h, 0)
	if got := writer.Msg.MsgID(); got != 2 {
		t.Errorf("second dispatch MsgID = %d, want 2", got)
	}
	writer.Lock.Release()
}

// P6: an expired message is reaped with TIMEOUT, never dispatched.
func TestDispatch_TimeoutReaping(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x77)

	cmd := put(bucket, 9)
	cmd.QueueTimeout = time.Millisecond
	schedule(t, h, cmd, 0)

	time.Sleep(5 * time.Millisecond)

	if lm := h.GetNextMessage(0, 0); !lm.Empty() {
		t.Fatalf("expired message dispatched (MsgID %d), want reap", lm.Msg.MsgID())
	}

	timeouts := sender.repliesWithCode(storageapi.Timeout)
	if len(timeouts) != 1 {
		t.Fatalf("TIMEOUT replies = %d, want 1", len(timeouts))
	}
	if got := timeouts[0].MsgID(); got != 9 {
		t.Errorf("TIMEOUT reply MsgID = %d, want 9", got)
	}
	if got := h.QueueSize(); got != 0 {
		t.Errorf("QueueSize() after reap = %d, want 0", got)
	}
}

// Reaping an expired entry must not stop a runnable one behind it.
func TestDispatch_ReapsExpiredAndDispatchesNext(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x78)

	expired := put(bucket, 1)
	expired.Pri = 50
	expired.QueueTimeout = time.Millisecond
	live := put(bucket, 2)
	live.Pri = 100
	schedule(t, h, expired, 0)
	schedule(t, h, live, 0)

	time.Sleep(5 * time.Millisecond)

	lm := mustDispatch(t, h, 0)
	if got := lm.Msg.MsgID(); got != 2 {
		t.Errorf("dispatch MsgID = %d, want 2 (live message)", got)
	}
	lm.Lock.Release()

	if got := len(sender.repliesWithCode(storageapi.Timeout)); got != 1 {
		t.Errorf("TIMEOUT replies = %d, want 1", got)
	}
}

// Scenario 6: abort flushes only matching, abortable entries.
func TestAbortQueuedOperations(t *testing.T) {
	h, sender := newTestHandler(t, 1, 2)
	a := document.NewBucketID(16, 0xa)
	b := document.NewBucketID(16, 0xb)
	c := document.NewBucketID(16, 0xc)

	schedule(t, h, put(a, 1), 0)
	schedule(t, h, put(b, 2), 0)
	schedule(t, h, put(c, 3), 0)

	h.AbortQueuedOperations(storageapi.NewAbortBucketOperations(a, c))

	aborted := sender.repliesWithCode(storageapi.Aborted)
	if len(aborted) != 2 {
		t.Fatalf("ABORTED replies = %d, want 2", len(aborted))
	}
	ids := map[uint64]bool{}
	for _, r := range aborted {
		ids[r.MsgID()] = true
	}
	if !ids[1] || !ids[3] {
		t.Errorf("aborted ids = %v, want {1, 3}", ids)
	}

	lm := mustDispatch(t, h, 0)
	if got := lm.Msg.MsgID(); got != 2 {
		t.Errorf("surviving dispatch MsgID = %d, want 2", got)
	}
	lm.Lock.Release()
}

func TestAbort_SkipsNonAbortableTypes(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0xd)

	schedule(t, h, get(bucket, 1), 0)
	schedule(t, h, storageapi.NewCommand(storageapi.MessageTypeDeleteBucket, bucket, 2), 0)

	h.AbortQueuedOperations(storageapi.NewAbortBucketOperations(bucket))

	if got := len(sender.repliesWithCode(storageapi.Aborted)); got != 0 {
		t.Errorf("ABORTED replies = %d, want 0 (get and deletebucket are not abortable)", got)
	}
	if got := h.QueueSize(); got != 2 {
		t.Errorf("QueueSize() = %d, want 2", got)
	}
}

// AbortQueuedOperations must wait for matching in-flight work to retire.
func TestAbort_WaitsForActiveOperations(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0xe)

	schedule(t, h, put(bucket, 1), 0)
	inFlight := mustDispatch(t, h, 0)

	done := make(chan struct{})
	go func() {
		h.AbortQueuedOperations(storageapi.NewAbortBucketOperations(bucket))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("abort returned while matching operation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	inFlight.Lock.Release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not return after in-flight operation released")
	}
}

func TestFailOperations_FlushesQueuedButKeepsDeleteBucket(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0xf)

	schedule(t, h, put(bucket, 1), 0)
	schedule(t, h, get(bucket, 2), 0)
	schedule(t, h, storageapi.NewCommand(storageapi.MessageTypeDeleteBucket, bucket, 3), 0)

	h.FailOperations(bucket, 0, storageapi.NewResult(storageapi.BucketDeleted, "bucket deleted"))

	failed := sender.repliesWithCode(storageapi.BucketDeleted)
	if len(failed) != 2 {
		t.Fatalf("BUCKET_DELETED replies = %d, want 2", len(failed))
	}
	if got := h.QueueSize(); got != 1 {
		t.Errorf("QueueSize() = %d, want 1 (deletebucket kept)", got)
	}

	lm := mustDispatch(t, h, 0)
	if got := lm.Msg.Type(); got != storageapi.MessageTypeDeleteBucket {
		t.Errorf("surviving message type = %v, want deletebucket", got)
	}
	lm.Lock.Release()
}

func TestSchedule_RejectedWhenDiskNotOpen(t *testing.T) {
	h, _ := newTestHandler(t, 2, 2)
	bucket := document.NewBucketID(16, 0x123)

	h.SetDiskState(1, DiskDisabledByMaintenance)
	if h.Schedule(put(bucket, 1), 1) {
		t.Error("Schedule() on disabled disk = true, want false")
	}

	// Re-enabling accepts work again.
	h.SetDiskState(1, DiskOpen)
	if !h.Schedule(put(bucket, 2), 1) {
		t.Error("Schedule() on reopened disk = false, want true")
	}
	mustDispatch(t, h, 1).Lock.Release()
}

func TestClose_WakesBlockedWorkersAndRejectsWork(t *testing.T) {
	// A long dispatch timeout parks the worker until Close wakes it.
	cfg := Config{NumStripes: 1, GetNextMessageTimeout: 5 * time.Second}
	h, err := NewHandler(cfg, &captureSender{}, metrics.NopHandlerMetrics(), spi.AllUp(1),
		document.NewBucketIDFactory(16), testLogger())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	bucket := document.NewBucketID(16, 0x321)

	got := make(chan LockedMessage, 1)
	go func() { got <- h.GetNextMessage(0, 0) }()

	time.Sleep(20 * time.Millisecond)
	h.Close()

	select {
	case lm := <-got:
		if !lm.Empty() {
			t.Errorf("dispatch on closed disk returned MsgID %d, want empty", lm.Msg.MsgID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker still blocked after Close()")
	}

	if h.Schedule(put(bucket, 1), 0) {
		t.Error("Schedule() after Close() = true, want false")
	}
	if got := h.GetDiskState(0); got != DiskClosed {
		t.Errorf("disk state = %v, want CLOSED", got)
	}
}

func TestPause_GatesDispatchUntilResume(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x42)

	schedule(t, h, put(bucket, 1), 0)

	guard := h.Pause()

	if lm := h.GetNextMessage(0, 0); !lm.Empty() {
		t.Fatalf("dispatch while paused returned MsgID %d, want empty", lm.Msg.MsgID())
	}

	guard.Resume()
	lm := mustDispatch(t, h, 0)
	if got := lm.Msg.MsgID(); got != 1 {
		t.Errorf("dispatch after resume MsgID = %d, want 1", got)
	}
	lm.Lock.Release()
}

func TestPause_WaitsForInFlightWork(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x43)

	schedule(t, h, put(bucket, 1), 0)
	inFlight := mustDispatch(t, h, 0)

	paused := make(chan *ResumeGuard, 1)
	go func() { paused <- h.Pause() }()

	select {
	case <-paused:
		t.Fatal("Pause() returned while a bucket lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	inFlight.Lock.Release()

	select {
	case guard := <-paused:
		guard.Resume()
	case <-time.After(2 * time.Second):
		t.Fatal("Pause() did not return after lock release")
	}
}

func TestLock_OutOfBandBlocksDispatchAndWaitsForHolders(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x99)

	held := h.Lock(bucket, 0, storageapi.LockExclusive)

	schedule(t, h, put(bucket, 1), 0)
	if lm := tryDispatch(h, 0); !lm.Empty() {
		t.Fatalf("dispatched MsgID %d under out-of-band lock, want empty", lm.Msg.MsgID())
	}

	// A second exclusive Lock call must block until release.
	acquired := make(chan *BucketLock, 1)
	go func() { acquired <- h.Lock(bucket, 0, storageapi.LockExclusive) }()

	select {
	case <-acquired:
		t.Fatal("second exclusive Lock() acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()

	select {
	case second := <-acquired:
		second.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock() never acquired after release")
	}
}

func TestBucketLock_DoubleReleasePanics(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x31)

	lock := h.Lock(bucket, 0, storageapi.LockExclusive)
	lock.Release()

	defer func() {
		if recover() == nil {
			t.Error("second Release() did not panic")
		}
	}()
	lock.Release()
}

// P3: stripe routing is a pure function of bucket and stripe count.
func TestStripeRouting_Stable(t *testing.T) {
	bucket := document.NewBucketID(20, 0xbeef)
	first := stripeIndexFor(bucket, 8)
	for i := 0; i < 100; i++ {
		if got := stripeIndexFor(bucket, 8); got != first {
			t.Fatalf("stripeIndexFor changed: %d then %d", first, got)
		}
	}
}

func TestStripeRouting_DispersesSiblings(t *testing.T) {
	// Sibling buckets differ only in one low bit; the FNV mix must not
	// send every sibling pair to the same stripe.
	const stripes = 8
	parent := document.NewBucketID(20, 0xcafe)
	left, right := parent.Split()

	spread := map[int]bool{
		stripeIndexFor(parent, stripes): true,
		stripeIndexFor(left, stripes):   true,
		stripeIndexFor(right, stripes):  true,
	}
	if len(spread) < 2 {
		t.Errorf("parent and both children all map to one stripe: %v", spread)
	}
}

func TestMergeStatusTracking(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x50)

	if h.IsMerging(bucket) {
		t.Error("IsMerging() = true before AddMergeStatus")
	}

	mergeCmd := storageapi.NewCommand(storageapi.MessageTypeMergeBucket, bucket, 10)
	h.AddMergeStatus(bucket, &MergeStatus{Reply: mergeCmd.MakeReply(), StartedAt: time.Now()})

	if !h.IsMerging(bucket) {
		t.Error("IsMerging() = false after AddMergeStatus")
	}
	if got := h.NumActiveMerges(); got != 1 {
		t.Errorf("NumActiveMerges() = %d, want 1", got)
	}

	diffCmd := storageapi.NewCommand(storageapi.MessageTypeGetBucketDiff, bucket, 11)
	err := h.EditMergeStatus(bucket, func(s *MergeStatus) {
		s.PendingGetDiff = diffCmd.MakeReply()
	})
	if err != nil {
		t.Fatalf("EditMergeStatus() error = %v", err)
	}

	result := storageapi.NewResult(storageapi.Aborted, "distributor restarted")
	h.ClearMergeStatus(bucket, &result)

	if h.IsMerging(bucket) {
		t.Error("IsMerging() = true after ClearMergeStatus")
	}
	aborted := sender.repliesWithCode(storageapi.Aborted)
	if len(aborted) != 2 {
		t.Fatalf("ABORTED replies = %d, want 2 (merge reply + pending getdiff)", len(aborted))
	}
}

func TestEditMergeStatus_UnknownBucket(t *testing.T) {
	h, _ := newTestHandler(t, 1, 1)
	err := h.EditMergeStatus(document.NewBucketID(16, 0x51), func(*MergeStatus) {})
	if err != ErrNoMergeStatus {
		t.Errorf("EditMergeStatus() error = %v, want ErrNoMergeStatus", err)
	}
}

func TestClearMergeStatus_NilResultDropsSilently(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x52)

	mergeCmd := storageapi.NewCommand(storageapi.MessageTypeMergeBucket, bucket, 10)
	h.AddMergeStatus(bucket, &MergeStatus{Reply: mergeCmd.MakeReply()})
	h.ClearMergeStatus(bucket, nil)

	if h.IsMerging(bucket) {
		t.Error("IsMerging() = true after clear")
	}
	if got := len(sender.Replies()); got != 0 {
		t.Errorf("replies sent = %d, want 0 for nil result", got)
	}
}

func TestFlush_KillPendingMerges(t *testing.T) {
	h, sender := newTestHandler(t, 1, 1)
	bucket := document.NewBucketID(16, 0x53)

	mergeCmd := storageapi.NewCommand(storageapi.MessageTypeMergeBucket, bucket, 10)
	h.AddMergeStatus(bucket, &MergeStatus{Reply: mergeCmd.MakeReply()})

	h.Flush(true)

	if got := h.NumActiveMerges(); got != 0 {
		t.Errorf("NumActiveMerges() after flush = %d, want 0", got)
	}
	if got := len(sender.repliesWithCode(storageapi.Aborted)); got != 1 {
		t.Errorf("ABORTED replies = %d, want 1", got)
	}
}
