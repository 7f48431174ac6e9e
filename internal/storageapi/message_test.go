package storageapi

import (
	"testing"
	"time"

	"filestor/internal/document"
)

func TestLockModeFor(t *testing.T) {
	tests := []struct {
		msgType MessageType
		want    LockMode
	}{
		{MessageTypeGet, LockShared},
		{MessageTypeStat, LockShared},
		{MessageTypePut, LockExclusive},
		{MessageTypeRemove, LockExclusive},
		{MessageTypeSplitBucket, LockExclusive},
		{MessageTypeMergeBucket, LockExclusive},
	}

	for _, tt := range tests {
		if got := LockModeFor(tt.msgType); got != tt.want {
			t.Errorf("LockModeFor(%v) = %v, want %v", tt.msgType, got, tt.want)
		}
	}
}

func TestMayBeAborted(t *testing.T) {
	tests := []struct {
		msgType MessageType
		want    bool
	}{
		{MessageTypePut, true},
		{MessageTypeUpdate, true},
		{MessageTypeMergeBucket, true},
		{MessageTypeSplitBucket, true},
		// Reads are harmless to run, so they stay.
		{MessageTypeGet, false},
		{MessageTypeStat, false},
		// Bucket create/delete already hit the bucket database.
		{MessageTypeCreateBucket, false},
		{MessageTypeDeleteBucket, false},
		{MessageTypeInternal, false},
	}

	for _, tt := range tests {
		if got := tt.msgType.MayBeAborted(); got != tt.want {
			t.Errorf("%v.MayBeAborted() = %v, want %v", tt.msgType, got, tt.want)
		}
	}
}

func TestStorageCommand_MakeReply(t *testing.T) {
	bucket := document.NewBucketID(16, 0x40)
	cmd := NewCommand(MessageTypePut, bucket, 77)
	cmd.Pri = PriorityHigh

	reply := cmd.MakeReply()

	if !reply.IsReply() {
		t.Error("IsReply() = false, want true")
	}
	if got := reply.Type(); got != MessageTypePut {
		t.Errorf("Type() = %v, want put", got)
	}
	if got := reply.MsgID(); got != 77 {
		t.Errorf("MsgID() = %d, want 77", got)
	}
	if got := reply.Result(); got.Failed() {
		t.Errorf("fresh reply Result() = %v, want OK", got)
	}

	reply.SetResult(NewResult(Timeout, "waited too long"))
	if got := reply.Result().Code; got != Timeout {
		t.Errorf("Result().Code = %v, want TIMEOUT", got)
	}
}

func TestStorageCommand_TimeoutDefault(t *testing.T) {
	cmd := &StorageCommand{MessageType: MessageTypePut}
	if got := cmd.Timeout(); got != DefaultQueueTimeout {
		t.Errorf("Timeout() = %v, want %v", got, DefaultQueueTimeout)
	}

	cmd.QueueTimeout = 5 * time.Second
	if got := cmd.Timeout(); got != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", got)
	}
}

func TestAbortBucketOperationsCommand(t *testing.T) {
	a := document.NewBucketID(16, 0x1)
	b := document.NewBucketID(16, 0x2)
	c := document.NewBucketID(16, 0x3)

	cmd := NewAbortBucketOperations(a, c)

	if !cmd.ShouldAbort(a) || !cmd.ShouldAbort(c) {
		t.Error("ShouldAbort() = false for matched bucket, want true")
	}
	if cmd.ShouldAbort(b) {
		t.Error("ShouldAbort() = true for unmatched bucket, want false")
	}
}
