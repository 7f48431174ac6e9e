package filestor

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"filestor/internal/document"
	"filestor/internal/metrics"
	"filestor/internal/spi"
	"filestor/internal/storageapi"
)

// captureSender collects the synthetic replies the handler emits.
type captureSender struct {
	mu      sync.Mutex
	replies []storageapi.Reply
}

func (c *captureSender) SendReply(r storageapi.Reply) {
	c.mu.Lock()
	c.replies = append(c.replies, r)
	c.mu.Unlock()
}

func (c *captureSender) SendCommand(storageapi.Command) {}

func (c *captureSender) Replies() []storageapi.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storageapi.Reply, len(c.replies))
	copy(out, c.replies)
	return out
}

func (c *captureSender) repliesWithCode(code storageapi.ReturnCode) []storageapi.Reply {
	var out []storageapi.Reply
	for _, r := range c.Replies() {
		if r.Result().Code == code {
			out = append(out, r)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler builds a handler with all disks up and a short dispatch
// timeout so idle GetNextMessage calls return quickly.
func newTestHandler(t *testing.T, disks, stripes int) (*Handler, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	cfg := Config{NumStripes: stripes, GetNextMessageTimeout: 20 * time.Millisecond}
	h, err := NewHandler(cfg, sender, metrics.NopHandlerMetrics(), spi.AllUp(disks),
		document.NewBucketIDFactory(16), testLogger())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return h, sender
}

func put(bucket document.BucketID, msgID uint64) *storageapi.StorageCommand {
	return storageapi.NewCommand(storageapi.MessageTypePut, bucket, msgID)
}

func get(bucket document.BucketID, msgID uint64) *storageapi.StorageCommand {
	return storageapi.NewCommand(storageapi.MessageTypeGet, bucket, msgID)
}

// schedule fails the test if the handler rejects the command.
func schedule(t *testing.T, h *Handler, cmd storageapi.Command, disk int) {
	t.Helper()
	if !h.Schedule(cmd, disk) {
		t.Fatalf("Schedule(%v, disk %d) = false, want true", cmd.Type(), disk)
	}
}

// tryDispatch makes one pass over every stripe of the disk.
func tryDispatch(h *Handler, disk int) LockedMessage {
	for s := 0; s < h.NumStripes(); s++ {
		if lm := h.GetNextMessage(disk, s); !lm.Empty() {
			return lm
		}
	}
	return LockedMessage{}
}

// mustDispatch keeps scanning stripes until something dispatches.
func mustDispatch(t *testing.T, h *Handler, disk int) LockedMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lm := tryDispatch(h, disk); !lm.Empty() {
			return lm
		}
	}
	t.Fatal("mustDispatch: nothing dispatched within deadline")
	return LockedMessage{}
}

// stripeOf returns the stripe a bucket routes to.
func stripeOf(h *Handler, bucket document.BucketID) int {
	return stripeIndexFor(bucket, h.NumStripes())
}
