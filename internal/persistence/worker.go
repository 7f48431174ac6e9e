// =============================================================================
// PERSISTENCE WORKERS - THE THREADS THE HANDLER FEEDS
// =============================================================================
//
// Each disk runs a fixed pool of worker goroutines. A worker's whole life is
// the loop the dispatch core is built around:
//
//   1. Ask the handler for the next message on some stripe of its disk.
//      The handler returns it together with an acquired bucket lock.
//   2. Execute the operation against the provider.
//   3. Send the reply.
//   4. Release the bucket lock, which lets the next operation on that
//      bucket dispatch and publishes this worker's writes to it.
//
// Workers start each scan at the disk's round-robin stripe hint and then
// visit every stripe in turn. Each visit is a full GetNextMessage call, so a
// stripe with nothing runnable holds the worker for up to the dispatch
// timeout before it moves on to the next stripe; there is no non-blocking
// pass over all stripes first.
//
// =============================================================================

package persistence

import (
	"context"
	"log/slog"
	"sync"

	"filestor/internal/filestor"
	"filestor/internal/spi"
	"filestor/internal/storageapi"
)

// Worker drains one disk's stripes through the handler.
type Worker struct {
	handler  *filestor.Handler
	provider spi.Provider
	sender   storageapi.MessageSender
	logger   *slog.Logger
	diskIdx  int
}

// NewWorker builds a worker bound to one disk.
func NewWorker(h *filestor.Handler, provider spi.Provider, sender storageapi.MessageSender,
	logger *slog.Logger, diskIdx int) *Worker {
	return &Worker{
		handler:  h,
		provider: provider,
		sender:   sender,
		logger:   logger,
		diskIdx:  diskIdx,
	}
}

// Run loops until the context is canceled or the disk closes. Each iteration
// scans every stripe once, starting at the round-robin hint.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.handler.GetDiskState(w.diskIdx) == filestor.DiskClosed {
			w.logger.Debug("disk closed, worker exiting", "disk", w.diskIdx)
			return
		}

		lm := w.nextMessage()
		if lm.Empty() {
			continue // timed out or paused; loop to observe ctx and disk state
		}
		w.process(ctx, lm)
	}
}

func (w *Worker) nextMessage() filestor.LockedMessage {
	start := w.handler.NextStripeID(w.diskIdx)
	n := w.handler.NumStripes()
	for i := 0; i < n; i++ {
		lm := w.handler.GetNextMessage(w.diskIdx, (start+i)%n)
		if !lm.Empty() {
			return lm
		}
		if w.handler.GetDiskState(w.diskIdx) == filestor.DiskClosed {
			return filestor.LockedMessage{}
		}
	}
	return filestor.LockedMessage{}
}

func (w *Worker) process(ctx context.Context, lm filestor.LockedMessage) {
	defer lm.Lock.Release()

	result := w.provider.Execute(ctx, w.diskIdx, lm.Msg)
	if result.Failed() {
		w.logger.Debug("operation failed",
			"disk", w.diskIdx, "type", lm.Msg.Type().String(),
			"msg_id", lm.Msg.MsgID(), "result", result.String())
	}

	reply := lm.Msg.MakeReply()
	reply.SetResult(result)
	w.sender.SendReply(reply)
}

// Pool runs WorkersPerDisk workers for every disk of the handler.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool builds workers for every disk.
func NewPool(h *filestor.Handler, provider spi.Provider, sender storageapi.MessageSender,
	logger *slog.Logger, workersPerDisk int) *Pool {
	p := &Pool{}
	for disk := 0; disk < h.NumDisks(); disk++ {
		for i := 0; i < workersPerDisk; i++ {
			p.workers = append(p.workers, NewWorker(h, provider, sender, logger, disk))
		}
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Stop cancels the pool and waits for every worker to exit. The handler
// should be closed first so parked workers wake immediately.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
