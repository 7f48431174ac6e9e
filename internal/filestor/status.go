// =============================================================================
// STATUS REPORTING - WHAT THE OPERATOR SEES
// =============================================================================
//
// The handler renders its dispatch state on demand for the node's status
// pages: per-disk and per-stripe queue depths, every queued entry, every
// held bucket lock (holder message id, priority, mode, how long it has been
// held) and the tracked merges. Two renderings exist, selected by the URL
// path: an HTML fragment for the embedded status pages and a plain-text
// listing for scripts and humans with curl.
//
// Snapshots are taken one stripe at a time, so the page is not a consistent
// cut across stripes. It does not need to be; it is a diagnostic surface.
//
// =============================================================================

package filestor

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"time"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// QueuedEntryInfo describes one queued message in a snapshot.
type QueuedEntryInfo struct {
	Bucket   document.BucketID
	Type     storageapi.MessageType
	MsgID    uint64
	Priority storageapi.Priority
	Waited   time.Duration
}

// LockInfo describes one held bucket lock in a snapshot.
type LockInfo struct {
	Bucket   document.BucketID
	Mode     storageapi.LockMode
	Type     storageapi.MessageType
	MsgID    uint64
	Priority storageapi.Priority
	HeldFor  time.Duration
}

// StripeSnapshot is one stripe's queue and lock state at a point in time.
type StripeSnapshot struct {
	QueueLen int
	Queued   []QueuedEntryInfo
	Locks    []LockInfo
}

// DiskSnapshot is one disk's state plus its stripes.
type DiskSnapshot struct {
	State    DiskState
	QueueLen int
	Stripes  []StripeSnapshot
}

// StatusSnapshot is the full handler state used by the status pages and the
// JSON stats endpoint.
type StatusSnapshot struct {
	Paused       bool
	Disks        []DiskSnapshot
	ActiveMerges []document.BucketID
}

// snapshot captures the stripe's state under its monitor.
func (s *stripe) snapshot() StripeSnapshot {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StripeSnapshot{QueueLen: s.queue.len()}
	for _, e := range s.queue.inPriorityOrder() {
		snap.Queued = append(snap.Queued, QueuedEntryInfo{
			Bucket:   e.bucket,
			Type:     e.msg.Type(),
			MsgID:    e.msg.MsgID(),
			Priority: e.priority,
			Waited:   e.waitTime(now),
		})
	}
	for bucket, entry := range s.locks {
		if entry.exclusive != nil {
			snap.Locks = append(snap.Locks, lockInfoFor(bucket, storageapi.LockExclusive, *entry.exclusive, now))
		}
		for _, holder := range entry.shared {
			snap.Locks = append(snap.Locks, lockInfoFor(bucket, storageapi.LockShared, holder, now))
		}
	}
	sort.Slice(snap.Locks, func(i, j int) bool {
		if snap.Locks[i].Bucket != snap.Locks[j].Bucket {
			return snap.Locks[i].Bucket < snap.Locks[j].Bucket
		}
		return snap.Locks[i].MsgID < snap.Locks[j].MsgID
	})
	return snap
}

func lockInfoFor(bucket document.BucketID, mode storageapi.LockMode, holder lockEntry, now time.Time) LockInfo {
	return LockInfo{
		Bucket:   bucket,
		Mode:     mode,
		Type:     holder.msgType,
		MsgID:    holder.msgID,
		Priority: holder.priority,
		HeldFor:  now.Sub(holder.acquired),
	}
}

// Snapshot captures the whole handler's dispatch state.
func (h *Handler) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{Paused: h.isPaused()}
	for _, d := range h.disks {
		ds := DiskSnapshot{State: d.getState()}
		for _, s := range d.stripes {
			ss := s.snapshot()
			ds.QueueLen += ss.QueueLen
			ds.Stripes = append(ds.Stripes, ss)
		}
		snap.Disks = append(snap.Disks, ds)
	}

	h.mergeMu.Lock()
	for bucket := range h.merges {
		snap.ActiveMerges = append(snap.ActiveMerges, bucket)
	}
	h.mergeMu.Unlock()
	sort.Slice(snap.ActiveMerges, func(i, j int) bool {
		return snap.ActiveMerges[i] < snap.ActiveMerges[j]
	})
	return snap
}

// WriteStatus renders the handler state to w. A path ending in "text" (for
// example /filestor/status/text) selects the plain-text listing; anything
// else gets the HTML fragment.
func (h *Handler) WriteStatus(w io.Writer, path string) {
	snap := h.Snapshot()
	if strings.HasSuffix(strings.TrimRight(path, "/"), "text") {
		writeStatusText(w, snap)
		return
	}
	writeStatusHTML(w, snap)
}

func writeStatusText(w io.Writer, snap StatusSnapshot) {
	fmt.Fprintf(w, "Filestor handler (paused: %v)\n", snap.Paused)
	for i, d := range snap.Disks {
		fmt.Fprintf(w, "Disk %d: state %s, queue size %d\n", i, d.State, d.QueueLen)
		for j, s := range d.Stripes {
			fmt.Fprintf(w, "  Stripe %d: queue size %d\n", j, s.QueueLen)
			for _, e := range s.Queued {
				fmt.Fprintf(w, "    %v: %s(%d) (priority: %d, waited: %s)\n",
					e.Bucket, e.Type, e.MsgID, e.Priority, e.Waited.Round(time.Millisecond))
			}
			for _, l := range s.Locks {
				fmt.Fprintf(w, "    %s(%d) (%v, %s lock, priority: %d) held for %s\n",
					l.Type, l.MsgID, l.Bucket, l.Mode, l.Priority, l.HeldFor.Round(time.Second))
			}
		}
	}
	fmt.Fprintf(w, "Active merge operations: %d\n", len(snap.ActiveMerges))
	for _, bucket := range snap.ActiveMerges {
		fmt.Fprintf(w, "  merging %v\n", bucket)
	}
}

func writeStatusHTML(w io.Writer, snap StatusSnapshot) {
	fmt.Fprintf(w, "<h1>Filestor handler</h1>\n")
	if snap.Paused {
		fmt.Fprintf(w, "<p><b>Handler is paused.</b></p>\n")
	}
	for i, d := range snap.Disks {
		fmt.Fprintf(w, "<h2>Disk %d</h2>\n", i)
		fmt.Fprintf(w, "Disk state: %s<br>\n", d.State)
		fmt.Fprintf(w, "Queue size: %d<br>\n", d.QueueLen)

		fmt.Fprintf(w, "<h4>Active operations</h4>\n")
		for j, s := range d.Stripes {
			for _, l := range s.Locks {
				fmt.Fprintf(w, "%s:%d (%v, %s lock, priority %d, stripe %d) running for %s<br/>\n",
					html.EscapeString(l.Type.String()), l.MsgID, l.Bucket, l.Mode,
					l.Priority, j, l.HeldFor.Round(time.Second))
			}
		}

		fmt.Fprintf(w, "<h4>Input queue</h4>\n<ul>\n")
		for j, s := range d.Stripes {
			fmt.Fprintf(w, "<li>Stripe %d: %d queued</li>\n", j, s.QueueLen)
			for _, e := range s.Queued {
				fmt.Fprintf(w, "<li>%v: %s(%d) (priority: %d)</li>\n",
					e.Bucket, html.EscapeString(e.Type.String()), e.MsgID, e.Priority)
			}
		}
		fmt.Fprintf(w, "</ul>\n")
	}

	fmt.Fprintf(w, "<p>Active merge operations: %d</p>\n", len(snap.ActiveMerges))
	if len(snap.ActiveMerges) > 0 {
		fmt.Fprintf(w, "<h4>Active merges</h4>\n")
		for _, bucket := range snap.ActiveMerges {
			fmt.Fprintf(w, "<b>%v</b><br>\n", bucket)
		}
	}
}
