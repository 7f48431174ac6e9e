// =============================================================================
// SERVICE PROVIDER INTERFACE - WHAT THE DISPATCH CORE SEES OF THE DISKS
// =============================================================================
//
// The dispatch core does not read or write documents. It consumes two narrow
// surfaces from the persistence side:
//
//   - PartitionStateList: which disks physically exist and whether they are
//     usable, snapshotted at startup.
//   - Provider: executed by worker goroutines AFTER the handler has granted
//     them a message plus bucket lock. The provider never sees the queue.
//
// =============================================================================

package spi

import (
	"context"
	"sync"

	"filestor/internal/document"
	"filestor/internal/storageapi"
)

// PartitionState describes one backing disk as reported by the environment.
type PartitionState int

const (
	// PartitionUp means the disk is usable.
	PartitionUp PartitionState = iota

	// PartitionDown means the disk exists but must not receive work.
	PartitionDown
)

// PartitionStateList is a read-only snapshot of the node's disks.
type PartitionStateList struct {
	states []PartitionState
}

// NewPartitionStateList builds a snapshot with the given per-disk states.
func NewPartitionStateList(states ...PartitionState) *PartitionStateList {
	return &PartitionStateList{states: states}
}

// AllUp builds a snapshot of n usable disks.
func AllUp(n int) *PartitionStateList {
	states := make([]PartitionState, n)
	return &PartitionStateList{states: states}
}

// Len returns the number of disks.
func (p *PartitionStateList) Len() int {
	return len(p.states)
}

// IsUp reports whether disk idx is usable. Out-of-range indexes are down.
func (p *PartitionStateList) IsUp(idx int) bool {
	return idx >= 0 && idx < len(p.states) && p.states[idx] == PartitionUp
}

// Provider executes one storage operation against a disk. Implementations
// must be safe for concurrent use: the handler guarantees bucket-level
// isolation (no two exclusive holders of one bucket), nothing more.
type Provider interface {
	Execute(ctx context.Context, diskIdx int, cmd storageapi.Command) storageapi.Result
}

// =============================================================================
// IN-MEMORY PROVIDER
// =============================================================================

// MemProvider is the reference Provider: a per-disk map of documents keyed by
// bucket. It exists for the daemon's demo mode and for end-to-end tests of
// the dispatch path; a real node plugs in an engine behind the same method.
type MemProvider struct {
	mu    sync.RWMutex
	disks []map[document.BucketID]map[document.DocumentID][]byte
}

// NewMemProvider builds an empty provider with n disks.
func NewMemProvider(n int) *MemProvider {
	disks := make([]map[document.BucketID]map[document.DocumentID][]byte, n)
	for i := range disks {
		disks[i] = make(map[document.BucketID]map[document.DocumentID][]byte)
	}
	return &MemProvider{disks: disks}
}

// Execute applies the command. DeleteBucket drops the bucket's documents;
// unknown types and the other bucket-management types succeed as no-ops: the
// dispatch core, not the provider, is what is under test here.
func (m *MemProvider) Execute(_ context.Context, diskIdx int, cmd storageapi.Command) storageapi.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if diskIdx < 0 || diskIdx >= len(m.disks) {
		return storageapi.NewResult(storageapi.DiskFailure, "no such disk")
	}
	disk := m.disks[diskIdx]

	switch cmd.Type() {
	case storageapi.MessageTypePut, storageapi.MessageTypeUpdate:
		docs := disk[cmd.BucketID()]
		if docs == nil {
			docs = make(map[document.DocumentID][]byte)
			disk[cmd.BucketID()] = docs
		}
		var payload []byte
		if sc, ok := cmd.(*storageapi.StorageCommand); ok {
			payload = sc.Payload
		}
		docs[cmd.DocumentID()] = payload
	case storageapi.MessageTypeGet:
		if _, ok := disk[cmd.BucketID()][cmd.DocumentID()]; !ok {
			return storageapi.NewResult(storageapi.BucketNotFound, "document not found")
		}
	case storageapi.MessageTypeRemove:
		delete(disk[cmd.BucketID()], cmd.DocumentID())
	case storageapi.MessageTypeDeleteBucket:
		delete(disk, cmd.BucketID())
	}
	return storageapi.Result{Code: storageapi.OK}
}

// DocCount returns the number of documents held for a bucket on a disk.
func (m *MemProvider) DocCount(diskIdx int, bucket document.BucketID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if diskIdx < 0 || diskIdx >= len(m.disks) {
		return 0
	}
	return len(m.disks[diskIdx][bucket])
}
