// =============================================================================
// DOCUMENT IDS AND BUCKET ASSIGNMENT
// =============================================================================
//
// Every document id deterministically maps to a 58-bit location, and from
// there to a bucket at whatever depth the node currently maintains. The
// mapping must be stable across processes: the distributor and every storage
// node have to agree where a document lives, and split remapping relies on
// recomputing it for queued operations.
//
// We hash with 64-bit FNV-1a and keep the low 58 bits. FNV is cheap, has no
// seed to disagree on, and its avalanche behavior is good enough for a
// placement hash (this is not a defense against adversarial keys).
//
// =============================================================================

package document

import "hash/fnv"

// DocumentID is the user-visible identity of one document. The empty string
// is "no document id"; bucket-level commands carry no document id.
type DocumentID string

// IsZero reports whether the id is absent.
func (d DocumentID) IsZero() bool {
	return d == ""
}

// Location returns the 58-bit placement hash of the id.
func (d DocumentID) Location() uint64 {
	h := fnv.New64a()
	h.Write([]byte(d))
	return h.Sum64() & rawMask
}

// BucketIDFactory maps document ids to bucket ids at a fixed depth. The depth
// is the number of location bits the cluster currently distributes on; every
// real bucket in the node is at this depth or shallower.
type BucketIDFactory struct {
	// usedBits is the depth assigned to fresh bucket ids.
	usedBits uint8
}

// NewBucketIDFactory returns a factory producing ids at the given depth.
func NewBucketIDFactory(usedBits uint8) *BucketIDFactory {
	if usedBits > MaxUsedBits {
		usedBits = MaxUsedBits
	}
	return &BucketIDFactory{usedBits: usedBits}
}

// BucketIDFor returns the bucket id the document's location falls into.
func (f *BucketIDFactory) BucketIDFor(id DocumentID) BucketID {
	return NewBucketID(f.usedBits, id.Location())
}

// UsedBits returns the depth this factory assigns.
func (f *BucketIDFactory) UsedBits() uint8 {
	return f.usedBits
}
