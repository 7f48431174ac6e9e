// =============================================================================
// BUCKET IDENTITY - THE UNIT OF DATA PLACEMENT
// =============================================================================
//
// WHAT IS A BUCKET?
// A bucket is a logical partition of the document space. Every document hashes
// to a 58-bit location, and a bucket covers the set of locations that share a
// common bit prefix. Buckets are the unit of placement, locking, splitting and
// joining in the storage node.
//
// ENCODING (64-bit):
//
//   ┌──────────────┬────────────────────────────────────────────────┐
//   │ UsedBits (6) │ Raw location bits (58)                         │
//   └──────────────┴────────────────────────────────────────────────┘
//    bits 63..58     bits 57..0
//
// A bucket with N used bits covers every location whose N low bits match its
// own. Buckets therefore form a binary tree:
//
//   {n bits, raw}  splits into  {n+1 bits, raw}  and  {n+1 bits, raw | 1<<n}
//
// and two siblings join back into their parent by dropping the highest used
// bit. Equality is on the full 64-bit value, so the same raw bits at
// different depths are different buckets.
//
// COMPARISON:
//   - Kafka: fixed partition count per topic, no hierarchy
//   - DynamoDB: consistent-hash ranges, splits at runtime
//   - filestor: prefix tree over document locations, splits/joins on demand
//
// =============================================================================

package document

import "fmt"

const (
	// MaxUsedBits is the number of location bits available below the
	// used-bits header.
	MaxUsedBits = 58

	// usedBitsShift positions the used-bits count in the top 6 bits.
	usedBitsShift = 58

	// rawMask selects the 58 location bits.
	rawMask = (uint64(1) << usedBitsShift) - 1
)

// BucketID identifies one bucket: a used-bits count in the top 6 bits and the
// raw location bits below. The zero value is "no bucket" and is never a valid
// target for scheduling or locking.
type BucketID uint64

// NewBucketID builds a bucket id from a depth and raw location bits. Location
// bits above usedBits are cleared so that equal (depth, prefix) pairs always
// compare equal.
func NewBucketID(usedBits uint8, raw uint64) BucketID {
	if usedBits > MaxUsedBits {
		usedBits = MaxUsedBits
	}
	return BucketID(uint64(usedBits)<<usedBitsShift | (raw & prefixMask(usedBits)))
}

// prefixMask returns a mask covering the n low location bits.
func prefixMask(n uint8) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// UsedBits returns how many of the low location bits identify this bucket.
func (b BucketID) UsedBits() uint8 {
	return uint8(uint64(b) >> usedBitsShift)
}

// Raw returns the 58 location bits.
func (b BucketID) Raw() uint64 {
	return uint64(b) & rawMask
}

// IsZero reports whether this is the "no bucket" sentinel.
func (b BucketID) IsZero() bool {
	return b == 0
}

// Contains reports whether other lives in this bucket's subtree: other must
// be at least as deep, and must agree with this bucket on all of this
// bucket's used bits.
func (b BucketID) Contains(other BucketID) bool {
	if other.UsedBits() < b.UsedBits() {
		return false
	}
	mask := prefixMask(b.UsedBits())
	return b.Raw()&mask == other.Raw()&mask
}

// ContainsLocation reports whether a raw document location falls inside this
// bucket.
func (b BucketID) ContainsLocation(location uint64) bool {
	mask := prefixMask(b.UsedBits())
	return b.Raw()&mask == location&mask
}

// Split returns the two children one level deeper. Splitting a bucket already
// at MaxUsedBits returns the bucket itself twice; callers are expected to
// never split a full-depth bucket.
func (b BucketID) Split() (BucketID, BucketID) {
	used := b.UsedBits()
	if used >= MaxUsedBits {
		return b, b
	}
	left := NewBucketID(used+1, b.Raw())
	right := NewBucketID(used+1, b.Raw()|uint64(1)<<used)
	return left, right
}

// Parent returns the bucket one level up, or the bucket itself at depth zero.
func (b BucketID) Parent() BucketID {
	used := b.UsedBits()
	if used == 0 {
		return b
	}
	return NewBucketID(used-1, b.Raw())
}

// String renders the id the way the status pages and logs expect it:
// BucketID(0xUSEDBITS...RAW).
func (b BucketID) String() string {
	return fmt.Sprintf("BucketID(0x%016x)", uint64(b))
}
