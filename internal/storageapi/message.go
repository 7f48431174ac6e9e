// =============================================================================
// STORAGE MESSAGES - WHAT FLOWS THROUGH THE DISPATCH CORE
// =============================================================================
//
// WHAT IS A STORAGE MESSAGE?
// Every operation a distributor asks a storage node to perform arrives as a
// message: document operations (put, get, update, remove), bucket management
// (create, delete, split, join, set-state) and the merge protocol family.
// The dispatch core never interprets payloads. It only needs the envelope:
//
//   - type           decides lock mode and abortability
//   - bucket id      decides disk stripe and lock identity
//   - document id    lets a split remap recompute the target child
//   - priority       lower value = dispatched earlier
//   - unique msg id  identifies the lock holder
//   - timeout        bounds how long the message may sit in queue
//
// COMMANDS vs REPLIES:
// Commands request work and can synthesize their own reply via MakeReply.
// Replies report results and are never queued behind bucket locks here;
// the handler only emits them (TIMEOUT, ABORTED, and friends).
//
// =============================================================================

package storageapi

import (
	"time"

	"filestor/internal/document"
)

// MessageType enumerates every message kind the persistence layer dispatches.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota
	MessageTypePut
	MessageTypeGet
	MessageTypeUpdate
	MessageTypeRemove
	MessageTypeRevert
	MessageTypeRemoveLocation
	MessageTypeStat
	MessageTypeCreateBucket
	MessageTypeDeleteBucket
	MessageTypeSplitBucket
	MessageTypeJoinBuckets
	MessageTypeSetBucketState
	MessageTypeMergeBucket
	MessageTypeGetBucketDiff
	MessageTypeApplyBucketDiff
	MessageTypeInternal
)

var messageTypeNames = map[MessageType]string{
	MessageTypeUnknown:         "unknown",
	MessageTypePut:             "put",
	MessageTypeGet:             "get",
	MessageTypeUpdate:          "update",
	MessageTypeRemove:          "remove",
	MessageTypeRevert:          "revert",
	MessageTypeRemoveLocation:  "removelocation",
	MessageTypeStat:            "stat",
	MessageTypeCreateBucket:    "createbucket",
	MessageTypeDeleteBucket:    "deletebucket",
	MessageTypeSplitBucket:     "splitbucket",
	MessageTypeJoinBuckets:     "joinbuckets",
	MessageTypeSetBucketState:  "setbucketstate",
	MessageTypeMergeBucket:     "mergebucket",
	MessageTypeGetBucketDiff:   "getbucketdiff",
	MessageTypeApplyBucketDiff: "applybucketdiff",
	MessageTypeInternal:        "internal",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "invalid"
}

// IsDocumentOperation reports whether the type addresses a single document
// and therefore carries a document id a split remap can route on.
func (t MessageType) IsDocumentOperation() bool {
	switch t {
	case MessageTypePut, MessageTypeGet, MessageTypeUpdate, MessageTypeRemove:
		return true
	default:
		return false
	}
}

// IsMergeRelated reports whether the type belongs to the merge protocol
// family. Merge messages cannot be remapped across a split or join; the
// tracked merge has to be aborted instead.
func (t MessageType) IsMergeRelated() bool {
	switch t {
	case MessageTypeMergeBucket, MessageTypeGetBucketDiff, MessageTypeApplyBucketDiff:
		return true
	default:
		return false
	}
}

// MayBeAborted reports whether an abort command is allowed to flush a queued
// message of this type. State-modifying operations are abortable. Reads are
// not (they are harmless to run), and Create/DeleteBucket are not: the bucket
// database was already updated before they were scheduled, so dropping them
// would desync the service layer from the provider.
func (t MessageType) MayBeAborted() bool {
	switch t {
	case MessageTypePut,
		MessageTypeRemove,
		MessageTypeRevert,
		MessageTypeUpdate,
		MessageTypeRemoveLocation,
		MessageTypeSetBucketState,
		MessageTypeSplitBucket,
		MessageTypeJoinBuckets,
		MessageTypeMergeBucket,
		MessageTypeGetBucketDiff,
		MessageTypeApplyBucketDiff:
		return true
	default:
		return false
	}
}

// LockMode is the bucket lock a message needs while it executes.
type LockMode uint8

const (
	// LockExclusive admits a single holder. Required by anything that
	// modifies bucket state.
	LockExclusive LockMode = iota

	// LockShared admits any number of concurrent holders, none of which
	// may modify the bucket.
	LockShared
)

func (m LockMode) String() string {
	if m == LockShared {
		return "shared"
	}
	return "exclusive"
}

// LockModeFor returns the lock mode a message type requires. Reads take
// shared locks; everything else is exclusive.
func LockModeFor(t MessageType) LockMode {
	switch t {
	case MessageTypeGet, MessageTypeStat:
		return LockShared
	default:
		return LockExclusive
	}
}

// Priority orders dispatch: lower value = dispatched first. The named bands
// below are conventions used by upstream components; any uint8 is legal.
type Priority = uint8

const (
	PriorityHighest Priority = 50
	PriorityHigh    Priority = 80
	PriorityNormal  Priority = 120
	PriorityLow     Priority = 180
	PriorityLowest  Priority = 230
)

// Message is the envelope surface shared by commands and replies.
type Message interface {
	Type() MessageType
	Priority() Priority
	MsgID() uint64
	IsReply() bool
}

// Command is a queueable request. The dispatch core consumes exactly this
// interface; decoding from the wire happens upstream.
type Command interface {
	Message

	// BucketID is the bucket the operation targets. Zero for messages
	// that are not bucket-bound (those never take a bucket lock).
	BucketID() document.BucketID

	// DocumentID is the document addressed, or zero for bucket-level
	// commands.
	DocumentID() document.DocumentID

	// Timeout bounds how long the command may wait in queue before the
	// handler reaps it with a TIMEOUT reply.
	Timeout() time.Duration

	// LockMode is the bucket lock required while the command executes.
	LockMode() LockMode

	// RemapBucketID retargets the command after a split, join or move.
	RemapBucketID(document.BucketID)

	// MakeReply builds the matching reply with an OK result.
	MakeReply() Reply
}

// Reply reports the outcome of a command.
type Reply interface {
	Message
	Result() Result
	SetResult(Result)
}

// =============================================================================
// CONCRETE TYPES
// =============================================================================

// StorageCommand is the concrete Command used by the node. One struct covers
// every message type; the envelope fields are what the dispatch core routes,
// locks and reaps on, and Payload is opaque.
type StorageCommand struct {
	MessageType  MessageType
	Pri          Priority
	ID           uint64
	Bucket       document.BucketID
	DocID        document.DocumentID
	QueueTimeout time.Duration
	Payload      []byte
}

// NewCommand builds a command with priority PriorityNormal and
// DefaultQueueTimeout, the same timeout for every type.
func NewCommand(t MessageType, bucket document.BucketID, msgID uint64) *StorageCommand {
	return &StorageCommand{
		MessageType:  t,
		Pri:          PriorityNormal,
		ID:           msgID,
		Bucket:       bucket,
		QueueTimeout: DefaultQueueTimeout,
	}
}

// DefaultQueueTimeout is applied to commands that do not set their own.
const DefaultQueueTimeout = 60 * time.Second

func (c *StorageCommand) Type() MessageType                 { return c.MessageType }
func (c *StorageCommand) Priority() Priority                { return c.Pri }
func (c *StorageCommand) MsgID() uint64                     { return c.ID }
func (c *StorageCommand) IsReply() bool                     { return false }
func (c *StorageCommand) BucketID() document.BucketID       { return c.Bucket }
func (c *StorageCommand) DocumentID() document.DocumentID   { return c.DocID }
func (c *StorageCommand) LockMode() LockMode                { return LockModeFor(c.MessageType) }
func (c *StorageCommand) RemapBucketID(b document.BucketID) { c.Bucket = b }

func (c *StorageCommand) Timeout() time.Duration {
	if c.QueueTimeout <= 0 {
		return DefaultQueueTimeout
	}
	return c.QueueTimeout
}

// MakeReply builds the reply mirroring this command's envelope.
func (c *StorageCommand) MakeReply() Reply {
	return &StorageReply{
		MessageType: c.MessageType,
		Pri:         c.Pri,
		ID:          c.ID,
		Bucket:      c.Bucket,
		Res:         Result{Code: OK},
	}
}

// StorageReply is the concrete Reply for every message type.
type StorageReply struct {
	MessageType MessageType
	Pri         Priority
	ID          uint64
	Bucket      document.BucketID
	Res         Result
}

func (r *StorageReply) Type() MessageType  { return r.MessageType }
func (r *StorageReply) Priority() Priority { return r.Pri }
func (r *StorageReply) MsgID() uint64      { return r.ID }
func (r *StorageReply) IsReply() bool      { return true }
func (r *StorageReply) Result() Result     { return r.Res }
func (r *StorageReply) SetResult(res Result) {
	r.Res = res
}
