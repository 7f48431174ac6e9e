package storageapi

import "fmt"

// ReturnCode is the common storage result code enum. The dispatch core emits
// only the subset documented on each constant; the rest of the node uses the
// same enum for provider results.
type ReturnCode int

const (
	// OK means the operation completed.
	OK ReturnCode = iota

	// Timeout: the message exceeded its per-message timeout while queued.
	Timeout

	// Aborted: an abort command matched the message, or the node is
	// shutting down with work still pending.
	Aborted

	// BucketNotFound: a remap had no valid target for the message.
	BucketNotFound

	// BucketDeleted: the bucket stopped existing while the message was
	// queued (split or joined away).
	BucketDeleted

	// DiskFailure: the backing disk was disabled while the message was
	// queued.
	DiskFailure

	// NotReady: the disk is temporarily not accepting work.
	NotReady

	// Rejected: schedule was called on a disk that is not open.
	Rejected

	// InternalFailure: a message reached a state the handler cannot
	// reconcile, e.g. an unmappable type during remap.
	InternalFailure
)

var returnCodeNames = map[ReturnCode]string{
	OK:              "OK",
	Timeout:         "TIMEOUT",
	Aborted:         "ABORTED",
	BucketNotFound:  "BUCKET_NOT_FOUND",
	BucketDeleted:   "BUCKET_DELETED",
	DiskFailure:     "DISK_FAILURE",
	NotReady:        "NOT_READY",
	Rejected:        "REJECTED",
	InternalFailure: "INTERNAL_FAILURE",
}

func (c ReturnCode) String() string {
	if name, ok := returnCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ReturnCode(%d)", int(c))
}

// Result pairs a code with a human-readable explanation for logs and status
// pages.
type Result struct {
	Code    ReturnCode
	Message string
}

// NewResult builds a result.
func NewResult(code ReturnCode, message string) Result {
	return Result{Code: code, Message: message}
}

// Failed reports whether the result is anything but OK.
func (r Result) Failed() bool {
	return r.Code != OK
}

func (r Result) String() string {
	if r.Message == "" {
		return r.Code.String()
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}
