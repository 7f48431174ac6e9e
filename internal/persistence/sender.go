package persistence

import (
	"log/slog"
	"sync/atomic"

	"filestor/internal/storageapi"
)

// LoggingSender is the daemon's standalone MessageSender: replies have
// nowhere upstream to go, so they are counted, and the failed ones are
// logged. A clustered node replaces this with its communication layer.
type LoggingSender struct {
	logger  *slog.Logger
	replies atomic.Uint64
	failed  atomic.Uint64
}

// NewLoggingSender builds a sender logging at debug level.
func NewLoggingSender(logger *slog.Logger) *LoggingSender {
	return &LoggingSender{logger: logger}
}

func (s *LoggingSender) SendReply(r storageapi.Reply) {
	s.replies.Add(1)
	if r.Result().Failed() {
		s.failed.Add(1)
		s.logger.Debug("reply",
			"type", r.Type().String(), "msg_id", r.MsgID(), "result", r.Result().String())
	}
}

func (s *LoggingSender) SendCommand(c storageapi.Command) {
	s.logger.Debug("command", "type", c.Type().String(), "msg_id", c.MsgID())
}

// Replies returns the total replies delivered.
func (s *LoggingSender) Replies() uint64 { return s.replies.Load() }

// FailedReplies returns the replies delivered with a non-OK result.
func (s *LoggingSender) FailedReplies() uint64 { return s.failed.Load() }
