package storageapi

// MessageSender is where the dispatch core hands off the replies it
// synthesizes (TIMEOUT, ABORTED, disk-down) and the commands it re-issues.
// The communication layer implements it; delivery errors are its problem,
// because the handler has already relinquished the message by the time a
// synthetic reply exists.
type MessageSender interface {
	SendReply(Reply)
	SendCommand(Command)
}
