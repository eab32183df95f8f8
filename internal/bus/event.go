package bus

import "time"

// Event kinds pushed over a device channel.
const (
	KindMessageReceived  = "message.received"
	KindStatusUpdated    = "message.status"
	KindPairingCompleted = "pairing.completed"
)

// Event is one delivery event addressed to a device. ID carries the
// resumable cursor for kinds that are replayable (the message id for
// message.received); it is empty otherwise.
type Event struct {
	Kind      string
	ID        string
	Timestamp time.Time
	Payload   any
}
