package cache

// Message statuses mirror the relay ledger's lifecycle.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Receipt queue states.
const (
	ReceiptQueued  = "queued"
	ReceiptSending = "sending"
	ReceiptSent    = "sent"
	ReceiptFailed  = "failed"
)

// Message is a locally cached, already-decrypted message.
type Message struct {
	ID           string
	PeerDeviceID string
	Body         string
	ContentType  string
	FromMe       bool
	Status       string
	SentAt       int64
}

// Conversation summarizes the message history with one peer device.
type Conversation struct {
	PeerDeviceID string
	PeerName     string
	LastBody     string
	LastSentAt   int64
	UnreadCount  int
}

// Peer is a device we hold a shared key for.
type Peer struct {
	DeviceID string
	Name     string
	SymKey   string
	PairedAt int64
}

// Receipt is a queued delivery or read acknowledgement awaiting upload.
type Receipt struct {
	MessageID    string
	Status       string
	State        string
	ErrorMessage string
}

// statusRank orders message statuses so cached state never moves backwards.
func statusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}
