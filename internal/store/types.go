package store

// Device roles.
const (
	RoleMobile   = "mobile"
	RoleTerminal = "terminal"
)

// Pairing session statuses. Completed and expired are terminal.
const (
	SessionPending   = "pending"
	SessionScanned   = "scanned"
	SessionCompleted = "completed"
	SessionExpired   = "expired"
)

// Message statuses, ordered. A message's status only ever moves forward.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Device is a registered endpoint owned by an identity.
type Device struct {
	ID         string
	IdentityID string
	Role       string
	Name       string
	Key        string // symmetric key, empty until paired
	LastSeenAt int64
	CreatedAt  int64
}

// PairingSession is a short-lived, single-use handshake record.
type PairingSession struct {
	ID               string
	TerminalDeviceID string
	MobileDeviceID   string // set on completion
	Status           string
	CreatedAt        int64
	ExpiresAt        int64
	CompletedAt      int64
}

// DevicePairing links a mobile and a terminal device. Soft-unpair clears
// Active but keeps the row.
type DevicePairing struct {
	MobileDeviceID   string
	TerminalDeviceID string
	PairedAt         int64
	Active           bool
}

// Message is one ledger row. Content is opaque encrypted bytes, base64.
type Message struct {
	ID                string
	SenderDeviceID    string
	RecipientDeviceID string
	EncryptedContent  string
	ContentType       string
	Status            string
	SentAt            int64
	DeliveredAt       int64 // 0 = not set
	ReadAt            int64 // 0 = not set
}
