// Package pairing implements the session-scoped state machine that links a
// mobile device to a terminal device via a scanned code.
//
// A session moves pending → scanned → completed, or to expired. Completed
// and expired are terminal; the transition into them is a compare-and-set
// on the session row, so exactly one of any set of racing callers wins.
// Idle sessions converge to expired lazily, on the next read or completion
// attempt past the deadline.
package pairing

import (
	"time"

	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/fault"
	"github.com/courierlink/courier/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayloadVersion is the pairing payload format version.
const PayloadVersion = 1

// DefaultTTL is how long a session stays completable.
const DefaultTTL = 5 * time.Minute

// Payload is what gets rendered as a scannable code. It may be briefly
// visible to an observer, so it carries no key material.
type Payload struct {
	SessionID string `json:"sessionId"`
	Version   int    `json:"version"`
}

// Completed is the bus payload published on the terminal device's channel
// when its session completes.
type Completed struct {
	SessionID      string `json:"sessionId"`
	MobileDeviceID string `json:"mobileDeviceId"`
	MobileName     string `json:"mobileName"`
	MobileKey      string `json:"mobileKey"`
}

// Coordinator drives pairing sessions.
type Coordinator struct {
	db     *store.DB
	bus    *bus.Bus
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator creates a pairing coordinator. A non-positive ttl falls
// back to DefaultTTL.
func NewCoordinator(db *store.DB, b *bus.Bus, ttl time.Duration, logger *zap.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		db:     db,
		bus:    b,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// InitiateResult is returned to the terminal device that starts a session.
type InitiateResult struct {
	SessionID string
	Payload   Payload
	ExpiresAt time.Time
}

// Initiate starts a new session for a terminal device owned by the caller.
func (c *Coordinator) Initiate(identityID, terminalDeviceID string) (*InitiateResult, error) {
	dev, err := c.db.GetDevice(terminalDeviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fault.NotFound("device %s not found", terminalDeviceID)
	}
	if dev.IdentityID != identityID {
		return nil, fault.Forbidden("device %s does not belong to caller", terminalDeviceID)
	}
	if dev.Role != store.RoleTerminal {
		return nil, fault.BadRequest("device %s is not a terminal device", terminalDeviceID)
	}

	now := c.now()
	s := &store.PairingSession{
		ID:               uuid.New().String(),
		TerminalDeviceID: terminalDeviceID,
		Status:           store.SessionPending,
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(c.ttl).UnixMilli(),
	}
	if err := c.db.CreatePairingSession(s); err != nil {
		return nil, err
	}

	c.logger.Info("pairing session created",
		zap.String("session_id", s.ID),
		zap.String("terminal_device_id", terminalDeviceID))

	return &InitiateResult{
		SessionID: s.ID,
		Payload:   Payload{SessionID: s.ID, Version: PayloadVersion},
		ExpiresAt: time.UnixMilli(s.ExpiresAt),
	}, nil
}

// MarkScanned flags a pending session as scanned, giving the terminal side
// a "scanned, waiting for confirmation" signal. No-op error on terminal or
// already-scanned sessions.
func (c *Coordinator) MarkScanned(sessionID string) error {
	s, err := c.loadSession(sessionID)
	if err != nil {
		return err
	}
	if s.Status != store.SessionPending {
		return fault.BadRequest("session is %s", s.Status)
	}
	ok, err := c.db.MarkSessionScanned(sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Conflict("session %s changed state concurrently", sessionID)
	}
	return nil
}

// CompleteResult is returned to the mobile device that completes a session.
type CompleteResult struct {
	TerminalDeviceID string
	TerminalName     string
	TerminalKey      string
}

// Complete binds the scanning mobile device to the session's terminal
// device. The session transition, the key write and the pairing row are
// one transaction; the completion notification is published only after it
// commits. Retrying a completed session is an error, not a no-op.
func (c *Coordinator) Complete(identityID, sessionID, mobileDeviceID, mobileKey string) (*CompleteResult, error) {
	s, err := c.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case store.SessionCompleted:
		return nil, fault.BadRequest("session already completed")
	case store.SessionExpired:
		return nil, fault.BadRequest("session expired")
	}

	mobile, err := c.db.GetDevice(mobileDeviceID)
	if err != nil {
		return nil, err
	}
	if mobile == nil {
		return nil, fault.NotFound("device %s not found", mobileDeviceID)
	}
	if mobile.IdentityID != identityID {
		return nil, fault.Forbidden("device %s does not belong to caller", mobileDeviceID)
	}
	if mobile.Role != store.RoleMobile {
		return nil, fault.BadRequest("device %s is not a mobile device", mobileDeviceID)
	}

	terminal, err := c.db.GetDevice(s.TerminalDeviceID)
	if err != nil {
		return nil, err
	}
	if terminal == nil {
		return nil, fault.NotFound("terminal device %s not found", s.TerminalDeviceID)
	}
	if terminal.IdentityID != mobile.IdentityID {
		return nil, fault.Forbidden("devices belong to different identities")
	}
	if mobileKey == "" {
		return nil, fault.BadRequest("missing key")
	}

	now := c.now()
	ok, err := c.db.CompletePairing(sessionID, mobileDeviceID, mobileKey, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the compare-and-set against a racing completion or a
		// concurrent lazy expiry.
		return nil, fault.Conflict("session %s completed or expired concurrently", sessionID)
	}

	c.logger.Info("pairing completed",
		zap.String("session_id", sessionID),
		zap.String("mobile_device_id", mobileDeviceID),
		zap.String("terminal_device_id", terminal.ID))

	c.bus.Publish(terminal.ID, bus.Event{
		Kind:      bus.KindPairingCompleted,
		Timestamp: now,
		Payload: Completed{
			SessionID:      sessionID,
			MobileDeviceID: mobile.ID,
			MobileName:     mobile.Name,
			MobileKey:      mobileKey,
		},
	})

	return &CompleteResult{
		TerminalDeviceID: terminal.ID,
		TerminalName:     terminal.Name,
		TerminalKey:      mobileKey,
	}, nil
}

// Status is the poll-based view of a session. Peer is the mobile device,
// present once the session is completed; a client must be able to learn
// the outcome from this alone, without the push notification.
type Status struct {
	Status string
	Peer   *store.Device
}

// GetStatus reports a session's state, lazily expiring it first if its
// deadline has passed.
func (c *Coordinator) GetStatus(sessionID string) (*Status, error) {
	s, err := c.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	st := &Status{Status: s.Status}
	if s.Status == store.SessionCompleted && s.MobileDeviceID != "" {
		peer, err := c.db.GetDevice(s.MobileDeviceID)
		if err != nil {
			return nil, err
		}
		st.Peer = peer
	}
	return st, nil
}

// Cancel moves a session to expired on the caller's behalf. Errors if the
// session is already terminal.
func (c *Coordinator) Cancel(identityID, sessionID string) error {
	s, err := c.loadSession(sessionID)
	if err != nil {
		return err
	}
	terminal, err := c.db.GetDevice(s.TerminalDeviceID)
	if err != nil {
		return err
	}
	if terminal != nil && terminal.IdentityID != identityID {
		return fault.Forbidden("session does not belong to caller")
	}
	if s.Status == store.SessionCompleted || s.Status == store.SessionExpired {
		return fault.BadRequest("session already %s", s.Status)
	}

	ok, err := c.db.ExpireSession(sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Conflict("session %s changed state concurrently", sessionID)
	}
	return nil
}

// loadSession fetches a session and applies lazy expiry: a pending or
// scanned session past its deadline is durably flipped to expired before
// being returned.
func (c *Coordinator) loadSession(sessionID string) (*store.PairingSession, error) {
	s, err := c.db.GetPairingSession(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fault.NotFound("session %s not found", sessionID)
	}

	if (s.Status == store.SessionPending || s.Status == store.SessionScanned) &&
		c.now().UnixMilli() > s.ExpiresAt {
		if _, err := c.db.ExpireSession(sessionID); err != nil {
			return nil, err
		}
		// Re-read: a racing completion may have beaten the expiry.
		s, err = c.db.GetPairingSession(sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fault.NotFound("session %s not found", sessionID)
		}
	}
	return s, nil
}
