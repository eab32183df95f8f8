package pairing

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/fault"
	"github.com/courierlink/courier/internal/store"
	"go.uber.org/zap"
)

func testCoordinator(t *testing.T) (*Coordinator, *store.DB, *bus.Bus) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.UpsertIdentity("alice", "tok-a"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertIdentity("bob", "tok-b"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []store.Device{
		{ID: "term-1", IdentityID: "alice", Role: store.RoleTerminal, Name: "laptop"},
		{ID: "mob-1", IdentityID: "alice", Role: store.RoleMobile, Name: "phone"},
		{ID: "mob-bob", IdentityID: "bob", Role: store.RoleMobile, Name: "bobphone"},
	} {
		if err := db.CreateDevice(&d); err != nil {
			t.Fatal(err)
		}
	}

	b := bus.New(16)
	return NewCoordinator(db, b, DefaultTTL, zap.NewNop()), db, b
}

func TestInitiate(t *testing.T) {
	c, _, _ := testCoordinator(t)

	res, err := c.Initiate("alice", "term-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Payload.SessionID != res.SessionID || res.Payload.Version != PayloadVersion {
		t.Errorf("payload = %+v", res.Payload)
	}
	if until := time.Until(res.ExpiresAt); until < 4*time.Minute || until > 5*time.Minute {
		t.Errorf("expiry %v away, want ~5m", until)
	}

	st, err := c.GetStatus(res.SessionID)
	if err != nil || st.Status != store.SessionPending {
		t.Errorf("status = %+v, %v", st, err)
	}
}

func TestInitiateValidation(t *testing.T) {
	c, _, _ := testCoordinator(t)

	cases := []struct {
		name     string
		identity string
		device   string
		kind     fault.Kind
	}{
		{"unknown device", "alice", "nope", fault.KindNotFound},
		{"not owned", "bob", "term-1", fault.KindForbidden},
		{"wrong role", "alice", "mob-1", fault.KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Initiate(tc.identity, tc.device)
			if !fault.IsKind(err, tc.kind) {
				t.Errorf("err = %v, want kind %d", err, tc.kind)
			}
		})
	}
}

// Scenario: terminal initiates, mobile completes within the window, both
// sides observe an active pairing and the completed status carries the
// mobile peer's key.
func TestCompleteHappyPath(t *testing.T) {
	c, db, b := testCoordinator(t)

	res, err := c.Initiate("alice", "term-1")
	if err != nil {
		t.Fatal(err)
	}

	sub := b.Subscribe("term-1")
	defer sub.Close()

	out, err := c.Complete("alice", res.SessionID, "mob-1", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if out.TerminalDeviceID != "term-1" || out.TerminalKey != "key-1" {
		t.Errorf("result = %+v", out)
	}

	p, _ := db.GetPairing("mob-1", "term-1")
	if p == nil || !p.Active {
		t.Fatalf("pairing = %+v, want active", p)
	}
	d, _ := db.GetDevice("mob-1")
	if d.Key != "key-1" {
		t.Errorf("mobile key = %q", d.Key)
	}

	st, err := c.GetStatus(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != store.SessionCompleted || st.Peer == nil || st.Peer.Key != "key-1" {
		t.Errorf("status = %+v", st)
	}

	// Terminal device was notified through its channel.
	select {
	case evt := <-sub.C:
		if evt.Kind != bus.KindPairingCompleted {
			t.Errorf("kind = %q", evt.Kind)
		}
		done, ok := evt.Payload.(Completed)
		if !ok || done.MobileDeviceID != "mob-1" || done.MobileKey != "key-1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pairing.completed")
	}
}

func TestCompleteRetryRejected(t *testing.T) {
	c, _, _ := testCoordinator(t)

	res, _ := c.Initiate("alice", "term-1")
	if _, err := c.Complete("alice", res.SessionID, "mob-1", "key-1"); err != nil {
		t.Fatal(err)
	}
	// Strict single-shot: a retry is an error, not a no-op.
	_, err := c.Complete("alice", res.SessionID, "mob-1", "key-1")
	if !fault.IsKind(err, fault.KindBadRequest) {
		t.Errorf("retry err = %v, want KindBadRequest", err)
	}
}

func TestCompleteConcurrentSingleWinner(t *testing.T) {
	c, _, _ := testCoordinator(t)
	res, _ := c.Initiate("alice", "term-1")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Complete("alice", res.SessionID, "mob-1", "key-1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		switch fault.KindOf(err) {
		case fault.KindConflict, fault.KindBadRequest:
		default:
			t.Errorf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d completions succeeded, want exactly 1", wins)
	}
}

func TestCompleteCrossIdentity(t *testing.T) {
	c, _, _ := testCoordinator(t)
	res, _ := c.Initiate("alice", "term-1")

	_, err := c.Complete("bob", res.SessionID, "mob-bob", "key-1")
	if !fault.IsKind(err, fault.KindForbidden) {
		t.Errorf("err = %v, want KindForbidden", err)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	c, _, _ := testCoordinator(t)
	_, err := c.Complete("alice", "no-such-session", "mob-1", "key-1")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("err = %v, want KindNotFound", err)
	}
}

// Scenario: completion 6 minutes after initiation fails with BadRequest and
// the session converges to expired durably, with no getStatus in between.
func TestCompleteAfterExpiry(t *testing.T) {
	c, db, _ := testCoordinator(t)

	res, _ := c.Initiate("alice", "term-1")
	c.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	_, err := c.Complete("alice", res.SessionID, "mob-1", "key-1")
	if !fault.IsKind(err, fault.KindBadRequest) {
		t.Fatalf("err = %v, want KindBadRequest", err)
	}

	s, _ := db.GetPairingSession(res.SessionID)
	if s.Status != store.SessionExpired {
		t.Errorf("session status = %q, want expired (durable lazy expiry)", s.Status)
	}
}

func TestGetStatusLazyExpiry(t *testing.T) {
	c, _, _ := testCoordinator(t)
	res, _ := c.Initiate("alice", "term-1")

	c.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	st, err := c.GetStatus(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != store.SessionExpired {
		t.Errorf("status = %q, want expired", st.Status)
	}
}

func TestMarkScanned(t *testing.T) {
	c, _, _ := testCoordinator(t)
	res, _ := c.Initiate("alice", "term-1")

	if err := c.MarkScanned(res.SessionID); err != nil {
		t.Fatal(err)
	}
	st, _ := c.GetStatus(res.SessionID)
	if st.Status != store.SessionScanned {
		t.Errorf("status = %q, want scanned", st.Status)
	}
	if err := c.MarkScanned(res.SessionID); !fault.IsKind(err, fault.KindBadRequest) {
		t.Errorf("second scan err = %v, want KindBadRequest", err)
	}
}

func TestCancel(t *testing.T) {
	c, _, _ := testCoordinator(t)
	res, _ := c.Initiate("alice", "term-1")

	if err := c.Cancel("alice", res.SessionID); err != nil {
		t.Fatal(err)
	}
	st, _ := c.GetStatus(res.SessionID)
	if st.Status != store.SessionExpired {
		t.Errorf("status = %q, want expired", st.Status)
	}
	if err := c.Cancel("alice", res.SessionID); !fault.IsKind(err, fault.KindBadRequest) {
		t.Errorf("cancel terminal session err = %v, want KindBadRequest", err)
	}
}
