package clientsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/courierlink/courier/internal/cache"
	"go.uber.org/zap"
)

type fakeReporter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeReporter) ReportStatus(_ context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageID + "/" + status
	f.calls = append(f.calls, key)
	return f.fail[key]
}

func TestDrainUploadsQueuedReceipts(t *testing.T) {
	db := testCache(t)
	key := pairPeer(t, db, "mob-1")
	l := NewListener(db, zap.NewNop())
	l.HandleFrame(messageFrame(t, "m1", "mob-1", key, "hi"))

	reporter := &fakeReporter{}
	s := NewReceiptSender(db, reporter, 0, zap.NewNop())
	s.Drain(context.Background())

	if len(reporter.calls) != 1 || reporter.calls[0] != "m1/delivered" {
		t.Errorf("calls = %v", reporter.calls)
	}
	pending, _ := db.PendingReceipts()
	if len(pending) != 0 {
		t.Errorf("queue not drained: %+v", pending)
	}
	// The local copy settles too.
	got, _ := db.GetMessage("m1")
	if got.Status != cache.StatusDelivered {
		t.Errorf("local status = %q, want delivered", got.Status)
	}
}

func TestDrainRetriesFailures(t *testing.T) {
	db := testCache(t)
	if err := db.QueueReceipt("m1", cache.StatusRead); err != nil {
		t.Fatalf("queue: %v", err)
	}

	reporter := &fakeReporter{fail: map[string]error{"m1/read": errors.New("relay down")}}
	s := NewReceiptSender(db, reporter, 0, zap.NewNop())
	s.Drain(context.Background())

	pending, _ := db.PendingReceipts()
	if len(pending) != 1 || pending[0].State != cache.ReceiptFailed {
		t.Fatalf("pending = %+v, want one failed", pending)
	}

	// Relay recovers; the next drain retries.
	reporter.mu.Lock()
	delete(reporter.fail, "m1/read")
	reporter.mu.Unlock()
	s.Drain(context.Background())

	pending, _ = db.PendingReceipts()
	if len(pending) != 0 {
		t.Errorf("failed receipt not retried: %+v", pending)
	}
}
