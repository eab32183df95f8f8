package clientsync

import (
	"context"
	"time"

	"github.com/courierlink/courier/internal/cache"
	"go.uber.org/zap"
)

// StatusReporter uploads a delivered or read receipt to the relay.
type StatusReporter interface {
	ReportStatus(ctx context.Context, messageID, status string) error
}

// ReceiptSender drains the receipt queue and uploads acknowledgements.
type ReceiptSender struct {
	cache    *cache.DB
	reporter StatusReporter
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewReceiptSender creates a receipt sender polling at the given interval.
// A non-positive interval falls back to 500ms.
func NewReceiptSender(db *cache.DB, reporter StatusReporter, interval time.Duration, logger *zap.Logger) *ReceiptSender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ReceiptSender{
		cache:    db,
		reporter: reporter,
		logger:   logger,
		interval: interval,
	}
}

// Start begins polling the receipt queue.
func (s *ReceiptSender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *ReceiptSender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ReceiptSender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain uploads every queued receipt once. Failures stay in the queue for
// the next drain.
func (s *ReceiptSender) Drain(ctx context.Context) {
	pending, err := s.cache.PendingReceipts()
	if err != nil {
		s.logger.Error("failed to read receipt queue", zap.Error(err))
		return
	}

	for _, r := range pending {
		if err := s.cache.MarkReceiptSending(r.MessageID, r.Status); err != nil {
			s.logger.Error("failed to mark receipt sending", zap.Error(err), zap.String("message_id", r.MessageID))
			continue
		}

		if err := s.reporter.ReportStatus(ctx, r.MessageID, r.Status); err != nil {
			s.logger.Warn("receipt upload failed",
				zap.String("message_id", r.MessageID),
				zap.String("status", r.Status),
				zap.Error(err))
			_ = s.cache.MarkReceiptFailed(r.MessageID, r.Status, err.Error())
			continue
		}

		if err := s.cache.MarkReceiptSent(r.MessageID, r.Status); err != nil {
			s.logger.Error("failed to mark receipt sent", zap.Error(err), zap.String("message_id", r.MessageID))
		}
		// Our own read receipt also settles the local copy.
		_ = s.cache.ApplyStatus(r.MessageID, r.Status)
	}
}
