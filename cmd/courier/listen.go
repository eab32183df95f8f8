package main

import (
	"context"

	"github.com/courierlink/courier/internal/cache"
	"github.com/courierlink/courier/internal/client"
	"github.com/courierlink/courier/internal/clientsync"
	"github.com/courierlink/courier/internal/logging"
	"github.com/courierlink/courier/internal/profile"
	"github.com/courierlink/courier/internal/stream"
	"go.uber.org/zap"
)

// listenRunner bundles everything the listen command keeps alive: the
// cache, the sync engine and the receipt uploader.
type listenRunner struct {
	db       *cache.DB
	engine   *clientsync.Engine
	receipts *clientsync.ReceiptSender
	logger   *zap.Logger
}

func newListenRunner(c *client.Client, profileName, devID string) (*listenRunner, error) {
	logger, err := logging.New(profile.LogPath(profileName), "courier")
	if err != nil {
		return nil, err
	}

	db, err := cache.Open(profile.CacheDBPath(profileName))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &listenRunner{
		db:       db,
		engine:   clientsync.NewEngine(c, db, stream.NewHTTPConnector(), devID, logger),
		receipts: clientsync.NewReceiptSender(db, &clientsync.APIReporter{Client: c}, 0, logger),
		logger:   logger,
	}, nil
}

func (r *listenRunner) run(ctx context.Context) error {
	r.receipts.Start(ctx)
	defer r.receipts.Stop()
	return r.engine.Run(ctx)
}

func (r *listenRunner) close() {
	_ = r.db.Close()
	_ = r.logger.Sync()
}
