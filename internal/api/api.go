// Package api exposes the relay over HTTP: JSON request/response routes
// for registration, pairing and the ledger, plus the text event stream
// that pushes delivery events to subscribed devices.
package api

import (
	"github.com/courierlink/courier/internal/ledger"
	"github.com/courierlink/courier/internal/pairing"
	"github.com/courierlink/courier/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API holds the services behind the HTTP surface.
type API struct {
	db       *store.DB
	pairing  *pairing.Coordinator
	ledger   *ledger.Service
	resolver IdentityResolver
	logger   *zap.Logger
}

// New creates the API.
func New(db *store.DB, coordinator *pairing.Coordinator, ledgerSvc *ledger.Service, resolver IdentityResolver, logger *zap.Logger) *API {
	return &API{
		db:       db,
		pairing:  coordinator,
		ledger:   ledgerSvc,
		resolver: resolver,
		logger:   logger,
	}
}

// Register mounts all routes under the given group. Every route requires a
// bearer token.
func (a *API) Register(r *gin.RouterGroup) {
	r.Use(Auth(a.resolver))

	r.POST("/devices", a.registerDevice)
	r.GET("/devices", a.listDevices)
	r.DELETE("/devices/:id", a.deleteDevice)

	r.POST("/pairing", a.initiatePairing)
	r.POST("/pairing/:id/scan", a.scanPairing)
	r.POST("/pairing/:id/complete", a.completePairing)
	r.GET("/pairing/:id", a.pairingStatus)
	r.DELETE("/pairing/:id", a.cancelPairing)
	r.DELETE("/pairings/:deviceId", a.unpairDevice)

	r.POST("/messages", a.sendMessage)
	r.POST("/messages/:id/status", a.updateMessageStatus)
	r.GET("/messages/pending", a.pendingMessages)

	r.GET("/events", a.streamEvents)
}
