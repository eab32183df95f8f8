package api

import (
	"net/http"

	"github.com/courierlink/courier/internal/fault"
	"github.com/gin-gonic/gin"
)

type initiatePairingRequest struct {
	TerminalDeviceID string `json:"terminalDeviceId" binding:"required"`
}

func (a *API) initiatePairing(c *gin.Context) {
	var req initiatePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, fault.BadRequest("invalid request: %v", err))
		return
	}

	res, err := a.pairing.Initiate(identityOf(c), req.TerminalDeviceID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": res.SessionID,
		"payload":   res.Payload,
		"expiresAt": res.ExpiresAt.UnixMilli(),
	})
}

func (a *API) scanPairing(c *gin.Context) {
	if err := a.pairing.MarkScanned(c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "scanned"})
}

type completePairingRequest struct {
	MobileDeviceID  string `json:"mobileDeviceId" binding:"required"`
	MobilePublicKey string `json:"mobilePublicKey" binding:"required"`
}

func (a *API) completePairing(c *gin.Context) {
	var req completePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, fault.BadRequest("invalid request: %v", err))
		return
	}

	res, err := a.pairing.Complete(identityOf(c), c.Param("id"), req.MobileDeviceID, req.MobilePublicKey)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"terminalDeviceId": res.TerminalDeviceID,
		"terminalName":     res.TerminalName,
		"terminalKey":      res.TerminalKey,
	})
}

func (a *API) pairingStatus(c *gin.Context) {
	st, err := a.pairing.GetStatus(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}

	body := gin.H{"status": st.Status}
	if st.Peer != nil {
		peer := toDeviceJSON(st.Peer)
		body["peerDevice"] = peer
	}
	c.JSON(http.StatusOK, body)
}

func (a *API) cancelPairing(c *gin.Context) {
	if err := a.pairing.Cancel(identityOf(c), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "expired"})
}
