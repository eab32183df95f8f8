package api

import (
	"net/http"

	"github.com/courierlink/courier/internal/fault"
	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	SenderDeviceID    string `json:"senderDeviceId" binding:"required"`
	RecipientDeviceID string `json:"recipientDeviceId" binding:"required"`
	EncryptedContent  string `json:"encryptedContent" binding:"required"`
	ContentType       string `json:"contentType"`
}

func (a *API) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, fault.BadRequest("invalid request: %v", err))
		return
	}

	m, err := a.ledger.Send(identityOf(c), req.SenderDeviceID, req.RecipientDeviceID, req.EncryptedContent, req.ContentType)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageJSON(m))
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=delivered read"`
}

func (a *API) updateMessageStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, fault.BadRequest("invalid request: %v", err))
		return
	}

	m, err := a.ledger.UpdateStatus(identityOf(c), c.Param("id"), req.Status)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMessageJSON(m))
}

func (a *API) pendingMessages(c *gin.Context) {
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		a.writeError(c, fault.BadRequest("missing deviceId"))
		return
	}

	msgs, err := a.ledger.GetPending(identityOf(c), deviceID, c.Query("since"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	out := make([]MessageJSON, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageJSON(&msgs[i]))
	}
	c.JSON(http.StatusOK, out)
}
