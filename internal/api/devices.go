package api

import (
	"net/http"
	"time"

	"github.com/courierlink/courier/internal/fault"
	"github.com/courierlink/courier/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type registerDeviceRequest struct {
	Role string `json:"role" binding:"required,oneof=mobile terminal"`
	Name string `json:"name" binding:"required"`
}

func (a *API) registerDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, fault.BadRequest("invalid request: %v", err))
		return
	}

	d := &store.Device{
		ID:         uuid.New().String(),
		IdentityID: identityOf(c),
		Role:       req.Role,
		Name:       req.Name,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := a.db.CreateDevice(d); err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.Info("device registered",
		zap.String("device_id", d.ID),
		zap.String("identity", d.IdentityID),
		zap.String("role", d.Role))

	c.JSON(http.StatusCreated, toDeviceJSON(d))
}

func (a *API) listDevices(c *gin.Context) {
	devices, err := a.db.ListDevices(identityOf(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	out := make([]DeviceJSON, 0, len(devices))
	for i := range devices {
		out = append(out, toDeviceJSON(&devices[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) deleteDevice(c *gin.Context) {
	id := c.Param("id")
	d, err := a.db.GetDevice(id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if d == nil {
		a.writeError(c, fault.NotFound("device %s not found", id))
		return
	}
	if d.IdentityID != identityOf(c) {
		a.writeError(c, fault.Forbidden("device %s does not belong to caller", id))
		return
	}

	if _, err := a.db.DeleteDevice(id); err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.Info("device deleted", zap.String("device_id", id))
	c.Status(http.StatusNoContent)
}

func (a *API) unpairDevice(c *gin.Context) {
	id := c.Param("deviceId")
	d, err := a.db.GetDevice(id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if d == nil {
		a.writeError(c, fault.NotFound("device %s not found", id))
		return
	}
	if d.IdentityID != identityOf(c) {
		a.writeError(c, fault.Forbidden("device %s does not belong to caller", id))
		return
	}

	n, err := a.db.DeactivatePairings(id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unpaired": n})
}
