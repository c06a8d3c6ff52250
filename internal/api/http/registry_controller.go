package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/laika/internal/api/http/converter"
	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/internal/service"
)

const registryServiceName = "laika-device-registry"

type RegistryController struct {
	registry service.RegistryInteractor
}

func NewRegistryController(registry service.RegistryInteractor) *RegistryController {
	return &RegistryController{registry: registry}
}

func (c *RegistryController) Register(ctx *gin.Context) {
	body, err := ctx.GetRawData()
	if err != nil || len(body) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	device, err := c.registry.Register(ctx.Request.Context(), body, ctx.ClientIP())
	if err != nil {
		ctx.JSON(registryErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Device registered successfully",
		"device_id": device.ID,
	})
}

func (c *RegistryController) Heartbeat(ctx *gin.Context) {
	deviceID := ctx.Param("device_id")
	if err := c.registry.Heartbeat(ctx.Request.Context(), deviceID); err != nil {
		ctx.JSON(registryErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "device_id": deviceID})
}

func (c *RegistryController) Unregister(ctx *gin.Context) {
	deviceID := ctx.Param("device_id")
	if err := c.registry.Unregister(ctx.Request.Context(), deviceID); err != nil {
		ctx.JSON(registryErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "device_id": deviceID})
}

func (c *RegistryController) ListDevices(ctx *gin.Context) {
	c.list(ctx, "")
}

func (c *RegistryController) ListLaikaDevices(ctx *gin.Context) {
	c.list(ctx, domain.DeviceTypeLaika)
}

func (c *RegistryController) GetDevice(ctx *gin.Context) {
	entry, err := c.registry.Get(ctx.Request.Context(), ctx.Param("device_id"))
	if err != nil {
		ctx.JSON(registryErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"device": converter.RegistryEntryToApi(*entry)})
}

func (c *RegistryController) Stats(ctx *gin.Context) {
	stats, err := c.registry.Stats(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total_devices":  stats.TotalDevices,
		"online_devices": stats.OnlineDevices,
		"max_devices":    stats.MaxDevices,
	})
}

func (c *RegistryController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   registryServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *RegistryController) list(ctx *gin.Context, deviceType string) {
	entries, err := c.registry.List(ctx.Request.Context(), deviceType)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"devices": converter.RegistryEntriesToApi(entries),
		"count":   len(entries),
	})
}

func registryErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRegistryFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
